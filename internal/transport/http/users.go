package httpserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_backend/internal/apperr"
	"github.com/Skotchmaster/auth_backend/internal/logging"
	authmw "github.com/Skotchmaster/auth_backend/internal/middleware/auth"
	"github.com/Skotchmaster/auth_backend/internal/search"
	"github.com/Skotchmaster/auth_backend/internal/service"
	"github.com/Skotchmaster/auth_backend/internal/util"
)

var ErrSearchUnavailable = apperr.New(http.StatusServiceUnavailable, "User search is not available")

type UsersHTTP struct {
	Svc       *service.AuthService
	Directory *search.Directory
}

func (h *UsersHTTP) Me(c echo.Context) error {
	user, err := h.Svc.GetUser(c.Request().Context(), authmw.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"user": user})
}

func (h *UsersHTTP) Search(c echo.Context) error {
	ctx := c.Request().Context()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))
	if !util.InWindow(page, size) {
		return apperr.ErrValidation.WithDetails(map[string]string{
			"page": "page is beyond the first " + strconv.Itoa(util.MaxResultWindow) + " results",
		})
	}
	if !h.Directory.Enabled() {
		return ErrSearchUnavailable
	}
	from, limit := util.Calculate(page, size)
	if page < 1 {
		page = 1
	}

	total, items, err := h.Directory.SearchUsers(ctx, c.QueryParam("q"), from, limit)
	if err != nil {
		logging.FromContext(ctx).Error("user_search_failed", "error", err)
		return apperr.Wrap(ErrSearchUnavailable, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total": total,
		"page":  page,
		"size":  limit,
		"items": items,
	})
}
