package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_backend/internal/apperr"
	"github.com/Skotchmaster/auth_backend/internal/logging"
	"github.com/Skotchmaster/auth_backend/internal/models"
	"github.com/Skotchmaster/auth_backend/internal/service"
)

type AuthHTTP struct {
	Svc *service.AuthService
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	User         *models.User `json:"user"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	req, err := bindCredentials(c)
	if err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return err
	}

	res, err := h.Svc.Register(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, authResponse{
		User:         res.User,
		Token:        res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	req, err := bindCredentials(c)
	if err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return err
	}

	res, err := h.Svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, authResponse{
		User:         res.User,
		Token:        res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()

	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.ErrValidation, err).WithDetails(map[string]string{"body": "malformed JSON"})
	}
	if req.RefreshToken == "" {
		return apperr.ErrValidation.WithDetails(map[string]string{"refreshToken": "required"})
	}

	token, err := h.Svc.RefreshAccess(ctx, req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse{Token: token})
}

func bindCredentials(c echo.Context) (*credentialsRequest, error) {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return nil, apperr.Wrap(apperr.ErrValidation, err).WithDetails(map[string]string{"body": "malformed JSON"})
	}
	req.Email = strings.TrimSpace(req.Email)

	details := map[string]string{}
	if req.Email == "" {
		details["email"] = "required"
	} else if !strings.Contains(req.Email, "@") {
		details["email"] = "must be an email address"
	}
	if req.Password == "" {
		details["password"] = "required"
	}
	if len(details) > 0 {
		return nil, apperr.ErrValidation.WithDetails(details)
	}
	return &req, nil
}
