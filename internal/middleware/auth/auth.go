// Package auth guards routes with Bearer access tokens.
package auth

import (
	"context"
	"net/http"
	"slices"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_backend/internal/apperr"
	"github.com/Skotchmaster/auth_backend/internal/logging"
	"github.com/Skotchmaster/auth_backend/internal/models"
	"github.com/Skotchmaster/auth_backend/pkg/tokens"
)

const (
	CtxClaims = "claims"
	CtxUserID = "user_id"
	CtxRole   = "role"
)

var (
	ErrUnauthorized = apperr.New(http.StatusUnauthorized, "Authentication required")
	ErrForbidden    = apperr.New(http.StatusForbidden, "Insufficient permissions")
)

type AccessVerifier interface {
	VerifyAccessToken(token string) (*tokens.Claims, error)
}

// Middleware accepts "Authorization: Bearer <access token>" and stores the
// caller's ID under CtxUserID.
func Middleware(v AccessVerifier) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey: CtxClaims,
		ParseTokenFunc: func(c echo.Context, auth string) (any, error) {
			return v.VerifyAccessToken(auth)
		},
		SuccessHandler: func(c echo.Context) {
			if claims, ok := c.Get(CtxClaims).(*tokens.Claims); ok {
				c.Set(CtxUserID, claims.UserID)
			}
		},
		ErrorHandler: func(c echo.Context, err error) error {
			logging.FromContext(c.Request().Context()).Info("access_denied", "reason", "token", "error", err)
			return apperr.Wrap(ErrUnauthorized, err)
		},
	})
}

func UserID(c echo.Context) string {
	id, _ := c.Get(CtxUserID).(string)
	return id
}

type UserLookup func(ctx context.Context, id string) (*models.User, error)

// RequireRole loads the caller and rejects anyone outside roles. Roles are read
// from the store rather than the token, so a demotion applies immediately.
func RequireRole(lookup UserLookup, roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := UserID(c)
			if id == "" {
				return ErrUnauthorized
			}
			u, err := lookup(c.Request().Context(), id)
			if err != nil {
				if apperr.StatusOf(err) == http.StatusNotFound {
					return ErrUnauthorized
				}
				return err
			}
			if !slices.Contains(roles, u.Role) {
				return ErrForbidden
			}
			c.Set(CtxRole, u.Role)
			return next(c)
		}
	}
}
