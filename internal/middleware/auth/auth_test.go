package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/auth_backend/internal/apperr"
	"github.com/Skotchmaster/auth_backend/internal/models"
	"github.com/Skotchmaster/auth_backend/pkg/tokens"
)

func newTestEcho(issuer *tokens.Issuer, lookup UserLookup) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		_ = c.NoContent(apperr.StatusOf(err))
	}
	g := e.Group("", Middleware(issuer))
	g.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c))
	})
	g.GET("/admin", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RequireRole(lookup, models.RoleAdmin))
	return e
}

func do(e *echo.Echo, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	issuer := tokens.NewIssuer([]byte("access-secret"), []byte("refresh-secret"))
	access, err := issuer.IssueAccessToken("u-1")
	require.NoError(t, err)
	refresh, err := issuer.IssueRefreshToken("u-1")
	require.NoError(t, err)

	e := newTestEcho(issuer, nil)

	rec := do(e, "/me", access)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(e, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "/me", "garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "/me", refresh).Code, "refresh tokens are not access tokens")
}

func TestRequireRole(t *testing.T) {
	issuer := tokens.NewIssuer([]byte("access-secret"), nil)
	users := map[string]*models.User{
		"admin": {ID: "admin", Role: models.RoleAdmin},
		"user":  {ID: "user", Role: models.RoleUser},
	}
	lookup := func(_ context.Context, id string) (*models.User, error) {
		if u, ok := users[id]; ok {
			return u, nil
		}
		return nil, apperr.New(http.StatusNotFound, "User not found")
	}
	e := newTestEcho(issuer, lookup)

	tests := []struct {
		name   string
		userID string
		want   int
	}{
		{"admin allowed", "admin", http.StatusOK},
		{"user forbidden", "user", http.StatusForbidden},
		{"deleted user", "ghost", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := issuer.IssueAccessToken(tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, do(e, "/admin", tok).Code)
		})
	}
}
