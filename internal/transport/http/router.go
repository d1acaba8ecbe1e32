package httpserver

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	authmw "github.com/Skotchmaster/auth_backend/internal/middleware/auth"
	"github.com/Skotchmaster/auth_backend/internal/middleware/ratelimit"
	"github.com/Skotchmaster/auth_backend/internal/middleware/sanitize"
	"github.com/Skotchmaster/auth_backend/internal/middleware/trace"
	"github.com/Skotchmaster/auth_backend/internal/models"
	"github.com/Skotchmaster/auth_backend/internal/search"
	"github.com/Skotchmaster/auth_backend/internal/service"
	loggingmw "github.com/Skotchmaster/auth_backend/pkg/middleware/logging"
)

const (
	APIPrefix = "/api/v1"

	contentSecurityPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; " +
		"style-src 'self' 'unsafe-inline'; img-src 'self'"
)

type Deps struct {
	DB          *gorm.DB
	Logger      *slog.Logger
	Auth        *service.AuthService
	Directory   *search.Directory
	RateLimiter ratelimit.Store

	CORSOrigins    []string
	TrustProxy     bool
	ExternalAPIURL string
	StartedAt      time.Time
}

// New builds the echo instance with the full middleware pipeline and routes.
func New(d *Deps) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler
	if d.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.Pre(middleware.RemoveTrailingSlash())

	// pipeline order is fixed
	e.Use(
		middleware.SecureWithConfig(middleware.SecureConfig{
			XSSProtection:         "0",
			ContentTypeNosniff:    "nosniff",
			XFrameOptions:         "SAMEORIGIN",
			ContentSecurityPolicy: contentSecurityPolicy,
			ReferrerPolicy:        "no-referrer",
		}),
		strictTransportSecurity(31536000),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
			AllowCredentials: true,
			ExposeHeaders:    []string{trace.HeaderTraceID},
		}),
		middleware.BodyLimit("100K"),
		sanitize.Middleware(),
		trace.Middleware(),
		loggingmw.RequestLogger(d.Logger),
		middleware.Recover(),
		ratelimit.Middleware(d.RateLimiter),
	)

	if err := Register(e, d); err != nil {
		return nil, err
	}
	return e, nil
}

func Register(e *echo.Echo, d *Deps) error {
	startedAt := d.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	e.GET("/health/live", health(startedAt))
	e.GET("/health/ready", ready(d.DB))

	v1 := e.Group(APIPrefix)
	v1.GET("/health", health(startedAt))
	v1.GET("/docs", docsUI)
	e.GET(docsSpecPath, docsSpec)

	authHTTP := &AuthHTTP{Svc: d.Auth}
	auth := v1.Group("/auth")
	auth.POST("/register", authHTTP.Register)
	auth.POST("/login", authHTTP.Login)
	auth.POST("/refresh", authHTTP.Refresh)

	requireAuth := authmw.Middleware(d.Auth.Tokens)

	usersHTTP := &UsersHTTP{Svc: d.Auth, Directory: d.Directory}
	users := v1.Group("/users", requireAuth)
	users.GET("/me", usersHTTP.Me)
	users.GET("/search", usersHTTP.Search, authmw.RequireRole(d.Auth.GetUser, models.RoleAdmin))

	proxy, err := newProxy(d.ExternalAPIURL, APIPrefix+"/external")
	if err != nil {
		return err
	}
	external := v1.Group("/external", requireAuth)
	external.Any("/*", proxy)

	return nil
}

// strictTransportSecurity sends HSTS on every response, TLS or not.
func strictTransportSecurity(maxAge int) echo.MiddlewareFunc {
	value := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains"
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderStrictTransportSecurity, value)
			return next(c)
		}
	}
}
