package httpserver

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/auth_backend/internal/apperr"
	"github.com/Skotchmaster/auth_backend/internal/logging"
	authmw "github.com/Skotchmaster/auth_backend/internal/middleware/auth"
)

var ErrExternalUnavailable = apperr.New(http.StatusServiceUnavailable, "External API is not configured")

// newProxy forwards authenticated calls to target with stripPrefix removed.
// The caller's bearer token stays here; upstream sees X-User-Id instead.
func newProxy(target, stripPrefix string) (echo.HandlerFunc, error) {
	if target == "" {
		return func(echo.Context) error { return ErrExternalUnavailable }, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	baseTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	p := httputil.NewSingleHostReverseProxy(u)
	p.Transport = baseTransport

	origDirector := p.Director
	p.Director = func(req *http.Request) {
		originalHost := req.Host
		originalProto := "http"
		if req.TLS != nil {
			originalProto = "https"
		}

		if stripPrefix != "" && strings.HasPrefix(req.URL.Path, stripPrefix) {
			req.URL.Path = strings.TrimPrefix(req.URL.Path, stripPrefix)
			if rp := req.URL.RawPath; rp != "" && strings.HasPrefix(rp, stripPrefix) {
				req.URL.RawPath = strings.TrimPrefix(rp, stripPrefix)
			}
		}

		origDirector(req)
		req.Host = u.Host
		req.Header.Del(echo.HeaderAuthorization)
		req.Header.Del(echo.HeaderCookie)
		req.Header.Set("X-Forwarded-Proto", originalProto)
		if originalHost != "" {
			req.Header.Set("X-Forwarded-Host", originalHost)
		}
	}
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logging.FromContext(r.Context()).Error("proxy_error", "status", http.StatusBadGateway, "upstream", u.Host, "error", err)
		w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"status":"error","message":"Bad Gateway"}`))
	}

	p.FlushInterval = 100 * time.Millisecond

	return func(c echo.Context) error {
		c.Request().Header.Set("X-User-Id", authmw.UserID(c))
		p.ServeHTTP(c.Response(), c.Request())
		return nil
	}, nil
}
