package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Skotchmaster/auth_backend/internal/middleware/ratelimit"
	"github.com/Skotchmaster/auth_backend/internal/middleware/trace"
	"github.com/Skotchmaster/auth_backend/internal/models"
	"github.com/Skotchmaster/auth_backend/internal/repo"
	"github.com/Skotchmaster/auth_backend/internal/service"
	"github.com/Skotchmaster/auth_backend/pkg/db"
	"github.com/Skotchmaster/auth_backend/pkg/tokens"
)

const strongPassword = "Str0ng!Pass"

type testServer struct {
	e    *echo.Echo
	repo *repo.GormRepo
	auth *service.AuthService
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()

	gdb, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	require.NoError(t, repo.Migrate(gdb))

	r := repo.New(gdb)
	issuer := tokens.NewIssuer([]byte("test-jwt-secret"), []byte("test-refresh-secret"))
	auth := service.NewAuthService(r, issuer, bcrypt.MinCost)

	d := &Deps{
		DB:          gdb,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Auth:        auth,
		RateLimiter: ratelimit.NewMemoryStore(100, 15*time.Minute),
		CORSOrigins: []string{"http://app.test"},
		StartedAt:   time.Now().Add(-time.Minute),
	}
	if mutate != nil {
		mutate(d)
	}

	e, err := New(d)
	require.NoError(t, err)
	return &testServer{e: e, repo: r, auth: auth}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func creds(email, pw string) map[string]string {
	return map[string]string{"email": email, "password": pw}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "OK", body["status"])
	assert.GreaterOrEqual(t, body["uptime"].(float64), 60.0)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", nil, nil).Code)
}

func TestSecurityHeadersAndTraceID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/health", nil, http.Header{
		"Origin": {"http://app.test"},
	})

	h := rec.Header()
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", h.Get("Referrer-Policy"))
	assert.Equal(t, contentSecurityPolicy, h.Get("Content-Security-Policy"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", h.Get("Strict-Transport-Security"))
	assert.Equal(t, "http://app.test", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", h.Get("Access-Control-Allow-Credentials"))
	assert.NotEmpty(t, h.Get(trace.HeaderTraceID))

	notFound := s.do(t, http.MethodGet, "/api/v1/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, notFound.Code)
	assert.NotEmpty(t, notFound.Header().Get(trace.HeaderTraceID), "error responses carry a trace id too")
	assert.Equal(t, "error", decode(t, notFound)["status"])
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", creds("a@x.com", strongPassword), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decode(t, rec)
	user := reg["user"].(map[string]any)
	assert.Equal(t, "a@x.com", user["email"])
	assert.Equal(t, "USER", user["role"])
	assert.NotContains(t, user, "password")
	assert.NotEmpty(t, reg["token"])
	assert.NotEmpty(t, reg["refreshToken"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/register", creds("a@x.com", strongPassword+"2"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"status": "error", "message": "User already exists"}, decode(t, rec))

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", creds("a@x.com", strongPassword), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode(t, rec)
	assert.Equal(t, user["id"], login["user"].(map[string]any)["id"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": login["refreshToken"].(string)}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	access := decode(t, rec)["token"].(string)
	require.NotEmpty(t, access)

	rec = s.do(t, http.MethodGet, "/api/v1/users/me", nil, http.Header{"Authorization": {"Bearer " + access}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user["id"], decode(t, rec)["user"].(map[string]any)["id"])
}

func TestRegister_WeakPassword(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", creds("a@x.com", "weak"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Provided password is weak. Please provide a stronger password.", decode(t, rec)["message"])
}

func TestRegister_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": "a@x.com"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Validation failed", body["message"])
	assert.Equal(t, map[string]any{"password": "required"}, body["details"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	raw := httptest.NewRecorder()
	s.e.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestRegister_OperatorKeysStripped(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email":    map[string]string{"$gt": ""},
		"password": "x",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_NoEnumeration(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/v1/auth/register", creds("a@x.com", strongPassword), nil).Code)

	wrong := s.do(t, http.MethodPost, "/api/v1/auth/login", creds("a@x.com", "wrong"), nil)
	missing := s.do(t, http.MethodPost, "/api/v1/auth/login", creds("nouser@x.com", "whatever"), nil)

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, missing.Code)
	assert.Equal(t, decode(t, wrong), decode(t, missing))
	assert.Equal(t, "Invalid credentials", decode(t, wrong)["message"])
}

func TestRefresh_Invalid(t *testing.T) {
	s := newTestServer(t, nil)
	access, err := s.auth.Tokens.IssueAccessToken("u-1")
	require.NoError(t, err)

	for name, tok := range map[string]string{"garbage": "not-a-jwt", "access token": access} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": tok}, nil)
			require.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, map[string]any{"status": "error", "message": "Invalid refresh token"}, decode(t, rec))
		})
	}
}

func TestUsers_RequiresAuth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/users/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestUsersSearch_Authorization(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	res, err := s.auth.Register(ctx, "user@x.com", strongPassword)
	require.NoError(t, err)
	adminRes, err := s.auth.Register(ctx, "admin@x.com", strongPassword)
	require.NoError(t, err)
	require.NoError(t, s.repo.SetRole(ctx, adminRes.User.ID, models.RoleAdmin))

	rec := s.do(t, http.MethodGet, "/api/v1/users/search?q=x", nil, http.Header{"Authorization": {"Bearer " + res.AccessToken}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/users/search?q=x", nil, http.Header{"Authorization": {"Bearer " + adminRes.AccessToken}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "search is disabled without elasticsearch")

	rec = s.do(t, http.MethodGet, "/api/v1/users/search?q=x&size=10&page=9223372036854775807", nil, http.Header{"Authorization": {"Bearer " + adminRes.AccessToken}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Validation failed", decode(t, rec)["message"])
}

func TestExternalProxy(t *testing.T) {
	var gotPath, gotUser, gotTrace, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get("X-User-Id")
		gotTrace = r.Header.Get(trace.HeaderTraceID)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, func(d *Deps) { d.ExternalAPIURL = upstream.URL })
	tok, err := s.auth.Tokens.IssueAccessToken("u-42")
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/external/widgets/1", nil, http.Header{
		"Authorization":     {"Bearer " + tok},
		trace.HeaderTraceID: {"trace-xyz"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "/widgets/1", gotPath)
	assert.Equal(t, "u-42", gotUser)
	assert.Equal(t, "trace-xyz", gotTrace)
	assert.Empty(t, gotAuth)
}

func TestExternalProxy_NotConfigured(t *testing.T) {
	s := newTestServer(t, nil)
	tok, err := s.auth.Tokens.IssueAccessToken("u-42")
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/external/widgets", nil, http.Header{"Authorization": {"Bearer " + tok}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/health", nil, nil).Code, "request %d", i+1)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ratelimit.MessageTooManyRequests, decode(t, rec)["message"])
	assert.NotEmpty(t, rec.Header().Get(trace.HeaderTraceID))
}

func TestDocs(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/docs/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3.0.3", decode(t, rec)["openapi"])

	rec = s.do(t, http.MethodGet, "/api/v1/docs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "swagger-ui")

	// the browser resolves the spec URL against the page URL
	m := regexp.MustCompile(`url: "([^"]+)"`).FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2)
	page, err := url.Parse("http://example.test/api/v1/docs")
	require.NoError(t, err)
	ref, err := url.Parse(m[1])
	require.NoError(t, err)

	rec = s.do(t, http.MethodGet, page.ResolveReference(ref).Path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3.0.3", decode(t, rec)["openapi"])
}

func TestHTTPErrorHandler_UntaggedErrorsCollapse(t *testing.T) {
	code, body := renderError(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal Server Error", body.Message)

	code, body = renderError(echo.NewHTTPError(http.StatusRequestEntityTooLarge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "Request Entity Too Large", body.Message)
}
