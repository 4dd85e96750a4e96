package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecured(t *testing.T, opt SecurityOptions, pre gin.HandlerFunc, req *http.Request) http.Header {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.NoRoute(func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecured(t, SecurityOptions{}, nil, httptest.NewRequest(http.MethodGet, "/ok", nil))

	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	if h.Get("Permissions-Policy") != "" || h.Get("X-Permitted-Cross-Domain-Policies") != "" {
		t.Fatalf("unexpected policy headers: %#v", h)
	}
	if h.Get("Cache-Control") != "" || h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("unexpected cache/HSTS headers: %#v", h)
	}
	if h.Get("Access-Control-Expose-Headers") != "" {
		t.Fatalf("nothing to expose without a request id: %#v", h)
	}
}

func TestSecurityHeaders_ExposeHeaders(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		extra    []string
		want     string
	}{
		{"request id only", "", nil, "X-Request-ID"},
		{"append to existing", "Foo", nil, "Foo, X-Request-ID"},
		{"no duplicate", "X-Request-ID, Foo", nil, "X-Request-ID, Foo"},
		{"case-insensitive extras", "etag", []string{"ETag", "Idempotency-Replayed"}, "etag, X-Request-ID, Idempotency-Replayed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pre := func(c *gin.Context) {
				c.Header(requestIDHeader, "rid-1")
				if tc.existing != "" {
					c.Header("Access-Control-Expose-Headers", tc.existing)
				}
				c.Next()
			}
			h := serveSecured(t, SecurityOptions{ExposeHeaders: tc.extra}, pre, httptest.NewRequest(http.MethodGet, "/ok", nil))
			if got := h.Get("Access-Control-Expose-Headers"); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestSecurityHeaders_CachePosture(t *testing.T) {
	asUser := func(c *gin.Context) { c.Set(ctxKeyUserID, "u-1"); c.Next() }
	opt := SecurityOptions{NoStorePrefixes: []string{"/api/v1/auth/"}}

	// anonymous: no cache directives
	h := serveSecured(t, opt, nil, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if h.Get("Cache-Control") != "" {
		t.Fatalf("anonymous Cache-Control = %q", h.Get("Cache-Control"))
	}

	// authenticated: private and revalidatable
	h = serveSecured(t, opt, asUser, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	if h.Get("Cache-Control") != "private, no-cache" || h.Get("Vary") != "Authorization" {
		t.Fatalf("authenticated headers: %#v", h)
	}

	// token routes: never stored, even for authenticated callers
	h = serveSecured(t, opt, asUser, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil))
	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Fatalf("token route headers: %#v", h)
	}
}

func TestSecurityHeaders_PolicyNoStoreHSTS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.TLS = &tls.ConnectionState{}
	h := serveSecured(t, SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		NoStore:      true,
		EnablePolicy: true,
	}, nil, req)

	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("missing policy headers: %#v", h)
	}
	if h.Get("Cache-Control") != "no-store" {
		t.Fatalf("missing no-store: %#v", h)
	}
	if want := "max-age=86400; includeSubDomains; preload"; h.Get("Strict-Transport-Security") != want {
		t.Fatalf("HSTS = %q", h.Get("Strict-Transport-Security"))
	}

	// default max-age via proxy header; plain HTTP never gets HSTS
	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	h = serveSecured(t, SecurityOptions{EnableHSTS: true}, nil, req)
	if got := h.Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=15552000;") {
		t.Fatalf("default HSTS = %q", got)
	}
	h = serveSecured(t, SecurityOptions{EnableHSTS: true}, nil, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS on plain HTTP")
	}
}

func Test_isHTTPS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if isHTTPS(req) {
		t.Fatalf("plain HTTP should not be https")
	}
	req.TLS = &tls.ConnectionState{}
	if !isHTTPS(req) {
		t.Fatalf("TLS request should be https")
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	if !isHTTPS(req) {
		t.Fatalf("X-Forwarded-Proto=https should be https")
	}
}

func Test_hasAnyPrefix(t *testing.T) {
	if hasAnyPrefix("/a/b", nil) || hasAnyPrefix("/a/b", []string{""}) {
		t.Fatalf("empty prefixes must not match")
	}
	if !hasAnyPrefix("/api/v1/auth/login", []string{"/x", "/api/v1/auth/"}) {
		t.Fatalf("expected match")
	}
}
