package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/brandsafe-backend/internal/auth"
	"github.com/tbourn/brandsafe-backend/internal/classifier"
	"github.com/tbourn/brandsafe-backend/internal/config"
	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/repo"
	"github.com/tbourn/brandsafe-backend/internal/services"
	"github.com/tbourn/brandsafe-backend/internal/storage"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:router_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newServices(t *testing.T) Services {
	t.Helper()
	db := newTestDB(t)
	policy, err := classifier.DefaultPolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	cls := classifier.NewKeyword(policy, classifier.WithOverrideRate(0), classifier.WithRand(classifier.NewSeededRand(7)))
	tokens, err := auth.NewTokens("router-test-secret-1234", time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return Services{
		Moderation: services.NewModerationService(db, cls, "keyword"),
		Analytics:  services.NewAnalyticsService(db, time.UTC),
		Auth:       services.NewAuthService(db, tokens),
		Usage:      services.NewUsageService(db),
		Uploads:    store,
		Tokens:     tokens,
	}
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		AppVersion:  "1.0.0",
		GinMode:     gin.TestMode,
		RateRPS:     100,
		RateBurst:   50,
		Upload:      config.UploadConfig{MaxBytes: 1 << 20},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func do(r http.Handler, method, path, token string, body any, hdr ...string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newServices(t), testConfig())

	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("health json: %v", err)
	}
	if health["status"] != "healthy" || health["version"] != "1.0.0" || health["timestamp"] == nil {
		t.Fatalf("unexpected health body: %v", health)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	if w := do(r, http.MethodGet, "/api/v1/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/health = %d", w.Code)
	}

	w = do(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w := do(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
	for i := 0; i < 3*testConfig().RateBurst; i++ {
		if w := do(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
			t.Fatalf("health must not be rate limited, request %d got %d", i, w.Code)
		}
	}
	if w := do(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be off unless enabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	// httptest requests carry Host example.com; the allowed origin must differ
	// or the request counts as same-origin and gets no CORS headers.
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://app.example.org"}}
	RegisterRoutes(r, newServices(t), cfg)

	w := do(r, http.MethodGet, "/health", "", nil, "Origin", "http://app.example.org")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example.org" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(strings.ToLower(got), "x-ratelimit-remaining") {
		t.Fatalf("rate limit headers not exposed: %q", got)
	}

	w = do(r, http.MethodGet, "/health", "", nil, "Origin", "http://evil.example.net")
	if w.Code != http.StatusForbidden {
		t.Fatalf("disallowed origin = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin echoed: %q", got)
	}
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	RegisterRoutes(r, newServices(t), cfg)

	w := do(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"/moderate"`) {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10, 64))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	send := func(body, contentType string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		r.ServeHTTP(w, req)
		return w.Code
	}
	twelve := "0123456789AB"
	if got := send(twelve, "application/json"); got != http.StatusRequestEntityTooLarge {
		t.Fatalf("json over cap: expected 413, got %d", got)
	}
	if got := send(twelve, "multipart/form-data; boundary=x"); got != http.StatusOK {
		t.Fatalf("multipart under its cap: expected 200, got %d", got)
	}
	if got := send(strings.Repeat("x", 65), "multipart/form-data; boundary=x"); got != http.StatusRequestEntityTooLarge {
		t.Fatalf("multipart over cap: expected 413, got %d", got)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

// The whole flow through real services: register, moderate, replay,
// history, dashboard.
func TestModerationFlow_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc := newServices(t)
	RegisterRoutes(r, svc, testConfig())

	if w := do(r, http.MethodPost, "/api/v1/moderate", "", map[string]string{"input_type": "text", "input_value": "hi"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous moderate expected 401, got %d", w.Code)
	}

	w := do(r, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "brandowner", "email": "owner@example.com",
		"password": "Sup3r-Secret-99", "password_confirm": "Sup3r-Secret-99",
		"first_name": "Brand", "last_name": "Owner",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("token response Cache-Control = %q", cc)
	}
	var sess struct {
		User   domain.User    `json:"user"`
		Tokens auth.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("register json: %v", err)
	}
	tok := sess.Tokens.Access
	if tok == "" || sess.User.Role != domain.RoleInfluencer {
		t.Fatalf("unexpected session: %+v", sess)
	}

	// Safe brand message.
	w = do(r, http.MethodPost, "/api/v1/moderate", tok, map[string]string{"input_type": "text", "input_value": "Check out our amazing new product!"})
	if w.Code != http.StatusOK {
		t.Fatalf("moderate safe: %d %s", w.Code, w.Body.String())
	}
	var safe domain.ModerationRecord
	_ = json.Unmarshal(w.Body.Bytes(), &safe)
	if safe.Result != domain.VerdictSafe || safe.RiskLevel == nil || *safe.RiskLevel != domain.RiskLow || len(safe.FlagsDetected) != 0 {
		t.Fatalf("unexpected safe record: %+v", safe)
	}

	// Scam message, with an idempotency key.
	scam := map[string]string{"input_type": "text", "input_value": "This is a fake scam product"}
	w = do(r, http.MethodPost, "/api/v1/moderate", tok, scam, "Idempotency-Key", "scam-1", "X-Forwarded-For", "203.0.113.5")
	if w.Code != http.StatusOK {
		t.Fatalf("moderate scam: %d %s", w.Code, w.Body.String())
	}
	var unsafe domain.ModerationRecord
	_ = json.Unmarshal(w.Body.Bytes(), &unsafe)
	if unsafe.Result != domain.VerdictUnsafe || unsafe.RiskLevel == nil || *unsafe.RiskLevel != domain.RiskHigh {
		t.Fatalf("unexpected unsafe record: %+v", unsafe)
	}
	w = do(r, http.MethodPost, "/api/v1/moderate", tok, scam, "Idempotency-Key", "scam-1")
	var replay domain.ModerationRecord
	_ = json.Unmarshal(w.Body.Bytes(), &replay)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" || replay.ID != unsafe.ID {
		t.Fatalf("replay: %d replayed=%q id=%s want %s", w.Code, w.Header().Get("Idempotency-Replayed"), replay.ID, unsafe.ID)
	}

	// Image without a file stores nothing.
	w = do(r, http.MethodPost, "/api/v1/moderate", tok, map[string]string{"input_type": "image"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("image without file: %d", w.Code)
	}

	// Image upload through multipart.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("input_type", "image")
	fw, _ := mw.CreateFormFile("input_file", "banner.png")
	_, _ = fw.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/moderate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("image upload: %d %s", w.Code, w.Body.String())
	}
	var img domain.ModerationRecord
	_ = json.Unmarshal(w.Body.Bytes(), &img)
	if img.InputFile == nil || !strings.HasPrefix(*img.InputFile, storage.KeyPrefix+"/") || img.Result != domain.VerdictSafe {
		t.Fatalf("unexpected image record: %+v", img)
	}

	// History: 3 records, newest first; ETag round trip.
	w = do(r, http.MethodGet, "/api/v1/history?page_size=2", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d", w.Code)
	}
	var hist struct {
		Results    []domain.ModerationRecord `json:"results"`
		Pagination struct {
			Total   int64 `json:"total"`
			HasNext bool  `json:"has_next"`
		} `json:"pagination"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &hist)
	if hist.Pagination.Total != 3 || !hist.Pagination.HasNext || len(hist.Results) != 2 || hist.Results[0].ID != img.ID {
		t.Fatalf("unexpected history: %+v", hist)
	}
	etag := w.Header().Get("ETag")
	if cc := w.Header().Get("Cache-Control"); cc != "private, no-cache" {
		t.Fatalf("history Cache-Control = %q", cc)
	}
	if w := do(r, http.MethodGet, "/api/v1/history?page_size=2", tok, nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("history 304 expected, got %d", w.Code)
	}

	if w := do(r, http.MethodGet, "/api/v1/history/"+unsafe.ID, tok, nil); w.Code != http.StatusOK {
		t.Fatalf("history detail: %d", w.Code)
	}

	// Dashboard scoped to the caller.
	w = do(r, http.MethodGet, "/api/v1/dashboard", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: %d", w.Code)
	}
	var stats services.DashboardStats
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.TotalChecks != 3 || stats.SafeCount != 2 || stats.UnsafeCount != 1 || stats.SafetyRate != 66.67 ||
		stats.ChecksToday != 3 || stats.Scope != "user" || stats.TypeBreakdown["image"] != 1 || stats.RiskBreakdown["high"] != 1 {
		t.Fatalf("unexpected dashboard: %+v", stats)
	}

	// Profile.
	w = do(r, http.MethodPatch, "/api/v1/profile", tok, map[string]string{"organization": "Acme"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"organization":"Acme"`) {
		t.Fatalf("profile patch: %d %s", w.Code, w.Body.String())
	}

	// Usage: every authenticated moderate call was recorded, the anonymous one was not.
	w = do(r, http.MethodGet, "/api/v1/usage", tok, nil)
	var usage services.UsageSummary
	_ = json.Unmarshal(w.Body.Bytes(), &usage)
	if w.Code != http.StatusOK || len(usage.Endpoints) == 0 {
		t.Fatalf("usage: %d %s", w.Code, w.Body.String())
	}
	top := usage.Endpoints[0]
	if top.Endpoint != "/api/v1/moderate" || top.Method != http.MethodPost || top.Count != 5 {
		t.Fatalf("unexpected top endpoint: %+v", top)
	}
}

func TestDashboard_AdminSeesAllUsers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc := newServices(t)
	RegisterRoutes(r, svc, testConfig())

	created, err := svc.Auth.EnsureAdmin(context.Background(), "root", "Adm1n-Passw0rd!", "root@example.com")
	if err != nil || !created {
		t.Fatalf("EnsureAdmin: %v %v", created, err)
	}
	login := func(user, pass string) string {
		w := do(r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": user, "password": pass})
		if w.Code != http.StatusOK {
			t.Fatalf("login %s: %d %s", user, w.Code, w.Body.String())
		}
		var resp struct {
			Tokens auth.TokenPair `json:"tokens"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		return resp.Tokens.Access
	}

	w := do(r, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com",
		"password": "Sup3r-Secret-99", "password_confirm": "Sup3r-Secret-99",
		"first_name": "Alice", "last_name": "A",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	alice := login("alice", "Sup3r-Secret-99")
	do(r, http.MethodPost, "/api/v1/moderate", alice, map[string]string{"input_type": "url", "input_value": "https://example.com/spam"})

	admin := login("root", "Adm1n-Passw0rd!")
	do(r, http.MethodPost, "/api/v1/moderate", admin, map[string]string{"input_type": "text", "input_value": "hello"})

	w = do(r, http.MethodGet, "/api/v1/dashboard", admin, nil)
	var stats services.DashboardStats
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if w.Code != http.StatusOK || stats.Scope != "all" || stats.TotalChecks != 2 || stats.UnsafeCount != 1 {
		t.Fatalf("admin dashboard: %d %+v", w.Code, stats)
	}

	w = do(r, http.MethodGet, "/api/v1/dashboard", alice, nil)
	stats = services.DashboardStats{}
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.Scope != "user" || stats.TotalChecks != 1 {
		t.Fatalf("influencer dashboard: %+v", stats)
	}

	// Role and status changes apply to tokens that are already out.
	ctx := context.Background()
	root, err := repo.GetUserByUsername(ctx, svc.Auth.DB, "root")
	if err != nil {
		t.Fatalf("load root: %v", err)
	}
	if err := repo.UpdateUserFields(ctx, svc.Auth.DB, root.ID, map[string]any{"role": string(domain.RoleInfluencer)}); err != nil {
		t.Fatalf("demote: %v", err)
	}
	w = do(r, http.MethodGet, "/api/v1/dashboard", admin, nil)
	stats = services.DashboardStats{}
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if w.Code != http.StatusOK || stats.Scope != "user" || stats.TotalChecks != 1 {
		t.Fatalf("demoted admin dashboard: %d %+v", w.Code, stats)
	}

	a, err := repo.GetUserByUsername(ctx, svc.Auth.DB, "alice")
	if err != nil {
		t.Fatalf("load alice: %v", err)
	}
	if err := repo.UpdateUserFields(ctx, svc.Auth.DB, a.ID, map[string]any{"is_active": false}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	w = do(r, http.MethodGet, "/api/v1/dashboard", alice, nil)
	if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), `"account_disabled"`) {
		t.Fatalf("deactivated user dashboard: %d %s", w.Code, w.Body.String())
	}
}
