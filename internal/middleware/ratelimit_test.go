package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

func testRateConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RefreshRate:      rate.Limit(1.0 / 60.0),
		RefreshBurst:     3,
		InteractionRate:  rate.Limit(1.0 / 60.0),
		InteractionBurst: 2,
		CleanupInterval:  time.Minute,
	}
}

func requestFrom(method, path, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRefreshMiddleware_AllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(), discardLogger())
	defer rl.Stop()

	handler := rl.RefreshMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom(http.MethodPost, "/api/timeline/refresh", "192.0.2.1:1234"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodPost, "/api/timeline/refresh", "192.0.2.1:5678"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter != 60 {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("429レスポンスがJSONではない: %v", err)
	}
	if body.Code != "RATE_LIMITED" {
		t.Errorf("code = %q, want %q", body.Code, "RATE_LIMITED")
	}
}

func TestRefreshMiddleware_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(), discardLogger())
	defer rl.Stop()

	handler := rl.RefreshMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodPost, "/", "192.0.2.1:1"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodPost, "/", "192.0.2.2:1"))
	if w.Code != http.StatusOK {
		t.Errorf("別クライアントは制限されないべき: status = %d", w.Code)
	}
	if got := rl.RefreshLimiterCount(); got != 2 {
		t.Errorf("RefreshLimiterCount() = %d, want 2", got)
	}
}

func TestInteractionMiddleware_IndependentFromRefresh(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(), discardLogger())
	defer rl.Stop()

	refresh := rl.RefreshMiddleware()(okHandler())
	interaction := rl.InteractionMiddleware()(okHandler())

	for i := 0; i < 4; i++ {
		refresh.ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodPost, "/", "192.0.2.1:1"))
	}

	w := httptest.NewRecorder()
	interaction.ServeHTTP(w, requestFrom(http.MethodPost, "/", "192.0.2.1:1"))
	if w.Code != http.StatusOK {
		t.Errorf("投稿操作の制限は更新の制限と独立であるべき: status = %d", w.Code)
	}
	if got := rl.InteractionLimiterCount(); got != 1 {
		t.Errorf("InteractionLimiterCount() = %d, want 1", got)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(), discardLogger())
	defer rl.Stop()

	handler := rl.RefreshMiddleware()(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodPost, "/", "192.0.2.1:1"))

	rl.cleanup(time.Now())
	if got := rl.RefreshLimiterCount(); got != 1 {
		t.Errorf("最近のエントリは残るべき: count = %d", got)
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if got := rl.RefreshLimiterCount(); got != 0 {
		t.Errorf("期限切れのエントリは削除されるべき: count = %d", got)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(), discardLogger())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig(30)
	if cfg.RefreshBurst != 30 {
		t.Errorf("RefreshBurst = %d, want 30", cfg.RefreshBurst)
	}
	if cfg.RefreshRate != rate.Limit(0.5) {
		t.Errorf("RefreshRate = %v, want 0.5", cfg.RefreshRate)
	}

	if fallback := DefaultRateLimiterConfig(0); fallback.RefreshBurst != 30 {
		t.Errorf("0以下の場合はデフォルト値を使うべき: RefreshBurst = %d", fallback.RefreshBurst)
	}
}

// TestMiddlewareChain_SessionCSRFRateLimit はchi.Router上でのミドルウェアチェーンを検証する。
func TestMiddlewareChain_SessionCSRFRateLimit(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(), discardLogger())
	defer rl.Stop()

	source := loggedIn("mastodon.social_1")

	r := chi.NewRouter()
	r.Use(NewCSRFMiddleware(CSRFConfig{}, discardLogger()))
	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(source))
		r.Use(rl.InteractionMiddleware())
		r.Post("/api/statuses/{id}/favourite", func(w http.ResponseWriter, r *http.Request) {
			id, _ := SessionIDFromContext(r.Context())
			w.Write([]byte(id))
		})
	})

	newReq := func() *http.Request {
		req := requestFrom(http.MethodPost, "/api/statuses/9/favourite", "192.0.2.9:1")
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "t"})
		req.Header.Set("X-CSRF-Token", "t")
		return req
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newReq())
	if w.Code != http.StatusOK || w.Body.String() != "mastodon.social_1" {
		t.Fatalf("status = %d body = %q", w.Code, w.Body.String())
	}

	// CSRFトークンなしは403
	w = httptest.NewRecorder()
	r.ServeHTTP(w, requestFrom(http.MethodPost, "/api/statuses/9/favourite", "192.0.2.9:1"))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// バーストを使い切ると429
	r.ServeHTTP(httptest.NewRecorder(), newReq())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, newReq())
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}
