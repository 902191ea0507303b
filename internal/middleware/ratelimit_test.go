package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/remi/internal/model"
)

// limitedHandler は呼び出し回数を数えるハンドラーをmwで包む。
func limitedHandler(mw func(http.Handler) http.Handler) (http.Handler, *atomic.Int32) {
	var calls atomic.Int32
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})), &calls
}

func serveAs(h http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/livekit-token", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewRateLimiterConfig_ConvertsPerMinute(t *testing.T) {
	tests := []struct {
		name         string
		general      int
		token        int
		wantGeneral  rate.Limit
		wantGenBurst int
		wantToken    rate.Limit
		wantTokBurst int
	}{
		{"configured", 60, 6, 1, 60, 0.1, 6},
		{"defaults", 120, 10, 2, 120, rate.Limit(10.0 / 60.0), 10},
		{"zero falls back to defaults", 0, 0, 2, 120, rate.Limit(10.0 / 60.0), 10},
		{"negative falls back to defaults", -5, -1, 2, 120, rate.Limit(10.0 / 60.0), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewRateLimiterConfig(tt.general, tt.token)

			if cfg.GeneralRate != tt.wantGeneral || cfg.GeneralBurst != tt.wantGenBurst {
				t.Errorf("general = %v/%d, want %v/%d", cfg.GeneralRate, cfg.GeneralBurst, tt.wantGeneral, tt.wantGenBurst)
			}
			if cfg.TokenRate != tt.wantToken || cfg.TokenBurst != tt.wantTokBurst {
				t.Errorf("token = %v/%d, want %v/%d", cfg.TokenRate, cfg.TokenBurst, tt.wantToken, tt.wantTokBurst)
			}
			if cfg.CleanupInterval != 5*time.Minute {
				t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
			}
		})
	}

	if DefaultRateLimiterConfig() != NewRateLimiterConfig(120, 10) {
		t.Error("DefaultRateLimiterConfig should equal 120/min general and 10/min token")
	}
}

func TestTokenMiddleware_RejectsBeyondBurstWithRetryAfter(t *testing.T) {
	// バースト2、補充は2秒ごと
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate: 2, GeneralBurst: 120,
		TokenRate: 0.5, TokenBurst: 2,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	h, calls := limitedHandler(rl.TokenMiddleware())

	for i := 0; i < 2; i++ {
		if w := serveAs(h, "user_a"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := serveAs(h, "user_a")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}

	// 他のユーザーは影響を受けない
	if w := serveAs(h, "user_b"); w.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", w.Code)
	}
}

func TestTokenMiddleware_DoesNotConsumeGeneralBudget(t *testing.T) {
	rl := NewRateLimiter(NewRateLimiterConfig(1, 10))
	defer rl.Stop()

	token, _ := limitedHandler(rl.TokenMiddleware())
	general, _ := limitedHandler(rl.GeneralMiddleware())

	for i := 0; i < 5; i++ {
		serveAs(token, "user_a")
	}

	if w := serveAs(general, "user_a"); w.Code != http.StatusOK {
		t.Errorf("general status = %d, want 200", w.Code)
	}
	if w := serveAs(general, "user_a"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second general status = %d, want 429", w.Code)
	}
}

func TestRateLimitMiddleware_WithoutUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	h, calls := limitedHandler(rl.GeneralMiddleware())

	if w := serveAs(h, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if calls.Load() != 0 {
		t.Error("handler should not be called")
	}
}

func TestLimiterSet_EvictUsesLastAccess(t *testing.T) {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	now := base
	set := newLimiterSet(1, 1)
	set.now = func() time.Time { return now }

	set.get("stale")
	now = base.Add(8 * time.Minute)
	set.get("fresh")

	set.evict(base.Add(11*time.Minute), 10*time.Minute)

	if set.len() != 1 {
		t.Fatalf("len = %d, want 1", set.len())
	}
	if _, ok := set.limiters["fresh"]; !ok {
		t.Error("fresh entry should survive eviction")
	}

	// アクセスで最終アクセス時刻が更新される
	now = base.Add(20 * time.Minute)
	set.get("fresh")
	set.evict(base.Add(25*time.Minute), 10*time.Minute)
	if set.len() != 1 {
		t.Errorf("len = %d, want refreshed entry kept", set.len())
	}
}

func TestRateLimiter_CleanupEvictsBothSets(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate: 1, GeneralBurst: 1,
		TokenRate: 1, TokenBurst: 1,
		CleanupInterval: time.Hour,
	})
	defer rl.Stop()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }
	rl.general.now = clock
	rl.token.now = clock

	rl.general.get("user_a")
	rl.token.get("user_a")

	now = base.Add(2*time.Hour + time.Second)
	rl.cleanup()

	if rl.general.len() != 0 || rl.token.len() != 0 {
		t.Errorf("entries left: general=%d token=%d", rl.general.len(), rl.token.len())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())

	rl.Stop()
	rl.Stop()

	select {
	case <-rl.stopCh:
	default:
		t.Error("stop channel should be closed")
	}
}
