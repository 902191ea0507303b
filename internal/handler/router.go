package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/remi/internal/metrics"
	"github.com/hitoshi/remi/internal/middleware"
)

// HealthChecker はストアなど依存先の疎通を確認する関数。
type HealthChecker func(ctx context.Context) error

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          middleware.IdentityVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// サービス
	AgentService     AgentSettingsService
	RoomService      RoomService
	CheckoutService  CheckoutService
	WebhookProcessor WebhookProcessor

	// 運用
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer
	Health   HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Metrics → Recovery → SecurityHeaders → Logging → CORS → Session → RateLimit(General)
//
// panicから復帰した500もMetricsに記録される。
//
// Webhook、エージェント設定配信、ヘルスチェック、メトリクスは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var m metrics.MetricsCollector = metrics.NopCollector{}
	if deps.Metrics != nil {
		m = deps.Metrics
	}

	r := chi.NewRouter()
	r.Use(middleware.NewMetricsMiddleware(m))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	agentHandler := NewAgentHandler(deps.AgentService)
	roomHandler := NewRoomHandler(deps.RoomService, m)
	billingHandler := NewBillingHandler(deps.CheckoutService, deps.WebhookProcessor, m)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.Health))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Get("/api/agent-config", roomHandler.AgentConfig)
	r.Post("/api/stripe-webhook", billingHandler.Webhook)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Verifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/create-checkout-session", billingHandler.CreateCheckoutSession)
		r.With(deps.RateLimiter.TokenMiddleware()).Post("/api/livekit-token", roomHandler.IssueToken)

		r.Get("/api/agent-settings", agentHandler.GetSettings)
		r.Post("/api/agent-settings", agentHandler.SaveSettings)
	})

	return r
}

// healthResponse はヘルスチェックの応答。
type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler は依存先の疎通を確認し、結果を返すハンドラーを生成する。
func healthHandler(check HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
