package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/remi/internal/agent"
	"github.com/hitoshi/remi/internal/auth"
	"github.com/hitoshi/remi/internal/billing"
	"github.com/hitoshi/remi/internal/config"
	"github.com/hitoshi/remi/internal/database"
	"github.com/hitoshi/remi/internal/handler"
	"github.com/hitoshi/remi/internal/livekit"
	"github.com/hitoshi/remi/internal/logger"
	"github.com/hitoshi/remi/internal/metrics"
	"github.com/hitoshi/remi/internal/middleware"
	"github.com/hitoshi/remi/internal/room"
	"github.com/hitoshi/remi/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMで停止する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := ParseCommand(args)

	// healthcheck と call は軽量サブコマンドのため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandCall:
		logger.SetupDefault(w)
		return runCall(ctx, callConfigFromEnv())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("app_url", cfg.AppURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// buildRouter は全依存関係をワイヤリングしたHTTPハンドラーを返す。
// 戻り値のstop関数でレートリミッターのバックグラウンド処理を止める。
func buildRouter(cfg *config.Config, st *store, collector *metrics.Collector, reg *prometheus.Registry) (http.Handler, func(), error) {
	// 1. 認証
	verifier, err := auth.NewClerkVerifier(cfg.ClerkJWTKey, cfg.ClerkAuthorizedParties)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize clerk verifier: %w", err)
	}

	// 2. ドメインサービスの初期化
	agentService := agent.NewService(st.agents)

	issuer := livekit.NewTokenIssuer(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, livekit.DefaultTTL)
	roomService := room.NewService(issuer, st.sessions, cfg.LiveKitURL)

	stripeClient := billing.NewStripeClient(cfg.StripeSecretKey)
	checkoutService := billing.NewCheckoutService(stripeClient.V1CheckoutSessions, billing.CheckoutConfig{
		PriceID:         cfg.StripePriceID,
		AppURL:          cfg.AppURL,
		TrialPeriodDays: cfg.TrialPeriodDays,
	})
	webhookProcessor := billing.NewWebhookProcessor(cfg.StripeWebhookSecret, billing.LogSink{})

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitToken),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Verifier:          verifier,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		AgentService:     agentService,
		RoomService:      roomService,
		CheckoutService:  checkoutService,
		WebhookProcessor: webhookProcessor,

		Metrics:  collector,
		Gatherer: reg,
		Health:   st.ping,
	})

	return router, rateLimiter.Stop, nil
}

// newRegistry はプロセス情報を含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーと期限切れセッションの削除ループを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストアの初期化
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// 2. ルーターの構築
	reg := newRegistry()
	collector := metrics.NewCollector(reg)
	router, stopLimiter, err := buildRouter(cfg, st, collector, reg)
	if err != nil {
		return err
	}
	defer stopLimiter()

	cleanupJob := cleanup.NewCleanupJob(st.sessions, collector, slog.Default())

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return cleanupJob.Start(gctx, cfg.RoomSessionSweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 共有ストアの期限切れルームセッションを定期的に削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreBackend == config.StoreBackendMemory {
		return errors.New("worker requires a shared store (STORE_BACKEND=postgres or redis)")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	cleanupJob := cleanup.NewCleanupJob(st.sessions, nil, slog.Default())

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.RoomSessionSweepInterval),
	)

	if err := cleanupJob.Start(ctx, cfg.RoomSessionSweepInterval); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
