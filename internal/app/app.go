package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/kaisho/internal/config"
	"github.com/hitoshi/kaisho/internal/consent"
	"github.com/hitoshi/kaisho/internal/database"
	"github.com/hitoshi/kaisho/internal/handler"
	"github.com/hitoshi/kaisho/internal/logger"
	"github.com/hitoshi/kaisho/internal/metrics"
	"github.com/hitoshi/kaisho/internal/middleware"
	"github.com/hitoshi/kaisho/internal/notify"
	"github.com/hitoshi/kaisho/internal/otp"
	"github.com/hitoshi/kaisho/internal/profile"
	"github.com/hitoshi/kaisho/internal/repository"
	"github.com/hitoshi/kaisho/internal/security"
	"github.com/hitoshi/kaisho/internal/token"
	"github.com/hitoshi/kaisho/internal/viewer"
	"github.com/hitoshi/kaisho/internal/worker/sweep"
)

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

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	mallRepo := repository.NewPostgresMallRepo(db)
	consentRepo := repository.NewPostgresConsentRepo(db)
	sessionRepo := repository.NewPostgresViewerSessionRepo(db)
	otpRepo := repository.NewPostgresOtpRepo(db)
	profileKeyRepo := repository.NewPostgresProfileKeyRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewDisclosureSanitizer()

	// 4. ドメインサービスの初期化
	notifier := notify.NewWebhookNotifier(ssrfGuard, cfg.NotifyTimeout)
	consentService := consent.NewService(consentRepo, mallRepo, notifier)

	seed, err := hex.DecodeString(cfg.TokenSigningKey)
	if err != nil {
		return fmt.Errorf("invalid TOKEN_SIGNING_KEY: %w", err)
	}
	tokenService, err := token.NewService(seed, consentService, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to init token service: %w", err)
	}

	profileStore := profile.NewStore(
		cfg.ProfileStoreDir, []byte(cfg.ProfileMasterSecret), profileKeyRepo,
	)
	viewerService := viewer.NewService(sessionRepo, consentService, profileStore, sanitizer)
	otpService := otp.NewService(otpRepo, nil)

	// 5. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		HealthChecker:     db,
		MallFinder:        mallRepo,
		IdpSharedSecret:   []byte(cfg.IdpSharedSecret),
		AdminToken:        cfg.AdminToken,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterConfig(cfg)),
		MetricsHandler:    metrics.Handler(registry),

		TokenService: tokenService,
		TokenMetrics: collector,

		TokenVerifier:  tokenService,
		SessionService: viewerService,
		SessionMetrics: collector,
		BaseURL:        cfg.BaseURL,

		OtpService: otpService,
		OtpMetrics: collector,

		ConsentService: consentService,
		MallRepo:       mallRepo,
		ProfileStore:   profileStore,

		SSRFGuard: ssrfGuard,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れデータのスイープジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. スイープジョブの初期化
	otpRepo := repository.NewPostgresOtpRepo(db)
	sessionRepo := repository.NewPostgresViewerSessionRepo(db)
	job := sweep.NewJob(otpRepo, sessionRepo, slog.Default(), cfg.SessionRetentionExpired)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Duration("session_retention", cfg.SessionRetentionExpired),
	)

	// スイープジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
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

// rateLimiterConfig はConfigのreq/min設定をレート制限設定へ変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitToken > 0 {
		rlCfg.TokenIssueRate = rate.Limit(float64(cfg.RateLimitToken) / 60.0)
		rlCfg.TokenIssueBurst = cfg.RateLimitToken
	}
	return rlCfg
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
