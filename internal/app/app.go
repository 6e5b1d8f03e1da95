package app

import (
	"context"
	"database/sql"
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
	"golang.org/x/time/rate"

	"github.com/hitoshi/fitclub/internal/auth"
	"github.com/hitoshi/fitclub/internal/config"
	"github.com/hitoshi/fitclub/internal/content"
	"github.com/hitoshi/fitclub/internal/database"
	"github.com/hitoshi/fitclub/internal/feed"
	"github.com/hitoshi/fitclub/internal/handler"
	"github.com/hitoshi/fitclub/internal/health"
	"github.com/hitoshi/fitclub/internal/logger"
	"github.com/hitoshi/fitclub/internal/metrics"
	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/repository"
	"github.com/hitoshi/fitclub/internal/security"
	"github.com/hitoshi/fitclub/internal/support"
	"github.com/hitoshi/fitclub/internal/tts"
	"github.com/hitoshi/fitclub/internal/user"
	"github.com/hitoshi/fitclub/internal/worker/blogimport"
	"github.com/hitoshi/fitclub/internal/worker/cleanup"
)

// archiveInterval はお知らせアーカイブジョブの実行間隔。
const archiveInterval = 24 * time.Hour

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

	if !cmd.RequiresConfig() {
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
		slog.String("role", cmd.Description()),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// rateLimiterConfig は req/min 単位の設定値を req/sec に変換したレート制限設定を返す。
// バーストサイズは1分あたりの上限と同じにする。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitLogin > 0 {
		rl.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
		rl.LoginBurst = cfg.RateLimitLogin
	}
	return rl
}

// oauthProviders は設定が揃っているOAuthプロバイダーのみを返す。
func oauthProviders(cfg *config.Config) []auth.OAuthProvider {
	var providers []auth.OAuthProvider
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}))
	}
	if cfg.LINEEnabled() {
		providers = append(providers, auth.NewLINEOAuthProvider(auth.LINEOAuthConfig{
			ChannelID:     cfg.LINEChannelID,
			ChannelSecret: cfg.LINEChannelSecret,
			RedirectURL:   cfg.LINERedirectURL,
		}))
	}
	return providers
}

// newSynthesizer はAPIキーが設定されている場合のみ音声合成クライアントを返す。
// 未設定の場合はnilインターフェースを返し、読み上げはupstream_errorになる。
func newSynthesizer(cfg *config.Config, recorder tts.CallRecorder) health.Synthesizer {
	if cfg.TTSAPIKey == "" {
		return nil
	}
	client := tts.NewClient(&http.Client{Timeout: 15 * time.Second}, slog.Default(), tts.Config{
		Endpoint: cfg.TTSAPIURL,
		APIKey:   cfg.TTSAPIKey,
		Language: cfg.TTSLanguage,
	})
	client.SetCallRecorder(recorder)
	return client
}

// buildRouter は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
// 返り値のRateLimiterはシャットダウン時にStopする。
func buildRouter(cfg *config.Config, db *sql.DB) (http.Handler, *middleware.RateLimiter, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	recordRepo := repository.NewPostgresHealthRecordRepo(db)
	adviceRepo := repository.NewPostgresAdviceRepo(db)
	questionRepo := repository.NewPostgresQuestionRepo(db)
	inquiryRepo := repository.NewPostgresInquiryRepo(db)
	announcementRepo := repository.NewPostgresAnnouncementRepo(db)
	postRepo := repository.NewPostgresBlogPostRepo(db)
	sourceRepo := repository.NewPostgresBlogSourceRepo(db)

	// 3. セキュリティ
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. 認証
	codec, err := auth.NewTokenCodec(cfg.JWTSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token codec: %w", err)
	}
	authService := auth.NewService(userRepo, codec,
		auth.ServiceConfig{TokenTTL: cfg.TokenTTL},
		oauthProviders(cfg)...,
	)
	authService.SetLoginRecorder(collector)
	authenticator := auth.NewAuthenticator(codec, userRepo)

	// 5. ドメインサービス
	userService := user.NewService(userRepo, auth.IsHTTPSURL)
	healthService := health.NewService(recordRepo, adviceRepo, userRepo, newSynthesizer(cfg, collector))
	supportService := support.NewService(questionRepo, inquiryRepo, support.NewTicketGenerator())
	contentService := content.NewService(announcementRepo, postRepo, sourceRepo, sanitizer, ssrfGuard)
	contentService.SetFeedDiscoverer(feed.NewDetector(ssrfGuard))

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Authenticator:     authenticator,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		UserService:     userService,
		PasswordChanger: authService,
		HealthService:   healthService,
		SupportService:  supportService,
		ContentService:  contentService,
	}

	return handler.NewRouter(deps), rateLimiter, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	router, rateLimiter, err := buildRouter(cfg, db)
	if err != nil {
		return err
	}
	defer rateLimiter.Stop()

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
			slog.Bool("google_login", cfg.GoogleEnabled()),
			slog.Bool("line_login", cfg.LINEEnabled()),
			slog.Bool("tts", cfg.TTSAPIKey != ""),
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
// ブログ取り込みスケジューラとお知らせアーカイブジョブを起動し、
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	postRepo := repository.NewPostgresBlogPostRepo(db)
	sourceRepo := repository.NewPostgresBlogSourceRepo(db)

	importer := blogimport.NewImporter(
		sourceRepo, postRepo,
		security.NewSSRFGuard(), security.NewContentSanitizer(),
		collector, slog.Default(),
		blogimport.Config{
			Timeout:     cfg.FetchTimeout,
			MaxBodySize: cfg.FetchMaxSize,
			Interval:    cfg.BlogImportInterval,
		},
	)
	scheduler := blogimport.NewScheduler(sourceRepo, importer, slog.Default(), cfg.FetchMaxConcurrent)
	archiveJob := cleanup.NewArchiveJob(db, slog.Default(), collector)

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
		slog.Duration("import_interval", cfg.BlogImportInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	// ワーカーはAPIを持たないため、ヘルスチェックとメトリクスのみ公開する
	metricsServer := newWorkerMetricsServer(cfg.ServerPort, db, reg)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// お知らせアーカイブを日次でバックグラウンド実行
	go archiveJob.Start(ctx, archiveInterval)

	// 取り込みスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.BlogImportInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerMetricsServer はワーカー用の /health と /metrics を提供するサーバーを返す。
func newWorkerMetricsServer(port string, db handler.HealthChecker, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			middleware.WriteErrorResponse(w, model.NewStorageError())
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler(gatherer))

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
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

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
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
