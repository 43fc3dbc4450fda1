package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/newsletter/internal/auth"
	"github.com/hitoshi/newsletter/internal/config"
	"github.com/hitoshi/newsletter/internal/confirmation"
	"github.com/hitoshi/newsletter/internal/database"
	"github.com/hitoshi/newsletter/internal/email"
	"github.com/hitoshi/newsletter/internal/handler"
	"github.com/hitoshi/newsletter/internal/logger"
	"github.com/hitoshi/newsletter/internal/metrics"
	"github.com/hitoshi/newsletter/internal/middleware"
	"github.com/hitoshi/newsletter/internal/newsletter"
	"github.com/hitoshi/newsletter/internal/repository"
	"github.com/hitoshi/newsletter/internal/security"
	"github.com/hitoshi/newsletter/internal/subscription"
	"github.com/hitoshi/newsletter/internal/worker/cleanup"
	"github.com/hitoshi/newsletter/internal/worker/outbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// 起動時の待ち時間
const (
	startupPingTimeout = 5 * time.Second
	shutdownTimeout    = 30 * time.Second
	cleanupInterval    = 24 * time.Hour
	relayPrefetch      = 10
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// 軽量サブコマンドはフル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandHashPassword:
		return runHashPassword(w, args[1:])
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("email_provider", cfg.Email.Provider),
	)

	// SIGINTまたはSIGTERMでctxをキャンセルする
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandRelay:
		return runRelay(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、到達できることを確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(ctx, db, startupPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newEmailClient は設定のプロバイダーでメールクライアントを生成する。
// 返すclose関数はamqpの接続を閉じる。その他のプロバイダーでは何もしない。
func newEmailClient(ctx context.Context, cfg *config.Config) (email.Client, func(), error) {
	client, err := email.NewClient(ctx, cfg.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create email client: %w", err)
	}

	closeFn := func() {}
	if c, ok := client.(io.Closer); ok {
		closeFn = func() {
			if err := c.Close(); err != nil {
				slog.Warn("メールクライアントのクローズに失敗しました", logger.ErrorAttr(err))
			}
		}
	}
	return client, closeFn, nil
}

// newMetrics はGo・プロセスのコレクターを含むレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	subscriberRepo := repository.NewPostgresSubscriberRepo(db)
	credentialRepo := repository.NewPostgresCredentialRepo(db)
	outboxRepo := repository.NewPostgresOutboxRepo(db)

	// 3. メトリクスとメールクライアントの初期化
	reg, collector := newMetrics()

	mailClient, closeMail, err := newEmailClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeMail()

	// 4. ドメインサービスの初期化
	subOpts := []subscription.Option{
		subscription.WithMetrics(collector),
		subscription.WithLogger(slog.Default()),
	}
	if cfg.EmailDelivery == config.DeliveryDirect {
		subOpts = append(subOpts, subscription.WithDirectDelivery(mailClient, outboxRepo))
	}
	subService := subscription.NewService(subscriberRepo, cfg.BaseURL, subOpts...)
	confirmService := confirmation.NewService(subscriberRepo, collector)

	authService := auth.NewService(credentialRepo, auth.NewArgon2idHasher(auth.DefaultArgon2Params()))
	publisher := newsletter.NewPublisher(
		authService,
		subscriberRepo,
		mailClient,
		security.NewNewsletterSanitizer(),
		newsletter.Config{
			Concurrency: cfg.PublishConcurrency,
			MaxRetries:  uint64(max(cfg.PublishMaxRetries, 0)),
		},
		collector,
		slog.Default(),
	)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitSubscribe), slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:              slog.Default(),
		RateLimiter:         rateLimiter,
		TrustProxyHeaders:   cfg.TrustProxyHeaders,
		Metrics:             collector,
		MetricsGatherer:     reg,
		SubscriptionService: subService,
		ConfirmationService: confirmService,
		NewsletterService:   handler.NewNewsletterServiceAdapter(publisher),
		DB:                  db,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("API server starting",
		slog.String("addr", server.Addr),
		slog.String("email_delivery", cfg.EmailDelivery),
	)
	return serveUntilDone(ctx, server)
}

// runWorker はワーカーモードで起動する。
// 送信待ちメールのディスパッチャーをメインgoroutineで実行し、
// 送信済みメールのクリーンアップを日次でバックグラウンド実行する。
// メトリクスとヘルスチェックはSERVER_PORTで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. 依存関係の初期化
	reg, collector := newMetrics()

	mailClient, closeMail, err := newEmailClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeMail()

	dispatcher := outbox.NewDispatcher(
		repository.NewPostgresOutboxRepo(db),
		mailClient,
		outbox.Config{
			BatchSize:      cfg.OutboxBatchSize,
			MaxConcurrency: cfg.OutboxMaxConcurrent,
			MaxAttempts:    cfg.OutboxMaxAttempts,
		},
		collector,
		slog.Default(),
	)
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), cfg.OutboxRetentionDays)

	// 3. 運用エンドポイントの起動
	opsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newOpsMux(reg, db),
		ReadHeaderTimeout: 5 * time.Second,
	}
	opsDone := make(chan error, 1)
	go func() { opsDone <- serveUntilDone(ctx, opsServer) }()

	slog.Info("worker starting",
		slog.Duration("outbox_interval", cfg.OutboxInterval),
		slog.Int("batch_size", cfg.OutboxBatchSize),
		slog.Int("max_concurrent", cfg.OutboxMaxConcurrent),
		slog.Int("retention_days", cfg.OutboxRetentionDays),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, cleanupInterval)

	// ディスパッチャーをメインgoroutineで実行（ブロッキング）
	dispatcher.Start(ctx, cfg.OutboxInterval)

	if err := <-opsDone; err != nil {
		slog.Error("運用エンドポイントの停止に失敗しました", logger.ErrorAttr(err))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newOpsMux はワーカー用の/metricsと/healthを提供するハンドラーを返す。
func newOpsMux(gatherer prometheus.Gatherer, db database.Pinger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(gatherer))
	mux.HandleFunc("GET /health", handler.NewHealthHandler(db).Check)
	return mux
}

// runRelay はRabbitMQのキューからメールジョブを取り出し、RELAY_PROVIDERで送信する。
func runRelay(ctx context.Context, cfg *config.Config) error {
	if cfg.Email.Provider != config.ProviderAMQP {
		return fmt.Errorf("relay requires EMAIL_PROVIDER=%s, got %q", config.ProviderAMQP, cfg.Email.Provider)
	}

	client, err := email.NewRelayClient(ctx, cfg.Email)
	if err != nil {
		return fmt.Errorf("failed to create relay client: %w", err)
	}

	relay, err := email.DialQueueRelay(cfg.Email.AMQPURL, cfg.Email.AMQPQueue, relayPrefetch, client, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	defer relay.Close()

	reg, collector := newMetrics()
	relay.SetMetrics(collector)

	// ブローカーが配送チャネルを閉じた場合も運用エンドポイントを止める
	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newOpsMux(reg, handler.PingerFunc(func(context.Context) error { return nil })),
		ReadHeaderTimeout: 5 * time.Second,
	}
	opsDone := make(chan error, 1)
	go func() { opsDone <- serveUntilDone(relayCtx, opsServer) }()

	slog.Info("email relay starting",
		slog.String("queue", cfg.Email.AMQPQueue),
		slog.String("relay_provider", cfg.Email.RelayProvider),
	)

	runErr := relay.Run(relayCtx)
	closedByBroker := ctx.Err() == nil
	cancel()
	<-opsDone

	if runErr != nil {
		return fmt.Errorf("relay stopped: %w", runErr)
	}
	if closedByBroker {
		return errors.New("relay stopped: delivery channel closed by broker")
	}

	slog.Info("email relay stopped gracefully")
	return nil
}

// serveUntilDone はctxがキャンセルされるまでserverを実行し、グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server...", slog.String("addr", server.Addr))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully", slog.String("addr", server.Addr))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数に"down"を指定した場合はすべてのマイグレーションを取り消す。
func runMigrate(cfg *config.Config, args []string) error {
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}

	slog.Info("running database migrations",
		slog.String("direction", direction),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch direction {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "down":
		if err := database.RollbackMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown migration direction %q (want up or down)", direction)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// runHashPassword はパスワードのargon2idハッシュ（PHC文字列）をwに出力する。
func runHashPassword(w io.Writer, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return errors.New("usage: newsletter hash-password <password>")
	}

	hash, err := auth.NewArgon2idHasher(auth.DefaultArgon2Params()).Hash(args[0])
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if w == nil {
		w = os.Stdout
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
