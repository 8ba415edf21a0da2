package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamvault/backend/internal/api"
	"github.com/streamvault/backend/internal/auth"
	"github.com/streamvault/backend/internal/cache"
	"github.com/streamvault/backend/internal/config"
	"github.com/streamvault/backend/internal/db"
	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/extractor"
	"github.com/streamvault/backend/internal/health"
	"github.com/streamvault/backend/internal/logger"
	"github.com/streamvault/backend/internal/metrics"
	"github.com/streamvault/backend/internal/middleware"
	"github.com/streamvault/backend/internal/processor"
	"github.com/streamvault/backend/internal/progress"
	"github.com/streamvault/backend/internal/queue"
	"github.com/streamvault/backend/internal/storage"
	"github.com/streamvault/backend/internal/supervisor"
	"github.com/streamvault/backend/internal/websocket"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()

	appLog := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "server")
	logger.SetDefault(appLog)

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		log.Fatalf("Failed to create download directory: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authService := auth.NewService(cfg.JWTSecret, cfg.APIKeyHash)
	if !authService.Enabled() {
		appLog.Warn(ctx, "authentication disabled; set API_KEY_HASH in production")
	}

	// Optional collaborators. A failure to reach one at startup is fatal
	// only when it was explicitly enabled.
	var database *db.DB
	var history *db.JobRepository
	if cfg.DBEnabled {
		var err error
		database, err = db.New(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		if err := database.Migrate(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		history = db.NewJobRepository(database)
	}

	var snapshots *cache.Cache
	if cfg.RedisEnabled {
		var err error
		snapshots, err = cache.New(cfg.RedisAddr, appLog.WithComponent("cache"))
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer snapshots.Close()
	}

	var store *storage.Client
	if cfg.MinioEnabled {
		var err error
		store, err = storage.New(&storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("Failed to create storage client: %v", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to ensure artifact bucket: %v", err)
		}
	}

	// Download pipeline.
	procs := supervisor.NewProcessTable(10*time.Second, appLog.WithComponent("supervisor"))
	guard := supervisor.NewResourceGuard(cfg.MemoryFloorMB, appLog.WithComponent("supervisor"))
	super := supervisor.New(guard, procs, cfg.JobTimeout, cfg.MinOutputBytes, appLog.WithComponent("supervisor"))
	ytdlp := extractor.NewYTDLP("yt-dlp", procs, appLog.WithComponent("extractor"))

	hub := websocket.NewHub()
	go hub.Run(ctx)

	// With Redis, WebSocket delivery rides the pub/sub channel so every
	// instance sees every update exactly once; without it, snapshots go to
	// the local hub directly.
	var sinks []progress.Sink
	if snapshots != nil {
		sinks = append(sinks, func(snap progress.Snapshot) {
			snapshots.StoreSnapshot(context.Background(), snap)
		})
	} else {
		sinks = append(sinks, hub.Broadcast)
	}

	proc := processor.New(&processor.Config{
		Extractor:      ytdlp,
		Supervisor:     super,
		HTTPClient:     &http.Client{Timeout: 60 * time.Second},
		Storage:        store,
		DownloadDir:    cfg.DownloadDir,
		SegmentWorkers: cfg.SegmentWorkers,
		Sinks:          sinks,
		Logger:         appLog.WithComponent("processor"),
	})

	m := metrics.Default()
	scheduler := queue.NewScheduler(cfg.QueueCapacity, cfg.MaxConcurrent, proc.Run, appLog.WithComponent("queue"))
	scheduler.OnTerminal(func(job *queue.Job, state queue.JobState) {
		m.RecordJobOutcome(string(state.Status))
		if history == nil {
			return
		}
		recordCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := apperrors.Retry(recordCtx, apperrors.DatabaseRetryConfig(), func(ctx context.Context) error {
			return history.RecordTerminal(ctx, job, state)
		})
		if err != nil {
			appLog.WithJob(job.ID).Error(recordCtx, "failed to record job history", err)
		}
	})
	go scheduler.Run(ctx)

	if snapshots != nil {
		go snapshots.Subscribe(ctx, hub.Broadcast)
	}

	go pollGauges(ctx, m, scheduler, hub)

	if history != nil {
		go purgeHistory(ctx, history, cfg.HistoryRetention, appLog.WithComponent("db"))
	}

	checker := health.NewChecker(&health.CheckerConfig{
		Extractor: func(context.Context) error { return proc.Probe() },
		Workspace: func(context.Context) error { return checkWritable(cfg.DownloadDir) },
		Database:  databaseCheck(database),
		Redis:     redisCheck(snapshots),
		Storage:   storageCheck(store),
		Version:   version,
	})

	router := api.NewRouter(&api.RouterConfig{
		Scheduler:   scheduler,
		Extractor:   ytdlp,
		Storage:     store,
		Snapshots:   snapshots,
		History:     history,
		AuthService: authService,
		WS:          websocket.NewHandler(hub, authService, appLog.WithComponent("websocket")),
		Health:      health.NewHandler(checker),
		Metrics:     m,
		Logger:      appLog.WithComponent("api"),
	})

	handler := middleware.Chain(router,
		middleware.RequestID,
		middleware.Recoverer(appLog),
		middleware.Logging(appLog),
		metrics.Middleware(m),
		middleware.CORS([]string{"*"}),
	)

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLog.Info(ctx, "server starting", map[string]interface{}{
			"addr":           cfg.ServerAddr,
			"max_concurrent": cfg.MaxConcurrent,
			"queue_capacity": cfg.QueueCapacity,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	appLog.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error(shutdownCtx, "server shutdown failed", err)
	}
}

// pollGauges refreshes queue and connection gauges once a second.
func pollGauges(ctx context.Context, m *metrics.Metrics, scheduler *queue.Scheduler, hub *websocket.Hub) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sum := scheduler.Snapshot()
			m.SetQueueDepth(int64(sum.Pending), int64(sum.Running))
			m.SetWSConnections(int64(hub.TotalClients()))
		}
	}
}

// purgeHistory sweeps terminal job records past the retention window. One
// pass runs at startup so short-lived deployments still get retention.
func purgeHistory(ctx context.Context, history *db.JobRepository, retention time.Duration, log *logger.Logger) {
	sweep := func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := history.PurgeOlderThan(sweepCtx, time.Now().Add(-retention))
		if err != nil {
			log.Error(sweepCtx, "history retention sweep failed", err)
			return
		}
		if n > 0 {
			log.Info(sweepCtx, "purged expired job history", map[string]interface{}{"rows": n})
		}
	}

	sweep()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".healthcheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func databaseCheck(database *db.DB) health.CheckFunc {
	if database == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return database.PingContext(ctx)
	}
}

func redisCheck(snapshots *cache.Cache) health.CheckFunc {
	if snapshots == nil {
		return nil
	}
	return snapshots.Ping
}

func storageCheck(store *storage.Client) health.CheckFunc {
	if store == nil {
		return nil
	}
	return store.Ping
}
