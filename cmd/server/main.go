package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hemantsathish/conversation-insights-backend/internal/analysiscache"
	"github.com/hemantsathish/conversation-insights-backend/internal/breaker"
	"github.com/hemantsathish/conversation-insights-backend/internal/config"
	"github.com/hemantsathish/conversation-insights-backend/internal/events"
	"github.com/hemantsathish/conversation-insights-backend/internal/httpapi"
	"github.com/hemantsathish/conversation-insights-backend/internal/llmclient"
	"github.com/hemantsathish/conversation-insights-backend/internal/metrics"
	"github.com/hemantsathish/conversation-insights-backend/internal/pace"
	"github.com/hemantsathish/conversation-insights-backend/internal/queue"
	"github.com/hemantsathish/conversation-insights-backend/internal/ratelimit"
	"github.com/hemantsathish/conversation-insights-backend/internal/store"
	"github.com/hemantsathish/conversation-insights-backend/internal/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := runMigrations(db, cfg.MigrationsPath, logger); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	st, err := store.New(db)
	if err != nil {
		logger.Fatalf("failed to prepare store: %v", err)
	}
	defer st.Close()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("failed to parse redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	cache := analysiscache.New(st, redisClient, logger)

	eventsPub := events.New(cfg.Kafka.Brokers, logger)
	defer eventsPub.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	q := queue.New(cfg.MaxQueueDepth)

	cb := breaker.New(cfg.Grok.CircuitBreakerFailures, cfg.Grok.CircuitBreakerCooldown)
	llm := llmclient.New(llmclient.Config{
		APIKey:         cfg.Grok.APIKey,
		BaseURL:        cfg.Grok.BaseURL,
		Model:          cfg.Grok.Model,
		TimeoutSeconds: cfg.Grok.TimeoutSeconds,
		MaxRetries:     cfg.Grok.MaxRetries,
	}, cb, logger)

	pacer := pace.New(cfg.BatchMinSize, cfg.BatchMaxSize, cfg.Grok.RPM)

	w := worker.New(st, cache, llm, pacer, q, m, logger, worker.Config{
		PreFilterMinMessages:   cfg.PreFilterMinMessages,
		PreFilterMinTotalChars: cfg.PreFilterMinTotalChars,
		PollInterval:           cfg.WorkerPollInterval,
	})
	w.SetEvents(eventsPub)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	go w.Run(workerCtx)

	go reportQueueDepth(workerCtx, q, m, 5*time.Second)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(requestLatencyMiddleware(m))
	router.Use(ratelimit.New(cfg.RateLimitRPM).Middleware())

	api := httpapi.New(st, q, m, eventsPub, reg, cfg.BulkMaxConversations, logger)
	api.Register(router)

	httpServer := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Infof("starting HTTP server on port %d", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	logger.Info("stopped")
}

// runMigrations applies every pending db/migrations/*.sql file to db. A
// database already at the latest version is a no-op, not an error.
func runMigrations(db *sql.DB, migrationsPath string, logger *logrus.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

// requestLatencyMiddleware records every request's latency against the
// shared metrics registry, labeled by method and path.
func requestLatencyMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RequestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(time.Since(start).Seconds())
	}
}

// reportQueueDepth polls the queue depth into the gauge on a fixed
// interval until ctx is cancelled.
func reportQueueDepth(ctx context.Context, q *queue.Queue, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateQueueDepth(q.Depth())
		}
	}
}
