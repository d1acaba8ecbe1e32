package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/auth_backend/internal/config"
	"github.com/Skotchmaster/auth_backend/internal/events"
	"github.com/Skotchmaster/auth_backend/internal/logging"
	"github.com/Skotchmaster/auth_backend/internal/middleware/ratelimit"
	"github.com/Skotchmaster/auth_backend/internal/repo"
	"github.com/Skotchmaster/auth_backend/internal/search"
	"github.com/Skotchmaster/auth_backend/internal/service"
	"github.com/Skotchmaster/auth_backend/internal/telemetry"
	httpserver "github.com/Skotchmaster/auth_backend/internal/transport/http"
	"github.com/Skotchmaster/auth_backend/pkg/db"
	"github.com/Skotchmaster/auth_backend/pkg/tokens"
)

func main() {
	startedAt := time.Now()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracer, err := telemetry.Init(initCtx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("telemetry init error: %v", err)
	}

	gdb, err := db.Open(initCtx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := repo.Migrate(gdb); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	issuer := tokens.NewIssuer(cfg.JWTSecret, cfg.RefreshSecret)
	authSvc := service.NewAuthService(repo.New(gdb), issuer, cfg.BcryptCost)

	var producer *events.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewProducer(cfg.KafkaBrokers)
		authSvc.Events = producer
		logger.Info("kafka producer enabled", "brokers", cfg.KafkaBrokers)
	}

	var directory *search.Directory
	if cfg.ESURL != "" {
		esClient, err := search.NewClient(cfg.ESURL, cfg.ESUser, cfg.ESPassword)
		if err != nil {
			logger.Warn("elasticsearch unavailable, user search disabled", "error", err)
		} else {
			directory = search.NewDirectory(esClient, cfg.ESIndex)
			authSvc.Index = directory
		}
	}

	var limiter ratelimit.Store
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		limiter = ratelimit.NewRedisStore(rdb, cfg.RateLimitMax, cfg.RateLimitWindow)
		logger.Info("rate limiting backed by redis")
	} else {
		mem := ratelimit.NewMemoryStore(cfg.RateLimitMax, cfg.RateLimitWindow)
		mem.StartCleanup(time.Minute)
		defer mem.Stop()
		limiter = mem
	}

	e, err := httpserver.New(&httpserver.Deps{
		DB:             gdb,
		Logger:         logger,
		Auth:           authSvc,
		Directory:      directory,
		RateLimiter:    limiter,
		CORSOrigins:    cfg.CORSOrigins,
		TrustProxy:     cfg.TrustProxy,
		ExternalAPIURL: cfg.ExternalAPIURL,
		StartedAt:      startedAt,
	})
	if err != nil {
		log.Fatalf("router init error: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", "signal", sig.String())

	go func() {
		<-quit
		log.Println("force exit")
		os.Exit(1)
	}()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if err := db.Close(gdb); err != nil {
		logger.Error("db close error", "error", err)
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka close error", "error", err)
		}
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	if err := shutdownTracer(ctx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
