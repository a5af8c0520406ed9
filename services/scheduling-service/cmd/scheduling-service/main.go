package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/slotline/slotline/libs/config"
	"github.com/slotline/slotline/libs/db"
	"github.com/slotline/slotline/libs/httpx"
	"github.com/slotline/slotline/libs/kafkax"
	otelx "github.com/slotline/slotline/libs/otel"
	"github.com/slotline/slotline/libs/runtime"
	"github.com/slotline/slotline/services/scheduling-service/internal/cache"
	"github.com/slotline/slotline/services/scheduling-service/internal/handlers"
	"github.com/slotline/slotline/services/scheduling-service/internal/outbox"
	"github.com/slotline/slotline/services/scheduling-service/internal/scheduling"
	"github.com/slotline/slotline/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	slotDuration, err := config.Minutes("SLOT_DURATION_MINUTES", 15)
	if err != nil {
		panic(err)
	}
	leadTime, err := config.Hours("RESERVE_LEAD_TIME_HOURS", 24)
	if err != nil {
		panic(err)
	}
	expiryDelay, err := config.Minutes("UNCONFIRMED_EXPIRY_MINUTES", 30)
	if err != nil {
		panic(err)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var rdb *redis.Client
	var listings scheduling.ListingCache
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		ttlSeconds, err := config.Int("SLOT_CACHE_TTL_SECONDS", 30)
		if err != nil {
			panic(err)
		}
		listings = cache.New(rdb, time.Duration(ttlSeconds)*time.Second, logger)
	}

	outboxRepo := outbox.NewRepository(pool)
	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	repo := storage.NewAppointmentRepository(pool, outboxRepo)
	svc := scheduling.NewService(repo, listings, logger, scheduling.Config{
		SlotDuration: slotDuration,
		LeadTime:     leadTime,
		ExpiryDelay:  expiryDelay,
	})
	defer svc.Close()

	// Reservations pending at the last shutdown get their timers back;
	// overdue ones expire right away.
	if err := svc.Rehydrate(ctx); err != nil {
		logger.Error("expiry rehydration failed", "err", err)
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
	}

	mux := runtime.NewBaseMux(checks...)
	handlers.NewAppointmentHandler(svc, logger).Register(mux)

	middleware := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
	}
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, 120, time.Minute, "scheduling")
		middleware = append(middleware, limiter.Middleware(logger, true))
	} else {
		middleware = append(middleware, httpx.NewRateLimiter(120, time.Minute).Middleware())
	}

	httpHandler := httpx.Chain(mux, middleware...)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
