package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/apptengine/libs/db"
	"github.com/md-rashed-zaman/apptengine/libs/grpcx"
	"github.com/md-rashed-zaman/apptengine/libs/httpx"
	"github.com/md-rashed-zaman/apptengine/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptengine/libs/otel"
	"github.com/md-rashed-zaman/apptengine/libs/runtime"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/sweep"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/migrations"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health service, sweep triggers and outbox publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// engine is the wired scheduling core shared by serve and sweep.
type engine struct {
	pool     *db.Pool
	calendar *storage.CalendarRepository
	bookings *storage.BookingRepository
	manager  *booking.Manager
}

func openEngine(ctx context.Context, cfg serviceConfig, logger *slog.Logger) (*engine, error) {
	if err := cfg.requireDatabase(); err != nil {
		return nil, err
	}
	if cfg.TokenSecret == "" {
		if cfg.production() {
			return nil, errors.New("CANCEL_TOKEN_SECRET is required in production")
		}
		logger.Warn("CANCEL_TOKEN_SECRET not set; cancellation token digests are unkeyed")
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.DB)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool, migrations.FS, ".", logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	calendar := storage.NewCalendarRepository(pool)
	bookings := storage.NewBookingRepository(pool, outbox.NewRepository())
	manager := booking.NewManager(calendar, bookings, logger, booking.Config{
		TokenSecret: []byte(cfg.TokenSecret),
	})
	return &engine{pool: pool, calendar: calendar, bookings: bookings, manager: manager}, nil
}

func serve(parent context.Context, cfg serviceConfig) error {
	logger := runtime.NewLogger(cfg.Service, cfg.Env)

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error("engine init failed", "err", err)
		return err
	}
	defer eng.pool.Close()

	var primary *storage.PrimaryProviderCache
	if cfg.DefaultProviderID == "" {
		primary = storage.NewPrimaryProviderCache(eng.calendar, cfg.PrimaryProviderTTL)
	}
	generator := availability.NewGenerator(eng.calendar, eng.bookings, cfg.ScanMode)
	bookingHandler := handlers.NewBookingHandler(eng.manager, generator, logger, handlers.Options{
		DefaultProviderID: cfg.DefaultProviderID,
		Primary:           primary,
	})

	var rdb *redis.Client
	rateLimit := httpx.NewRateLimiter(cfg.RateLimit, cfg.RateWindow).Middleware()
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		rateLimit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateWindow, cfg.Service).Middleware(logger, true)
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(eng.pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	bookingHandler.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: cfg.CORSOrigins}),
		httpx.Only("/api/v1/public/", rateLimit),
		httpx.WithBodyLimit(64<<10),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	task := sweep.Serialize(func(ctx context.Context, now time.Time) error {
		_, err := eng.manager.AutoCompleteSweep(ctx, now)
		return err
	})
	interval := sweep.NewIntervalTrigger(task, logger, sweep.IntervalConfig{Name: "interval", Every: cfg.SweepEvery})
	daily := sweep.NewDailyTrigger(task, logger, sweep.DailyConfig{
		Name:     "daily",
		Poll:     cfg.DailyPoll,
		Hour:     cfg.DailyAtMinute / 60,
		Minute:   cfg.DailyAtMinute % 60,
		Location: cfg.EngineLocation,
	})
	publisher := outbox.NewPublisher(eng.pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
		Brokers: cfg.KafkaBrokers,
	})
	health := grpcx.NewHealthServer(logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { interval.Run(gctx); return nil })
	g.Go(func() error { daily.Run(gctx); return nil })
	g.Go(func() error { publisher.Run(gctx); return nil })
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
		health.SetServing("", true)
		health.SetServing(cfg.Service, true)
		return health.Serve(gctx, lis)
	})
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		health.SetServing(cfg.Service, false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		logger.Info("http server stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("booking-service stopped with error", "err", err)
		return err
	}
	return nil
}
