package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptengine/libs/config"
	"github.com/md-rashed-zaman/apptengine/libs/db"
	"github.com/md-rashed-zaman/apptengine/libs/httpx"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/availability"
)

type serviceConfig struct {
	Service  string
	Env      string
	Port     string
	GRPCPort string

	DatabaseURL string
	DB          db.Options
	AutoMigrate bool

	KafkaBrokers string
	RedisAddr    string
	RateLimit    int
	RateWindow   time.Duration
	CORSOrigins  []string

	TokenSecret        string
	DefaultProviderID  string
	PrimaryProviderTTL time.Duration
	ScanMode           availability.ScanMode

	SweepEvery     time.Duration
	DailyPoll      time.Duration
	DailyAtMinute  int
	EngineLocation *time.Location
}

func loadConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Service:     config.String("SERVICE_NAME", "booking-service"),
		Env:         config.String("ENV", "development"),
		DatabaseURL: config.String("DATABASE_URL", ""),
		DB: db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
			MinConns: int32(config.Int("DB_MIN_CONNS", 1)),
		},
		AutoMigrate:        config.Bool("AUTO_MIGRATE", false),
		KafkaBrokers:       config.String("KAFKA_BROKERS", ""),
		RedisAddr:          config.String("REDIS_ADDR", ""),
		RateLimit:          config.Int("PUBLIC_RATE_LIMIT", 60),
		RateWindow:         config.Duration("PUBLIC_RATE_WINDOW", time.Minute),
		CORSOrigins:        httpx.SplitList(config.String("CORS_ALLOWED_ORIGINS", "")),
		TokenSecret:        config.String("CANCEL_TOKEN_SECRET", ""),
		DefaultProviderID:  config.String("DEFAULT_PROVIDER_ID", ""),
		PrimaryProviderTTL: config.Duration("PRIMARY_PROVIDER_TTL", 5*time.Minute),
		SweepEvery:         config.Duration("SWEEP_INTERVAL", 5*time.Minute),
		DailyPoll:          config.Duration("SWEEP_DAILY_POLL", 30*time.Second),
	}

	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return cfg, err
	}
	if cfg.ScanMode, err = availability.ParseScanMode(config.String("SLOT_SCAN_MODE", string(availability.ScanFixed))); err != nil {
		return cfg, err
	}
	if cfg.DailyAtMinute, err = availability.ParseClock(config.String("SWEEP_DAILY_AT", "00:01")); err != nil {
		return cfg, fmt.Errorf("SWEEP_DAILY_AT: %w", err)
	}
	tz := config.String("ENGINE_TIMEZONE", "UTC")
	if cfg.EngineLocation, err = time.LoadLocation(tz); err != nil {
		return cfg, fmt.Errorf("ENGINE_TIMEZONE %q: %w", tz, err)
	}
	return cfg, nil
}

func (c serviceConfig) requireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

func (c serviceConfig) production() bool {
	return c.Env == "production"
}
