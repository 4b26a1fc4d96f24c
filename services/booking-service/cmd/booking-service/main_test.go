package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/availability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, "9093", cfg.GRPCPort)
	assert.Equal(t, availability.ScanFixed, cfg.ScanMode)
	assert.Equal(t, 1, cfg.DailyAtMinute)
	assert.Equal(t, 5*time.Minute, cfg.SweepEvery)
	assert.Equal(t, 30*time.Second, cfg.DailyPoll)
	assert.Equal(t, time.UTC, cfg.EngineLocation)
	assert.Error(t, cfg.requireDatabase())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SLOT_SCAN_MODE", "jump")
	t.Setenv("SWEEP_DAILY_AT", "03:30")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DATABASE_URL", "postgres://localhost/booking")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, availability.ScanJump, cfg.ScanMode)
	assert.Equal(t, 3*60+30, cfg.DailyAtMinute)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.NoError(t, cfg.requireDatabase())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	for key, value := range map[string]string{
		"SLOT_SCAN_MODE":  "diagonal",
		"SWEEP_DAILY_AT":  "noon",
		"ENGINE_TIMEZONE": "Mars/Olympus",
		"PORT":            "0",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := loadConfig()
			assert.Error(t, err)
		})
	}
}

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "sweep", "healthcheck"}, names)
}
