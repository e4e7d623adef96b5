package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "study-hub", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Store.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, 100.0, cfg.Gamification.CurveBase)
	assert.Equal(t, 1.15, cfg.Gamification.CurveGrowth)
	assert.Equal(t, 50, cfg.Gamification.MaxLevel)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.TracingEnabled)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APP_ENV":                   "production",
		"APP_TIMEZONE":              "Europe/Berlin",
		"HTTP_PORT":                 "9000",
		"HTTP_CORS_ORIGINS":         "https://a.example,https://b.example",
		"STORE_DRIVER":              "postgres",
		"STORE_MAX_ATTEMPTS":        "8",
		"DB_URL":                    "postgres://u:p@db:5432/study?sslmode=disable",
		"DB_MAX_CONNS":              "40",
		"REDIS_DISABLED":            "true",
		"GAMIFICATION_CURVE_GROWTH": "1.2",
		"LOG_LEVEL":                 "debug",
		"TRACING_ENABLED":           "true",
	})
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "Europe/Berlin", cfg.App.Location.String())
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, 8, cfg.Store.MaxAttempts)
	assert.EqualValues(t, 40, cfg.Database.MaxConns)
	assert.True(t, cfg.Redis.Disabled)
	assert.Equal(t, 1.2, cfg.Gamification.Curve().Growth)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.TracingEnabled)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	_, err := LoadFrom(map[string]string{
		"APP_ENV":                "qa",
		"APP_TIMEZONE":           "Mars/Olympus",
		"HTTP_PORT":              "0",
		"STORE_DRIVER":           "postgres",
		"STORE_MAX_ATTEMPTS":     "0",
		"GAMIFICATION_MAX_LEVEL": "1",
		"TRACING_SAMPLE_RATIO":   "2",
	})
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"APP_ENV", "APP_TIMEZONE", "HTTP_PORT", "DB_URL", "STORE_MAX_ATTEMPTS", "GAMIFICATION", "TRACING_SAMPLE_RATIO"} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_MemoryStoreNotAllowedInProduction(t *testing.T) {
	_, err := LoadFrom(map[string]string{"APP_ENV": "production"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER=memory")
}

func TestLoadFrom_BadValue(t *testing.T) {
	_, err := LoadFrom(map[string]string{"HTTP_PORT": "eighty"})
	assert.Error(t, err)
}
