package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsForMemoryDriver(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "Europe/London", cfg.Location.String())
	assert.Equal(t, "dev-insecure-secret", cfg.JWTSecret)
	assert.False(t, cfg.ReuseCancelledRows)
	assert.Equal(t, 30*time.Second, cfg.AvailabilityCacheTTL)
	assert.True(t, cfg.IsDev())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/gp")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOCK_TTL", "3")
	t.Setenv("SESSION_TTL", "90m")
	t.Setenv("BOOKING_REUSE_CANCELLED", "true")
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("REDIS_URL", "redis://bob:pw@cache:6380")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 3*time.Second, cfg.LockTTL)
	assert.Equal(t, 90*time.Minute, cfg.SessionTTL)
	assert.True(t, cfg.ReuseCancelledRows)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "bob", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing dsn":       {"STORE_DRIVER": "postgres", "POSTGRES_DSN": ""},
		"unknown driver":    {"STORE_DRIVER": "sqlite"},
		"bad timezone":      {"STORE_DRIVER": "memory", "APP_TIMEZONE": "Mars/Olympus"},
		"prod needs jwt":    {"STORE_DRIVER": "memory", "APP_ENV": "prod", "JWT_SECRET": ""},
		"redis url no host": {"STORE_DRIVER": "memory", "REDIS_URL": "redis://"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("APP_ENV", "dev")
			t.Setenv("APP_TIMEZONE", "")
			t.Setenv("REDIS_URL", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetDurationFallsBack(t *testing.T) {
	t.Setenv("SOME_TIMEOUT", "soon")
	assert.Equal(t, time.Minute, getDuration("SOME_TIMEOUT", time.Minute))
}
