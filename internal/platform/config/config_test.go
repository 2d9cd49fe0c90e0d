package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "app.event.>", cfg.NATS.Subject)
	assert.Equal(t, "postgres", cfg.Analytics.Store)
	assert.Equal(t, 16, cfg.Analytics.Workers)
	assert.True(t, cfg.Analytics.DedupEvents)
	assert.Equal(t, "retain", cfg.Analytics.DeletePolicy)
	assert.Equal(t, 30*time.Minute, cfg.Database.MaxConnLifetime)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ANALYTICS_STORE", "memory")
	t.Setenv("ANALYTICS_WORKERS", "0")
	t.Setenv("ANALYTICS_DELETE_POLICY", "decrement")
	t.Setenv("ANALYTICS_TIMEZONE", "Europe/Moscow")
	t.Setenv("DB_MIN_CONNS", "50")
	t.Setenv("DB_MAX_CONNS", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Analytics.Store)
	assert.Equal(t, 1, cfg.Analytics.Workers)
	assert.Equal(t, "decrement", cfg.Analytics.DeletePolicy)
	assert.Equal(t, "Europe/Moscow", cfg.Analytics.Location().String())
	assert.Equal(t, 2, cfg.Database.MinConns)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	a := Analytics{Timezone: "Mars/Olympus"}
	assert.Equal(t, time.UTC, a.Location())
}
