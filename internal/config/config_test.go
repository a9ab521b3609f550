package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("AICHECK_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 10*time.Second, cfg.DeferDelay)
	require.Equal(t, 3, cfg.MaxDeferrals)
	require.Equal(t, "mdl_", cfg.HostTablePrefix)
	require.Equal(t, 2022112800, cfg.HostRelease)
	require.Equal(t, "aicheck:jobs:v1:grading", cfg.QueueStream)
	require.Equal(t, 15*time.Minute, cfg.ProcessingTimeout)
	require.Equal(t, time.Hour, cfg.PendingTimeout)
	require.Equal(t, 20*time.Minute, cfg.QueueClaimIdle)
	require.Empty(t, cfg.QueueConsumer)
	require.Equal(t, "openai", cfg.AIProvider)
	require.Equal(t, ":9091", cfg.WorkerMetricsAddress())
	require.Equal(t, "*", cfg.CORSOrigins)
	require.Equal(t, 90*24*time.Hour, cfg.ActivityRetention)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("AICHECK_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("AICHECK_JWT_SECRET", "secret")
	t.Setenv("AICHECK_QUEUE_DEFER_DELAY", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestHTTPAddressKeepsColonPrefix(t *testing.T) {
	cfg := Config{AppPort: ":9090"}
	require.Equal(t, ":9090", cfg.HTTPAddress())
}
