package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, int64(1), cfg.WarehouseID)
	require.Equal(t, "@every 10s", cfg.SweepSpec)
	require.Equal(t, 100, cfg.SweepLimit)
	require.Equal(t, 30*time.Second, cfg.SweepLockTTL)
	require.Zero(t, cfg.DefaultLeadTime)
	require.False(t, cfg.IsProduction())

	eps, err := cfg.Epsilon()
	require.NoError(t, err)
	require.Equal(t, "0.01", eps.String())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PRODUCTION_WAREHOUSE_ID", "4")
	t.Setenv("PRODUCTION_DEFAULT_LEAD_TIME", "45m")
	t.Setenv("RECONCILE_EPSILON", "0.0001")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, int64(4), cfg.WarehouseID)
	require.Equal(t, 45*time.Minute, cfg.DefaultLeadTime)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PRODUCTION_WAREHOUSE_ID":      "0",
		"PRODUCTION_SWEEP_LIMIT":       "-1",
		"PRODUCTION_DEFAULT_LEAD_TIME": "-5m",
		"RECONCILE_EPSILON":            "tiny",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
