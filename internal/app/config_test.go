package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("FEATURE_FLAGS", "sla:false,audit:true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, SLAModeInline, cfg.SLAEngineMode)
	assert.Equal(t, 15*time.Minute, cfg.SLAAuditInterval)
	assert.Equal(t, time.Hour, cfg.RBACPermissionTTL)
	assert.Equal(t, 8*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "iers", cfg.CacheKeyPrefix)
	assert.Equal(t, int32(10), cfg.PGMaxConns)
	assert.Equal(t, map[string]bool{"sla": false, "audit": true}, cfg.FeatureFlags)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownSLAMode(t *testing.T) {
	t.Setenv("SLA_ENGINE_MODE", "hourly")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "SLA_ENGINE_MODE")
}

func TestConfigValidateSLAMode(t *testing.T) {
	base := Config{SessionTTL: time.Hour, SLAAuditInterval: time.Minute, SLAAuditCron: "@every 1m"}

	for _, mode := range []string{SLAModeInline, SLAModeWorker, SLAModeOff} {
		cfg := base
		cfg.SLAEngineMode = mode
		assert.NoError(t, cfg.Validate(), mode)
	}

	cfg := base
	cfg.SLAEngineMode = "cron"
	assert.ErrorContains(t, cfg.Validate(), "SLA_ENGINE_MODE")

	cfg = base
	cfg.SLAEngineMode = SLAModeInline
	cfg.SLAAuditInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = base
	cfg.SLAEngineMode = SLAModeWorker
	cfg.SLAAuditCron = ""
	assert.Error(t, cfg.Validate())
}
