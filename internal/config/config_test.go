package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "tariff.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.InDelta(t, 2.0, cfg.Anthropic.RequestsPerSecond, 0.001)
	assert.Equal(t, 4, cfg.Anthropic.Burst)
	assert.Equal(t, 30, cfg.Engine.RequestTimeoutSecs)
	assert.Equal(t, 30*time.Second, cfg.Engine.RequestTimeout())
	assert.InDelta(t, 62.5, cfg.Engine.DefaultRVCThreshold, 0.001)
	assert.InDelta(t, 15, cfg.Engine.AssemblyCreditCap, 0.001)
	assert.InDelta(t, 5, cfg.Engine.NearQualifiedBand, 0.001)
	assert.InDelta(t, 0.5, cfg.Engine.ValueSumTolerance, 0.001)
	assert.InDelta(t, 0.1, cfg.Classify.MinConfidence, 0.001)
	assert.InDelta(t, 0.95, cfg.Classify.MaxConfidence, 0.001)
	assert.InDelta(t, 0.30, cfg.Classify.BoostMultiTerm, 0.001)
	assert.InDelta(t, 0.10, cfg.Classify.AgreementBonus, 0.001)
	assert.Equal(t, 90, cfg.Policy.FreshnessDays)
	assert.Equal(t, 3600, cfg.Monitoring.CheckIntervalSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/tariff
log:
  level: debug
  format: console
engine:
  assembly_credit_cap: 10
  rvc_thresholds:
    automotive: 70
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tariff", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.InDelta(t, 10, cfg.Engine.AssemblyCreditCap, 0.001)
	assert.InDelta(t, 70, cfg.Engine.ThresholdFor("automotive"), 0.001)
}

func TestThresholdFor(t *testing.T) {
	e := EngineConfig{
		RVCThresholds:       map[string]float64{"electronics": 75},
		DefaultRVCThreshold: 62.5,
	}

	assert.InDelta(t, 75, e.ThresholdFor("electronics"), 0.001)
	assert.InDelta(t, 75, e.ThresholdFor(" Electronics "), 0.001)
	assert.InDelta(t, 62.5, e.ThresholdFor("furniture"), 0.001)
	assert.InDelta(t, 62.5, e.ThresholdFor(""), 0.001)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}
