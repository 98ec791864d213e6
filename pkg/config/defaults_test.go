package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Global.PacksDir != "./packs" {
		t.Errorf("Expected packs_dir ./packs, got %s", cfg.Global.PacksDir)
	}
	if cfg.Global.ProfileLevel != 1 {
		t.Errorf("Expected profile_level 1, got %d", cfg.Global.ProfileLevel)
	}
	if cfg.Scan.FailOn != "low" {
		t.Errorf("Expected fail_on low, got %s", cfg.Scan.FailOn)
	}
	if cfg.Scan.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %s", cfg.Scan.Timeout)
	}
	if len(cfg.Report.Frameworks) != 2 || cfg.Report.Frameworks[0] != "soc2" {
		t.Errorf("Unexpected default frameworks: %v", cfg.Report.Frameworks)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config must validate: %v", err)
	}
}

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()

	if th.MaxAgeDays != 90 {
		t.Errorf("Expected MaxAgeDays 90, got %d", th.MaxAgeDays)
	}
	if th.Window != 5*time.Minute {
		t.Errorf("Expected 5m window, got %s", th.Window)
	}
	if th.StaleAfter != 15*time.Minute {
		t.Errorf("Expected 15m stale_after, got %s", th.StaleAfter)
	}
}

func TestScopesFor(t *testing.T) {
	th := DefaultThresholds()
	fallback := []string{"hosts:write"}

	assert.Equal(t, fallback, th.ScopesFor("crowdstrike", fallback))

	th.DangerousScopes["crowdstrike"] = []string{"custom:write"}
	assert.Equal(t, []string{"custom:write"}, th.ScopesFor("crowdstrike", fallback))
}

func TestDecodeYAML(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	err := v.ReadConfig(strings.NewReader(`
global:
  profile_level: 2
  output: sarif
thresholds:
  max_age_days: 30
  window: 10m
rules:
  - id: no-expiry
    vendor: databricks
    condition: record.attributes.expiry_time == 0
    reason: token never expires
vendors:
  github:
    org: acme
`))
	require.NoError(t, err)

	cfg, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Global.ProfileLevel)
	assert.Equal(t, "sarif", cfg.Global.Output)
	assert.Equal(t, "./packs", cfg.Global.PacksDir)
	assert.Equal(t, 30, cfg.Thresholds.MaxAgeDays)
	assert.Equal(t, 10*time.Minute, cfg.Thresholds.Window)
	assert.Equal(t, 1000, cfg.Thresholds.MaxCount)
	assert.Equal(t, "acme", cfg.Vendor("github").Org)
	require.Len(t, cfg.Rules, 1)
	assert.True(t, cfg.Rules[0].Applies("databricks", "tokens"))
	assert.False(t, cfg.Rules[0].Applies("github", "tokens"))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"profile too high", func(c *Config) { c.Global.ProfileLevel = 4 }},
		{"unknown output", func(c *Config) { c.Global.Output = "xml" }},
		{"unknown fail_on", func(c *Config) { c.Scan.FailOn = "info" }},
		{"negative age", func(c *Config) { c.Thresholds.MaxAgeDays = -1 }},
		{"rule without id", func(c *Config) { c.Rules = []RuleConfig{{Condition: "true"}} }},
		{"sigma rule without path", func(c *Config) { c.Rules = []RuleConfig{{ID: "x", Engine: "sigma"}} }},
		{"unknown engine", func(c *Config) { c.Rules = []RuleConfig{{ID: "x", Engine: "rego"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestWriteStarter(t *testing.T) {
	dir, err := os.MkdirTemp("", "hth-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, ".hth.yaml")
	require.NoError(t, WriteStarter(path, "github", false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	err = WriteStarter(path, "github", false)
	assert.ErrorIs(t, err, ErrConfigExists)
	assert.NoError(t, WriteStarter(path, "okta", true))

	// The starter must decode cleanly.
	v := viper.New()
	Prepare(v, path)
	require.NoError(t, Read(v, path))
	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Thresholds.MaxAgeDays)
}

func TestReadMissingImplicitFile(t *testing.T) {
	v := viper.New()
	v.SetConfigName(".hth-does-not-exist")
	v.AddConfigPath(t.TempDir())
	assert.NoError(t, Read(v, ""))
}
