package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. HTH_GLOBAL_PROFILE_LEVEL=2.
const EnvPrefix = "HTH"

// FileName is the config base name searched for when no explicit path is given.
const FileName = ".hth"

var validOutputs = map[string]bool{"table": true, "json": true, "sarif": true, "csv": true}

var validSeverities = map[string]bool{"critical": true, "high": true, "medium": true, "low": true}

// SetDefaults registers every default on v so environment variables can
// override keys that never appear in a file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("global.packs_dir", d.Global.PacksDir)
	v.SetDefault("global.profile_level", d.Global.ProfileLevel)
	v.SetDefault("global.output", d.Global.Output)
	v.SetDefault("scan.fail_on", d.Scan.FailOn)
	v.SetDefault("scan.timeout", d.Scan.Timeout)
	v.SetDefault("scan.parallel", d.Scan.Parallel)
	v.SetDefault("report.frameworks", d.Report.Frameworks)
	v.SetDefault("report.include_passing", false)
	v.SetDefault("thresholds.max_age_days", d.Thresholds.MaxAgeDays)
	v.SetDefault("thresholds.max_count", d.Thresholds.MaxCount)
	v.SetDefault("thresholds.window", d.Thresholds.Window)
	v.SetDefault("thresholds.stale_after", d.Thresholds.StaleAfter)
	v.SetDefault("thresholds.auth_failure_count", d.Thresholds.AuthFailureCount)
	v.SetDefault("thresholds.mass_read_count", d.Thresholds.MassReadCount)
	v.SetDefault("thresholds.min_rate_limit_percent", d.Thresholds.MinRateLimitPercent)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("notify.slack_webhook", "")
	v.SetDefault("notify.slack_channel", "")
	v.SetDefault("storage.reports_url", "")
	v.SetDefault("telemetry.otel_endpoint", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.metrics_file", "")
	v.SetDefault("cache.redis_addr", "")
}

// Prepare points v at the config file and the environment. An explicit path
// wins; otherwise .hth.* is searched in the working directory and
// $HOME/.config/hth.
func Prepare(v *viper.Viper, explicit string) {
	SetDefaults(v)
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "hth"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Read loads the file v was prepared with. A missing file is not an error
// unless it was named explicitly.
func Read(v *viper.Viper, explicit string) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if explicit == "" && errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("read config: %w", err)
}

// Decode unmarshals v into a validated Config.
func Decode(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Vendors == nil {
		cfg.Vendors = map[string]VendorConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the CLI cannot act on.
func (c Config) Validate() error {
	if c.Global.ProfileLevel < 1 || c.Global.ProfileLevel > 3 {
		return fmt.Errorf("config: profile_level must be 1, 2 or 3 (got %d)", c.Global.ProfileLevel)
	}
	if !validOutputs[c.Global.Output] {
		return fmt.Errorf("config: unknown output format %q", c.Global.Output)
	}
	if !validSeverities[c.Scan.FailOn] {
		return fmt.Errorf("config: unknown fail_on severity %q", c.Scan.FailOn)
	}
	if c.Thresholds.MaxAgeDays < 0 || c.Thresholds.MaxCount < 0 {
		return errors.New("config: thresholds must not be negative")
	}
	for _, r := range c.Rules {
		if r.ID == "" {
			return errors.New("config: every rule needs an id")
		}
		switch r.Engine {
		case "", "cel":
			if r.Condition == "" {
				return fmt.Errorf("config: rule %s has no condition", r.ID)
			}
		case "sigma":
			if r.Path == "" {
				return fmt.Errorf("config: sigma rule %s has no path", r.ID)
			}
		default:
			return fmt.Errorf("config: rule %s has unknown engine %q", r.ID, r.Engine)
		}
	}
	return nil
}
