// Package config defines the hth configuration file model and its defaults.
package config

import "time"

// Config is the decoded form of .hth.yaml (or any viper-supported format).
type Config struct {
	Global     GlobalConfig            `mapstructure:"global"`
	Scan       ScanConfig              `mapstructure:"scan"`
	Report     ReportConfig            `mapstructure:"report"`
	Thresholds Thresholds              `mapstructure:"thresholds"`
	Rules      []RuleConfig            `mapstructure:"rules"`
	Notify     NotifyConfig            `mapstructure:"notify"`
	Storage    StorageConfig           `mapstructure:"storage"`
	History    HistoryConfig           `mapstructure:"history"`
	Telemetry  TelemetryConfig         `mapstructure:"telemetry"`
	Cache      CacheConfig             `mapstructure:"cache"`
	Vendors    map[string]VendorConfig `mapstructure:"vendors"`
}

type GlobalConfig struct {
	// PacksDir is the root holding <vendor>/controls/*.yaml.
	PacksDir string `mapstructure:"packs_dir"`
	// ProfileLevel is the default hardening level (1 baseline, 2 hardened, 3 maximum).
	ProfileLevel int    `mapstructure:"profile_level"`
	Output       string `mapstructure:"output"`
}

type ScanConfig struct {
	// FailOn is the lowest severity whose failure makes a scan exit non-zero.
	FailOn string `mapstructure:"fail_on"`
	// Timeout bounds each vendor request.
	Timeout  time.Duration `mapstructure:"timeout"`
	Parallel int           `mapstructure:"parallel"`
}

type ReportConfig struct {
	Frameworks     []string `mapstructure:"frameworks"`
	IncludePassing bool     `mapstructure:"include_passing"`
}

type NotifyConfig struct {
	SlackWebhook string `mapstructure:"slack_webhook"`
	SlackChannel string `mapstructure:"slack_channel"`
}

type StorageConfig struct {
	// ReportsURL is a local directory or an s3://bucket/prefix URL.
	ReportsURL string `mapstructure:"reports_url"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

type TelemetryConfig struct {
	OtelEndpoint string  `mapstructure:"otel_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	// MetricsFile, when set, receives a Prometheus textfile after each run.
	MetricsFile string `mapstructure:"metrics_file"`
}

type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// VendorConfig holds connection overrides for one vendor. Credentials always
// come from the environment; TokenEnv renames the variable that is read.
type VendorConfig struct {
	BaseURL  string            `mapstructure:"base_url"`
	Org      string            `mapstructure:"org"`
	Domain   string            `mapstructure:"domain"`
	TokenEnv string            `mapstructure:"token_env"`
	Params   map[string]string `mapstructure:"params"`
}

// Defaults.
const (
	DefaultPacksDir     = "./packs"
	DefaultProfileLevel = 1
	DefaultOutput       = "table"
	DefaultFailOn       = "low"
	DefaultTimeout      = 30 * time.Second
	DefaultParallel     = 4
	DefaultHistoryPath  = ".hth/history.jsonl"
	DefaultCacheTTL     = 10 * time.Minute
)

// DefaultFrameworks are reported when none are configured.
var DefaultFrameworks = []string{"soc2", "nist-800-53"}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{
		Global: GlobalConfig{
			PacksDir:     DefaultPacksDir,
			ProfileLevel: DefaultProfileLevel,
			Output:       DefaultOutput,
		},
		Scan: ScanConfig{
			FailOn:   DefaultFailOn,
			Timeout:  DefaultTimeout,
			Parallel: DefaultParallel,
		},
		Report: ReportConfig{
			Frameworks: append([]string(nil), DefaultFrameworks...),
		},
		Thresholds: DefaultThresholds(),
		History:    HistoryConfig{Path: DefaultHistoryPath},
		Telemetry:  TelemetryConfig{SampleRatio: 1},
		Cache:      CacheConfig{TTL: DefaultCacheTTL},
		Vendors:    map[string]VendorConfig{},
	}
}

// Vendor returns the overrides for slug, or the zero value.
func (c Config) Vendor(slug string) VendorConfig {
	if c.Vendors == nil {
		return VendorConfig{}
	}
	return c.Vendors[slug]
}
