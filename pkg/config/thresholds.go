package config

import "time"

// Thresholds parameterize the built-in audit predicates and aggregators.
type Thresholds struct {
	// MaxAgeDays is the oldest a credential may be before it is flagged.
	MaxAgeDays int `mapstructure:"max_age_days"`
	// MaxCount is the per-group event volume allowed inside Window.
	MaxCount int `mapstructure:"max_count"`
	// Window bounds the events counted by volume aggregators. Zero counts everything fetched.
	Window time.Duration `mapstructure:"window"`
	// StaleAfter is how long a host may go unseen.
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// AuthFailureCount is the failed-authentication volume allowed per source.
	AuthFailureCount int `mapstructure:"auth_failure_count"`
	// MassReadCount is the secret-read volume allowed per accessor.
	MassReadCount int `mapstructure:"mass_read_count"`
	// DangerousScopes overrides the built-in scope lists, keyed by vendor slug.
	DangerousScopes map[string][]string `mapstructure:"dangerous_scopes"`
	// MinRateLimitPercent is the lowest remaining API quota tolerated.
	MinRateLimitPercent float64 `mapstructure:"min_rate_limit_percent"`
}

// DefaultThresholds returns thresholds matching the published hardening guides.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxAgeDays:          90,
		MaxCount:            1000,
		Window:              5 * time.Minute,
		StaleAfter:          15 * time.Minute,
		AuthFailureCount:    10,
		MassReadCount:       100,
		DangerousScopes:     map[string][]string{},
		MinRateLimitPercent: 10,
	}
}

// ScopesFor returns the configured dangerous scopes for vendor, or fallback.
func (t Thresholds) ScopesFor(vendor string, fallback []string) []string {
	if s, ok := t.DangerousScopes[vendor]; ok && len(s) > 0 {
		return s
	}
	return fallback
}

// RuleConfig declares a custom predicate evaluated alongside the built-ins.
type RuleConfig struct {
	ID     string `mapstructure:"id"`
	Vendor string `mapstructure:"vendor"`
	Kind   string `mapstructure:"kind"`
	// Engine is "cel" (default) or "sigma".
	Engine string `mapstructure:"engine"`
	// Condition is a CEL expression over `record`.
	Condition string `mapstructure:"condition"`
	// Reason is the issue text reported next to the record subject.
	Reason string `mapstructure:"reason"`
	// Path points to a Sigma rule file or directory when Engine is "sigma".
	Path string `mapstructure:"path"`
}

// Applies reports whether the rule targets vendor/kind. Empty fields match anything.
func (r RuleConfig) Applies(vendor, kind string) bool {
	return (r.Vendor == "" || r.Vendor == vendor) && (r.Kind == "" || r.Kind == kind)
}
