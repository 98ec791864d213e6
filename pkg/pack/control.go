// Package pack loads and validates vendor hardening packs: one YAML file per
// control under <packs_dir>/<vendor>/controls/.
package pack

import (
	"fmt"
	"strings"
)

// Severity ranks a control. Critical is the most severe.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities, higher is more severe. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// ParseSeverity accepts any casing.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q (want critical, high, medium or low)", s)
	}
	return sev, nil
}

// Control is one hardening control as written in a pack file.
type Control struct {
	ID           string     `yaml:"id" json:"id"`
	Vendor       string     `yaml:"vendor" json:"vendor"`
	Title        string     `yaml:"title" json:"title"`
	Section      string     `yaml:"section" json:"section"`
	ProfileLevel int        `yaml:"profile_level" json:"profile_level"`
	Severity     Severity   `yaml:"severity" json:"severity"`
	GuideURL     string     `yaml:"guide_url,omitempty" json:"guide_url,omitempty"`
	Description  string     `yaml:"description" json:"description"`
	Compliance   Compliance `yaml:"compliance" json:"compliance"`
	Audit        []Check    `yaml:"audit" json:"audit"`
	Remediate    *Remediate `yaml:"remediate,omitempty" json:"remediate,omitempty"`
	Tags         []string   `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// AppliesAt reports whether the control is in scope at level. Levels are
// cumulative: level 2 includes every level 1 control.
func (c Control) AppliesAt(level int) bool {
	return c.ProfileLevel <= level
}

// LevelLabel names the profile level.
func (c Control) LevelLabel() string {
	switch c.ProfileLevel {
	case 1:
		return "L1 (Baseline)"
	case 2:
		return "L2 (Hardened)"
	case 3:
		return "L3 (Maximum)"
	}
	return "Unknown"
}

// HasTag matches case-insensitively.
func (c Control) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Compliance maps a control onto framework control identifiers.
type Compliance struct {
	SOC2      []string `yaml:"soc2,omitempty" json:"soc2,omitempty"`
	NIST80053 []string `yaml:"nist_800_53,omitempty" json:"nist_800_53,omitempty"`
	ISO27001  []string `yaml:"iso_27001,omitempty" json:"iso_27001,omitempty"`
	PCIDSS    []string `yaml:"pci_dss,omitempty" json:"pci_dss,omitempty"`
	DISASTIG  []string `yaml:"disa_stig,omitempty" json:"disa_stig,omitempty"`
}

// Check is one read-only audit check.
type Check struct {
	ID          string  `yaml:"id" json:"id"`
	Description string  `yaml:"description" json:"description"`
	API         APICall `yaml:"api" json:"api"`
	// Expected is the boolean the check expression must produce to pass.
	Expected bool `yaml:"expected" json:"expected"`
}

// APICall describes the request behind a check. Check is a CEL expression
// over `response`, the decoded response body. Non-boolean results are
// coerced: null, zero, "" and empty lists or maps are false, unlike jq
// where only null and false are.
type APICall struct {
	Method   string `yaml:"method" json:"method"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Check    string `yaml:"check" json:"check"`
	Body     any    `yaml:"body,omitempty" json:"body,omitempty"`
}

// Remediate lists the fixes for a failing control.
type Remediate struct {
	API       []Step     `yaml:"api,omitempty" json:"api,omitempty"`
	Terraform *Terraform `yaml:"terraform,omitempty" json:"terraform,omitempty"`
	// Note is advice for process controls that cannot be automated.
	Note string `yaml:"note,omitempty" json:"note,omitempty"`
}

// Step is one remediation API call.
type Step struct {
	Description string `yaml:"description" json:"description"`
	Method      string `yaml:"method" json:"method"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	Body        any    `yaml:"body,omitempty" json:"body,omitempty"`
	// Condition names an audit check id. The step runs when that check
	// passed, or, with a leading "!", when it did not.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

type Terraform struct {
	Resources []TerraformResource `yaml:"resources" json:"resources"`
}

type TerraformResource struct {
	Type   string         `yaml:"type" json:"type"`
	Name   string         `yaml:"name" json:"name"`
	Config map[string]any `yaml:"config" json:"config"`
}
