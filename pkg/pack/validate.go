package pack

import (
	"fmt"
	"net/http"
	"strings"
)

// Level separates blocking findings from advice.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Finding is one validation result for a control.
type Finding struct {
	ControlID string `json:"control_id"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s: %s", f.Level, f.ControlID, f.Message)
}

var writeMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Validate checks a decoded control for structural problems.
func Validate(c Control) []Finding {
	var out []Finding
	id := c.ID
	if id == "" {
		id = "<no id>"
	}
	add := func(level Level, format string, args ...any) {
		out = append(out, Finding{ControlID: id, Level: level, Message: fmt.Sprintf(format, args...)})
	}

	if c.ID == "" {
		add(LevelError, "missing id")
	}
	if c.Title == "" {
		add(LevelError, "missing title")
	}
	if c.Vendor == "" {
		add(LevelError, "missing vendor")
	}
	if c.ProfileLevel < 1 || c.ProfileLevel > 3 {
		add(LevelError, "profile_level %d is outside 1-3", c.ProfileLevel)
	}
	if c.Severity != "" && !c.Severity.Valid() {
		add(LevelError, "unknown severity %q", c.Severity)
	}

	if len(c.Audit) == 0 {
		add(LevelWarning, "no audit checks defined")
	}
	if strings.TrimSpace(c.Description) == "" {
		add(LevelWarning, "empty description")
	}

	seen := make(map[string]bool)
	for _, chk := range c.Audit {
		if seen[chk.ID] {
			add(LevelError, "duplicate audit check id %q", chk.ID)
		}
		seen[chk.ID] = true
		if chk.API.Method != http.MethodGet {
			add(LevelError, "audit check %q uses %s (must be GET)", chk.ID, chk.API.Method)
		}
		if chk.API.Endpoint == "" {
			add(LevelError, "audit check %q has no endpoint", chk.ID)
		}
		if _, err := CompileCheck(chk.API.Check); err != nil {
			add(LevelError, "audit check %q: %v", chk.ID, err)
		}
	}

	if c.Remediate != nil {
		for _, step := range c.Remediate.API {
			if step.Method != http.MethodGet && !writeMethods[step.Method] {
				add(LevelError, "remediation step %q has unknown method %q", step.Description, step.Method)
			}
			if ref := strings.TrimPrefix(step.Condition, "!"); ref != "" && !seen[ref] {
				add(LevelWarning, "remediation step %q references unknown check %q", step.Description, ref)
			}
		}
		if tf := c.Remediate.Terraform; tf != nil {
			for _, r := range tf.Resources {
				if r.Type == "" || r.Name == "" {
					add(LevelError, "terraform resource needs type and name")
				}
			}
		}
	}
	return out
}

// HasErrors reports whether any finding is an error, or, when strict, any finding at all.
func HasErrors(findings []Finding, strict bool) bool {
	for _, f := range findings {
		if f.Level == LevelError || strict {
			return true
		}
	}
	return false
}
