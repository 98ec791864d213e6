package rules

import (
	"fmt"

	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/config"
)

// FromConfig compiles the configured rules that target vendor/kind.
func FromConfig(cfgRules []config.RuleConfig, vendor, kind string, clock audit.Clock) ([]audit.Predicate, error) {
	var engine *CELEngine
	var out []audit.Predicate
	for _, rc := range cfgRules {
		if !rc.Applies(vendor, kind) {
			continue
		}
		switch rc.Engine {
		case "", "cel":
			if engine == nil {
				var err error
				if engine, err = NewCELEngine(clock); err != nil {
					return nil, err
				}
			}
			p, err := engine.Compile(CELRule{ID: rc.ID, Condition: rc.Condition, Reason: rc.Reason})
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		case "sigma":
			preds, _, err := LoadSigma(rc.Path)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", rc.ID, err)
			}
			out = append(out, preds...)
		default:
			return nil, fmt.Errorf("rule %s: unknown engine %q", rc.ID, rc.Engine)
		}
	}
	return out, nil
}
