package rules

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/resource"
)

// SigmaLoadStats tracks the number of loaded and skipped rule files.
type SigmaLoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedInvalid int
}

// LoadSigma parses a Sigma rule file or a directory of rules into
// predicates evaluated against each record's single-level field view.
func LoadSigma(path string) ([]audit.Predicate, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	info, err := os.Stat(path)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !entry.IsDir() && isYAMLFile(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(path) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", path)
		}
		files = append(files, path)
	}

	stats.TotalFiles = len(files)
	preds := make([]audit.Predicate, 0, len(files))
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, stats, fmt.Errorf("read sigma rule %s: %w", file, err)
		}
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			slog.Warn("Skipping invalid sigma rule", "path", file, "error", err)
			stats.SkippedInvalid++
			continue
		}
		preds = append(preds, SigmaPredicate(rule))
		stats.Loaded++
	}
	return preds, stats, nil
}

// SigmaPredicate wraps a parsed Sigma rule.
func SigmaPredicate(rule sigma.Rule) audit.Predicate {
	eval := sigmaevaluator.ForRule(rule)
	name := rule.ID
	if name == "" {
		name = rule.Title
	}
	reason := "matched Sigma rule: " + rule.Title
	return audit.NewPredicate("sigma:"+name, func(r resource.Record) (string, bool) {
		res, err := eval.Matches(context.Background(), r.Fields())
		if err != nil {
			slog.Debug("Sigma evaluation failed", "rule", name, "record", r.ID, "error", err)
			return "", false
		}
		if !res.Match {
			return "", false
		}
		return reason, true
	})
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}
