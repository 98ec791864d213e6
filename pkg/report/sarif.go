package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/pack"
)

const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json"

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool        sarifTool         `json:"tool"`
	Results     []sarifResult     `json:"results"`
	Invocations []sarifInvocation `json:"invocations"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	FullName       string      `json:"fullName"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	ShortDescription     sarifText      `json:"shortDescription"`
	DefaultConfiguration sarifConfig    `json:"defaultConfiguration"`
	Properties           map[string]any `json:"properties"`
}

type sarifText struct {
	Text string `json:"text"`
}

type sarifConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID  string    `json:"ruleId"`
	Level   string    `json:"level"`
	Kind    string    `json:"kind"`
	Message sarifText `json:"message"`
}

type sarifInvocation struct {
	ExecutionSuccessful bool           `json:"executionSuccessful"`
	StartTimeUTC        string         `json:"startTimeUtc"`
	Properties          map[string]any `json:"properties"`
}

// SARIFLevel maps a severity onto a SARIF result level.
func SARIFLevel(s pack.Severity) string {
	switch s {
	case pack.SeverityCritical, pack.SeverityHigh:
		return "error"
	case pack.SeverityMedium:
		return "warning"
	}
	return "note"
}

// WriteSARIF writes a SARIF 2.1.0 log with one rule and one result per
// failing or errored control.
func WriteSARIF(w io.Writer, r engine.ScanReport, version string) error {
	rules := []sarifRule{}
	results := []sarifResult{}
	for _, c := range r.Controls {
		if c.Status != engine.StatusFail && c.Status != engine.StatusError {
			continue
		}
		level := SARIFLevel(c.Severity)
		rules = append(rules, sarifRule{
			ID:                   c.ControlID,
			Name:                 c.Title,
			ShortDescription:     sarifText{Text: c.Title},
			DefaultConfiguration: sarifConfig{Level: level},
			Properties: map[string]any{
				"severity":     c.Severity,
				"profileLevel": c.ProfileLevel,
				"compliance":   c.Compliance,
			},
		})

		var failing []string
		for _, chk := range c.Checks {
			if chk.Status != engine.StatusPass {
				failing = append(failing, chk.Description)
			}
		}
		results = append(results, sarifResult{
			RuleID:  c.ControlID,
			Level:   level,
			Kind:    "fail",
			Message: sarifText{Text: fmt.Sprintf("%s: %s", c.Title, strings.Join(failing, "; "))},
		})
	}

	log := sarifLog{
		Schema:  sarifSchema,
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:           "hth",
				FullName:       "How to Harden CLI",
				Version:        version,
				InformationURI: "https://howtoharden.com",
				Rules:          rules,
			}},
			Results: results,
			Invocations: []sarifInvocation{{
				ExecutionSuccessful: r.Summary.Errors == 0,
				StartTimeUTC:        r.Timestamp.UTC().Format(time.RFC3339),
				Properties: map[string]any{
					"vendor":       r.Vendor,
					"profileLevel": r.ProfileLevel,
					"summary":      r.Summary,
				},
			}},
		}},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(log); err != nil {
		return fmt.Errorf("encode sarif: %w", err)
	}
	return nil
}
