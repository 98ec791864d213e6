package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howtoharden/hth/pkg/config"
	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/history"
	"github.com/howtoharden/hth/pkg/pack"
	"github.com/howtoharden/hth/pkg/report"
	"github.com/howtoharden/hth/pkg/vendors"
	"github.com/howtoharden/hth/pkg/webhook"
)

const packsDir = "../../../packs"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(bytes.NewReader(nil))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateShippedPacks(t *testing.T) {
	out, err := run(t, "validate", "--packs-dir", packsDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Validated 7 controls in 2 packs: 0 errors")
}

func TestValidateRejectsWriteChecks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "demo/controls/demo-1.1.yaml", `id: demo-1.1
vendor: demo
title: Broken
section: Access
profile_level: 1
severity: high
description: Uses a write method in an audit check.
audit:
  - id: c1
    description: check
    api:
      method: POST
      endpoint: /settings
      check: "true"
    expected: true
`)
	out, err := run(t, "validate", "--packs-dir", dir)
	var exit exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.code)
	assert.Contains(t, out, "must be GET")
}

func TestListCommands(t *testing.T) {
	out, err := run(t, "list", "frameworks", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "SOC 2")
	assert.Contains(t, out, "disa-stig")

	out, err = run(t, "list", "controls", "--vendor", "github", "--packs-dir", packsDir, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "github-2.1")

	out, err = run(t, "list", "tags", "--packs-dir", packsDir)
	require.NoError(t, err)
	assert.Contains(t, out, "mfa\n")

	out, err = run(t, "list", "vendors", "--packs-dir", packsDir, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "beyondtrust")

	_, err = run(t, "list", "widgets")
	assert.Error(t, err)
}

func TestScanDryRun(t *testing.T) {
	out, err := run(t, "scan", "--vendor", "github", "--packs-dir", packsDir, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run: 4 controls for github at L1")
	assert.Contains(t, out, "run  github-1.1")
	assert.Contains(t, out, "skip github-3.1")

	out, err = run(t, "scan", "--vendor", "github", "--packs-dir", packsDir, "--dry-run", "--severity", "critical")
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run: 1 controls")
}

func TestScanNeedsVendorAndCredentials(t *testing.T) {
	_, err := run(t, "scan", "--packs-dir", packsDir)
	assert.ErrorContains(t, err, "--vendor is required")

	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	t.Setenv("GITHUB_ORG", "")
	t.Setenv("GH_ORG", "")
	_, err = run(t, "scan", "--vendor", "github", "--packs-dir", packsDir)
	assert.ErrorIs(t, err, vendors.ErrVendorNotFound)

	_, err = run(t, "scan", "--vendor", "nope", "--packs-dir", packsDir)
	assert.ErrorIs(t, err, pack.ErrPackNotFound)
}

func TestInvalidProfileIsRejected(t *testing.T) {
	_, err := run(t, "list", "frameworks", "-p", "5")
	assert.ErrorContains(t, err, "profile_level")
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".hth.yaml")
	out, err := run(t, "init", "--vendor", "github", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	_, err = run(t, "init", "--path", path)
	assert.ErrorIs(t, err, config.ErrConfigExists)

	_, err = run(t, "init", "--path", path, "--force")
	assert.NoError(t, err)
}

func TestWebhookVerify(t *testing.T) {
	payload := []byte(`{"event":"repo:push"}`)
	file := writeFile(t, t.TempDir(), "payload.json", string(payload))
	t.Setenv("TEST_WEBHOOK_SECRET", "s3cret")

	out, err := run(t, "webhook", "verify", "--secret-env", "TEST_WEBHOOK_SECRET",
		"--signature", webhook.Sign("s3cret", payload), "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Signature valid.")

	_, err = run(t, "webhook", "verify", "--secret-env", "TEST_WEBHOOK_SECRET",
		"--signature", webhook.Sign("other", payload), "--file", file)
	assert.ErrorIs(t, err, webhook.ErrBadSignature)

	_, err = run(t, "webhook", "verify", "--secret-env", "UNSET_WEBHOOK_SECRET", "--signature", "sha256=00", "--file", file)
	assert.ErrorContains(t, err, "is not set")
}

func sampleScan() engine.ScanReport {
	return engine.NewScanReport("github", 1, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), []engine.ControlResult{
		{ControlID: "github-1.1", Title: "Require 2FA", Severity: pack.SeverityCritical, ProfileLevel: 1,
			Status: engine.StatusPass, Compliance: pack.Compliance{SOC2: []string{"CC6.1"}}},
		{ControlID: "github-2.1", Title: "Base permissions", Severity: pack.SeverityHigh, ProfileLevel: 1,
			Status: engine.StatusFail, Compliance: pack.Compliance{SOC2: []string{"CC6.3"}, PCIDSS: []string{"7.2.1"}}},
	})
}

func TestReportFromScanFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf, sampleScan()))
	scanFile := writeFile(t, dir, "scan.json", buf.String())

	out, err := run(t, "report", "--scan-file", scanFile, "--framework", "soc2", "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "soc2,CC6.3,FAIL,Base permissions,github-2.1")
	assert.NotContains(t, out, "CC6.1")

	outFile := filepath.Join(dir, "report.json")
	_, err = run(t, "report", "--scan-file", scanFile, "--framework", "all", "--include-passing", "-o", "json", "--output-file", outFile)
	require.NoError(t, err)
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var sections []report.ComplianceSection
	require.NoError(t, json.Unmarshal(data, &sections))
	assert.Len(t, sections, len(pack.Frameworks))
	assert.Len(t, sections[0].Rows, 2)
}

func TestReportUsesLatestSavedScan(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "hth.yaml", "storage:\n  reports_url: "+filepath.Join(dir, "reports")+"\n")

	_, err := run(t, "report", "--config", cfg, "--vendor", "github")
	assert.ErrorContains(t, err, "no saved scan for github")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "reports", "scans", "github"), 0o755))
	w, err := os.Create(filepath.Join(dir, "reports", "scans", "github", "20260301T120000Z.json"))
	require.NoError(t, err)
	require.NoError(t, report.WriteJSON(w, sampleScan()))
	require.NoError(t, w.Close())

	out, err := run(t, "report", "--config", cfg, "--vendor", "github", "--framework", "pci-dss", "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "pci-dss,7.2.1,FAIL")
}

func TestHistoryFlagsRegressions(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, "history.jsonl")
	cfg := writeFile(t, dir, "hth.yaml", "history:\n  path: "+ledger+"\n")

	backend := history.NewLocalBackend(ledger)
	ctx := context.Background()
	require.NoError(t, backend.Append(ctx, history.Snapshot{Timestamp: 1772366400, Vendor: "github", ProfileLevel: 1,
		Summary: engine.Summary{Total: 2, Passed: 2}}))
	require.NoError(t, backend.Append(ctx, history.Snapshot{Timestamp: 1772452800, Vendor: "github", ProfileLevel: 1,
		Summary: engine.Summary{Total: 2, Passed: 1, Failed: 1}, Failing: []string{"github-2.1"}}))

	out, err := run(t, "history", "--config", cfg, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "+1")
	assert.Contains(t, out, "[REGRESSION] github: failing controls +1 (newly failing: [github-2.1])")

	out, err = run(t, "history", "--config", cfg, "--vendor", "okta")
	require.NoError(t, err)
	assert.Contains(t, out, "No scans recorded yet.")
}

func TestAnalyzeJSON(t *testing.T) {
	out, err := run(t, "analyze", "--stack", "GitHub, notion", "--packs-dir", packsDir, "-o", "json")
	require.NoError(t, err)

	var cov []Coverage
	require.NoError(t, json.Unmarshal([]byte(out), &cov))
	require.Len(t, cov, 2)
	assert.Equal(t, "github", cov[0].Vendor)
	assert.True(t, cov[0].Pack)
	assert.Equal(t, 4, cov[0].Controls)
	assert.Contains(t, cov[0].Audits, "repos")
	assert.False(t, cov[1].Pack)
	assert.Empty(t, cov[1].Audits)

	_, err = run(t, "analyze")
	assert.Error(t, err)
}

const vaultLog = `{"time":"2025-06-01T10:00:00Z","type":"request","auth":{"accessor":"hmac-a1","display_name":"approle"},"request":{"id":"r1","path":"secret/data/db","operation":"read","remote_address":"10.0.0.5"}}
{"time":"2025-06-01T10:00:02Z","type":"response","error":"permission denied","request":{"id":"r2","path":"auth/userpass/login/bob","operation":"update","remote_address":"203.0.113.9"}}
`

func TestAuditWithConfiguredRule(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VAULT_AUDIT_LOG", writeFile(t, dir, "audit.log", vaultLog))
	metrics := filepath.Join(dir, "hth.prom")
	cfg := writeFile(t, dir, "hth.yaml", `telemetry:
  metrics_file: `+metrics+`
rules:
  - id: blocked-ip
    vendor: vault
    kind: audit-log
    condition: record.attributes.remote_address == "203.0.113.9"
    reason: request from a blocked address
`)

	out, err := run(t, "audit", "vault/audit-log", "--config", cfg, "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "vendor,kind,rule,subject,record_id,reason\n")
	assert.Contains(t, out, "blocked-ip")
	assert.Contains(t, out, "response:r2")

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `hth_issues_total{kind="audit-log",vendor="vault"} 1`)

	_, err = run(t, "audit", "vault/audit-log", "--config", cfg, "--fail-on-issues", "--no-color")
	var exit exitError
	require.ErrorAs(t, err, &exit)
}

func TestAuditTargets(t *testing.T) {
	out, err := run(t, "audit", "--list", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "vault/audit-log")

	_, err = run(t, "audit", "nosuch/thing")
	assert.ErrorContains(t, err, "no built-in audit")

	_, err = run(t, "audit", "github")
	assert.ErrorContains(t, err, "<vendor>/<kind>")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "hth dev")
}

func TestNoReservedVendorDirectory(t *testing.T) {
	root := "../../.."
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		switch d.Name() {
		case ".git", "_examples", "testdata":
			return filepath.SkipDir
		case "vendor":
			t.Errorf("%s: the go tool treats vendor/ as vendored modules", path)
		}
		return nil
	})
	require.NoError(t, err)
}
