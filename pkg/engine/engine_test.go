package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howtoharden/hth/pkg/pack"
	"github.com/howtoharden/hth/pkg/vendors"
)

type call struct {
	Method, Endpoint string
	Body             any
}

// fakeProvider answers from a fixed endpoint table.
type fakeProvider struct {
	mu        sync.Mutex
	responses map[string]any
	errs      map[string]error
	calls     []call
}

func (f *fakeProvider) Slug() string        { return "demo" }
func (f *fakeProvider) DisplayName() string { return "Demo" }

func (f *fakeProvider) Execute(_ context.Context, method, endpoint string, body any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method, endpoint, body})
	if err := f.errs[endpoint]; err != nil {
		return nil, err
	}
	if endpoint == "/panic" {
		panic("boom")
	}
	return f.responses[endpoint], nil
}

func (f *fakeProvider) ValidateCredentials(context.Context) error { return nil }

func (f *fakeProvider) Terraform() vendors.TerraformProvider {
	return vendors.TerraformProvider{
		Name:      "demo",
		Source:    "example/demo",
		Version:   "~> 1.0",
		Variables: map[string]string{"token": "demo_token", "owner": "demo_org"},
	}
}

func check(id, endpoint, expr string, expected bool) pack.Check {
	return pack.Check{ID: id, API: pack.APICall{Method: "GET", Endpoint: endpoint, Check: expr}, Expected: expected}
}

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestScanStatuses(t *testing.T) {
	p := &fakeProvider{
		responses: map[string]any{
			"/org": map[string]any{"two_factor_requirement_enabled": true, "members": []any{}},
		},
		errs: map[string]error{"/down": &vendors.TransientError{Vendor: "demo", Status: 503}},
	}
	controls := []pack.Control{
		{ID: "c-pass", ProfileLevel: 1, Severity: pack.SeverityHigh, Audit: []pack.Check{
			check("2fa", "/org", "response.two_factor_requirement_enabled", true),
		}},
		{ID: "c-fail", ProfileLevel: 1, Severity: pack.SeverityLow, Audit: []pack.Check{
			check("2fa", "/org", "response.two_factor_requirement_enabled", true),
			check("members", "/org", "response.members", true),
		}},
		{ID: "c-error", ProfileLevel: 2, Severity: pack.SeverityMedium, Audit: []pack.Check{
			check("down", "/down", "true", true),
			check("members", "/org", "response.members", true),
		}},
		{ID: "c-skip", ProfileLevel: 3, Audit: []pack.Check{check("x", "/org", "true", true)}},
	}

	e := New(WithClock(fixedClock), WithParallel(2))
	report := e.Scan(context.Background(), controls, p, 2)

	require.Len(t, report.Controls, 4)
	assert.Equal(t, "demo", report.Vendor)
	assert.Equal(t, 2, report.ProfileLevel)
	assert.Equal(t, fixedClock(), report.Timestamp)

	var statuses []Status
	for _, c := range report.Controls {
		statuses = append(statuses, c.Status)
	}
	assert.Equal(t, []Status{StatusPass, StatusFail, StatusError, StatusSkip}, statuses)
	assert.Equal(t, Summary{Total: 4, Passed: 1, Failed: 1, Skipped: 1, Errors: 1}, report.Summary)
	assert.Equal(t, 1, report.ExitCode())

	assert.Empty(t, report.Controls[3].Checks, "skipped controls are not called")
	errored := report.Controls[2].Checks[0]
	assert.Nil(t, errored.Actual)
	assert.Contains(t, errored.Error, "API call failed")

	failed := report.Controls[1].Checks[1]
	require.NotNil(t, failed.Actual)
	assert.False(t, *failed.Actual)
	assert.Equal(t, 1, report.Controls[1].Passed())
}

func TestScanRejectsWriteChecks(t *testing.T) {
	p := &fakeProvider{}
	chk := check("write", "/org", "true", true)
	chk.API.Method = "POST"
	report := New().Scan(context.Background(), []pack.Control{{ID: "c", ProfileLevel: 1, Audit: []pack.Check{chk}}}, p, 1)

	res := report.Controls[0].Checks[0]
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "uses POST")
	assert.Contains(t, res.Error, ErrWriteInScan.Error())
	assert.Empty(t, p.calls, "write checks never reach the vendor")
}

func TestScanRecoversFromPanics(t *testing.T) {
	p := &fakeProvider{}
	report := New().Scan(context.Background(), []pack.Control{
		{ID: "c", ProfileLevel: 1, Audit: []pack.Check{check("p", "/panic", "true", true)}},
	}, p, 1)
	assert.Equal(t, StatusError, report.Controls[0].Status)
	assert.Contains(t, report.Controls[0].Checks[0].Error, "boom")
}

func TestEvaluateTruthiness(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		response any
		want     bool
	}{
		{"bool", "response.enabled", map[string]any{"enabled": true}, true},
		{"null", "response.value", map[string]any{"value": nil}, false},
		{"empty string", "response.value", map[string]any{"value": ""}, false},
		{"string", "response.value", map[string]any{"value": "x"}, true},
		{"zero", "response.count", map[string]any{"count": float64(0)}, false},
		{"number", "response.count", map[string]any{"count": float64(3)}, true},
		{"empty list", "response", []any{}, false},
		{"list", "response", []any{"a"}, true},
		{"empty map", "response", map[string]any{}, false},
		{"false", "response.enabled", map[string]any{"enabled": false}, false},
		{"explicit comparison", "response.count >= 1", map[string]any{"count": float64(0)}, false},
		{"filter", `response.filter(r, r.admin).size() == 0`, []any{map[string]any{"admin": false}}, true},
		{"string ext", `response.name.lowerAscii() == "acme"`, map[string]any{"name": "ACME"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr, tt.response)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Evaluate("response.missing", map[string]any{})
	assert.Error(t, err)
	_, err = Evaluate("response.(", nil)
	assert.Error(t, err)
}

func TestFailsAt(t *testing.T) {
	report := NewScanReport("demo", 1, fixedClock(), []ControlResult{
		{ControlID: "a", Severity: pack.SeverityMedium, Status: StatusFail},
		{ControlID: "b", Severity: pack.SeverityCritical, Status: StatusPass},
	})
	assert.True(t, report.FailsAt(pack.SeverityLow))
	assert.True(t, report.FailsAt(pack.SeverityMedium))
	assert.False(t, report.FailsAt(pack.SeverityHigh))
	assert.True(t, report.FailsAt(""))

	clean := NewScanReport("demo", 1, fixedClock(), []ControlResult{{Status: StatusSkip}})
	assert.Equal(t, 0, clean.ExitCode())
	assert.False(t, clean.FailsAt(""))
}

func TestPlanRemediation(t *testing.T) {
	c := pack.Control{ID: "c", Remediate: &pack.Remediate{API: []pack.Step{
		{Description: "always", Method: "PATCH", Endpoint: "/a"},
		{Description: "when failing", Method: "PATCH", Endpoint: "/b", Condition: "!enabled"},
		{Description: "when passing", Method: "PUT", Endpoint: "/c", Condition: "enabled"},
		{Description: "unknown check", Method: "PUT", Endpoint: "/d", Condition: "!other"},
	}}}
	failing := ControlResult{Checks: []CheckResult{{CheckID: "enabled", Status: StatusFail}}}
	passing := ControlResult{Checks: []CheckResult{{CheckID: "enabled", Status: StatusPass}}}

	describe := func(steps []pack.Step) []string {
		var out []string
		for _, s := range steps {
			out = append(out, s.Description)
		}
		return out
	}
	assert.Equal(t, []string{"always", "when failing", "unknown check"}, describe(PlanRemediation(c, failing)))
	assert.Equal(t, []string{"always", "when passing", "unknown check"}, describe(PlanRemediation(c, passing)))
	assert.Empty(t, PlanRemediation(pack.Control{ID: "none"}, failing))
}

func TestExecuteRemediation(t *testing.T) {
	p := &fakeProvider{errs: map[string]error{"/b": errors.New("forbidden")}}
	steps := []pack.Step{
		{Description: "first", Method: "PATCH", Endpoint: "/a", Body: map[string]any{"enabled": true}},
		{Description: "second", Method: "PUT", Endpoint: "/b"},
		{Description: "third", Method: "DELETE", Endpoint: "/c"},
	}
	results := New().ExecuteRemediation(context.Background(), steps, p)

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, "forbidden", results[1].Error)
	assert.True(t, results[2].Success, "a failed step does not stop the rest")
	require.Len(t, p.calls, 3)
	assert.Equal(t, call{"PATCH", "/a", map[string]any{"enabled": true}}, p.calls[0])
}

func TestGenerateTerraform(t *testing.T) {
	controls := []pack.Control{
		{ID: "demo-1", Title: "Require MFA", Remediate: &pack.Remediate{Terraform: &pack.Terraform{
			Resources: []pack.TerraformResource{{
				Type: "demo_settings",
				Name: "mfa",
				Config: map[string]any{
					"enabled": true,
					"level":   2,
					"name":    "org",
					"domains": []any{"a.example", "b.example"},
					"policy":  map[string]any{"require": true, "methods": []any{"totp"}},
				},
			}},
		}}},
		{ID: "demo-2", Title: "No terraform"},
	}
	out, err := GenerateTerraform(controls, (&fakeProvider{}).Terraform())
	require.NoError(t, err)
	hcl := string(out)

	assert.Contains(t, hcl, "# demo-1 - Require MFA\n")
	assert.NotContains(t, hcl, "demo-2")
	assert.Contains(t, hcl, `"example/demo"`)

	f, diags := hclparse.NewParser().ParseHCL(out, "main.tf")
	require.False(t, diags.HasErrors(), diags.Error())
	body := f.Body.(*hclsyntax.Body)

	var types []string
	for _, b := range body.Blocks {
		types = append(types, b.Type+" "+strings.Join(b.Labels, "."))
	}
	assert.Equal(t, []string{
		"terraform ",
		"variable demo_org",
		"variable demo_token",
		"provider demo",
		"resource demo_settings.mfa",
	}, types)

	provider := body.Blocks[3].Body
	owner := provider.Attributes["owner"].Expr.(*hclsyntax.ScopeTraversalExpr)
	assert.Equal(t, "var", owner.Traversal.RootName())
	_, sensitive := body.Blocks[2].Body.Attributes["sensitive"]
	assert.True(t, sensitive)

	res := body.Blocks[4].Body
	assert.Len(t, res.Attributes, 4)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, "policy", res.Blocks[0].Type)

	v, diags := res.Attributes["level"].Expr.Value(nil)
	require.False(t, diags.HasErrors())
	n, _ := v.AsBigFloat().Int64()
	assert.Equal(t, int64(2), n)

	domains, diags := res.Attributes["domains"].Expr.Value(nil)
	require.False(t, diags.HasErrors())
	assert.Equal(t, 2, domains.LengthInt())
}

func TestGenerateTerraformRejectsMissingConfig(t *testing.T) {
	_, err := GenerateTerraform([]pack.Control{{ID: "x", Remediate: &pack.Remediate{Terraform: &pack.Terraform{
		Resources: []pack.TerraformResource{{Type: "t", Name: "n"}},
	}}}}, vendors.TerraformProvider{Name: "demo"})
	assert.ErrorContains(t, err, "must be an object")
}

func TestShippedPacksScanAgainstFixture(t *testing.T) {
	p, err := pack.LoadPack("../../packs", "github", nil)
	require.NoError(t, err)

	gh := &fakeProvider{responses: map[string]any{
		"/orgs/{org}": map[string]any{
			"two_factor_requirement_enabled":         true,
			"default_repository_permission":          "admin",
			"members_can_create_public_repositories": false,
		},
	}}
	report := New().Scan(context.Background(), p.Controls, gh, 1)
	res, ok := report.Result("github-2.1")
	require.True(t, ok)
	assert.Equal(t, StatusFail, res.Status)

	steps := PlanRemediation(p.Controls[1], res)
	require.Len(t, steps, 1)
	assert.Equal(t, map[string]any{"default_repository_permission": "read"}, steps[0].Body)
}
