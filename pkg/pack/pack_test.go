package pack

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const packsDir = "testdata/packs"

func TestLoadPack(t *testing.T) {
	p, err := LoadPack(packsDir, "demo", quiet)
	require.NoError(t, err)
	require.Len(t, p.Controls, 2, "the malformed file is skipped")

	first := p.Controls[0]
	assert.Equal(t, "demo-1", first.ID)
	assert.Equal(t, SeverityHigh, first.Severity)
	assert.Equal(t, "GET", first.Audit[0].API.Method)
	assert.Equal(t, "PATCH", first.Remediate.API[0].Method)
	assert.Equal(t, map[string]any{"enabled": true}, first.Remediate.API[0].Body)
	assert.Equal(t, []string{"CC6.1"}, first.Compliance.Mapping(SOC2))
	assert.Equal(t, "demo-2", p.Controls[1].ID)
}

func TestLoadControlsFromDirReportsFailures(t *testing.T) {
	controls, failed, err := LoadControlsFromDir(ControlsDir(packsDir, "demo"), quiet)
	require.NoError(t, err)
	assert.Len(t, controls, 2)
	require.Len(t, failed, 1)
	assert.Equal(t, "demo-3.yaml", filepath.Base(failed[0].Path))

	controls, failed, err = LoadControlsFromDir("testdata/missing", quiet)
	require.NoError(t, err)
	assert.Empty(t, controls)
	assert.Empty(t, failed)
}

func TestLoadPackNotFound(t *testing.T) {
	_, err := LoadPack(packsDir, "nope", quiet)
	assert.ErrorIs(t, err, ErrPackNotFound)
}

func TestDiscoverPacksSkipsSchema(t *testing.T) {
	vendors, err := DiscoverPacks(packsDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, vendors)

	vendors, err = DiscoverPacks("testdata/none")
	require.NoError(t, err)
	assert.Empty(t, vendors)
}

func TestShippedPacksAreValid(t *testing.T) {
	root := filepath.Join("..", "..", "packs")
	vendors, err := DiscoverPacks(root)
	require.NoError(t, err)
	require.Equal(t, []string{"github", "okta"}, vendors)

	for _, v := range vendors {
		p, err := LoadPack(root, v, quiet)
		require.NoError(t, err)
		require.NotEmpty(t, p.Controls)
		for _, c := range p.Controls {
			assert.Equal(t, v, c.Vendor)
			assert.False(t, HasErrors(Validate(c), false), "%s: %v", c.ID, Validate(c))
		}
	}
}

func TestValidate(t *testing.T) {
	p, err := LoadPack(packsDir, "demo", quiet)
	require.NoError(t, err)

	assert.Empty(t, Validate(p.Controls[0]))

	findings := Validate(p.Controls[1])
	var errs, warns []string
	for _, f := range findings {
		if f.Level == LevelError {
			errs = append(errs, f.Message)
		} else {
			warns = append(warns, f.Message)
		}
	}
	assert.Contains(t, errs, "profile_level 4 is outside 1-3")
	assert.Contains(t, errs, `audit check "bad" uses POST (must be GET)`)
	assert.Len(t, errs, 3, "level, method and the unparsable check")
	assert.Equal(t, []string{"empty description"}, warns)

	missing := Validate(Control{ProfileLevel: 1, Description: "x"})
	assert.Len(t, missing, 4)
	assert.True(t, HasErrors(missing, false))
}

func TestHasErrorsStrict(t *testing.T) {
	warn := []Finding{{Level: LevelWarning, Message: "empty description"}}
	assert.False(t, HasErrors(warn, false))
	assert.True(t, HasErrors(warn, true))
	assert.False(t, HasErrors(nil, true))
}

func TestFilter(t *testing.T) {
	controls := []Control{
		{ID: "a", Severity: SeverityHigh, Tags: []string{"MFA"}},
		{ID: "b", Severity: SeverityLow, Tags: []string{"logging"}},
		{ID: "c", Severity: SeverityHigh},
	}
	ids := func(cs []Control) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids(Filter(controls, nil, nil, nil)))
	assert.Equal(t, []string{"a", "c"}, ids(Filter(controls, []Severity{SeverityHigh}, nil, nil)))
	assert.Equal(t, []string{"a"}, ids(Filter(controls, nil, []string{"mfa"}, nil)))
	assert.Equal(t, []string{"c"}, ids(Filter(controls, []Severity{SeverityHigh}, nil, []string{"b", "c"})))
	assert.Equal(t, []string{"logging", "mfa"}, Tags(controls))
}

func TestSeverity(t *testing.T) {
	s, err := ParseSeverity(" Critical ")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, s)
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	_, err = ParseSeverity("urgent")
	assert.Error(t, err)
}

func TestFrameworks(t *testing.T) {
	f, err := ParseFramework("nist_800_53")
	require.NoError(t, err)
	assert.Equal(t, NIST80053, f)
	assert.Equal(t, "NIST 800-53", f.DisplayName())
	_, err = ParseFramework("hipaa")
	assert.Error(t, err)
	assert.Len(t, Frameworks, 5)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList("a, b,,c "))
	assert.Nil(t, SplitList(""))
}
