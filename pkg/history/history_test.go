package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/storage"
)

func snap(ts int64, vendor string, failing ...string) Snapshot {
	return Snapshot{
		Timestamp: ts,
		Vendor:    vendor,
		Summary:   engine.Summary{Total: 5, Failed: len(failing), Passed: 5 - len(failing)},
		Failing:   failing,
	}
}

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.jsonl")
	c := NewClient(NewLocalBackend(path))

	empty, err := c.Load(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, c.Append(ctx, snap(1, "github")))
	require.NoError(t, c.Append(ctx, snap(2, "okta", "okta-1.1")))
	require.NoError(t, c.Append(ctx, snap(3, "github", "github-2.1")))

	// A corrupt line is skipped.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	gh, err := c.Load(ctx, "github", 0)
	require.NoError(t, err)
	require.Len(t, gh, 2)
	assert.Equal(t, int64(3), gh[1].Timestamp)

	last, err := c.Load(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, int64(3), last[0].Timestamp)
}

func TestBlobBackend(t *testing.T) {
	ctx := context.Background()
	b := &BlobBackend{Store: storage.NewLocalStore(t.TempDir()), Key: "history.jsonl"}
	c := NewClient(b)

	require.NoError(t, c.Append(ctx, snap(1, "github")))
	require.NoError(t, c.Append(ctx, snap(2, "github", "github-1.1")))

	all, err := c.Load(ctx, "github", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFromReport(t *testing.T) {
	r := engine.NewScanReport("github", 2, time.Unix(1700000000, 0), []engine.ControlResult{
		{ControlID: "a", Status: engine.StatusPass},
		{ControlID: "b", Status: engine.StatusFail},
		{ControlID: "c", Status: engine.StatusError},
		{ControlID: "d", Status: engine.StatusSkip},
	})
	s := FromReport(r)
	assert.Equal(t, int64(1700000000), s.Timestamp)
	assert.Equal(t, []string{"b", "c"}, s.Failing)
	assert.Equal(t, 1, s.Summary.Failed)
	assert.Equal(t, 1, s.Summary.Errors)
}

func TestAnalyze(t *testing.T) {
	changes := Analyze([]Snapshot{
		snap(1, "github", "a"),
		snap(2, "okta", "x", "y"),
		snap(3, "github", "a", "b"),
		snap(4, "github", "b"),
		snap(5, "github", "c"),
	})
	require.Len(t, changes, 5)

	assert.False(t, changes[0].Regression, "first run of a vendor")
	assert.False(t, changes[1].Regression)

	assert.True(t, changes[2].Regression)
	assert.Equal(t, 1, changes[2].DeltaFailed)
	assert.Equal(t, []string{"b"}, changes[2].NewlyFailing)

	assert.False(t, changes[3].Regression)
	assert.Equal(t, []string{"a"}, changes[3].Fixed)

	assert.True(t, changes[4].Regression, "same count but a new control fails")
	assert.Equal(t, 0, changes[4].DeltaFailed)

	alerts := Alerts(changes)
	require.Len(t, alerts, 2)
	assert.Equal(t, "[REGRESSION] github: failing controls +1 (newly failing: [b])", alerts[0])
}
