package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/config"
	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestVaultFollowCountsAcrossWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	c, err := vault.NewClient(vault.Config{AuditLogPath: path})
	require.NoError(t, err)

	e, ok := Lookup(vault.Slug, resource.KindAuditLog)
	require.True(t, ok)
	th := config.DefaultThresholds()
	checks := e.Checks(th, clock)
	collector := &audit.Collector{}
	stream := audit.NewStream(vault.Slug, resource.KindAuditLog, th.Window,
		audit.WithAggregators(checks.Aggregators...), audit.WithReporter(collector))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	seen := make(chan int, 256)
	done := make(chan error, 1)
	go func() {
		done <- c.Follow(ctx, func(batch []resource.Record) error {
			if _, err := stream.Push(ctx, batch); err != nil {
				return err
			}
			n := 0
			for _, r := range batch {
				if r.AttrString("path") == "secret/data/db" {
					n++
				}
			}
			seen <- n
			return nil
		})
	}()

	// Wait until the watcher is live before writing the reads.
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ping := fmt.Sprintf(`{"time":%q,"type":"response","request":{"id":"ping","path":"sys/health","operation":"read"}}`, base.Format(time.RFC3339))
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for live := false; !live; {
		select {
		case <-seen:
			live = true
		case <-tick.C:
			appendLine(t, path, ping)
		case <-ctx.Done():
			t.Fatal("follow never emitted")
		}
	}

	const reads = 150
	for i := range reads {
		at := base.Add(time.Duration(i) * time.Second).Format(time.RFC3339)
		appendLine(t, path, fmt.Sprintf(`{"time":%q,"type":"request","auth":{"accessor":"hmac-a1"},"request":{"id":"r%d","path":"secret/data/db","operation":"read"}}`, at, i))
	}

	got := 0
	for got < reads {
		select {
		case n := <-seen:
			got += n
		case <-ctx.Done():
			t.Fatalf("saw %d of %d reads", got, reads)
		}
	}
	cancel()
	require.NoError(t, <-done)

	var mass []audit.Issue
	for _, i := range collector.Issues {
		if i.Rule == "mass-secret-read" {
			mass = append(mass, i)
		}
	}
	require.Len(t, mass, 1)
	assert.Equal(t, "hmac-a1", mass[0].Subject)
}

func TestVaultAggregatesOverOldLog(t *testing.T) {
	e, ok := Lookup(vault.Slug, resource.KindAuditLog)
	require.True(t, ok)

	written := now.AddDate(0, -3, 0)
	var records []resource.Record
	for i := range 101 {
		records = append(records, resource.Record{
			Vendor: "vault", Kind: resource.KindAuditLog, ID: fmt.Sprint(i), CreatedAt: resource.TimePtr(written.Add(time.Duration(i) * time.Second)),
			Attributes: map[string]any{"type": "request", "path": "secret/data/db", "operation": "read", "accessor": "hmac-abc"},
		})
	}
	issues := runChecks(t, e, records)
	require.Len(t, issues, 1)
	assert.Equal(t, "hmac-abc: read 101 secrets (max 100)", issues[0].String())
}
