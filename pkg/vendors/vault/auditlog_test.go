package vault

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2025-06-01T10:00:00Z","type":"request","auth":{"accessor":"hmac-a1","display_name":"approle"},"request":{"id":"r1","path":"secret/data/db","operation":"read","remote_address":"10.0.0.5"}}
{"time":"2025-06-01T10:00:00Z","type":"response","auth":{"accessor":"hmac-a1"},"request":{"id":"r1","path":"secret/data/db","operation":"read","remote_address":"10.0.0.5"}}

{"time":"2025-06-01T10:00:02Z","type":"response","error":"permission denied","request":{"id":"r2","path":"auth/userpass/login/bob","operation":"update","remote_address":"203.0.113.9"}}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestFetchAuditLog(t *testing.T) {
	c, err := NewClient(Config{AuditLogPath: writeLog(t, sampleLog)})
	require.NoError(t, err)

	records, err := c.Fetch(context.Background(), resource.KindAuditLog)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "request:r1", records[0].ID)
	assert.Equal(t, "response:r1", records[1].ID)
	assert.Equal(t, "hmac-a1", records[0].AttrString("accessor"))

	ok, _ := records[1].AttrBool("succeeded")
	assert.True(t, ok)
	ok, _ = records[2].AttrBool("succeeded")
	assert.False(t, ok)
	assert.Equal(t, "203.0.113.9", records[2].AttrString("remote_address"))
}

func TestFetchIncludesUnterminatedLastLine(t *testing.T) {
	content := strings.TrimSuffix(sampleLog, "\n")
	c, err := NewClient(Config{AuditLogPath: writeLog(t, content)})
	require.NoError(t, err)

	records, err := c.Fetch(context.Background(), resource.KindAuditLog)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestParseEntriesLeavesPartialLine(t *testing.T) {
	partial := sampleLog + `{"time":"2025-06-01T10:00:03Z","type":"req`
	records, n, err := ParseEntries(context.Background(), strings.NewReader(partial), 10, false)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, int64(len(sampleLog)), n)
}

func TestMalformedLineIsShapeError(t *testing.T) {
	c, err := NewClient(Config{AuditLogPath: writeLog(t, "not json\n")})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), resource.KindAuditLog)
	assert.ErrorIs(t, err, resource.ErrDataShape)
}

func TestMissingTimeIsShapeError(t *testing.T) {
	c, err := NewClient(Config{AuditLogPath: writeLog(t, `{"type":"request"}`+"\n")})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), resource.KindAuditLog)
	assert.ErrorIs(t, err, resource.ErrDataShape)
}

func TestUnsupportedKindAndEnv(t *testing.T) {
	c, err := NewClient(Config{AuditLogPath: "/nonexistent"})
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), resource.KindUsers)
	assert.ErrorIs(t, err, vendors.ErrUnsupportedKind)

	t.Setenv("VAULT_AUDIT_LOG", "")
	_, err = ConfigFromEnv()
	assert.ErrorIs(t, err, vendors.ErrAuth)
}

func TestFollowEmitsAppendedEntries(t *testing.T) {
	path := writeLog(t, sampleLog)
	c, err := NewClient(Config{AuditLogPath: path})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan []resource.Record, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Follow(ctx, func(r []resource.Record) error {
			got <- r
			return nil
		})
	}()

	line := `{"time":"2025-06-01T11:00:00Z","type":"request","request":{"id":"new","path":"secret/data/api","operation":"read"}}` + "\n"
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	var batch []resource.Record
	for batch == nil {
		select {
		case batch = <-got:
		case <-tick.C:
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
			require.NoError(t, err)
			_, err = f.WriteString(line)
			require.NoError(t, err)
			require.NoError(t, f.Close())
		case <-ctx.Done():
			t.Fatal("no entries emitted")
		}
	}
	require.NotEmpty(t, batch)
	assert.Equal(t, "secret/data/api", batch[0].AttrString("path"))

	cancel()
	assert.NoError(t, <-done)
}
