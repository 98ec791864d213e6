// Package history keeps a JSONL ledger of scan summaries so trends and
// regressions can be shown across runs.
package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/storage"
)

// Snapshot represents one scan at a point in time.
type Snapshot struct {
	Timestamp    int64          `json:"timestamp"`
	Vendor       string         `json:"vendor"`
	ProfileLevel int            `json:"profile_level"`
	Summary      engine.Summary `json:"summary"`
	// Failing lists control ids that failed or errored.
	Failing []string `json:"failing,omitempty"`
}

// FromReport condenses a scan report.
func FromReport(r engine.ScanReport) Snapshot {
	s := Snapshot{
		Timestamp:    r.Timestamp.Unix(),
		Vendor:       r.Vendor,
		ProfileLevel: r.ProfileLevel,
		Summary:      r.Summary,
	}
	for _, c := range r.Controls {
		if c.Status == engine.StatusFail || c.Status == engine.StatusError {
			s.Failing = append(s.Failing, c.ControlID)
		}
	}
	return s
}

// Backend defines the storage interface for snapshots.
type Backend interface {
	Append(ctx context.Context, s Snapshot) error
	LoadAll(ctx context.Context) ([]Snapshot, error)
}

// Client manages historical state.
type Client struct {
	backend Backend
}

// NewClient initializes a history client.
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// Append records a new snapshot.
func (c *Client) Append(ctx context.Context, s Snapshot) error {
	return c.backend.Append(ctx, s)
}

// Load returns the last n snapshots for vendor, oldest first. An empty
// vendor matches all; n <= 0 returns everything.
func (c *Client) Load(ctx context.Context, vendor string, n int) ([]Snapshot, error) {
	all, err := c.backend.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, s := range all {
		if vendor == "" || s.Vendor == vendor {
			out = append(out, s)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// FileBackend implements local filesystem storage.
type FileBackend struct {
	Path string
}

// NewLocalBackend creates a file-based backend at the specified path.
func NewLocalBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (b *FileBackend) Append(_ context.Context, s Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(b.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

func (b *FileBackend) LoadAll(_ context.Context) ([]Snapshot, error) {
	f, err := os.Open(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return []Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}

// BlobBackend keeps the ledger as one object in a BlobStore. Appends
// read, modify and rewrite the object.
type BlobBackend struct {
	Store storage.BlobStore
	Key   string
}

func (b *BlobBackend) Append(ctx context.Context, s Snapshot) error {
	existing, err := b.LoadAll(ctx)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, snap := range append(existing, s) {
		if err := enc.Encode(snap); err != nil {
			return err
		}
	}
	return b.Store.Put(ctx, b.Key, buf.Bytes())
}

func (b *BlobBackend) LoadAll(ctx context.Context) ([]Snapshot, error) {
	data, err := b.Store.Get(ctx, b.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return []Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(bytes.NewReader(data))
}

// decode skips lines that do not parse.
func decode(r io.Reader) ([]Snapshot, error) {
	var history []Snapshot
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var s Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			continue
		}
		history = append(history, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return history, nil
}
