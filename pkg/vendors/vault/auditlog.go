// Package vault audits HashiCorp Vault through its file audit device.
//
// The file device writes one JSON object per line, a "request" entry and a
// "response" entry per operation. The fetcher reads those entries as
// audit-log records; Follow tails the file for new entries.
package vault

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

const Slug = "vault"

type Config struct {
	// AuditLogPath is the file audit device path, e.g. /var/log/vault/audit.log.
	AuditLogPath string
}

// ConfigFromEnv reads VAULT_AUDIT_LOG.
func ConfigFromEnv() (Config, error) {
	cfg := Config{AuditLogPath: vendors.Env("VAULT_AUDIT_LOG")}
	if cfg.AuditLogPath == "" {
		return cfg, vendors.MissingCredential(Slug, "VAULT_AUDIT_LOG")
	}
	return cfg, nil
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.AuditLogPath == "" {
		return nil, errors.New("vault: audit log path is required")
	}
	return &Client{cfg: cfg}, nil
}

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindAuditLog}
}

// Fetch reads the whole audit log.
func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	if kind != resource.KindAuditLog {
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
	f, err := os.Open(c.cfg.AuditLogPath)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, &vendors.AuthError{Vendor: Slug, Err: err}
		}
		return nil, fmt.Errorf("vault: open audit log: %w", err)
	}
	defer f.Close()

	records, _, err := ParseEntries(ctx, f, 0, true)
	return records, err
}

type entry struct {
	Type  string `json:"type"`
	Time  string `json:"time"`
	Error string `json:"error"`
	Auth  struct {
		Accessor    string `json:"accessor"`
		DisplayName string `json:"display_name"`
	} `json:"auth"`
	Request struct {
		ID            string `json:"id"`
		Path          string `json:"path"`
		Operation     string `json:"operation"`
		RemoteAddress string `json:"remote_address"`
	} `json:"request"`
	Response struct {
		Succeeded *bool `json:"succeeded"`
	} `json:"response"`
}

// ParseEntries decodes audit entries from r. first is the index given to the
// first entry, so tailing keeps IDs unique across reads. It returns the
// number of bytes consumed. Unless final is set, a trailing line without a
// newline is left unconsumed for the next read.
func ParseEntries(ctx context.Context, r io.Reader, first int, final bool) ([]resource.Record, int64, error) {
	var (
		out      []resource.Record
		consumed int64
		index    = first
	)
	dec := resource.NewDecoder(Slug, resource.KindAuditLog)
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, consumed, err
		}
		line, err := br.ReadBytes('\n')
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return nil, consumed, fmt.Errorf("vault: read audit log: %w", err)
		}
		if eof && (!final || len(bytes.TrimSpace(line)) == 0) {
			return out, consumed, nil
		}
		consumed += int64(len(line))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var e entry
		dec.At(index)
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, consumed, &resource.DataShapeError{Vendor: Slug, Kind: resource.KindAuditLog, Index: index,
				Reason: "line is not a JSON audit entry", Err: err}
		}
		id := e.Request.ID
		if id == "" {
			id = strconv.Itoa(index)
		}
		id = e.Type + ":" + id
		succeeded := e.Error == ""
		if e.Response.Succeeded != nil {
			succeeded = succeeded && *e.Response.Succeeded
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      resource.KindAuditLog,
			ID:        id,
			Name:      e.Auth.DisplayName,
			CreatedAt: dec.Time("time", e.Time),
			Attributes: map[string]any{
				"type":           dec.Require("type", e.Type),
				"path":           e.Request.Path,
				"operation":      e.Request.Operation,
				"accessor":       e.Auth.Accessor,
				"remote_address": e.Request.RemoteAddress,
				"succeeded":      succeeded,
				"error":          e.Error,
			},
		}
		if err := dec.Err(); err != nil {
			return nil, consumed, err
		}
		out = append(out, rec)
		index++
		if eof {
			return out, consumed, nil
		}
	}
}
