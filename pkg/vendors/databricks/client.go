// Package databricks audits workspace personal access tokens through the SDK
// and failed API activity through the system.access.audit table.
package databricks

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/apierr"
	"github.com/databricks/databricks-sdk-go/service/settings"
	_ "github.com/databricks/databricks-sql-go"
	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

const Slug = "databricks"

type Config struct {
	// Host is the workspace URL, e.g. https://dbc-1234.cloud.databricks.com.
	Host  string
	Token string
	// HTTPPath is the SQL warehouse path used for audit-events, e.g. /sql/1.0/warehouses/abc.
	HTTPPath string
	// Lookback bounds audit-events to recent activity.
	Lookback time.Duration
}

// ConfigFromEnv reads DATABRICKS_HOST, DATABRICKS_TOKEN and DATABRICKS_HTTP_PATH.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:     vendors.Env("DATABRICKS_HOST"),
		Token:    vendors.Env("DATABRICKS_TOKEN"),
		HTTPPath: vendors.Env("DATABRICKS_HTTP_PATH", "DATABRICKS_WAREHOUSE_PATH"),
		Lookback: 24 * time.Hour,
	}
	if cfg.Host == "" || cfg.Token == "" {
		return cfg, vendors.MissingCredential(Slug, "DATABRICKS_HOST", "DATABRICKS_TOKEN")
	}
	return cfg, nil
}

// tokenLister is the slice of the SDK token-management API the fetcher needs.
type tokenLister interface {
	ListAll(ctx context.Context, request settings.ListTokenManagementRequest) ([]settings.TokenInfo, error)
}

type Client struct {
	tokens   tokenLister
	db       *sql.DB
	lookback time.Duration
	clock    func() time.Time
}

// NewClient builds the SDK workspace client and, when HTTPPath is set, a
// databricks-sql-go connection pool for the audit table.
func NewClient(cfg Config) (*Client, error) {
	w, err := databricks.NewWorkspaceClient(&databricks.Config{
		Host:  cfg.Host,
		Token: cfg.Token,
	})
	if err != nil {
		return nil, &vendors.AuthError{Vendor: Slug, Err: err}
	}
	var db *sql.DB
	if cfg.HTTPPath != "" {
		host := strings.TrimPrefix(strings.TrimPrefix(cfg.Host, "https://"), "http://")
		dsn := fmt.Sprintf("token:%s@%s%s", cfg.Token, strings.TrimRight(host, "/"), cfg.HTTPPath)
		if db, err = sql.Open("databricks", dsn); err != nil {
			return nil, fmt.Errorf("databricks: open sql warehouse: %w", err)
		}
	}
	return newClient(w.TokenManagement, db, cfg.Lookback), nil
}

func newClient(tokens tokenLister, db *sql.DB, lookback time.Duration) *Client {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Client{tokens: tokens, db: db, lookback: lookback, clock: time.Now}
}

// Close releases the SQL connection pool.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindTokens, resource.KindAuditEvents}
}

func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	switch kind {
	case resource.KindTokens:
		return c.fetchTokens(ctx)
	case resource.KindAuditEvents:
		return c.fetchAuditEvents(ctx)
	default:
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
}

func (c *Client) fetchTokens(ctx context.Context) ([]resource.Record, error) {
	infos, err := c.tokens.ListAll(ctx, settings.ListTokenManagementRequest{})
	if err != nil {
		return nil, mapAPIError(err)
	}
	dec := resource.NewDecoder(Slug, resource.KindTokens)
	out := make([]resource.Record, 0, len(infos))
	for i, ti := range infos {
		dec.At(i)
		name := ti.Comment
		if name == "" {
			name = ti.CreatedByUsername + "/" + ti.TokenId
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      resource.KindTokens,
			ID:        dec.Require("token_id", ti.TokenId),
			Name:      name,
			CreatedAt: dec.Unix("creation_time", ti.CreationTime, true),
			Attributes: map[string]any{
				"owner":       ti.CreatedByUsername,
				"owner_id":    ti.OwnerId,
				"expiry_time": ti.ExpiryTime,
				"has_expiry":  ti.ExpiryTime > 0,
			},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// mapAPIError folds SDK errors into the vendor taxonomy.
func mapAPIError(err error) error {
	var apiErr *apierr.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &vendors.TransientError{Vendor: Slug, Err: err}
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return &vendors.AuthError{Vendor: Slug, Status: apiErr.StatusCode, Err: err}
	case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
		return &vendors.TransientError{Vendor: Slug, Status: apiErr.StatusCode, Err: err}
	default:
		return &vendors.StatusError{Vendor: Slug, Method: http.MethodGet, URL: "token-management", Status: apiErr.StatusCode, Body: apiErr.Message}
	}
}

// auditQuery selects failed requests from the audit system table.
const auditQuery = `SELECT request_id, event_time, user_identity.email AS email, service_name, action_name,
  response.status_code AS status_code, source_ip_address
FROM system.access.audit
WHERE event_time >= ? AND response.status_code >= 400
ORDER BY event_time`

func (c *Client) fetchAuditEvents(ctx context.Context) ([]resource.Record, error) {
	if c.db == nil {
		return nil, errors.New("databricks: audit-events needs a SQL warehouse (set DATABRICKS_HTTP_PATH)")
	}
	since := c.clock().Add(-c.lookback).UTC()
	rows, err := c.db.QueryContext(ctx, auditQuery, since)
	if err != nil {
		return nil, classifySQL(err)
	}
	defer rows.Close()

	dec := resource.NewDecoder(Slug, resource.KindAuditEvents)
	var out []resource.Record
	for rows.Next() {
		var (
			requestID, service, action sql.NullString
			email, sourceIP            sql.NullString
			eventTime                  sql.NullTime
			status                     sql.NullInt64
		)
		if err := rows.Scan(&requestID, &eventTime, &email, &service, &action, &status, &sourceIP); err != nil {
			return nil, resource.ShapeError(Slug, resource.KindAuditEvents, "unexpected audit row", err)
		}
		dec.At(len(out))
		if !eventTime.Valid {
			dec.Fail("event_time", "missing required timestamp")
		}
		id := requestID.String
		if id == "" {
			id = strconv.Itoa(len(out))
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      resource.KindAuditEvents,
			ID:        id,
			Name:      email.String,
			CreatedAt: resource.TimePtr(eventTime.Time),
			Attributes: map[string]any{
				"email":             email.String,
				"service_name":      service.String,
				"action_name":       action.String,
				"status_code":       status.Int64,
				"source_ip_address": sourceIP.String,
			},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQL(err)
	}
	return out, nil
}

func classifySQL(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "permission_denied"):
		return &vendors.AuthError{Vendor: Slug, Err: err}
	case errors.Is(err, driver.ErrBadConn), strings.Contains(msg, "429"), strings.Contains(msg, "timeout"):
		return &vendors.TransientError{Vendor: Slug, Err: err}
	default:
		return fmt.Errorf("databricks: query audit table: %w", err)
	}
}
