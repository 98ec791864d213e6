// Package slack audits Slack Enterprise Grid app approvals, SCIM users and audit logs.
package slack

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

const Slug = "slack"

const (
	DefaultBaseURL  = "https://slack.com"
	DefaultAuditURL = "https://api.slack.com"
)

// BroadScopes let an app read or act across the whole workspace.
var BroadScopes = []string{
	"admin",
	"admin.*",
	"channels:history",
	"groups:history",
	"im:history",
	"mpim:history",
	"files:read",
	"users:read.email",
	"chat:write.customize",
}

type Config struct {
	BaseURL  string
	AuditURL string
	// Token is an org-level user token (xoxp-) with admin scopes.
	Token string
	// AuditAction filters audit-logs, e.g. "user_login_failed".
	AuditAction string
	// AuditSince bounds audit-logs to events newer than now minus AuditSince.
	AuditSince time.Duration
}

// ConfigFromEnv reads SLACK_ADMIN_TOKEN (or SLACK_TOKEN).
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:     vendors.EnvOr(DefaultBaseURL, "SLACK_BASE_URL"),
		AuditURL:    vendors.EnvOr(DefaultAuditURL, "SLACK_AUDIT_URL"),
		Token:       vendors.Env("SLACK_ADMIN_TOKEN", "SLACK_TOKEN"),
		AuditAction: "user_login_failed",
		AuditSince:  24 * time.Hour,
	}
	if cfg.Token == "" {
		return cfg, vendors.MissingCredential(Slug, "SLACK_ADMIN_TOKEN")
	}
	return cfg, nil
}

type Client struct {
	web   *vendors.Client
	audit *vendors.Client
	cfg   Config
	clock func() time.Time
}

func NewClient(cfg Config, opts ...vendors.ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuditURL == "" {
		cfg.AuditURL = DefaultAuditURL
	}
	opts = append([]vendors.ClientOption{vendors.WithBearer(cfg.Token), vendors.WithClassifier(classify)}, opts...)
	web, err := vendors.NewClient(Slug, cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	audit, err := vendors.NewClient(Slug, cfg.AuditURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{web: web, audit: audit, cfg: cfg, clock: time.Now}, nil
}

// classify handles Web API failures, which arrive as HTTP 200 with ok:false.
func classify(resp *vendors.Response) error {
	if resp.StatusCode != 200 {
		return nil
	}
	var head struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &head); err != nil || head.OK == nil || *head.OK {
		return nil
	}
	switch head.Error {
	case "invalid_auth", "not_authed", "token_revoked", "token_expired", "account_inactive", "not_allowed_token_type", "missing_scope":
		return &vendors.AuthError{Vendor: Slug, Status: resp.StatusCode, Err: errorString(head.Error)}
	case "ratelimited":
		return &vendors.TransientError{Vendor: Slug, Status: resp.StatusCode,
			RetryAfter: vendors.RetryAfter(resp.Header, 30*time.Second), Err: errorString(head.Error)}
	default:
		return &vendors.StatusError{Vendor: Slug, Method: resp.Method, URL: resp.URL, Status: resp.StatusCode, Body: head.Error}
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindApprovedApps, resource.KindRestrictedApps, resource.KindSCIMUsers, resource.KindAuditLogs}
}

func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	switch kind {
	case resource.KindApprovedApps:
		return c.apps(ctx, kind, "/api/admin.apps.approved.list", "approved_apps")
	case resource.KindRestrictedApps:
		return c.apps(ctx, kind, "/api/admin.apps.restricted.list", "restricted_apps")
	case resource.KindSCIMUsers:
		return c.scimUsers(ctx)
	case resource.KindAuditLogs:
		return c.auditLogs(ctx)
	default:
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
}

type appEntry struct {
	App struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"app"`
	Scopes []struct {
		Name string `json:"name"`
	} `json:"scopes"`
	DateUpdated int64 `json:"date_updated"`
	LastResolvedBy struct {
		ActorID string `json:"actor_id"`
	} `json:"last_resolved_by"`
}

func (c *Client) apps(ctx context.Context, kind resource.Kind, path, field string) ([]resource.Record, error) {
	var body map[string]json.RawMessage
	if _, err := c.web.GetJSON(ctx, kind, path, url.Values{"limit": {"1000"}}, &body); err != nil {
		return nil, err
	}
	raw, ok := body[field]
	if !ok {
		return nil, resource.ShapeError(Slug, kind, "response has no "+field, nil)
	}
	var entries []appEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, resource.ShapeError(Slug, kind, field+" is not a list of apps", err)
	}

	dec := resource.NewDecoder(Slug, kind)
	out := make([]resource.Record, 0, len(entries))
	for i, e := range entries {
		dec.At(i)
		scopes := make([]string, 0, len(e.Scopes))
		for _, s := range e.Scopes {
			scopes = append(scopes, s.Name)
		}
		rec := resource.Record{
			Vendor:     Slug,
			Kind:       kind,
			ID:         dec.Require("app.id", e.App.ID),
			Name:       e.App.Name,
			CreatedAt:  dec.Unix("date_updated", e.DateUpdated, false),
			Scopes:     scopes,
			Attributes: map[string]any{"resolved_by": e.LastResolvedBy.ActorID},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type scimUser struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Active   *bool  `json:"active"`
	Meta     struct {
		Created string `json:"created"`
	} `json:"meta"`
}

func (c *Client) scimUsers(ctx context.Context) ([]resource.Record, error) {
	var body struct {
		Resources []scimUser `json:"Resources"`
	}
	q := url.Values{"count": {"1000"}}
	if _, err := c.web.GetJSON(ctx, resource.KindSCIMUsers, "/scim/v1/Users", q, &body); err != nil {
		return nil, err
	}
	dec := resource.NewDecoder(Slug, resource.KindSCIMUsers)
	out := make([]resource.Record, 0, len(body.Resources))
	for i, u := range body.Resources {
		dec.At(i)
		if u.Active == nil {
			dec.Fail("active", "missing required field")
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      resource.KindSCIMUsers,
			ID:        dec.Require("id", u.ID),
			Name:      dec.Require("userName", u.UserName),
			CreatedAt: dec.OptionalTime("meta.created", u.Meta.Created),
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		rec.Attributes = map[string]any{"active": *u.Active}
		out = append(out, rec)
	}
	return out, nil
}

type auditEntry struct {
	ID         string `json:"id"`
	DateCreate int64  `json:"date_create"`
	Action     string `json:"action"`
	Actor      struct {
		Type string `json:"type"`
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	} `json:"actor"`
	Context struct {
		IPAddress string `json:"ip_address"`
	} `json:"context"`
}

func (c *Client) auditLogs(ctx context.Context) ([]resource.Record, error) {
	q := url.Values{"limit": {"1000"}}
	if c.cfg.AuditAction != "" {
		q.Set("action", c.cfg.AuditAction)
	}
	if c.cfg.AuditSince > 0 {
		q.Set("oldest", strconv.FormatInt(c.clock().Add(-c.cfg.AuditSince).Unix(), 10))
	}
	var body struct {
		Entries []auditEntry `json:"entries"`
	}
	if _, err := c.audit.GetJSON(ctx, resource.KindAuditLogs, "/audit/v1/logs", q, &body); err != nil {
		return nil, err
	}
	dec := resource.NewDecoder(Slug, resource.KindAuditLogs)
	out := make([]resource.Record, 0, len(body.Entries))
	for i, e := range body.Entries {
		dec.At(i)
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      resource.KindAuditLogs,
			ID:        dec.Require("id", e.ID),
			Name:      e.Actor.User.Email,
			CreatedAt: dec.Unix("date_create", e.DateCreate, true),
			Attributes: map[string]any{
				"action":      e.Action,
				"actor_email": e.Actor.User.Email,
				"actor_id":    e.Actor.User.ID,
				"ip_address":  e.Context.IPAddress,
			},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
