// Package crowdstrike audits Falcon API clients, sensor hosts and API audit events.
package crowdstrike

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

const Slug = "crowdstrike"

const DefaultBaseURL = "https://api.crowdstrike.com"

// DangerousScopes are the write scopes that can change sensor behaviour fleet-wide.
var DangerousScopes = []string{
	"hosts:write",
	"sensor-update-policies:write",
	"prevention-policies:write",
	"user-management:write",
}

const (
	clientsPath     = "/oauth2/entities/clients/v1"
	hostsScrollPath = "/devices/queries/devices-scroll/v1"
	hostsEntityPath = "/devices/entities/devices/v2"
	auditEventsPath = "/audit-events/entities/events/v1"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// HostGroup limits the hosts kind to one group, e.g. the canary group.
	HostGroup string
	// AuditFilter is the FQL filter applied to audit events.
	AuditFilter string
}

// ConfigFromEnv reads CS_CLIENT_ID, CS_CLIENT_SECRET and optionally CS_BASE_URL
// and CS_HOST_GROUP.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:      vendors.EnvOr(DefaultBaseURL, "CS_BASE_URL"),
		ClientID:     vendors.Env("CS_CLIENT_ID"),
		ClientSecret: vendors.Env("CS_CLIENT_SECRET"),
		HostGroup:    vendors.Env("CS_HOST_GROUP"),
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return cfg, vendors.MissingCredential(Slug, "CS_CLIENT_ID", "CS_CLIENT_SECRET")
	}
	return cfg, nil
}

type Client struct {
	rest *vendors.Client
	cfg  Config
}

// NewClient authenticates with the OAuth2 client-credentials flow against
// <BaseURL>/oauth2/token. The token is fetched lazily on the first call.
func NewClient(ctx context.Context, cfg Config, opts ...vendors.ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuditFilter == "" {
		cfg.AuditFilter = "service_name:'hosts'+action:'query'"
	}
	base, err := vendors.NewClient(Slug, cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	httpClient := vendors.ClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret,
		strings.TrimRight(cfg.BaseURL, "/")+"/oauth2/token", base.HTTP)
	opts = append(opts, vendors.WithHTTPClient(httpClient))
	rest, err := vendors.NewClient(Slug, cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{rest: rest, cfg: cfg}, nil
}

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindAPIClients, resource.KindHosts, resource.KindAuditEvents}
}

// envelope is the common Falcon response body.
type envelope[T any] struct {
	Resources []T `json:"resources"`
	Errors    []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	switch kind {
	case resource.KindAPIClients:
		return c.apiClients(ctx)
	case resource.KindHosts:
		return c.hosts(ctx)
	case resource.KindAuditEvents:
		return c.auditEvents(ctx)
	default:
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
}

type apiClient struct {
	ClientID         string   `json:"client_id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Scopes           []string `json:"scopes"`
	CreatedTimestamp string   `json:"created_timestamp"`
}

func (c *Client) apiClients(ctx context.Context) ([]resource.Record, error) {
	var body envelope[apiClient]
	if _, err := c.rest.GetJSON(ctx, resource.KindAPIClients, clientsPath, nil, &body); err != nil {
		return nil, err
	}
	dec := resource.NewDecoder(Slug, resource.KindAPIClients)
	out := make([]resource.Record, 0, len(body.Resources))
	for i, ac := range body.Resources {
		dec.At(i)
		rec := resource.Record{
			Vendor:     Slug,
			Kind:       resource.KindAPIClients,
			ID:         dec.Require("client_id", ac.ClientID),
			Name:       dec.Require("name", ac.Name),
			CreatedAt:  dec.Time("created_timestamp", ac.CreatedTimestamp),
			Scopes:     ac.Scopes,
			Attributes: map[string]any{"description": ac.Description},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type device struct {
	DeviceID      string `json:"device_id"`
	Hostname      string `json:"hostname"`
	LastSeen      string `json:"last_seen"`
	FirstSeen     string `json:"first_seen"`
	AgentVersion  string `json:"agent_version"`
	PlatformName  string `json:"platform_name"`
	Status        string `json:"status"`
	ReducedFnMode string `json:"reduced_functionality_mode"`
}

func (c *Client) hosts(ctx context.Context) ([]resource.Record, error) {
	q := url.Values{"limit": {"5000"}}
	if c.cfg.HostGroup != "" {
		q.Set("filter", "groups:'"+c.cfg.HostGroup+"'")
	}
	var ids envelope[string]
	if _, err := c.rest.GetJSON(ctx, resource.KindHosts, hostsScrollPath, q, &ids); err != nil {
		return nil, err
	}
	if len(ids.Resources) == 0 {
		return nil, nil
	}

	var body envelope[device]
	if _, err := c.rest.GetJSON(ctx, resource.KindHosts, hostsEntityPath, url.Values{"ids": ids.Resources}, &body); err != nil {
		return nil, err
	}
	dec := resource.NewDecoder(Slug, resource.KindHosts)
	out := make([]resource.Record, 0, len(body.Resources))
	for i, d := range body.Resources {
		dec.At(i)
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      resource.KindHosts,
			ID:        dec.Require("device_id", d.DeviceID),
			Name:      d.Hostname,
			CreatedAt: dec.OptionalTime("first_seen", d.FirstSeen),
			LastSeen:  dec.OptionalTime("last_seen", d.LastSeen),
			Attributes: map[string]any{
				"agent_version":              d.AgentVersion,
				"platform":                   d.PlatformName,
				"status":                     d.Status,
				"reduced_functionality_mode": d.ReducedFnMode,
			},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type auditEvent struct {
	ID             string         `json:"id"`
	Timestamp      string         `json:"timestamp"`
	ServiceName    string         `json:"service_name"`
	Action         string         `json:"action"`
	AuditKeyValues map[string]any `json:"audit_key_values"`
}

func (c *Client) auditEvents(ctx context.Context) ([]resource.Record, error) {
	q := url.Values{"filter": {c.cfg.AuditFilter}}
	var body envelope[auditEvent]
	if _, err := c.rest.GetJSON(ctx, resource.KindAuditEvents, auditEventsPath, q, &body); err != nil {
		return nil, err
	}
	dec := resource.NewDecoder(Slug, resource.KindAuditEvents)
	out := make([]resource.Record, 0, len(body.Resources))
	for i, ev := range body.Resources {
		dec.At(i)
		id := ev.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		attrs := map[string]any{
			"service_name": ev.ServiceName,
			"action":       ev.Action,
			"client_id":    "",
		}
		if cid, ok := ev.AuditKeyValues["client_id"].(string); ok {
			attrs["client_id"] = cid
		}
		rec := resource.Record{
			Vendor:     Slug,
			Kind:       resource.KindAuditEvents,
			ID:         id,
			CreatedAt:  dec.Time("timestamp", ev.Timestamp),
			Attributes: attrs,
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
