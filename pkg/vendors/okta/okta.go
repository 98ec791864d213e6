// Package okta implements the Okta pack provider and the API token fetcher.
package okta

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

const Slug = "okta"

// defaultRetry applies when a 429 carries no X-Rate-Limit-Reset.
const defaultRetry = 5 * time.Second

type Config struct {
	// Domain is the org host, e.g. acme.okta.com. A scheme may be included.
	Domain string
	Token  string
}

// ConfigFromEnv reads OKTA_DOMAIN and OKTA_API_TOKEN.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Domain: vendors.Env("OKTA_DOMAIN", "OKTA_ORG_URL"),
		Token:  vendors.Env("OKTA_API_TOKEN", "OKTA_TOKEN"),
	}
	if cfg.Domain == "" {
		return cfg, vendors.MissingCredential(Slug, "OKTA_DOMAIN")
	}
	if cfg.Token == "" {
		return cfg, vendors.MissingCredential(Slug, "OKTA_API_TOKEN")
	}
	return cfg, nil
}

// BaseURL turns a bare domain into https://domain.
func (c Config) BaseURL() string {
	if strings.HasPrefix(c.Domain, "http://") || strings.HasPrefix(c.Domain, "https://") {
		return c.Domain
	}
	return "https://" + c.Domain
}

type Client struct {
	rest  *vendors.Client
	clock func() time.Time
}

func NewClient(cfg Config, opts ...vendors.ClientOption) (*Client, error) {
	c := &Client{clock: time.Now}
	opts = append([]vendors.ClientOption{
		vendors.WithHeader("Authorization", "SSWS "+cfg.Token),
		vendors.WithClassifier(c.classify),
	}, opts...)
	rest, err := vendors.NewClient(Slug, cfg.BaseURL(), opts...)
	if err != nil {
		return nil, err
	}
	c.rest = rest
	return c, nil
}

// classify reads X-Rate-Limit-Reset, which Okta sends as a Unix epoch.
// Small values are treated as a delay in seconds.
func (c *Client) classify(resp *vendors.Response) error {
	if resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	return &vendors.TransientError{Vendor: Slug, Status: resp.StatusCode, RetryAfter: resetDelay(resp.Header.Get("X-Rate-Limit-Reset"), c.clock())}
}

func resetDelay(raw string, now time.Time) time.Duration {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return defaultRetry
	}
	if n > 1_000_000_000 {
		d := time.Unix(n, 0).Sub(now)
		if d <= 0 {
			return time.Second
		}
		return d.Round(time.Second)
	}
	return time.Duration(n) * time.Second
}

func (c *Client) Slug() string        { return Slug }
func (c *Client) DisplayName() string { return "Okta" }

func (c *Client) Execute(ctx context.Context, method, endpoint string, body any) (any, error) {
	resp, err := c.rest.Do(ctx, vendors.Request{Method: method, Path: endpoint, Body: body})
	if err != nil {
		return nil, err
	}
	return resp.JSON()
}

func (c *Client) ValidateCredentials(ctx context.Context) error {
	_, err := c.rest.Do(ctx, vendors.Request{Method: http.MethodGet, Path: "/api/v1/org"})
	return err
}

func (c *Client) Terraform() vendors.TerraformProvider {
	return vendors.TerraformProvider{
		Name:    "okta",
		Source:  "okta/okta",
		Version: "~> 4.0",
		Variables: map[string]string{
			"org_name":  "okta_org_name",
			"base_url":  "okta_base_url",
			"api_token": "okta_api_token",
		},
	}
}

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindAPITokens}
}

type apiToken struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	UserID     string `json:"userId"`
	ClientName string `json:"clientName"`
	Created    string `json:"created"`
	ExpiresAt  string `json:"expiresAt"`
	Network    struct {
		Connection string   `json:"connection"`
		Include    []string `json:"include"`
	} `json:"network"`
}

func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	if kind != resource.KindAPITokens {
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
	var items []apiToken
	if _, err := c.rest.GetJSON(ctx, kind, "/api/v1/api-tokens", url.Values{"limit": {"200"}}, &items); err != nil {
		return nil, err
	}
	dec := resource.NewDecoder(Slug, kind)
	out := make([]resource.Record, 0, len(items))
	for i, t := range items {
		dec.At(i)
		connection := t.Network.Connection
		if connection == "" {
			connection = "ANYWHERE"
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      kind,
			ID:        dec.Require("id", t.ID),
			Name:      t.Name,
			CreatedAt: dec.Time("created", t.Created),
			Attributes: map[string]any{
				"user_id":            t.UserID,
				"client_name":        t.ClientName,
				"expires_at":         t.ExpiresAt,
				"network_connection": connection,
				"network_zones":      len(t.Network.Include),
			},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
