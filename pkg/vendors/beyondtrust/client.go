// Package beyondtrust audits BeyondTrust API keys.
package beyondtrust

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

const Slug = "beyondtrust"

// KeyLifetime is how long a rotated key stays valid.
const KeyLifetime = 90 * 24 * time.Hour

type Config struct {
	// Host is the appliance base URL, e.g. https://beyondtrust.company.com.
	Host       string
	AdminToken string
}

// ConfigFromEnv reads BT_API_HOST and BT_API_KEY.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:       vendors.Env("BT_API_HOST", "BEYONDTRUST_HOST"),
		AdminToken: vendors.Env("BT_API_KEY", "BEYONDTRUST_TOKEN"),
	}
	if cfg.Host == "" {
		return cfg, vendors.MissingCredential(Slug, "BT_API_HOST")
	}
	if cfg.AdminToken == "" {
		return cfg, vendors.MissingCredential(Slug, "BT_API_KEY")
	}
	return cfg, nil
}

// Client reads and rotates API keys.
type Client struct {
	rest  *vendors.Client
	clock func() time.Time
}

// NewClient creates a client from cfg.
func NewClient(cfg Config, opts ...vendors.ClientOption) (*Client, error) {
	opts = append([]vendors.ClientOption{vendors.WithBearer(cfg.AdminToken)}, opts...)
	rest, err := vendors.NewClient(Slug, cfg.Host, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{rest: rest, clock: time.Now}, nil
}

// Kinds lists the resource kinds served by Fetch.
func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindAPIKeys}
}

type apiKey struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	CreatedAt  string   `json:"createdAt"`
	ExpiresAt  string   `json:"expiresAt"`
	LastUsed   string   `json:"lastUsed"`
	AllowedIPs []string `json:"allowedIps"`
}

// Fetch implements audit.Fetcher.
func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	if kind != resource.KindAPIKeys {
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}

	var keys []apiKey
	if _, err := c.rest.GetJSON(ctx, kind, "/api/config/api-keys", nil, &keys); err != nil {
		return nil, err
	}

	records := make([]resource.Record, 0, len(keys))
	dec := resource.NewDecoder(Slug, kind)
	for i, k := range keys {
		dec.At(i)
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      kind,
			ID:        dec.Require("id", k.ID),
			Name:      dec.Require("name", k.Name),
			CreatedAt: dec.Time("createdAt", k.CreatedAt),
			LastUsed:  dec.OptionalTime("lastUsed", k.LastUsed),
			Attributes: map[string]any{
				"allowed_ips": toAny(k.AllowedIPs),
				"expires_at":  k.ExpiresAt,
			},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// NewKey is the response to a key creation. APIKey is only returned once.
type NewKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	APIKey    string `json:"apiKey"`
	ExpiresAt string `json:"expiresAt"`
}

// Rotate creates a replacement for keyID, restricted to allowedIPs and
// valid for KeyLifetime, then revokes the old key. The old key is left in
// place when creation fails.
func (c *Client) Rotate(ctx context.Context, keyID, name string, allowedIPs []string) (*NewKey, error) {
	now := c.clock()
	resp, err := c.rest.Do(ctx, vendors.Request{
		Method: http.MethodPost,
		Path:   "/api/config/api-keys",
		Body: map[string]any{
			"name":       fmt.Sprintf("%s-%s", name, now.Format("20060102")),
			"allowedIps": allowedIPs,
			"expiresAt":  now.Add(KeyLifetime).UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create replacement key: %w", err)
	}
	var created NewKey
	if err := resp.Decode(Slug, resource.KindAPIKeys, &created); err != nil {
		return nil, err
	}
	if created.APIKey == "" {
		return nil, resource.ShapeError(Slug, resource.KindAPIKeys, "created key has no apiKey", nil)
	}

	if _, err := c.rest.Do(ctx, vendors.Request{
		Method: http.MethodDelete,
		Path:   "/api/config/api-keys/" + url.PathEscape(keyID),
	}); err != nil {
		return &created, fmt.Errorf("replacement %s created but revoking %s failed: %w", created.ID, keyID, err)
	}
	return &created, nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
