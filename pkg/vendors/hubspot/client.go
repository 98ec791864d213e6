// Package hubspot reports API rate-limit headroom for a HubSpot private app.
package hubspot

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

const Slug = "hubspot"

const DefaultBaseURL = "https://api.hubapi.com"

// limitsPath is a cheap authenticated call whose response carries the limit headers.
const limitsPath = "/account-info/v3/details"

const (
	headerMax            = "X-HubSpot-RateLimit-Max"
	headerRemaining      = "X-HubSpot-RateLimit-Remaining"
	headerDaily          = "X-HubSpot-RateLimit-Daily"
	headerDailyRemaining = "X-HubSpot-RateLimit-Daily-Remaining"
	headerInterval       = "X-HubSpot-RateLimit-Interval-Milliseconds"
)

type Config struct {
	BaseURL string
	Token   string
}

// ConfigFromEnv reads HUBSPOT_ACCESS_TOKEN.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL: vendors.EnvOr(DefaultBaseURL, "HUBSPOT_BASE_URL"),
		Token:   vendors.Env("HUBSPOT_ACCESS_TOKEN", "HUBSPOT_TOKEN"),
	}
	if cfg.Token == "" {
		return cfg, vendors.MissingCredential(Slug, "HUBSPOT_ACCESS_TOKEN")
	}
	return cfg, nil
}

type Client struct {
	rest  *vendors.Client
	clock func() time.Time
}

func NewClient(cfg Config, opts ...vendors.ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	opts = append([]vendors.ClientOption{vendors.WithBearer(cfg.Token), vendors.WithRateLimitDefault(10 * time.Second)}, opts...)
	rest, err := vendors.NewClient(Slug, cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{rest: rest, clock: time.Now}, nil
}

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindRateLimits}
}

// Fetch returns one record per limit window ("burst" and "daily") with
// remaining, max and percent_remaining attributes.
func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	if kind != resource.KindRateLimits {
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
	resp, err := c.rest.Do(ctx, vendors.Request{Method: http.MethodGet, Path: limitsPath})
	if err != nil {
		return nil, err
	}
	return LimitsFromHeader(resp.Header, c.clock())
}

// LimitsFromHeader turns the HubSpot rate-limit headers into records.
// A window whose headers are absent is omitted; a malformed value is a DataShapeError.
func LimitsFromHeader(h http.Header, at time.Time) ([]resource.Record, error) {
	dec := resource.NewDecoder(Slug, resource.KindRateLimits)
	var out []resource.Record
	windows := []struct {
		id, maxHeader, remainingHeader string
	}{
		{"burst", headerMax, headerRemaining},
		{"daily", headerDaily, headerDailyRemaining},
	}
	for i, w := range windows {
		dec.At(i)
		remainingRaw := h.Get(w.remainingHeader)
		if remainingRaw == "" {
			continue
		}
		remaining, err := strconv.Atoi(remainingRaw)
		if err != nil {
			dec.Fail(w.remainingHeader, "not an integer")
		}
		limit, _ := strconv.Atoi(h.Get(w.maxHeader))
		if err := dec.Err(); err != nil {
			return nil, err
		}
		percent := -1.0
		if limit > 0 {
			percent = float64(remaining) / float64(limit) * 100
		}
		attrs := map[string]any{
			"remaining":         remaining,
			"max":               limit,
			"percent_remaining": percent,
		}
		if w.id == "burst" {
			if ms, err := strconv.Atoi(h.Get(headerInterval)); err == nil {
				attrs["interval_ms"] = ms
			}
		}
		out = append(out, resource.Record{
			Vendor:     Slug,
			Kind:       resource.KindRateLimits,
			ID:         w.id,
			Name:       w.id + " rate limit",
			LastSeen:   resource.TimePtr(at),
			Attributes: attrs,
		})
	}
	return out, nil
}
