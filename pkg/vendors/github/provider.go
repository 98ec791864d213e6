// Package github implements the GitHub pack provider and the organization
// credential and repository fetchers.
package github

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/howtoharden/hth/pkg/vendors"
)

const Slug = "github"

const DefaultBaseURL = "https://api.github.com"

type Config struct {
	BaseURL string
	Token   string
	Org     string
}

// ConfigFromEnv reads GITHUB_TOKEN (or GH_TOKEN) and GITHUB_ORG (or GH_ORG).
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL: vendors.EnvOr(DefaultBaseURL, "GITHUB_API_URL"),
		Token:   vendors.Env("GITHUB_TOKEN", "GH_TOKEN"),
		Org:     vendors.Env("GITHUB_ORG", "GH_ORG"),
	}
	if cfg.Token == "" {
		return cfg, vendors.MissingCredential(Slug, "GITHUB_TOKEN", "GH_TOKEN")
	}
	if cfg.Org == "" {
		return cfg, vendors.MissingCredential(Slug, "GITHUB_ORG", "GH_ORG")
	}
	return cfg, nil
}

// Client is both the pack Provider and the audit Fetcher for one organization.
type Client struct {
	rest *vendors.Client
	org  string
}

func NewClient(cfg Config, opts ...vendors.ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	opts = append([]vendors.ClientOption{
		vendors.WithBearer(cfg.Token),
		vendors.WithHeader("Accept", "application/vnd.github+json"),
		vendors.WithHeader("X-GitHub-Api-Version", "2022-11-28"),
		vendors.WithClassifier(classify),
	}, opts...)
	rest, err := vendors.NewClient(Slug, cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{rest: rest, org: cfg.Org}, nil
}

// classify separates secondary rate limits from real permission failures:
// GitHub answers both with 403, but only the former drains X-RateLimit-Remaining.
func classify(resp *vendors.Response) error {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return nil
	}
	retry := vendors.RetryAfter(resp.Header, 0)
	if retry == 0 {
		retry = 60 * time.Second
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			if d := time.Until(time.Unix(reset, 0)); d > 0 {
				retry = d.Round(time.Second)
			}
		}
	}
	return &vendors.TransientError{Vendor: Slug, Status: resp.StatusCode, RetryAfter: retry}
}

func (c *Client) Slug() string        { return Slug }
func (c *Client) DisplayName() string { return "GitHub" }

// Org is the organization under audit.
func (c *Client) Org() string { return c.org }

// ResolveEndpoint substitutes the {org} placeholder.
func (c *Client) ResolveEndpoint(endpoint string) string {
	return strings.ReplaceAll(endpoint, "{org}", c.org)
}

// notFound is what a 404 without a JSON body evaluates to.
var notFound = map[string]any{"message": "Not Found", "status": "404"}

// Execute calls endpoint and returns the decoded body. GitHub reports many
// "not configured" states (an unprotected branch, no analysis) as 404, so a
// 404 is returned as data for checks to evaluate rather than as an error.
// 204 yields nil.
func (c *Client) Execute(ctx context.Context, method, endpoint string, body any) (any, error) {
	resp, err := c.rest.Do(ctx, vendors.Request{Method: method, Path: c.ResolveEndpoint(endpoint), Body: body})
	if err != nil {
		var se *vendors.StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound && resp != nil {
			if v, jerr := resp.JSON(); jerr == nil && v != nil {
				return v, nil
			}
			return notFound, nil
		}
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return resp.JSON()
}

func (c *Client) ValidateCredentials(ctx context.Context) error {
	_, err := c.rest.Do(ctx, vendors.Request{Method: http.MethodGet, Path: "/user"})
	return err
}

func (c *Client) Terraform() vendors.TerraformProvider {
	return vendors.TerraformProvider{
		Name:    "github",
		Source:  "integrations/github",
		Version: "~> 6.0",
		Variables: map[string]string{
			"owner": "github_org",
			"token": "github_token",
		},
	}
}
