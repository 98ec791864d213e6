// Package googleworkspace audits Google Workspace users and third-party OAuth grants
// through the Admin SDK Directory API with a domain-wide delegated service account.
package googleworkspace

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const Slug = "googleworkspace"

const DefaultBaseURL = "https://admin.googleapis.com"

// Scopes requested for the delegated service account.
var Scopes = []string{
	"https://www.googleapis.com/auth/admin.directory.user.readonly",
	"https://www.googleapis.com/auth/admin.directory.user.security",
}

// DangerousScopes grant mailbox, drive or admin-wide access to a third-party app.
var DangerousScopes = []string{
	"https://mail.google.com/",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/admin.directory.*",
	"https://www.googleapis.com/auth/cloud-platform",
}

type Config struct {
	BaseURL string
	// CredentialsJSON is the service account key file content.
	CredentialsJSON []byte
	// AdminEmail is the super admin impersonated through domain-wide delegation.
	AdminEmail string
	Customer   string
	// MaxUsers caps the users listed per request.
	MaxUsers int
}

// ConfigFromEnv reads GOOGLE_APPLICATION_CREDENTIALS and GOOGLE_ADMIN_EMAIL.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:    vendors.EnvOr(DefaultBaseURL, "GOOGLE_ADMIN_BASE_URL"),
		AdminEmail: vendors.Env("GOOGLE_ADMIN_EMAIL", "GWS_ADMIN_EMAIL"),
		Customer:   vendors.EnvOr("my_customer", "GOOGLE_CUSTOMER_ID"),
	}
	path := vendors.Env("GOOGLE_APPLICATION_CREDENTIALS")
	if path == "" || cfg.AdminEmail == "" {
		return cfg, vendors.MissingCredential(Slug, "GOOGLE_APPLICATION_CREDENTIALS", "GOOGLE_ADMIN_EMAIL")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &vendors.AuthError{Vendor: Slug, Err: fmt.Errorf("read service account key: %w", err)}
	}
	cfg.CredentialsJSON = data
	return cfg, nil
}

type Client struct {
	rest *vendors.Client
	cfg  Config
}

// NewClient builds a delegated JWT client. The token is exchanged lazily.
func NewClient(ctx context.Context, cfg Config, opts ...vendors.ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Customer == "" {
		cfg.Customer = "my_customer"
	}
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 100
	}
	jwt, err := google.JWTConfigFromJSON(cfg.CredentialsJSON, Scopes...)
	if err != nil {
		return nil, &vendors.AuthError{Vendor: Slug, Err: fmt.Errorf("parse service account key: %w", err)}
	}
	jwt.Subject = cfg.AdminEmail

	base, err := vendors.NewClient(Slug, cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	httpClient := jwt.Client(context.WithValue(ctx, oauth2.HTTPClient, base.HTTP))
	httpClient.Timeout = vendors.DefaultTimeout

	rest, err := vendors.NewClient(Slug, cfg.BaseURL, append(opts, vendors.WithHTTPClient(httpClient))...)
	if err != nil {
		return nil, err
	}
	return &Client{rest: rest, cfg: cfg}, nil
}

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindUsers, resource.KindTokens}
}

func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	switch kind {
	case resource.KindUsers:
		users, err := c.listUsers(ctx)
		if err != nil {
			return nil, err
		}
		return usersToRecords(users)
	case resource.KindTokens:
		return c.tokens(ctx)
	default:
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
}

type user struct {
	ID              string `json:"id"`
	PrimaryEmail    string `json:"primaryEmail"`
	IsEnrolledIn2Sv *bool  `json:"isEnrolledIn2Sv"`
	IsEnforcedIn2Sv *bool  `json:"isEnforcedIn2Sv"`
	IsAdmin         bool   `json:"isAdmin"`
	Suspended       bool   `json:"suspended"`
	CreationTime    string `json:"creationTime"`
	LastLoginTime   string `json:"lastLoginTime"`
}

func (c *Client) listUsers(ctx context.Context) ([]user, error) {
	q := url.Values{
		"customer":   {c.cfg.Customer},
		"maxResults": {fmt.Sprint(c.cfg.MaxUsers)},
		"projection": {"full"},
	}
	var body struct {
		Users []user `json:"users"`
	}
	if _, err := c.rest.GetJSON(ctx, resource.KindUsers, "/admin/directory/v1/users", q, &body); err != nil {
		return nil, err
	}
	return body.Users, nil
}

// neverLoggedIn is what the Directory API reports for lastLoginTime before a first login.
const neverLoggedIn = "1970-01-01T00:00:00.000Z"

func usersToRecords(users []user) ([]resource.Record, error) {
	dec := resource.NewDecoder(Slug, resource.KindUsers)
	out := make([]resource.Record, 0, len(users))
	for i, u := range users {
		dec.At(i)
		if u.IsEnrolledIn2Sv == nil {
			dec.Fail("isEnrolledIn2Sv", "missing required field (projection=full)")
		}
		last := u.LastLoginTime
		if last == neverLoggedIn {
			last = ""
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      resource.KindUsers,
			ID:        dec.Require("id", u.ID),
			Name:      dec.Require("primaryEmail", u.PrimaryEmail),
			CreatedAt: dec.OptionalTime("creationTime", u.CreationTime),
			LastUsed:  dec.OptionalTime("lastLoginTime", last),
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		enforced := u.IsEnforcedIn2Sv != nil && *u.IsEnforcedIn2Sv
		rec.Attributes = map[string]any{
			"is_enrolled_in_2sv": *u.IsEnrolledIn2Sv,
			"is_enforced_in_2sv": enforced,
			"is_admin":           u.IsAdmin,
			"suspended":          u.Suspended,
		}
		out = append(out, rec)
	}
	return out, nil
}

type token struct {
	ClientID    string   `json:"clientId"`
	DisplayText string   `json:"displayText"`
	Scopes      []string `json:"scopes"`
	NativeApp   bool     `json:"nativeApp"`
	Anonymous   bool     `json:"anonymous"`
}

// tokens lists OAuth grants for every active user.
func (c *Client) tokens(ctx context.Context) ([]resource.Record, error) {
	users, err := c.listUsers(ctx)
	if err != nil {
		return nil, err
	}
	dec := resource.NewDecoder(Slug, resource.KindTokens)
	var out []resource.Record
	for _, u := range users {
		if u.Suspended || u.PrimaryEmail == "" {
			continue
		}
		var body struct {
			Items []token `json:"items"`
		}
		path := "/admin/directory/v1/users/" + url.PathEscape(u.PrimaryEmail) + "/tokens"
		if _, err := c.rest.GetJSON(ctx, resource.KindTokens, path, nil, &body); err != nil {
			return nil, err
		}
		for _, t := range body.Items {
			dec.At(len(out))
			rec := resource.Record{
				Vendor: Slug,
				Kind:   resource.KindTokens,
				ID:     u.PrimaryEmail + "/" + dec.Require("clientId", t.ClientID),
				Name:   fmt.Sprintf("%s (%s)", t.DisplayText, u.PrimaryEmail),
				Scopes: t.Scopes,
				Attributes: map[string]any{
					"user":       u.PrimaryEmail,
					"client_id":  t.ClientID,
					"app":        t.DisplayText,
					"native_app": t.NativeApp,
					"anonymous":  t.Anonymous,
				},
			}
			if err := dec.Err(); err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}
