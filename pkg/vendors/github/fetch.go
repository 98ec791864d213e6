package github

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

// DangerousScopes are classic PAT and OAuth scopes with org-wide blast radius.
var DangerousScopes = []string{"admin:org", "delete_repo", "admin:enterprise"}

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindCredentialAuthorizations, resource.KindRepos}
}

func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	switch kind {
	case resource.KindCredentialAuthorizations:
		return c.credentialAuthorizations(ctx)
	case resource.KindRepos:
		return c.repos(ctx)
	default:
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
}

type credentialAuthorization struct {
	Login                  string   `json:"login"`
	CredentialID           int64    `json:"credential_id"`
	CredentialType         string   `json:"credential_type"`
	TokenLastEight         string   `json:"token_last_eight"`
	AuthorizedAt           string   `json:"credential_authorized_at"`
	AccessedAt             string   `json:"credential_accessed_at"`
	ExpiresAt              string   `json:"authorized_credential_expires_at"`
	Scopes                 []string `json:"scopes"`
	AuthorizedCredentialID int64    `json:"authorized_credential_id"`
}

// credentialAuthorizations lists the SAML SSO credential authorizations
// (PATs, SSH keys, OAuth tokens) granted to the organization.
func (c *Client) credentialAuthorizations(ctx context.Context) ([]resource.Record, error) {
	var items []credentialAuthorization
	path := "/orgs/" + url.PathEscape(c.org) + "/credential-authorizations"
	if _, err := c.rest.GetJSON(ctx, resource.KindCredentialAuthorizations, path, url.Values{"per_page": {"100"}}, &items); err != nil {
		return nil, err
	}
	dec := resource.NewDecoder(Slug, resource.KindCredentialAuthorizations)
	out := make([]resource.Record, 0, len(items))
	for i, it := range items {
		dec.At(i)
		if it.CredentialID == 0 {
			dec.Fail("credential_id", "missing required field")
		}
		name := dec.Require("login", it.Login) + " " + it.CredentialType
		if it.TokenLastEight != "" {
			name += " ..." + it.TokenLastEight
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      resource.KindCredentialAuthorizations,
			ID:        strconv.FormatInt(it.CredentialID, 10),
			Name:      name,
			CreatedAt: dec.Time("credential_authorized_at", it.AuthorizedAt),
			LastUsed:  dec.OptionalTime("credential_accessed_at", it.AccessedAt),
			Scopes:    it.Scopes,
			Attributes: map[string]any{
				"login":           it.Login,
				"credential_type": it.CredentialType,
				"expires_at":      it.ExpiresAt,
				"has_expiry":      it.ExpiresAt != "",
			},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type repo struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	Archived      bool   `json:"archived"`
	Visibility    string `json:"visibility"`
	CreatedAt     string `json:"created_at"`
	PushedAt      string `json:"pushed_at"`
}

// repos lists organization repositories and whether each default branch is protected.
// Archived repositories are read-only and skipped.
func (c *Client) repos(ctx context.Context) ([]resource.Record, error) {
	var items []repo
	path := "/orgs/" + url.PathEscape(c.org) + "/repos"
	q := url.Values{"per_page": {"100"}, "type": {"all"}}
	if _, err := c.rest.GetJSON(ctx, resource.KindRepos, path, q, &items); err != nil {
		return nil, err
	}
	dec := resource.NewDecoder(Slug, resource.KindRepos)
	var out []resource.Record
	for i, r := range items {
		dec.At(i)
		if r.Archived {
			continue
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      resource.KindRepos,
			ID:        dec.Require("full_name", r.FullName),
			Name:      r.FullName,
			CreatedAt: dec.OptionalTime("created_at", r.CreatedAt),
			LastUsed:  dec.OptionalTime("pushed_at", r.PushedAt),
			Attributes: map[string]any{
				"default_branch": dec.Require("default_branch", r.DefaultBranch),
				"private":        r.Private,
				"visibility":     r.Visibility,
			},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		protected, err := c.branchProtected(ctx, r.FullName, r.DefaultBranch)
		if err != nil {
			return nil, err
		}
		rec.Attributes["branch_protected"] = protected
		out = append(out, rec)
	}
	return out, nil
}

func (c *Client) branchProtected(ctx context.Context, fullName, branch string) (bool, error) {
	path := "/repos/" + fullName + "/branches/" + url.PathEscape(branch) + "/protection"
	_, err := c.rest.Do(ctx, vendors.Request{Method: http.MethodGet, Path: path})
	var se *vendors.StatusError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &se) && se.Status == http.StatusNotFound:
		return false, nil
	default:
		return false, err
	}
}
