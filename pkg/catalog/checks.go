package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/config"
	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors/awsiam"
	"github.com/howtoharden/hth/pkg/vendors/beyondtrust"
	"github.com/howtoharden/hth/pkg/vendors/crowdstrike"
	"github.com/howtoharden/hth/pkg/vendors/cyberark"
	"github.com/howtoharden/hth/pkg/vendors/databricks"
	"github.com/howtoharden/hth/pkg/vendors/github"
	"github.com/howtoharden/hth/pkg/vendors/googleworkspace"
	"github.com/howtoharden/hth/pkg/vendors/hubspot"
	"github.com/howtoharden/hth/pkg/vendors/okta"
	"github.com/howtoharden/hth/pkg/vendors/slack"
	"github.com/howtoharden/hth/pkg/vendors/snowflake"
	"github.com/howtoharden/hth/pkg/vendors/vault"
)

// Checks are the predicates and aggregators applied to one vendor/kind.
type Checks struct {
	Predicates  []audit.Predicate
	Aggregators []audit.Aggregator
}

// Entry describes one built-in audit.
type Entry struct {
	Vendor      string
	Kind        resource.Kind
	Description string
	build       func(t config.Thresholds, clock audit.Clock) Checks
}

// Checks instantiates the entry's checks for the given thresholds.
func (e Entry) Checks(t config.Thresholds, clock audit.Clock) Checks {
	return e.build(t, clock)
}

// String renders "vendor/kind".
func (e Entry) String() string { return e.Vendor + "/" + string(e.Kind) }

var entries = []Entry{
	{
		Vendor: github.Slug, Kind: resource.KindCredentialAuthorizations,
		Description: "SSO credential age, never-accessed credentials and org-admin scopes",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(
				audit.MaxAge(t.MaxAgeDays, clock),
				audit.NeverUsed("has never been accessed"),
				audit.DangerousScopes(t.ScopesFor(github.Slug, github.DangerousScopes)),
			)
		},
	},
	{
		Vendor: github.Slug, Kind: resource.KindRepos,
		Description: "default branch protection",
		build: func(config.Thresholds, audit.Clock) Checks {
			return preds(audit.AttributeIs("branch_protected", false, "default branch is not protected"))
		},
	},
	{
		Vendor: okta.Slug, Kind: resource.KindAPITokens,
		Description: "API token age and network restriction",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(
				audit.MaxAge(t.MaxAgeDays, clock),
				audit.AttributeIs("network_connection", "ANYWHERE", "can be used from any network"),
			)
		},
	},
	{
		Vendor: beyondtrust.Slug, Kind: resource.KindAPIKeys,
		Description: "API key age, IP restrictions and usage",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(
				audit.MaxAge(t.MaxAgeDays, clock),
				audit.MissingAttribute("allowed_ips", "has no IP restrictions"),
				audit.NeverUsed(""),
			)
		},
	},
	{
		Vendor: crowdstrike.Slug, Kind: resource.KindAPIClients,
		Description: "API client write scopes and age",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(
				audit.DangerousScopes(t.ScopesFor(crowdstrike.Slug, crowdstrike.DangerousScopes)),
				audit.MaxAge(t.MaxAgeDays, clock),
			)
		},
	},
	{
		Vendor: crowdstrike.Slug, Kind: resource.KindHosts,
		Description: "sensors that stopped reporting",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(audit.NotSeenWithin(t.StaleAfter, clock))
		},
	},
	{
		Vendor: crowdstrike.Slug, Kind: resource.KindAuditEvents,
		Description: "API request volume per client",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return aggs(audit.CountBy{
				ID:        "client-volume",
				Key:       audit.AttrKey("client_id"),
				Threshold: t.MaxCount,
				Window:    t.Window,
				Clock:     clock,
				Format: func(_ string, n int) string {
					return fmt.Sprintf("made %d API requests in %s (max %d)", n, t.Window, t.MaxCount)
				},
			})
		},
	},
	{
		Vendor: slack.Slug, Kind: resource.KindApprovedApps,
		Description: "approved apps holding workspace-wide scopes",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(audit.DangerousScopes(t.ScopesFor(slack.Slug, slack.BroadScopes)))
		},
	},
	{
		Vendor: slack.Slug, Kind: resource.KindRestrictedApps,
		Description: "restricted apps requesting workspace-wide scopes",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(audit.DangerousScopes(t.ScopesFor(slack.Slug, slack.BroadScopes)))
		},
	},
	{
		Vendor: slack.Slug, Kind: resource.KindSCIMUsers,
		Description: "deactivated users still provisioned",
		build: func(config.Thresholds, audit.Clock) Checks {
			return preds(audit.AttributeIs("active", false, "is deactivated but still provisioned"))
		},
	},
	{
		Vendor: slack.Slug, Kind: resource.KindAuditLogs,
		Description: "failed logins per user",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return aggs(audit.CountBy{
				ID:        "login-failures",
				Key:       audit.AttrKey("actor_email"),
				Match:     attrEquals("action", "user_login_failed"),
				Threshold: t.AuthFailureCount,
				Window:    t.Window,
				Clock:     clock,
				Format: func(_ string, n int) string {
					return fmt.Sprintf("%d failed logins (max %d)", n, t.AuthFailureCount)
				},
			})
		},
	},
	{
		Vendor: vault.Slug, Kind: resource.KindAuditLog,
		Description: "mass secret reads per accessor and auth failures per address",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return aggs(
				audit.CountBy{
					ID:  "mass-secret-read",
					Key: audit.AttrKey("accessor"),
					Match: func(r resource.Record) bool {
						return strings.HasPrefix(r.AttrString("path"), "secret/") && r.AttrString("operation") == "read"
					},
					Threshold:    t.MassReadCount,
					Window:       t.Window,
					AnchorLatest: true,
					Clock:        clock,
					Format: func(_ string, n int) string {
						return fmt.Sprintf("read %d secrets (max %d)", n, t.MassReadCount)
					},
				},
				audit.CountBy{
					ID:  "auth-failures",
					Key: audit.AttrKey("remote_address"),
					Match: func(r resource.Record) bool {
						ok, _ := r.AttrBool("succeeded")
						return r.AttrString("type") == "response" && !ok
					},
					Threshold:    t.AuthFailureCount,
					Window:       t.Window,
					AnchorLatest: true,
					Clock:        clock,
					Format: func(_ string, n int) string {
						return fmt.Sprintf("%d failed requests (max %d)", n, t.AuthFailureCount)
					},
				},
			)
		},
	},
	{
		Vendor: googleworkspace.Slug, Kind: resource.KindUsers,
		Description: "2-Step Verification enrollment and enforcement",
		build: func(config.Thresholds, audit.Clock) Checks {
			return preds(
				audit.AttributeIs("is_enrolled_in_2sv", false, "is not enrolled in 2-Step Verification"),
				audit.AttributeIs("is_enforced_in_2sv", false, "does not have 2-Step Verification enforced"),
			)
		},
	},
	{
		Vendor: googleworkspace.Slug, Kind: resource.KindTokens,
		Description: "third-party OAuth grants with sensitive scopes",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(audit.DangerousScopes(t.ScopesFor(googleworkspace.Slug, googleworkspace.DangerousScopes)))
		},
	},
	{
		Vendor: databricks.Slug, Kind: resource.KindTokens,
		Description: "personal access token age and expiry",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(
				audit.MaxAge(t.MaxAgeDays, clock),
				audit.AttributeIs("has_expiry", false, "never expires"),
			)
		},
	},
	{
		Vendor: databricks.Slug, Kind: resource.KindAuditEvents,
		Description: "failed requests per user",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return aggs(audit.CountBy{
				ID:        "failed-requests",
				Key:       audit.AttrKey("email"),
				Threshold: t.MaxCount,
				Window:    t.Window,
				Clock:     clock,
				Format: func(_ string, n int) string {
					return fmt.Sprintf("%d failed requests (max %d)", n, t.MaxCount)
				},
			})
		},
	},
	{
		Vendor: snowflake.Slug, Kind: resource.KindUsers,
		Description: "password-only authentication and unused users",
		build: func(config.Thresholds, audit.Clock) Checks {
			return preds(
				audit.NewPredicate("password-without-key-pair", func(r resource.Record) (string, bool) {
					if disabled, _ := r.AttrBool("disabled"); disabled {
						return "", false
					}
					pw, _ := r.AttrBool("has_password")
					key, _ := r.AttrBool("has_rsa_public_key")
					if pw && !key {
						return "authenticates with a password and has no key pair", true
					}
					return "", false
				}),
				audit.NeverUsed("has never logged in"),
			)
		},
	},
	{
		Vendor: awsiam.Slug, Kind: resource.KindAccessKeys,
		Description: "access key age and usage",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(audit.MaxAge(t.MaxAgeDays, clock), audit.NeverUsed(""))
		},
	},
	{
		Vendor: awsiam.Slug, Kind: resource.KindCloudTrailEvents,
		Description: "API call volume per principal",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return aggs(audit.CountBy{
				ID:        "principal-volume",
				Key:       audit.AttrKey("principal"),
				Threshold: t.MaxCount,
				Window:    t.Window,
				Clock:     clock,
			})
		},
	},
	{
		Vendor: cyberark.Slug, Kind: resource.KindAccounts,
		Description: "credential age and automatic management",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(
				audit.MaxAge(t.MaxAgeDays, clock),
				audit.AttributeIs("automatic_management", false, "automatic credential management is disabled"),
			)
		},
	},
	{
		Vendor: hubspot.Slug, Kind: resource.KindRateLimits,
		Description: "API quota headroom",
		build: func(t config.Thresholds, clock audit.Clock) Checks {
			return preds(LowHeadroom(t.MinRateLimitPercent))
		},
	},
}

// LowHeadroom flags rate-limit records whose percent_remaining is below min.
// Records without a known maximum report -1 and are skipped.
func LowHeadroom(min float64) audit.Predicate {
	return audit.NewPredicate("low-headroom", func(r resource.Record) (string, bool) {
		v, ok := r.Attr("percent_remaining")
		if !ok {
			return "", false
		}
		pct, ok := v.(float64)
		if !ok || pct < 0 || pct >= min {
			return "", false
		}
		return fmt.Sprintf("only %.1f%% of the limit remains (min %.0f%%)", pct, min), true
	})
}

func preds(p ...audit.Predicate) Checks { return Checks{Predicates: p} }

func aggs(a ...audit.Aggregator) Checks {
	return Checks{Aggregators: a}
}

func attrEquals(key, want string) func(resource.Record) bool {
	return func(r resource.Record) bool { return r.AttrString(key) == want }
}

// Entries returns every built-in audit sorted by vendor then kind.
func Entries() []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Vendor != out[j].Vendor {
			return out[i].Vendor < out[j].Vendor
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Lookup finds the entry for vendor/kind.
func Lookup(vendor string, kind resource.Kind) (Entry, bool) {
	for _, e := range entries {
		if e.Vendor == vendor && e.Kind == kind {
			return e, true
		}
	}
	return Entry{}, false
}

// ForVendor returns the entries for one vendor.
func ForVendor(vendor string) []Entry {
	var out []Entry
	for _, e := range Entries() {
		if e.Vendor == vendor {
			out = append(out, e)
		}
	}
	return out
}

// ParseTarget splits "vendor/kind".
func ParseTarget(s string) (string, resource.Kind, error) {
	v, k, ok := strings.Cut(s, "/")
	if !ok || v == "" || k == "" {
		return "", "", fmt.Errorf("audit target %q must be <vendor>/<kind>", s)
	}
	return v, resource.Kind(k), nil
}
