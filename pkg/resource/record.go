// Package resource holds the typed snapshot records fetched from vendor APIs.
package resource

import (
	"fmt"
	"sort"
	"time"
)

// Kind names a class of vendor object, e.g. "api-keys" or "audit-events".
type Kind string

// Resource kinds served by the built-in fetchers.
const (
	KindAPIKeys                  Kind = "api-keys"
	KindAPIClients               Kind = "api-clients"
	KindAPITokens                Kind = "api-tokens"
	KindTokens                   Kind = "tokens"
	KindHosts                    Kind = "hosts"
	KindAuditEvents              Kind = "audit-events"
	KindAuditLog                 Kind = "audit-log"
	KindAuditLogs                Kind = "audit-logs"
	KindApprovedApps             Kind = "approved-apps"
	KindRestrictedApps           Kind = "restricted-apps"
	KindSCIMUsers                Kind = "scim-users"
	KindUsers                    Kind = "users"
	KindCredentialAuthorizations Kind = "credential-authorizations"
	KindRepos                    Kind = "repos"
	KindAccessKeys               Kind = "access-keys"
	KindCloudTrailEvents         Kind = "cloudtrail-events"
	KindAccounts                 Kind = "accounts"
	KindRateLimits               Kind = "rate-limits"
)

// Record is one externally owned object as seen in a single snapshot.
// Optional timestamps are nil when the vendor did not report them.
// For event kinds CreatedAt carries the event time.
type Record struct {
	Vendor     string
	Kind       Kind
	ID         string
	Name       string
	CreatedAt  *time.Time
	LastUsed   *time.Time
	LastSeen   *time.Time
	Scopes     []string
	Attributes map[string]any
}

// Subject is the human-facing name used in issues.
func (r Record) Subject() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Key identifies the record within its vendor and kind.
func (r Record) Key() string {
	return fmt.Sprintf("%s/%s/%s", r.Vendor, r.Kind, r.ID)
}

// AgeDays returns whole days elapsed since CreatedAt.
func (r Record) AgeDays(now time.Time) (int, bool) {
	if r.CreatedAt == nil {
		return 0, false
	}
	return int(now.Sub(*r.CreatedAt).Hours() / 24), true
}

// Attr returns a vendor attribute.
func (r Record) Attr(key string) (any, bool) {
	if r.Attributes == nil {
		return nil, false
	}
	v, ok := r.Attributes[key]
	return v, ok
}

// AttrString returns a string attribute, or "" when absent or not a string.
func (r Record) AttrString(key string) string {
	v, _ := r.Attr(key)
	s, _ := v.(string)
	return s
}

// AttrBool returns a bool attribute and whether it was present as a bool.
func (r Record) AttrBool(key string) (bool, bool) {
	v, _ := r.Attr(key)
	b, ok := v.(bool)
	return b, ok
}

// AttrList returns a list attribute as strings.
func (r Record) AttrList(key string) []string {
	v, ok := r.Attr(key)
	if !ok {
		return nil
	}
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Flatten renders the record as the map exposed to rule expressions.
// age_days is -1 when CreatedAt is unknown.
func (r Record) Flatten(now time.Time) map[string]any {
	age := -1
	if d, ok := r.AgeDays(now); ok {
		age = d
	}
	scopes := make([]any, 0, len(r.Scopes))
	for _, s := range r.Scopes {
		scopes = append(scopes, s)
	}
	attrs := r.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return map[string]any{
		"vendor":     r.Vendor,
		"kind":       string(r.Kind),
		"id":         r.ID,
		"name":       r.Name,
		"subject":    r.Subject(),
		"created_at": timeOrNil(r.CreatedAt),
		"last_used":  timeOrNil(r.LastUsed),
		"last_seen":  timeOrNil(r.LastSeen),
		"has_used":   r.LastUsed != nil,
		"age_days":   age,
		"scopes":     scopes,
		"attributes": attrs,
	}
}

// Fields returns a single-level view: attributes first, then the typed
// fields, which win on collision.
func (r Record) Fields() map[string]any {
	out := make(map[string]any, len(r.Attributes)+6)
	for k, v := range r.Attributes {
		out[k] = v
	}
	out["vendor"] = r.Vendor
	out["kind"] = string(r.Kind)
	out["id"] = r.ID
	out["name"] = r.Name
	if len(r.Scopes) > 0 {
		out["scopes"] = r.Scopes
	}
	return out
}

// AttributeKeys lists attribute names in sorted order.
func (r Record) AttributeKeys() []string {
	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// TimePtr is a convenience for building records in fetchers and tests.
func TimePtr(t time.Time) *time.Time {
	return &t
}
