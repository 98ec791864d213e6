// Package vendor holds the pieces shared by every vendor integration: the
// error taxonomy, the REST client and the provider registry used by pack scans.
package vendors

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TerraformProvider describes the provider block emitted for generated HCL.
type TerraformProvider struct {
	// Name is the local provider name, e.g. "github".
	Name    string
	Source  string
	Version string
	// Variables become provider attributes that reference var.<value>.
	Variables map[string]string
}

// Provider executes pack checks and remediation steps against one vendor API.
type Provider interface {
	Slug() string
	DisplayName() string
	// Execute calls endpoint and returns the decoded JSON body.
	Execute(ctx context.Context, method, endpoint string, body any) (any, error)
	ValidateCredentials(ctx context.Context) error
	Terraform() TerraformProvider
}

// Registry maps vendor slugs to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Slug()] = p
}

// Get returns the provider for slug.
func (r *Registry) Get(slug string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured (set its credential environment variables)", ErrVendorNotFound, slug)
	}
	return p, nil
}

// List returns registered slugs in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for slug := range r.providers {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}
