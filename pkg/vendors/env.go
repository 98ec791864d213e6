package vendors

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/howtoharden/hth/pkg/resource"
)

// ErrUnsupportedKind is returned by fetchers asked for a kind they do not serve.
var ErrUnsupportedKind = errors.New("unsupported resource kind")

// UnsupportedKind builds an ErrUnsupportedKind error listing what is served.
func UnsupportedKind(slug string, kind resource.Kind, supported []resource.Kind) error {
	names := make([]string, len(supported))
	for i, k := range supported {
		names[i] = string(k)
	}
	return fmt.Errorf("%w: %s/%s (supported: %s)", ErrUnsupportedKind, slug, kind, strings.Join(names, ", "))
}

// MissingCredential reports an unset credential variable as an AuthError.
func MissingCredential(slug string, vars ...string) error {
	return &AuthError{Vendor: slug, Err: fmt.Errorf("missing credential: set %s", strings.Join(vars, " or "))}
}

// Env returns the first non-empty environment variable among names.
func Env(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// EnvOr returns Env(names...) or fallback.
func EnvOr(fallback string, names ...string) string {
	if v := Env(names...); v != "" {
		return v
	}
	return fallback
}
