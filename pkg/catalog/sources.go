// Package catalog wires the vendor packages to the audit routine and the
// pack engine: which vendors can be fetched, which provider backs a pack
// scan, and which built-in checks apply to each vendor/kind pair.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/config"
	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
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

// Source is a configured vendor fetcher.
type Source interface {
	audit.Fetcher
	Kinds() []resource.Kind
}

// Options carry what every vendor client shares.
type Options struct {
	Vendors map[string]config.VendorConfig
	Timeout time.Duration
	Logger  *slog.Logger
}

func (o Options) vendor(slug string) config.VendorConfig {
	if o.Vendors == nil {
		return config.VendorConfig{}
	}
	return o.Vendors[slug]
}

func (o Options) clientOptions() []vendors.ClientOption {
	var opts []vendors.ClientOption
	if o.Timeout > 0 {
		opts = append(opts, vendors.WithTimeout(o.Timeout))
	}
	if o.Logger != nil {
		opts = append(opts, vendors.WithLogger(o.Logger))
	}
	return opts
}

type opener func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error)

var openers = map[string]opener{
	github.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		return source(openGitHub(vc, o))
	},
	okta.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		return source(openOkta(vc, o))
	},
	beyondtrust.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := beyondtrust.ConfigFromEnv()
		cfg.AdminToken = tokenOverride(vc, cfg.AdminToken)
		if vc.BaseURL != "" {
			cfg.Host = vc.BaseURL
		}
		if err != nil && (cfg.Host == "" || cfg.AdminToken == "") {
			return nil, err
		}
		return source(beyondtrust.NewClient(cfg, o.clientOptions()...))
	},
	crowdstrike.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := crowdstrike.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		if vc.BaseURL != "" {
			cfg.BaseURL = vc.BaseURL
		}
		if g := vc.Params["host_group"]; g != "" {
			cfg.HostGroup = g
		}
		if f := vc.Params["audit_filter"]; f != "" {
			cfg.AuditFilter = f
		}
		return source(crowdstrike.NewClient(ctx, cfg, o.clientOptions()...))
	},
	slack.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := slack.ConfigFromEnv()
		cfg.Token = tokenOverride(vc, cfg.Token)
		if err != nil && cfg.Token == "" {
			return nil, err
		}
		if vc.BaseURL != "" {
			cfg.BaseURL = vc.BaseURL
		}
		if a := vc.Params["audit_action"]; a != "" {
			cfg.AuditAction = a
		}
		return source(slack.NewClient(cfg, o.clientOptions()...))
	},
	vault.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := vault.ConfigFromEnv()
		if p := vc.Params["audit_log"]; p != "" {
			cfg.AuditLogPath, err = p, nil
		}
		if err != nil {
			return nil, err
		}
		return source(vault.NewClient(cfg))
	},
	googleworkspace.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := googleworkspace.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		if vc.BaseURL != "" {
			cfg.BaseURL = vc.BaseURL
		}
		return source(googleworkspace.NewClient(ctx, cfg, o.clientOptions()...))
	},
	databricks.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := databricks.ConfigFromEnv()
		cfg.Token = tokenOverride(vc, cfg.Token)
		if vc.BaseURL != "" {
			cfg.Host = vc.BaseURL
		}
		if err != nil && (cfg.Host == "" || cfg.Token == "") {
			return nil, err
		}
		return source(databricks.NewClient(cfg))
	},
	snowflake.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := snowflake.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		if w := vc.Params["warehouse"]; w != "" {
			cfg.Warehouse = w
		}
		return source(snowflake.NewClient(cfg))
	},
	awsiam.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := awsiam.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		if vc.BaseURL != "" {
			cfg.Endpoint = vc.BaseURL
		}
		cfg.Logger = o.Logger
		return source(awsiam.NewClient(ctx, cfg))
	},
	cyberark.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := cyberark.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		if s := vc.Params["safe"]; s != "" {
			cfg.Safe = s
		}
		return source(cyberark.NewClient(cfg, o.clientOptions()...))
	},
	hubspot.Slug: func(ctx context.Context, vc config.VendorConfig, o Options) (Source, error) {
		cfg, err := hubspot.ConfigFromEnv()
		cfg.Token = tokenOverride(vc, cfg.Token)
		if err != nil && cfg.Token == "" {
			return nil, err
		}
		if vc.BaseURL != "" {
			cfg.BaseURL = vc.BaseURL
		}
		return source(hubspot.NewClient(cfg, o.clientOptions()...))
	},
}

// source drops the typed nil a failed constructor returns.
func source[T Source](c T, err error) (Source, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Vendors lists every vendor slug with a fetcher, sorted.
func Vendors() []string {
	out := make([]string, 0, len(openers))
	for slug := range openers {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Open builds the fetcher for slug from the environment and config overrides.
// Callers should close the result with Close when done.
func Open(ctx context.Context, slug string, o Options) (Source, error) {
	open, ok := openers[slug]
	if !ok {
		return nil, fmt.Errorf("%w: no fetcher for %q (known: %v)", vendors.ErrVendorNotFound, slug, Vendors())
	}
	return open(ctx, o.vendor(slug), o)
}

// Close releases a source that holds connections (SQL pools).
func Close(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ProvidersFromEnv registers every pack provider whose credentials are set.
// Vendors left unconfigured are logged at debug level and skipped.
func ProvidersFromEnv(o Options) *vendors.Registry {
	reg := vendors.NewRegistry()
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if c, err := openGitHub(o.vendor(github.Slug), o); err == nil {
		reg.Register(c)
	} else {
		logger.Debug("provider not configured", "vendor", github.Slug, "reason", err)
	}
	if c, err := openOkta(o.vendor(okta.Slug), o); err == nil {
		reg.Register(c)
	} else {
		logger.Debug("provider not configured", "vendor", okta.Slug, "reason", err)
	}
	return reg
}

func openGitHub(vc config.VendorConfig, o Options) (*github.Client, error) {
	cfg, err := github.ConfigFromEnv()
	cfg.Token = tokenOverride(vc, cfg.Token)
	if vc.Org != "" {
		cfg.Org = vc.Org
	}
	if vc.BaseURL != "" {
		cfg.BaseURL = vc.BaseURL
	}
	if err != nil && (cfg.Token == "" || cfg.Org == "") {
		return nil, err
	}
	return github.NewClient(cfg, o.clientOptions()...)
}

func openOkta(vc config.VendorConfig, o Options) (*okta.Client, error) {
	cfg, err := okta.ConfigFromEnv()
	cfg.Token = tokenOverride(vc, cfg.Token)
	if vc.Domain != "" {
		cfg.Domain = vc.Domain
	}
	if err != nil && (cfg.Token == "" || cfg.Domain == "") {
		return nil, err
	}
	return okta.NewClient(cfg, o.clientOptions()...)
}

// tokenOverride reads the variable named by token_env, if any.
func tokenOverride(vc config.VendorConfig, current string) string {
	if vc.TokenEnv == "" {
		return current
	}
	if v := os.Getenv(vc.TokenEnv); v != "" {
		return v
	}
	return current
}
