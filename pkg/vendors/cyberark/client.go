// Package cyberark audits privileged accounts in a CyberArk PVWA using
// certificate (mTLS) authentication.
package cyberark

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

const Slug = "cyberark"

const (
	logonPath    = "/PasswordVault/API/Auth/CyberArk/Logon"
	accountsPath = "/PasswordVault/API/Accounts"
)

type Config struct {
	PVWAURL  string
	CertFile string
	KeyFile  string
	// CAFile verifies the PVWA server certificate. Empty uses the system pool.
	CAFile   string
	Username string
	// Safe limits accounts to one safe. Empty lists every visible account.
	Safe string
}

// ConfigFromEnv reads CYBERARK_PVWA_URL, CYBERARK_CERT_FILE, CYBERARK_KEY_FILE,
// CYBERARK_CA_FILE, CYBERARK_USERNAME and CYBERARK_SAFE.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		PVWAURL:  vendors.Env("CYBERARK_PVWA_URL", "PVWA_URL"),
		CertFile: vendors.Env("CYBERARK_CERT_FILE"),
		KeyFile:  vendors.Env("CYBERARK_KEY_FILE"),
		CAFile:   vendors.Env("CYBERARK_CA_FILE"),
		Username: vendors.EnvOr("APIUser", "CYBERARK_USERNAME"),
		Safe:     vendors.Env("CYBERARK_SAFE"),
	}
	if cfg.PVWAURL == "" || cfg.CertFile == "" || cfg.KeyFile == "" {
		return cfg, vendors.MissingCredential(Slug, "CYBERARK_PVWA_URL", "CYBERARK_CERT_FILE", "CYBERARK_KEY_FILE")
	}
	return cfg, nil
}

// TLSConfig builds the client-certificate TLS configuration.
func TLSConfig(cfg Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, &vendors.AuthError{Vendor: Slug, Err: fmt.Errorf("load client certificate: %w", err)}
	}
	tc := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("cyberark: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("cyberark: CA file has no PEM certificates")
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

type Client struct {
	rest *vendors.Client
	cfg  Config

	mu    sync.Mutex
	token string
}

// NewClient builds an mTLS client. Pass vendors.WithHTTPClient to supply a
// preconfigured transport instead of the certificate files.
func NewClient(cfg Config, opts ...vendors.ClientOption) (*Client, error) {
	rest, err := vendors.NewClient(Slug, cfg.PVWAURL, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.CertFile != "" {
		tc, err := TLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		rest.HTTP = &http.Client{
			Timeout:   vendors.DefaultTimeout,
			Transport: &http.Transport{TLSClientConfig: tc, Proxy: http.ProxyFromEnvironment},
		}
	}
	return &Client{rest: rest, cfg: cfg}, nil
}

// Logon exchanges the client certificate for a session token. The PVWA
// returns the token as a bare JSON string.
func (c *Client) Logon(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	resp, err := c.rest.Do(ctx, vendors.Request{
		Method: http.MethodPost,
		Path:   logonPath,
		Body:   map[string]string{"username": c.cfg.Username, "password": ""},
	})
	if err != nil {
		return "", err
	}
	token := strings.Trim(strings.TrimSpace(string(resp.Body)), `"`)
	if token == "" {
		return "", &vendors.AuthError{Vendor: Slug, Status: resp.StatusCode, Err: errors.New("logon returned an empty token")}
	}
	c.token = token
	return token, nil
}

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindAccounts}
}

type account struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	UserName         string `json:"userName"`
	Address          string `json:"address"`
	SafeName         string `json:"safeName"`
	PlatformID       string `json:"platformId"`
	CreatedTime      int64  `json:"createdTime"`
	SecretManagement struct {
		AutomaticManagementEnabled *bool  `json:"automaticManagementEnabled"`
		ManualManagementReason     string `json:"manualManagementReason"`
		Status                     string `json:"status"`
		LastModifiedTime           int64  `json:"lastModifiedTime"`
	} `json:"secretManagement"`
}

func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	if kind != resource.KindAccounts {
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
	token, err := c.Logon(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{"limit": {"1000"}}
	if c.cfg.Safe != "" {
		q.Set("filter", "safeName eq "+c.cfg.Safe)
	}
	resp, err := c.rest.Do(ctx, vendors.Request{
		Path:   accountsPath,
		Query:  q,
		Header: http.Header{"Authorization": {token}},
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Value []account `json:"value"`
	}
	if err := resp.Decode(Slug, kind, &body); err != nil {
		return nil, err
	}

	dec := resource.NewDecoder(Slug, kind)
	out := make([]resource.Record, 0, len(body.Value))
	for i, a := range body.Value {
		dec.At(i)
		// The credential age runs from its last change, falling back to creation.
		changed := a.SecretManagement.LastModifiedTime
		if changed <= 0 {
			changed = a.CreatedTime
		}
		auto := a.SecretManagement.AutomaticManagementEnabled
		if auto == nil {
			dec.Fail("secretManagement.automaticManagementEnabled", "missing required field")
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      kind,
			ID:        dec.Require("id", a.ID),
			Name:      a.Name,
			CreatedAt: dec.Unix("secretManagement.lastModifiedTime", changed, true),
			Attributes: map[string]any{
				"user_name":                a.UserName,
				"address":                  a.Address,
				"safe":                     a.SafeName,
				"platform":                 a.PlatformID,
				"management_status":        a.SecretManagement.Status,
				"manual_management_reason": a.SecretManagement.ManualManagementReason,
			},
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		rec.Attributes["automatic_management"] = *auto
		out = append(out, rec)
	}
	return out, nil
}
