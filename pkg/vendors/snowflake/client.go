// Package snowflake audits Snowflake users over a key-pair authenticated connection.
package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"database/sql/driver"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
	sf "github.com/snowflakedb/gosnowflake"
)

const Slug = "snowflake"

type Config struct {
	Account        string
	User           string
	PrivateKeyPath string
	Warehouse      string
	Role           string
}

// ConfigFromEnv reads SNOWFLAKE_ACCOUNT, SNOWFLAKE_USER and
// SNOWFLAKE_PRIVATE_KEY_PATH, plus optional SNOWFLAKE_WAREHOUSE and SNOWFLAKE_ROLE.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Account:        vendors.Env("SNOWFLAKE_ACCOUNT"),
		User:           vendors.Env("SNOWFLAKE_USER"),
		PrivateKeyPath: vendors.Env("SNOWFLAKE_PRIVATE_KEY_PATH", "SNOWFLAKE_PRIVATE_KEY_FILE"),
		Warehouse:      vendors.Env("SNOWFLAKE_WAREHOUSE"),
		Role:           vendors.EnvOr("SECURITYADMIN", "SNOWFLAKE_ROLE"),
	}
	if cfg.Account == "" || cfg.User == "" || cfg.PrivateKeyPath == "" {
		return cfg, vendors.MissingCredential(Slug, "SNOWFLAKE_ACCOUNT", "SNOWFLAKE_USER", "SNOWFLAKE_PRIVATE_KEY_PATH")
	}
	return cfg, nil
}

type Client struct {
	db *sql.DB
}

// NewClient opens a JWT (key-pair) connection. No password is ever sent.
func NewClient(cfg Config) (*Client, error) {
	key, err := LoadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, &vendors.AuthError{Vendor: Slug, Err: err}
	}
	dsn, err := sf.DSN(&sf.Config{
		Account:       cfg.Account,
		User:          cfg.User,
		Authenticator: sf.AuthTypeJwt,
		PrivateKey:    key,
		Warehouse:     cfg.Warehouse,
		Role:          cfg.Role,
		Application:   "hth",
	})
	if err != nil {
		return nil, fmt.Errorf("snowflake: build dsn: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("snowflake: open: %w", err)
	}
	return newClient(db), nil
}

func newClient(db *sql.DB) *Client {
	return &Client{db: db}
}

// LoadPrivateKey reads an unencrypted PKCS#8 or PKCS#1 RSA key in PEM form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("private key is not PEM encoded")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	k, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return k, nil
}

func (c *Client) Close() error { return c.db.Close() }

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindUsers}
}

const usersQuery = `SELECT name, login_name, created_on, last_success_login, has_password, has_rsa_public_key, disabled, type
FROM SNOWFLAKE.ACCOUNT_USAGE.USERS
WHERE deleted_on IS NULL
ORDER BY name`

func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	if kind != resource.KindUsers {
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
	rows, err := c.db.QueryContext(ctx, usersQuery)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	dec := resource.NewDecoder(Slug, kind)
	var out []resource.Record
	for rows.Next() {
		var (
			name, login, userType  sql.NullString
			created, lastLogin     sql.NullTime
			hasPassword, hasRSAKey sql.NullBool
			disabled               sql.NullBool
		)
		if err := rows.Scan(&name, &login, &created, &lastLogin, &hasPassword, &hasRSAKey, &disabled, &userType); err != nil {
			return nil, resource.ShapeError(Slug, kind, "unexpected users row", err)
		}
		dec.At(len(out))
		if !created.Valid {
			dec.Fail("created_on", "missing required timestamp")
		}
		rec := resource.Record{
			Vendor:    Slug,
			Kind:      kind,
			ID:        dec.Require("name", name.String),
			Name:      name.String,
			CreatedAt: resource.TimePtr(created.Time),
			Attributes: map[string]any{
				"login_name":         login.String,
				"has_password":       hasPassword.Bool,
				"has_rsa_public_key": hasRSAKey.Bool,
				"disabled":           disabled.Bool,
				"type":               strings.ToUpper(userType.String),
			},
		}
		if lastLogin.Valid {
			rec.LastUsed = resource.TimePtr(lastLogin.Time)
		}
		if err := dec.Err(); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// classify maps gosnowflake errors. 390100-390199 are authentication
// failures; 390144 is an invalid JWT.
func classify(err error) error {
	var sfErr *sf.SnowflakeError
	if errors.As(err, &sfErr) {
		if sfErr.Number >= 390100 && sfErr.Number < 390200 {
			return &vendors.AuthError{Vendor: Slug, Err: err}
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return &vendors.TransientError{Vendor: Slug, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("snowflake: query users: %w", err)
}
