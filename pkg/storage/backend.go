// Package storage persists scan reports to a local directory or S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/howtoharden/hth/pkg/vendors/awsiam"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// BlobStore defines the interface for abstract storage backends.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ScanKey is where a scan report for vendor taken at ts is stored.
func ScanKey(vendor string, ts time.Time) string {
	return fmt.Sprintf("scans/%s/%s.json", vendor, ts.UTC().Format("20060102T150405Z"))
}

// Open returns the store for location: an s3://bucket/prefix URL or a
// local directory.
func Open(ctx context.Context, location string) (BlobStore, error) {
	bucket, prefix, ok, err := parseS3(location)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewLocalStore(location), nil
	}
	cfg, err := awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	s := NewS3Store(cfg, bucket)
	s.Prefix = prefix
	return s, nil
}

// ReadURL reads a single object given as a local path or s3://bucket/key.
func ReadURL(ctx context.Context, location string) ([]byte, error) {
	bucket, key, ok, err := parseS3(location)
	if err != nil {
		return nil, err
	}
	if !ok {
		data, err := os.ReadFile(location)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
		}
		return data, err
	}
	if key == "" {
		return nil, fmt.Errorf("s3 url %q has no object key", location)
	}
	cfg, err := awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewS3Store(cfg, bucket).Get(ctx, key)
}

func parseS3(location string) (bucket, key string, ok bool, err error) {
	if !strings.HasPrefix(location, "s3://") {
		return "", "", false, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", "", false, fmt.Errorf("invalid s3 url: %w", err)
	}
	if u.Host == "" {
		return "", "", false, fmt.Errorf("invalid s3 url %q: missing bucket", location)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), true, nil
}

// awsConfig uses the same credential chain as the IAM fetcher. A missing
// explicit credential is fine here; the SDK may still find an instance role.
func awsConfig(ctx context.Context) (aws.Config, error) {
	cfg, _ := awsiam.ConfigFromEnv()
	return awsiam.LoadAWSConfig(ctx, cfg)
}
