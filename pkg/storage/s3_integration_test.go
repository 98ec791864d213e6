//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go/modules/localstack"

	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/vendors/awsiam"
)

// TestS3Store_Integration round-trips a scan through LocalStack S3. Requires Docker.
func TestS3Store_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := localstack.Run(ctx, "localstack/localstack:3.0")
	if err != nil {
		t.Fatalf("Failed to start LocalStack: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	}()

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "http")
	if err != nil {
		t.Fatalf("Failed to get endpoint: %v", err)
	}
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_ENDPOINT_URL", endpoint)

	cfg, err := awsiam.LoadAWSConfig(ctx, awsiam.Config{Region: "us-east-1", Endpoint: endpoint})
	if err != nil {
		t.Fatalf("Failed to load SDK config: %v", err)
	}
	store := NewS3Store(cfg, "hth-reports")
	store.Prefix = "prod"
	if _, err := store.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("hth-reports")}); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	r := engine.NewScanReport("github", 1, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), nil)
	key, err := SaveScan(ctx, store, r)
	if err != nil {
		t.Fatalf("SaveScan: %v", err)
	}
	got, err := LatestScan(ctx, store, "github")
	if err != nil {
		t.Fatalf("LatestScan: %v", err)
	}
	if got.Vendor != "github" {
		t.Errorf("vendor = %q", got.Vendor)
	}

	data, err := ReadURL(ctx, "s3://hth-reports/prod/"+key)
	if err != nil {
		t.Fatalf("ReadURL: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty object")
	}
}
