// Package awsiam audits IAM access keys and CloudTrail API activity.
package awsiam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/howtoharden/hth/pkg/vendors"
	"github.com/howtoharden/hth/pkg/version"
)

const Slug = "awsiam"

type Config struct {
	Region  string
	Profile string
	// Endpoint overrides every service endpoint (LocalStack, VPC endpoints).
	Endpoint string
	// Lookback bounds cloudtrail-events.
	Lookback time.Duration
	// MaxPages caps CloudTrail pages read per fetch.
	MaxPages int
	Logger   *slog.Logger
}

// ConfigFromEnv reads the standard AWS variables. Credentials themselves are
// resolved by the SDK default chain; this only checks that one is present.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Region:   vendors.EnvOr("us-east-1", "AWS_REGION", "AWS_DEFAULT_REGION"),
		Profile:  vendors.Env("AWS_PROFILE"),
		Endpoint: vendors.Env("AWS_ENDPOINT_URL"),
		Lookback: time.Hour,
	}
	if cfg.Profile == "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE") == "" {
		return cfg, vendors.MissingCredential(Slug, "AWS_PROFILE", "AWS_ACCESS_KEY_ID", "AWS_WEB_IDENTITY_TOKEN_FILE")
	}
	return cfg, nil
}

// LoadAWSConfig resolves an aws.Config with the hth user agent attached.
// It is shared with the S3 report store.
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, &vendors.AuthError{Vendor: Slug, Err: fmt.Errorf("load SDK config: %w", err)}
	}

	awsCfg.APIOptions = append(awsCfg.APIOptions, func(stack *middleware.Stack) error {
		return stack.Build.Add(middleware.BuildMiddlewareFunc("HTHUserAgent", func(ctx context.Context, input middleware.BuildInput, next middleware.BuildHandler) (
			middleware.BuildOutput, middleware.Metadata, error,
		) {
			if req, ok := input.Request.(*smithyhttp.Request); ok {
				req.Header.Set("User-Agent", req.Header.Get("User-Agent")+" "+version.UserAgent())
			}
			return next.HandleBuild(ctx, input)
		}), middleware.After)
	})

	if cfg.Logger != nil {
		logger := cfg.Logger
		awsCfg.APIOptions = append(awsCfg.APIOptions, func(stack *middleware.Stack) error {
			return stack.Initialize.Add(middleware.InitializeMiddlewareFunc("HTHCallLogger", func(ctx context.Context, input middleware.InitializeInput, next middleware.InitializeHandler) (
				middleware.InitializeOutput, middleware.Metadata, error,
			) {
				logger.Debug("aws api call",
					"service", middleware.GetServiceID(ctx),
					"operation", middleware.GetOperationName(ctx))
				return next.HandleInitialize(ctx, input)
			}), middleware.Before)
		})
	}
	return awsCfg, nil
}

// NewClient loads the SDK config and builds the IAM, CloudTrail and STS clients.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := newClient(iam.NewFromConfig(awsCfg), cloudtrail.NewFromConfig(awsCfg), cfg)
	c.sts = sts.NewFromConfig(awsCfg)
	return c, nil
}

// Identity returns the account ID of the resolved credentials.
func (c *Client) Identity(ctx context.Context) (string, error) {
	if c.sts == nil {
		return "", errors.New("awsiam: sts client not configured")
	}
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", mapError(err)
	}
	return aws.ToString(out.Account), nil
}

var (
	authCodes = map[string]bool{
		"AccessDenied":                true,
		"AccessDeniedException":       true,
		"UnauthorizedOperation":       true,
		"InvalidClientTokenId":        true,
		"ExpiredToken":                true,
		"ExpiredTokenException":       true,
		"UnrecognizedClientException": true,
		"SignatureDoesNotMatch":       true,
	}
	transientCodes = map[string]bool{
		"Throttling":               true,
		"ThrottlingException":      true,
		"RequestLimitExceeded":     true,
		"TooManyRequestsException": true,
		"ServiceUnavailable":       true,
		"InternalFailure":          true,
	}
)

// mapError folds smithy API errors into the vendor taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch {
		case authCodes[apiErr.ErrorCode()]:
			return &vendors.AuthError{Vendor: Slug, Err: err}
		case transientCodes[apiErr.ErrorCode()]:
			return &vendors.TransientError{Vendor: Slug, Err: err}
		}
		return fmt.Errorf("%s: %w", Slug, err)
	}
	return &vendors.TransientError{Vendor: Slug, Err: err}
}
