package awsiam

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
)

// iamAPI is the part of the IAM client used here.
type iamAPI interface {
	iam.ListUsersAPIClient
	iam.ListAccessKeysAPIClient
	GetAccessKeyLastUsed(ctx context.Context, in *iam.GetAccessKeyLastUsedInput, optFns ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error)
}

type Client struct {
	iam      iamAPI
	trail    cloudtrail.LookupEventsAPIClient
	sts      *sts.Client
	lookback time.Duration
	maxPages int
	clock    func() time.Time
}

func newClient(i iamAPI, trail cloudtrail.LookupEventsAPIClient, cfg Config) *Client {
	c := &Client{iam: i, trail: trail, lookback: cfg.Lookback, maxPages: cfg.MaxPages, clock: time.Now}
	if c.lookback <= 0 {
		c.lookback = time.Hour
	}
	if c.maxPages <= 0 {
		c.maxPages = 10
	}
	return c
}

func (c *Client) Kinds() []resource.Kind {
	return []resource.Kind{resource.KindAccessKeys, resource.KindCloudTrailEvents}
}

func (c *Client) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	switch kind {
	case resource.KindAccessKeys:
		return c.accessKeys(ctx)
	case resource.KindCloudTrailEvents:
		return c.events(ctx)
	default:
		return nil, vendors.UnsupportedKind(Slug, kind, c.Kinds())
	}
}

func (c *Client) accessKeys(ctx context.Context) ([]resource.Record, error) {
	dec := resource.NewDecoder(Slug, resource.KindAccessKeys)
	var out []resource.Record

	users := iam.NewListUsersPaginator(c.iam, &iam.ListUsersInput{})
	for users.HasMorePages() {
		page, err := users.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, u := range page.Users {
			userName := aws.ToString(u.UserName)
			keys := iam.NewListAccessKeysPaginator(c.iam, &iam.ListAccessKeysInput{UserName: u.UserName})
			for keys.HasMorePages() {
				kp, err := keys.NextPage(ctx)
				if err != nil {
					return nil, mapError(err)
				}
				for _, k := range kp.AccessKeyMetadata {
					keyID := aws.ToString(k.AccessKeyId)
					dec.At(len(out))
					if k.CreateDate == nil {
						dec.Fail("CreateDate", "missing required timestamp")
					}
					rec := resource.Record{
						Vendor:    Slug,
						Kind:      resource.KindAccessKeys,
						ID:        dec.Require("AccessKeyId", keyID),
						Name:      userName + "/" + keyID,
						CreatedAt: k.CreateDate,
						Attributes: map[string]any{
							"user":   userName,
							"status": string(k.Status),
						},
					}
					if err := dec.Err(); err != nil {
						return nil, err
					}

					used, err := c.iam.GetAccessKeyLastUsed(ctx, &iam.GetAccessKeyLastUsedInput{AccessKeyId: k.AccessKeyId})
					if err != nil {
						return nil, mapError(err)
					}
					if lu := used.AccessKeyLastUsed; lu != nil {
						rec.LastUsed = lu.LastUsedDate
						rec.Attributes["last_used_service"] = aws.ToString(lu.ServiceName)
						rec.Attributes["last_used_region"] = aws.ToString(lu.Region)
					}
					out = append(out, rec)
				}
			}
		}
	}
	return out, nil
}

func (c *Client) events(ctx context.Context) ([]resource.Record, error) {
	end := c.clock()
	start := end.Add(-c.lookback)
	pages := cloudtrail.NewLookupEventsPaginator(c.trail, &cloudtrail.LookupEventsInput{
		StartTime:  &start,
		EndTime:    &end,
		MaxResults: aws.Int32(50),
	})

	dec := resource.NewDecoder(Slug, resource.KindCloudTrailEvents)
	var out []resource.Record
	for n := 0; pages.HasMorePages() && n < c.maxPages; n++ {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, ev := range page.Events {
			dec.At(len(out))
			if ev.EventTime == nil {
				dec.Fail("EventTime", "missing required timestamp")
			}
			principal := aws.ToString(ev.Username)
			if principal == "" {
				principal = "unknown"
			}
			rec := resource.Record{
				Vendor:    Slug,
				Kind:      resource.KindCloudTrailEvents,
				ID:        dec.Require("EventId", aws.ToString(ev.EventId)),
				Name:      aws.ToString(ev.EventName),
				CreatedAt: ev.EventTime,
				Attributes: map[string]any{
					"principal":     principal,
					"event_name":    aws.ToString(ev.EventName),
					"event_source":  aws.ToString(ev.EventSource),
					"access_key_id": aws.ToString(ev.AccessKeyId),
					"read_only":     aws.ToString(ev.ReadOnly) == "true",
				},
			}
			if err := dec.Err(); err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}
