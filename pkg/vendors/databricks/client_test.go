package databricks

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/databricks/databricks-sdk-go/apierr"
	"github.com/databricks/databricks-sdk-go/service/settings"
	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	infos []settings.TokenInfo
	err   error
}

func (f fakeTokens) ListAll(context.Context, settings.ListTokenManagementRequest) ([]settings.TokenInfo, error) {
	return f.infos, f.err
}

func TestFetchTokens(t *testing.T) {
	c := newClient(fakeTokens{infos: []settings.TokenInfo{
		{TokenId: "t1", Comment: "airflow", CreatedByUsername: "svc@example.com", CreationTime: 1_700_000_000_000, ExpiryTime: -1},
		{TokenId: "t2", CreatedByUsername: "ana@example.com", CreationTime: 1_717_000_000_000, ExpiryTime: 1_725_000_000_000},
	}}, nil, 0)

	records, err := c.Fetch(context.Background(), resource.KindTokens)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "airflow", records[0].Name)
	assert.Equal(t, int64(1_700_000_000), records[0].CreatedAt.Unix())
	noExpiry, _ := records[0].AttrBool("has_expiry")
	assert.False(t, noExpiry)

	assert.Equal(t, "ana@example.com/t2", records[1].Name)
	hasExpiry, _ := records[1].AttrBool("has_expiry")
	assert.True(t, hasExpiry)
}

func TestFetchTokensMissingCreationTime(t *testing.T) {
	c := newClient(fakeTokens{infos: []settings.TokenInfo{{TokenId: "t1"}}}, nil, 0)
	_, err := c.Fetch(context.Background(), resource.KindTokens)
	assert.ErrorIs(t, err, resource.ErrDataShape)
}

func TestFetchTokensAPIErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"forbidden", &apierr.APIError{StatusCode: 403, Message: "no"}, vendors.ErrAuth},
		{"throttled", &apierr.APIError{StatusCode: 429}, vendors.ErrTransient},
		{"network", errors.New("connection reset"), vendors.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(fakeTokens{err: tt.err}, nil, 0)
			_, err := c.Fetch(context.Background(), resource.KindTokens)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchAuditEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"request_id", "event_time", "email", "service_name", "action_name", "status_code", "source_ip_address"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.access.audit")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r1", at, "ana@example.com", "accounts", "tokenLogin", 401, "198.51.100.7").
			AddRow(nil, at.Add(time.Second), "ana@example.com", "accounts", "tokenLogin", 401, "198.51.100.7"))

	c := newClient(nil, db, time.Hour)
	records, err := c.Fetch(context.Background(), resource.KindAuditEvents)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "1", records[1].ID)
	assert.Equal(t, "ana@example.com", records[1].AttrString("email"))
	assert.Equal(t, at, *records[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditEventsNeedWarehouse(t *testing.T) {
	c := newClient(nil, nil, 0)
	_, err := c.Fetch(context.Background(), resource.KindAuditEvents)
	assert.Error(t, err)
}
