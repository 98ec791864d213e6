package hubspot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRateLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, limitsPath, r.URL.Path)
		assert.Equal(t, "Bearer pat-na1", r.Header.Get("Authorization"))
		w.Header().Set(headerMax, "190")
		w.Header().Set(headerRemaining, "9")
		w.Header().Set(headerInterval, "10000")
		w.Header().Set(headerDaily, "1000000")
		w.Header().Set(headerDailyRemaining, "640000")
		_, _ = w.Write([]byte(`{"portalId":42}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "pat-na1"})
	require.NoError(t, err)

	records, err := c.Fetch(context.Background(), resource.KindRateLimits)
	require.NoError(t, err)
	require.Len(t, records, 2)

	burst := records[0]
	assert.Equal(t, "burst", burst.ID)
	assert.Equal(t, 9, burst.Attributes["remaining"])
	assert.InDelta(t, 4.7, burst.Attributes["percent_remaining"].(float64), 0.1)
	assert.Equal(t, 10000, burst.Attributes["interval_ms"])

	assert.InDelta(t, 64.0, records[1].Attributes["percent_remaining"].(float64), 0.01)
}

func TestLimitsFromHeader(t *testing.T) {
	now := time.Now()

	records, err := LimitsFromHeader(http.Header{}, now)
	require.NoError(t, err)
	assert.Empty(t, records)

	h := http.Header{}
	h.Set(headerRemaining, "many")
	_, err = LimitsFromHeader(h, now)
	assert.ErrorIs(t, err, resource.ErrDataShape)

	h = http.Header{}
	h.Set(headerDailyRemaining, "5")
	records, err = LimitsFromHeader(h, now)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, -1.0, records[0].Attributes["percent_remaining"])
}

func TestRateLimitedLimitsCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "pat"})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), resource.KindRateLimits)
	var te *vendors.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 10*time.Second, te.RetryAfter)
}
