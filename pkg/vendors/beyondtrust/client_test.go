package beyondtrust

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keysPayload = `[
  {"id":"k1","name":"ci-deploy","createdAt":"2024-01-02T10:00:00","allowedIps":["10.0.0.1"],"lastUsed":"2024-05-01T00:00:00"},
  {"id":"k2","name":"legacy-sync","createdAt":"2023-06-01T00:00:00Z","allowedIps":[]}
]`

func TestFetchAPIKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/config/api-keys", r.URL.Path)
		assert.Equal(t, "Bearer admin", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(keysPayload))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Host: srv.URL, AdminToken: "admin"})
	require.NoError(t, err)

	records, err := c.Fetch(context.Background(), resource.KindAPIKeys)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "ci-deploy", records[0].Name)
	assert.NotNil(t, records[0].LastUsed)
	assert.Equal(t, []string{"10.0.0.1"}, records[0].AttrList("allowed_ips"))

	assert.Nil(t, records[1].LastUsed)
	assert.Empty(t, records[1].AttrList("allowed_ips"))
	assert.Equal(t, 2023, records[1].CreatedAt.Year())
}

func TestFetchMissingCreatedAtIsShapeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"k1","name":"no-date"}]`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Host: srv.URL, AdminToken: "admin"})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), resource.KindAPIKeys)
	var shape *resource.DataShapeError
	require.True(t, errors.As(err, &shape))
	assert.Equal(t, "createdAt", shape.Field)
}

func TestFetchUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Host: srv.URL, AdminToken: "expired"})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), resource.KindAPIKeys)
	assert.ErrorIs(t, err, vendors.ErrAuth)

	_, err = c.Fetch(context.Background(), resource.KindHosts)
	assert.ErrorIs(t, err, vendors.ErrUnsupportedKind)
}

func TestRotate(t *testing.T) {
	var created map[string]any
	deleted := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			_, _ = w.Write([]byte(`{"id":"k9","name":"ci-deploy-20250601","apiKey":"new-secret","expiresAt":"2025-08-30T00:00:00Z"}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{Host: srv.URL, AdminToken: "admin"})
	require.NoError(t, err)
	c.clock = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	key, err := c.Rotate(context.Background(), "k1", "ci-deploy", []string{"10.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, "new-secret", key.APIKey)
	assert.Equal(t, "ci-deploy-20250601", created["name"])
	assert.Equal(t, "2025-08-30T00:00:00Z", created["expiresAt"])
	assert.Equal(t, "/api/config/api-keys/k1", deleted)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("BT_API_HOST", "")
	t.Setenv("BEYONDTRUST_HOST", "")
	_, err := ConfigFromEnv()
	assert.ErrorIs(t, err, vendors.ErrAuth)

	t.Setenv("BT_API_HOST", "https://bt.example.com")
	t.Setenv("BT_API_KEY", "tok")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.AdminToken)
}
