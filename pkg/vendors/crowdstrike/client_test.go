package crowdstrike

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFalcon(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("client_secret") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"falcon-token","token_type":"bearer","expires_in":1799}`))
			return
		}
		assert.Equal(t, "Bearer falcon-token", r.Header.Get("Authorization"))
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, secret string) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: secret},
		vendors.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestAPIClients(t *testing.T) {
	srv := newFalcon(t, map[string]string{
		clientsPath: `{"resources":[
			{"client_id":"c1","name":"siem-export","scopes":["event-streams:read"],"created_timestamp":"2025-05-20T00:00:00Z"},
			{"client_id":"c2","name":"auto-contain","scopes":["hosts:write","detects:read"],"created_timestamp":"2024-01-01T00:00:00Z"}
		]}`,
	})
	c := newTestClient(t, srv, "secret")

	records, err := c.Fetch(context.Background(), resource.KindAPIClients)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "auto-contain", records[1].Name)
	assert.Equal(t, []string{"hosts:write", "detects:read"}, records[1].Scopes)
}

func TestHostsTwoStepLookup(t *testing.T) {
	srv := newFalcon(t, map[string]string{
		hostsScrollPath: `{"resources":["d1","d2"]}`,
		hostsEntityPath: `{"resources":[
			{"device_id":"d1","hostname":"canary-01","last_seen":"2025-06-01T00:00:00Z"},
			{"device_id":"d2","hostname":"canary-02"}
		]}`,
	})
	c := newTestClient(t, srv, "secret")

	records, err := c.Fetch(context.Background(), resource.KindHosts)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.NotNil(t, records[0].LastSeen)
	assert.Nil(t, records[1].LastSeen)
}

func TestHostsEmptyScroll(t *testing.T) {
	srv := newFalcon(t, map[string]string{hostsScrollPath: `{"resources":[]}`})
	c := newTestClient(t, srv, "secret")

	records, err := c.Fetch(context.Background(), resource.KindHosts)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAuditEventsClientID(t *testing.T) {
	srv := newFalcon(t, map[string]string{
		auditEventsPath: `{"resources":[
			{"id":"e1","timestamp":"2025-06-01T00:00:00Z","service_name":"hosts","action":"query","audit_key_values":{"client_id":"c2"}},
			{"timestamp":"2025-06-01T00:00:01Z","service_name":"hosts","action":"query"}
		]}`,
	})
	c := newTestClient(t, srv, "secret")

	records, err := c.Fetch(context.Background(), resource.KindAuditEvents)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c2", records[0].AttrString("client_id"))
	assert.Equal(t, "", records[1].AttrString("client_id"))
	assert.Equal(t, "1", records[1].ID)
}

func TestTokenRejectedIsAuthError(t *testing.T) {
	srv := newFalcon(t, nil)
	c := newTestClient(t, srv, "wrong")

	_, err := c.Fetch(context.Background(), resource.KindAPIClients)
	assert.ErrorIs(t, err, vendors.ErrAuth)
}
