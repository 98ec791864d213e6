package googleworkspace

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/vendors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serviceAccountJSON(t *testing.T, tokenURL string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"client_email":   "hth-audit@example.iam.gserviceaccount.com",
		"private_key_id": "k1",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"token_uri":      tokenURL,
	})
	require.NoError(t, err)
	return data
}

func newWorkspace(t *testing.T, routes map[string]string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"gtok","token_type":"Bearer","expires_in":3600}`))
			return
		}
		assert.Equal(t, "Bearer gtok", r.Header.Get("Authorization"))
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{
		BaseURL:         srv.URL,
		CredentialsJSON: serviceAccountJSON(t, srv.URL+"/token"),
		AdminEmail:      "admin@example.com",
	}, vendors.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

const usersBody = `{"users":[
	{"id":"1","primaryEmail":"ana@example.com","isEnrolledIn2Sv":true,"isEnforcedIn2Sv":true,"creationTime":"2023-01-01T00:00:00.000Z","lastLoginTime":"2025-05-30T09:00:00.000Z"},
	{"id":"2","primaryEmail":"bob@example.com","isEnrolledIn2Sv":false,"isEnforcedIn2Sv":false,"lastLoginTime":"1970-01-01T00:00:00.000Z"},
	{"id":"3","primaryEmail":"gone@example.com","isEnrolledIn2Sv":false,"suspended":true}
]}`

func TestUsers(t *testing.T) {
	c := newWorkspace(t, map[string]string{"/admin/directory/v1/users": usersBody})

	records, err := c.Fetch(context.Background(), resource.KindUsers)
	require.NoError(t, err)
	require.Len(t, records, 3)

	enrolled, _ := records[1].AttrBool("is_enrolled_in_2sv")
	assert.False(t, enrolled)
	assert.Nil(t, records[1].LastUsed)
	assert.NotNil(t, records[0].LastUsed)
}

func TestTokensSkipsSuspendedUsers(t *testing.T) {
	c := newWorkspace(t, map[string]string{
		"/admin/directory/v1/users": usersBody,
		"/admin/directory/v1/users/ana@example.com/tokens": `{"items":[
			{"clientId":"123.apps","displayText":"Mail Merge","scopes":["https://mail.google.com/"]}
		]}`,
		"/admin/directory/v1/users/bob@example.com/tokens": `{}`,
	})

	records, err := c.Fetch(context.Background(), resource.KindTokens)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ana@example.com/123.apps", records[0].ID)
	assert.Equal(t, "Mail Merge (ana@example.com)", records[0].Name)
	assert.Equal(t, []string{"https://mail.google.com/"}, records[0].Scopes)
}

func TestUserWithoutEnrollmentFieldIsShapeError(t *testing.T) {
	c := newWorkspace(t, map[string]string{
		"/admin/directory/v1/users": `{"users":[{"id":"1","primaryEmail":"ana@example.com"}]}`,
	})
	_, err := c.Fetch(context.Background(), resource.KindUsers)
	assert.ErrorIs(t, err, resource.ErrDataShape)
}

func TestBadKeyIsAuthError(t *testing.T) {
	_, err := NewClient(context.Background(), Config{CredentialsJSON: []byte("{")})
	assert.ErrorIs(t, err, vendors.ErrAuth)
}
