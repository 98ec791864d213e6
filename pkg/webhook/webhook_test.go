package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSecrets struct {
	mock.Mock
}

func (m *mockSecrets) Secret(vendor string) (string, bool) {
	args := m.Called(vendor)
	return args.String(0), args.Bool(1)
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"webhookEvent":"jira:issue_created"}`)
	good := Sign("s3cret", payload)

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", good, nil},
		{"valid with whitespace", " " + good + " ", nil},
		{"missing", "", ErrMissingSignature},
		{"wrong prefix", strings.Replace(good, "sha256=", "sha1=", 1), ErrBadSignature},
		{"not hex", "sha256=zz", ErrBadSignature},
		{"wrong digest", Sign("other", payload), ErrBadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify("s3cret", payload, tt.header)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyKnownVector(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	header := "sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	assert.NoError(t, Verify("key", []byte("The quick brown fox jumps over the lazy dog"), header))
}

func newTestServer(t *testing.T, secrets SecretSource) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "hth_issues_total 0\n")
	})
	return NewServer(logger, Config{Addr: ":0", Secrets: secrets, Metrics: metrics}).Handler()
}

func TestReceive(t *testing.T) {
	secrets := new(mockSecrets)
	secrets.On("Secret", "atlassian").Return("s3cret", true)
	secrets.On("Secret", "unknown").Return("", false)
	h := newTestServer(t, secrets)

	body := `{"webhookEvent":"jira:issue_updated"}`

	t.Run("accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/atlassian", strings.NewReader(body))
		req.Header.Set("X-Hub-Signature", Sign("s3cret", []byte(body)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/atlassian", strings.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", Sign("wrong", []byte(body)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unsigned", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/atlassian", strings.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown vendor", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/unknown", strings.NewReader(body)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		big := strings.Repeat("a", maxPayload+1)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/atlassian", strings.NewReader(big))
		req.Header.Set("X-Hub-Signature-256", Sign("s3cret", []byte(big)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	secrets.AssertExpectations(t)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, new(mockSecrets))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "hth_issues_total")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/atlassian", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv("HTH_WEBHOOK_SECRET_GOOGLE_WORKSPACE", "abc")
	v, ok := EnvSecrets{}.Secret("google-workspace")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	_, ok = EnvSecrets{}.Secret("nobody")
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(logger, Config{Addr: "127.0.0.1:0", Secrets: new(mockSecrets)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
}
