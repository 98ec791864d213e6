package vendors

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentials returns an http.Client that fetches and refreshes a
// client-credentials token from tokenURL. base, when set, carries the
// outbound requests (tests pass an httptest client).
func ClientCredentials(ctx context.Context, clientID, secret, tokenURL string, base *http.Client, scopes ...string) *http.Client {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	client := cfg.Client(ctx)
	client.Timeout = DefaultTimeout
	return client
}

// tokenError maps a failed token exchange onto AuthError or TransientError.
// It returns nil when err did not come from the token endpoint.
func tokenError(vendor string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return nil
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{Vendor: vendor, Status: status, Err: re}
	}
	return &AuthError{Vendor: vendor, Status: status, Err: re}
}
