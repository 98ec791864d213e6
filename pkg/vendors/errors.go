package vendors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrAuth matches every AuthError.
	ErrAuth = errors.New("authentication failed")
	// ErrTransient matches every TransientError.
	ErrTransient = errors.New("transient vendor failure")
	// ErrVendorNotFound is returned when no provider or fetcher is registered for a slug.
	ErrVendorNotFound = errors.New("vendor not found")
)

// AuthError reports an invalid, expired or missing credential. It is never retried.
type AuthError struct {
	Vendor string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("%s: authentication failed", e.Vendor)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError reports a network or rate-limit failure. RetryAfter is a
// hint for the caller; nothing in hth retries on its own.
type TransientError struct {
	Vendor     string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	msg := fmt.Sprintf("%s: transient failure", e.Vendor)
	if e.Status == http.StatusTooManyRequests || e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s: rate limited", e.Vendor)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func (e *TransientError) Unwrap() error { return e.Err }

// StatusError is any other non-success HTTP response.
type StatusError struct {
	Vendor string
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: %s %s returned HTTP %d: %s", e.Vendor, e.Method, e.URL, e.Status, body)
}

// Classify maps a non-2xx status onto the error taxonomy. It returns nil for
// success codes. defaultRetry applies when a 429 carries no Retry-After.
func Classify(vendor, method, url string, status int, header http.Header, body []byte, defaultRetry time.Duration) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Vendor: vendor, Status: status, Err: errors.New(snippet(body))}
	case status == http.StatusTooManyRequests:
		return &TransientError{Vendor: vendor, Status: status, RetryAfter: RetryAfter(header, defaultRetry)}
	case status >= 500:
		return &TransientError{Vendor: vendor, Status: status, RetryAfter: RetryAfter(header, 0), Err: errors.New(snippet(body))}
	default:
		return &StatusError{Vendor: vendor, Method: method, URL: url, Status: status, Body: string(body)}
	}
}

// RetryAfter reads a Retry-After header in seconds or HTTP-date form.
func RetryAfter(header http.Header, fallback time.Duration) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d.Round(time.Second)
		}
		return 0
	}
	return fallback
}

func snippet(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}
