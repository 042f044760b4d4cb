package auth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

var (
	// ErrNotConnected is returned when no QuickBooks company is
	// connected.
	ErrNotConnected = errors.New("not connected to QuickBooks")

	// ErrMissingCallbackParams is returned when the OAuth callback
	// lacks the code or realmId parameter.
	ErrMissingCallbackParams = errors.New("callback missing code or realmId parameter")

	// ErrStateMismatch is returned when the callback state value is
	// absent, unknown, or expired.
	ErrStateMismatch = errors.New("callback state is invalid or expired")
)

// ProviderDeniedError is returned when Intuit redirects back with an
// error instead of an authorization code, typically because the user
// declined consent.
type ProviderDeniedError struct {
	Code        string
	Description string
}

func (e *ProviderDeniedError) Error() string {
	if e.Description == "" {
		return "provider denied authorization: " + e.Code
	}
	return fmt.Sprintf("provider denied authorization: %s (%s)", e.Code, e.Description)
}

// ExchangeError is returned when the authorization code could not be
// exchanged for tokens. StatusCode and Body carry the provider's
// response when one was received; both are zero for transport errors.
type ExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RefreshError is returned when an expired access token could not be
// refreshed. It is terminal: the stored connection is left untouched
// and no retry is attempted.
type RefreshError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token refresh failed: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// providerDetails extracts the HTTP status and response body from a
// token endpoint failure. Transport errors yield (0, "").
func providerDetails(err error) (status int, body string) {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return 0, ""
	}

	if rErr.Response != nil {
		status = rErr.Response.StatusCode
	}
	return status, string(rErr.Body)
}
