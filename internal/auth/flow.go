package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Intuit OAuth 2.0 endpoints. The authorization endpoint renders the
// consent screen; the token endpoint serves both the code exchange and
// refresh grants.
const (
	authorizeURL = "https://appcenter.intuit.com/connect/oauth2"
	tokenURL     = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"

	// scopeAccounting grants access to the accounting API, which
	// covers invoices.
	scopeAccounting = "com.intuit.quickbooks.accounting"
)

// tokenClientTimeout bounds every request to the token endpoint. Left
// alone, x/oauth2 falls back to http.DefaultClient, which has no
// timeout.
const tokenClientTimeout = 30 * time.Second

// withTokenClient makes x/oauth2 send token requests through the given
// client instead of http.DefaultClient.
func withTokenClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// NewOAuthConfig builds the oauth2 configuration shared by the consent
// flow and the token guardian. Intuit authenticates token requests via
// HTTP basic auth.
func NewOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{scopeAccounting},
		Endpoint: oauth2.Endpoint{
			AuthURL:   authorizeURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Flow runs the OAuth authorization-code flow against Intuit.
type Flow struct {
	oauth      *oauth2.Config
	store      *Store
	logger     *slog.Logger
	httpClient *http.Client
}

// NewFlow builds a Flow over the given oauth2 configuration. Completed
// exchanges are written to the store; the code exchange rides a
// bounded HTTP client.
func NewFlow(oauth *oauth2.Config, store *Store, logger *slog.Logger) *Flow {
	return &Flow{
		oauth:      oauth,
		store:      store,
		logger:     logger,
		httpClient: &http.Client{Timeout: tokenClientTimeout},
	}
}

// ConsentURL issues a fresh state value and returns the Intuit consent
// URL to redirect the user to.
func (f *Flow) ConsentURL() string {
	return f.oauth.AuthCodeURL(f.store.IssueState())
}

// CallbackParams carries the query parameters Intuit appends to the
// redirect URI.
type CallbackParams struct {
	Code             string
	RealmID          string
	State            string
	ErrorCode        string
	ErrorDescription string
}

// CompleteExchange finishes the authorization-code flow: it validates
// the callback parameters, exchanges the code for tokens, and stores
// the resulting connection. A provider error takes precedence over
// missing parameters so a user denial is reported as such.
func (f *Flow) CompleteExchange(ctx context.Context, p CallbackParams) error {
	if p.ErrorCode != "" {
		return &ProviderDeniedError{Code: p.ErrorCode, Description: p.ErrorDescription}
	}

	if p.Code == "" || p.RealmID == "" {
		return fmt.Errorf("completing exchange: %w", ErrMissingCallbackParams)
	}

	if !f.store.ConsumeState(p.State) {
		return fmt.Errorf("completing exchange: %w", ErrStateMismatch)
	}

	token, err := f.oauth.Exchange(withTokenClient(ctx, f.httpClient), p.Code)
	if err != nil {
		status, body := providerDetails(err)
		return &ExchangeError{StatusCode: status, Body: body, Err: err}
	}

	pair := tokenPairFromOAuth(token)
	f.store.Set(Connection{RealmID: p.RealmID, Tokens: pair})

	f.logger.Info("connected to QuickBooks company",
		slog.String("realm_id", p.RealmID),
		slog.Time("access_expiry", pair.AccessExpiry),
	)

	return nil
}

// tokenPairFromOAuth converts a provider token response. Intuit reports
// the refresh token lifetime in the non-standard
// x_refresh_token_expires_in field.
func tokenPairFromOAuth(tok *oauth2.Token) TokenPair {
	pair := TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		AccessExpiry: tok.Expiry,
	}

	if secs, ok := tok.Extra("x_refresh_token_expires_in").(float64); ok && secs > 0 {
		pair.RefreshExpiry = time.Now().Add(time.Duration(secs) * time.Second)
	}

	return pair
}
