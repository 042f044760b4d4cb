package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// refreshMargin is how close to expiry an access token may get before
// it is refreshed. The margin covers clock skew and request latency so
// a token that passes the check does not expire mid-request.
const refreshMargin = 30 * time.Second

// Guardian hands out valid access tokens, refreshing the stored pair
// when it is expired or about to expire. Concurrent callers share a
// single refresh request.
type Guardian struct {
	oauth      *oauth2.Config
	store      *Store
	logger     *slog.Logger
	httpClient *http.Client
	group      singleflight.Group
}

// NewGuardian builds a Guardian over the given oauth2 configuration
// and connection store. Refresh requests ride a bounded HTTP client so
// a hung provider cannot hold the refresh slot forever.
func NewGuardian(oauth *oauth2.Config, store *Store, logger *slog.Logger) *Guardian {
	return &Guardian{
		oauth:      oauth,
		store:      store,
		logger:     logger,
		httpClient: &http.Client{Timeout: tokenClientTimeout},
	}
}

// RealmID returns the connected company's realm ID, or ErrNotConnected.
func (g *Guardian) RealmID() (string, error) {
	conn, ok := g.store.Get()
	if !ok {
		return "", ErrNotConnected
	}
	return conn.RealmID, nil
}

// AccessToken returns an access token valid for at least the refresh
// margin, refreshing the stored tokens when needed. It returns
// ErrNotConnected when no company is connected and *RefreshError when
// the provider rejects the refresh; neither case touches the stored
// connection.
func (g *Guardian) AccessToken(ctx context.Context) (string, error) {
	conn, ok := g.store.Get()
	if !ok {
		return "", ErrNotConnected
	}

	if !conn.Tokens.AccessExpired(refreshMargin) {
		return conn.Tokens.AccessToken, nil
	}

	v, err, _ := g.group.Do("refresh", func() (any, error) {
		return g.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// refresh exchanges the stored refresh token for new tokens and writes
// them back. Callers queued behind an in-flight refresh re-check the
// store first so one provider round trip serves them all.
func (g *Guardian) refresh(ctx context.Context) (string, error) {
	conn, ok := g.store.Get()
	if !ok {
		return "", ErrNotConnected
	}

	if !conn.Tokens.AccessExpired(refreshMargin) {
		return conn.Tokens.AccessToken, nil
	}

	// A token carrying only the refresh token is never considered
	// valid, so the token source refreshes unconditionally instead of
	// applying its own expiry slack.
	src := g.oauth.TokenSource(withTokenClient(ctx, g.httpClient), &oauth2.Token{RefreshToken: conn.Tokens.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		status, body := providerDetails(err)
		g.logger.Warn("token refresh failed",
			slog.String("realm_id", conn.RealmID),
			slog.Int("status", status),
		)

		return "", &RefreshError{StatusCode: status, Body: body, Err: err}
	}

	pair := tokenPairFromOAuth(tok)

	// Intuit rotates the refresh token on most refreshes but may omit
	// it from the response; keep the previous one in that case.
	if pair.RefreshToken == "" {
		pair.RefreshToken = conn.Tokens.RefreshToken
		pair.RefreshExpiry = conn.Tokens.RefreshExpiry
	} else if pair.RefreshExpiry.IsZero() {
		pair.RefreshExpiry = conn.Tokens.RefreshExpiry
	}

	if !g.store.UpdateTokens(conn.RealmID, pair) {
		// Disconnected, or a different company connected, while the
		// refresh was in flight.
		return "", ErrNotConnected
	}

	g.logger.Debug("access token refreshed",
		slog.String("realm_id", conn.RealmID),
		slog.Time("access_expiry", pair.AccessExpiry),
	)

	return pair.AccessToken, nil
}
