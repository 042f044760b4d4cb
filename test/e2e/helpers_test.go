package e2e_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alexjbarnes/books-gateway/internal/auth"
	"github.com/alexjbarnes/books-gateway/internal/books"
	"github.com/alexjbarnes/books-gateway/internal/server"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testClientID     = "e2e-client-id"
	testClientSecret = "e2e-client-secret"
	testRealmID      = "9341453907"
	testAuthCode     = "e2e-auth-code"
)

// fakeIntuit stands in for Intuit's OAuth token endpoint. Each token
// grant issues a numbered access/refresh token pair so tests can tell
// exchanged and refreshed tokens apart.
type fakeIntuit struct {
	mu sync.Mutex

	// tokenHits counts calls to the token endpoint.
	tokenHits int

	// expiresIn is the access token lifetime reported to the gateway.
	// Values at or below the refresh margin make every proxied call
	// refresh first.
	expiresIn int

	// failRefresh makes refresh_token grants fail with invalid_grant.
	failRefresh bool
}

func newFakeIntuit() *fakeIntuit {
	return &fakeIntuit{expiresIn: 3600}
}

func (f *fakeIntuit) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if grant := r.PostFormValue("grant_type"); grant == "refresh_token" && f.failRefresh {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))

		return
	}

	f.tokenHits++

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
		"access_token": "e2e-access-%d",
		"refresh_token": "e2e-refresh-%d",
		"token_type": "bearer",
		"expires_in": %d,
		"x_refresh_token_expires_in": 8726400
	}`, f.tokenHits, f.tokenHits, f.expiresIn)
}

// hits returns the number of token endpoint calls so far.
func (f *fakeIntuit) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenHits
}

func (f *fakeIntuit) setExpiresIn(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiresIn = seconds
}

func (f *fakeIntuit) setFailRefresh(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRefresh = fail
}

// fakeQuickBooks stands in for the QuickBooks Online API. It records
// the credentials and query of the last proxied request.
type fakeQuickBooks struct {
	mu sync.Mutex

	lastBearer string
	lastQuery  url.Values
}

func (f *fakeQuickBooks) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastBearer = r.Header.Get("Authorization")
	f.lastQuery = r.URL.Query()
}

func (f *fakeQuickBooks) seen() (bearer string, query url.Values) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBearer, f.lastQuery
}

func (f *fakeQuickBooks) mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc(fmt.Sprintf("POST /v3/company/%s/invoice", testRealmID), func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Invoice":{"Id":"146","DocNumber":"1046"}}`))
	})

	mux.HandleFunc(fmt.Sprintf("GET /v3/company/%s/invoice/{id}", testRealmID), func(w http.ResponseWriter, r *http.Request) {
		f.record(r)

		if r.PathValue("id") == "999" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"Fault":{"Error":[{"Message":"Object Not Found","code":"610"}],"type":"ValidationFault"}}`))

			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"Invoice":{"Id":"%s"}}`, r.PathValue("id"))
	})

	mux.HandleFunc(fmt.Sprintf("GET /v3/company/%s/query", testRealmID), func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"QueryResponse":{"Invoice":[{"Id":"145"},{"Id":"146"}],"startPosition":1,"maxResults":2}}`))
	})

	mux.HandleFunc(fmt.Sprintf("GET /v3/company/%s/invoice/{id}/pdf", testRealmID), func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 e2e invoice"))
	})

	mux.HandleFunc(fmt.Sprintf("POST /v3/company/%s/invoice/{id}/send", testRealmID), func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"Invoice":{"Id":"%s","EmailStatus":"EmailSent"}}`, r.PathValue("id"))
	})

	return mux
}

// harness holds the full e2e stack: a fake Intuit OAuth provider, a
// fake QuickBooks API, and the real gateway wired against both.
type harness struct {
	URL    string
	Store  *auth.Store
	Intuit *fakeIntuit
	QB     *fakeQuickBooks
	Client *http.Client
}

// newHarness starts the fake provider and API servers, then the real
// gateway mux via server.NewMux pointed at them.
func newHarness(t *testing.T) *harness {
	t.Helper()

	intuit := newFakeIntuit()
	providerMux := http.NewServeMux()
	providerMux.HandleFunc("POST /token", intuit.handleToken)
	provider := httptest.NewServer(providerMux)
	t.Cleanup(provider.Close)

	qb := &fakeQuickBooks{}
	qbSrv := httptest.NewServer(qb.mux())
	t.Cleanup(qbSrv.Close)

	logger := slog.New(slog.DiscardHandler)

	store := auth.NewStore()
	t.Cleanup(store.Stop)

	// Use NewUnstartedServer so the redirect URI can point back at the
	// gateway's own address.
	ts := httptest.NewUnstartedServer(nil)
	gatewayURL := "http://" + ts.Listener.Addr().String()

	oauth := &oauth2.Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  gatewayURL + "/auth/callback",
		Scopes:       []string{"com.intuit.quickbooks.accounting"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   provider.URL + "/authorize",
			TokenURL:  provider.URL + "/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	flow := auth.NewFlow(oauth, store, logger)
	guardian := auth.NewGuardian(oauth, store, logger)
	invoices := books.NewClient(qbSrv.URL, guardian, nil)

	ts.Config.Handler = server.NewMux(server.MuxConfig{
		Store:    store,
		Flow:     flow,
		Invoices: invoices,
		Logger:   logger,
	})
	ts.Start()
	t.Cleanup(ts.Close)

	return &harness{
		URL:    gatewayURL,
		Store:  store,
		Intuit: intuit,
		QB:     qb,
		Client: ts.Client(),
	}
}

// connect walks the authorization flow: GET /auth/connect to obtain
// the state, then the callback as Intuit would issue it.
func (h *harness) connect(t *testing.T) {
	t.Helper()

	resp := h.doGetNoRedirect(t, "/auth/connect")
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	state := loc.Query().Get("state")
	require.NotEmpty(t, state, "consent URL missing state")

	cb := h.doGet(t, "/auth/callback?"+url.Values{
		"code":    {testAuthCode},
		"realmId": {testRealmID},
		"state":   {state},
	}.Encode())
	defer cb.Body.Close()

	require.Equal(t, http.StatusOK, cb.StatusCode)
}

// health fetches GET / and decodes the health document.
func (h *harness) health(t *testing.T) map[string]any {
	t.Helper()

	resp := h.doGet(t, "/")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body
}

// doGet performs a GET against the gateway with t.Context().
func (h *harness) doGet(t *testing.T, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, h.URL+path, nil)
	require.NoError(t, err)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doGetNoRedirect performs a GET that does not follow redirects.
func (h *harness) doGetNoRedirect(t *testing.T, path string) *http.Response {
	t.Helper()

	noRedirect := *h.Client
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, h.URL+path, nil)
	require.NoError(t, err)

	resp, err := noRedirect.Do(req)
	require.NoError(t, err)

	return resp
}

// doPost performs a POST with an optional JSON body and t.Context().
func (h *harness) doPost(t *testing.T, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, h.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}
