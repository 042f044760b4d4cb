// Package books proxies invoice operations to the QuickBooks Online
// accounting API for a single connected company.
package books

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// QuickBooks API hosts by environment.
const (
	sandboxHost    = "https://sandbox-quickbooks.api.intuit.com"
	productionHost = "https://quickbooks.api.intuit.com"
)

const (
	// minorVersion pins the QuickBooks API minor version sent with
	// every request.
	minorVersion = "75"

	// httpClientTimeout bounds each proxied request when no custom
	// http.Client is provided.
	httpClientTimeout = 30 * time.Second

	// maxJSONResponseBytes caps JSON response reads. Invoice payloads
	// are small; anything larger indicates a misbehaving server.
	maxJSONResponseBytes = 1024 * 1024

	// maxPDFBytes caps invoice PDF downloads.
	maxPDFBytes = 32 * 1024 * 1024
)

// APIBase returns the QuickBooks API base URL for an environment name.
// Anything other than "production" selects the sandbox.
func APIBase(environment string) string {
	if environment == "production" {
		return productionHost
	}
	return sandboxHost
}

// Credentials supplies the connected company and a valid access token
// for each proxied request.
type Credentials interface {
	// RealmID returns the connected company's realm ID.
	RealmID() (string, error)

	// AccessToken returns an access token valid long enough to serve
	// one request, refreshing the stored tokens first when needed.
	AccessToken(ctx context.Context) (string, error)
}

// Client calls the QuickBooks Online API for a single company. Request
// and response documents are treated as opaque JSON; the gateway adds
// authentication and error translation, nothing else.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
}

// NewClient creates a QuickBooks API client rooted at baseURL, which
// callers derive from the configured environment via APIBase.
// If httpClient is nil, a client with a 30-second timeout is created.
func NewClient(baseURL string, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: httpClientTimeout,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		creds:      creds,
	}
}

// request performs one authenticated API call. Non-2xx responses and
// transport failures are translated to *APIError; credential failures
// are returned untouched so callers can tell them apart.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body []byte, contentType, accept string) (*http.Response, error) {
	realm, err := c.creds.RealmID()
	if err != nil {
		return nil, err
	}

	token, err := c.creds.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("minorversion", minorVersion)

	endpoint := fmt.Sprintf("%s/v3/company/%s%s?%s", c.baseURL, url.PathEscape(realm), path, query.Encode())

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(fmt.Errorf("sending request to %s: %w", path, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
		if readErr != nil {
			return nil, transportError(fmt.Errorf("reading error response from %s: %w", path, readErr))
		}

		return nil, newAPIError(resp.StatusCode, respBody)
	}

	return resp, nil
}

// requestJSON performs an API call whose response is a JSON document
// and returns the raw body.
func (c *Client) requestJSON(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) ([]byte, error) {
	resp, err := c.request(ctx, method, path, query, body, contentType, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Cap response reads. Invoice documents are small JSON payloads.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
	if err != nil {
		return nil, transportError(fmt.Errorf("reading response from %s: %w", path, err))
	}

	return respBody, nil
}

// CreateInvoice posts an invoice document and returns the provider's
// representation of the created invoice.
func (c *Client) CreateInvoice(ctx context.Context, invoice []byte) ([]byte, error) {
	body, err := c.requestJSON(ctx, http.MethodPost, "/invoice", nil, invoice, "application/json")
	if err != nil {
		return nil, fmt.Errorf("creating invoice: %w", err)
	}

	return body, nil
}

// Invoice fetches a single invoice by its QuickBooks ID.
func (c *Client) Invoice(ctx context.Context, id string) ([]byte, error) {
	body, err := c.requestJSON(ctx, http.MethodGet, "/invoice/"+url.PathEscape(id), nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetching invoice %s: %w", id, err)
	}

	return body, nil
}

// QueryInvoices lists invoices through the query endpoint, paged with
// STARTPOSITION and MAXRESULTS.
func (c *Client) QueryInvoices(ctx context.Context, startPosition, maxResults int) ([]byte, error) {
	query := url.Values{}
	query.Set("query", fmt.Sprintf("SELECT * FROM Invoice STARTPOSITION %d MAXRESULTS %d", startPosition, maxResults))

	body, err := c.requestJSON(ctx, http.MethodGet, "/query", query, nil, "")
	if err != nil {
		return nil, fmt.Errorf("querying invoices: %w", err)
	}

	return body, nil
}

// InvoicePDF streams the rendered PDF for an invoice. The caller must
// close the returned reader.
func (c *Client) InvoicePDF(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := c.request(ctx, http.MethodGet, "/invoice/"+url.PathEscape(id)+"/pdf", nil, nil, "", "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("fetching pdf for invoice %s: %w", id, err)
	}

	return newLimitedBody(resp.Body, maxPDFBytes), nil
}

// SendInvoice asks QuickBooks to email an invoice. When sendTo is
// empty the address on the invoice is used. The send endpoint takes no
// request document; Intuit requires the octet-stream content type on
// this POST.
func (c *Client) SendInvoice(ctx context.Context, id, sendTo string) ([]byte, error) {
	var query url.Values
	if sendTo != "" {
		query = url.Values{}
		query.Set("sendTo", sendTo)
	}

	body, err := c.requestJSON(ctx, http.MethodPost, "/invoice/"+url.PathEscape(id)+"/send", query, nil, "application/octet-stream")
	if err != nil {
		return nil, fmt.Errorf("sending invoice %s: %w", id, err)
	}

	return body, nil
}

// limitedBody caps reads from a response body while preserving Close.
type limitedBody struct {
	io.Reader
	io.Closer
}

func newLimitedBody(rc io.ReadCloser, limit int64) io.ReadCloser {
	return &limitedBody{Reader: io.LimitReader(rc, limit), Closer: rc}
}
