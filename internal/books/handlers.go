package books

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alexjbarnes/books-gateway/internal/auth"
	"github.com/tidwall/gjson"
)

const (
	// maxInboundBody caps invoice documents accepted from callers.
	maxInboundBody = 1024 * 1024

	// Paging defaults and bound for the list endpoint.
	defaultStartPosition = 1
	defaultMaxResults    = 20
	maxResultsCeiling    = 100
)

// InvoiceAPI is the slice of the QuickBooks client the HTTP handlers
// use. It is satisfied by *Client.
type InvoiceAPI interface {
	CreateInvoice(ctx context.Context, invoice []byte) ([]byte, error)
	Invoice(ctx context.Context, id string) ([]byte, error)
	QueryInvoices(ctx context.Context, startPosition, maxResults int) ([]byte, error)
	InvoicePDF(ctx context.Context, id string) (io.ReadCloser, error)
	SendInvoice(ctx context.Context, id, sendTo string) ([]byte, error)
}

// HandleCreateInvoice returns the POST /invoices handler. The body is
// forwarded to QuickBooks as-is; the gateway does not validate invoice
// contents.
func HandleCreateInvoice(api InvoiceAPI, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboundBody))
		if err != nil {
			auth.WriteJSONError(w, http.StatusBadRequest, "invalid_request", "reading request body: "+err.Error())
			return
		}

		result, err := api.CreateInvoice(r.Context(), body)
		if err != nil {
			writeProxyError(w, logger, err)
			return
		}

		logger.Debug("invoice created", slog.String("realm_id", auth.RequestRealmID(r.Context())))
		writeJSON(w, http.StatusCreated, result)
	}
}

// HandleGetInvoice returns the GET /invoices/{id} handler.
func HandleGetInvoice(api InvoiceAPI, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := api.Invoice(r.Context(), r.PathValue("id"))
		if err != nil {
			writeProxyError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// HandleListInvoices returns the GET /invoices handler. Paging comes
// from the start and max query parameters; max is capped at 100.
func HandleListInvoices(api InvoiceAPI, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := queryInt(r, "start", defaultStartPosition)
		if start < 1 {
			start = defaultStartPosition
		}

		max := queryInt(r, "max", defaultMaxResults)
		if max < 1 {
			max = defaultMaxResults
		}
		if max > maxResultsCeiling {
			max = maxResultsCeiling
		}

		result, err := api.QueryInvoices(r.Context(), start, max)
		if err != nil {
			writeProxyError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// HandleInvoicePDF returns the GET /invoices/{id}/pdf handler. The PDF
// is streamed through rather than buffered.
func HandleInvoicePDF(api InvoiceAPI, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		pdf, err := api.InvoicePDF(r.Context(), id)
		if err != nil {
			writeProxyError(w, logger, err)
			return
		}
		defer pdf.Close()

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=invoice-%s.pdf", id))

		if _, err := io.Copy(w, pdf); err != nil {
			// Headers are already written; all we can do is log.
			logger.Warn("streaming invoice pdf failed",
				slog.String("invoice_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// HandleSendInvoice returns the POST /invoices/{id}/email handler. The
// recipient comes from the to query parameter or a {"to": ...} JSON
// body; when both are absent QuickBooks uses the address on the
// invoice.
func HandleSendInvoice(api InvoiceAPI, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		sendTo := r.URL.Query().Get("to")
		if sendTo == "" {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboundBody))
			if err != nil {
				auth.WriteJSONError(w, http.StatusBadRequest, "invalid_request", "reading request body: "+err.Error())
				return
			}
			if len(body) > 0 {
				sendTo = gjson.GetBytes(body, "to").String()
			}
		}

		result, err := api.SendInvoice(r.Context(), id, sendTo)
		if err != nil {
			writeProxyError(w, logger, err)
			return
		}

		logger.Debug("invoice emailed", slog.String("invoice_id", id))
		writeJSON(w, http.StatusOK, result)
	}
}

// queryInt parses an integer query parameter, falling back to def when
// absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}

	return n
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeProxyError translates a failed proxied call into an HTTP
// response. Provider error bodies are forwarded verbatim when they are
// JSON, keeping the provider's status; everything else gets the
// gateway's error envelope. Credential failures map to 401 so the
// caller knows to reconnect.
func writeProxyError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		refreshErr *auth.RefreshError
		apiErr     *APIError
	)

	switch {
	case errors.Is(err, auth.ErrNotConnected):
		auth.WriteJSONError(w, http.StatusUnauthorized, "not_connected", "no QuickBooks company connected; visit /auth/connect first")

	case errors.As(err, &refreshErr):
		logger.Warn("rejecting request after failed token refresh", slog.String("error", refreshErr.Error()))
		auth.WriteJSONError(w, http.StatusUnauthorized, "refresh_failed", refreshErr.Error())

	case errors.As(err, &apiErr):
		logger.Warn("quickbooks call failed",
			slog.Int("status", apiErr.StatusCode),
			slog.String("message", apiErr.Message),
		)

		if apiErr.JSONBody() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(apiErr.StatusCode)
			w.Write(apiErr.Body)

			return
		}

		status := apiErr.StatusCode
		if status == 0 {
			status = http.StatusBadRequest
		}
		auth.WriteJSONError(w, status, "provider_error", apiErr.Message)

	default:
		logger.Error("unexpected proxy error", slog.String("error", err.Error()))
		auth.WriteJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
