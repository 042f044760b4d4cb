// Package server provides HTTP server construction for the books
// gateway.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/books-gateway/internal/auth"
	"github.com/alexjbarnes/books-gateway/internal/books"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Store    *auth.Store
	Flow     *auth.Flow
	Invoices books.InvoiceAPI
	Logger   *slog.Logger
}

// NewMux builds the HTTP mux with the health, OAuth connection, and
// invoice endpoints. Invoice routes are gated on a connected company.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleHealth(cfg.Store))
	mux.HandleFunc("GET /auth/connect", auth.HandleConnect(cfg.Flow, cfg.Logger))
	mux.HandleFunc("GET /auth/callback", auth.HandleCallback(cfg.Flow, cfg.Logger))
	mux.HandleFunc("POST /auth/disconnect", auth.HandleDisconnect(cfg.Store, cfg.Logger))

	requireConnected := auth.RequireConnected(cfg.Store, cfg.Logger)
	mux.Handle("POST /invoices", requireConnected(books.HandleCreateInvoice(cfg.Invoices, cfg.Logger)))
	mux.Handle("GET /invoices", requireConnected(books.HandleListInvoices(cfg.Invoices, cfg.Logger)))
	mux.Handle("GET /invoices/{id}", requireConnected(books.HandleGetInvoice(cfg.Invoices, cfg.Logger)))
	mux.Handle("GET /invoices/{id}/pdf", requireConnected(books.HandleInvoicePDF(cfg.Invoices, cfg.Logger)))
	mux.Handle("POST /invoices/{id}/email", requireConnected(books.HandleSendInvoice(cfg.Invoices, cfg.Logger)))

	return mux
}

// handleHealth reports process liveness and whether a QuickBooks
// company is currently connected.
func handleHealth(store *auth.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"ok":        true,
			"connected": store.Connected(),
		})
	}
}
