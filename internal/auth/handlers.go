package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// HandleConnect returns the GET /auth/connect handler. It redirects the
// user-agent to the Intuit consent screen.
func HandleConnect(flow *Flow, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("redirecting to consent screen")
		http.Redirect(w, r, flow.ConsentURL(), http.StatusFound)
	}
}

// HandleCallback returns the GET /auth/callback handler, the redirect
// target registered with Intuit. On success the gateway holds tokens
// for the authorized company and starts proxying invoice requests.
func HandleCallback(flow *Flow, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		params := CallbackParams{
			Code:             q.Get("code"),
			RealmID:          q.Get("realmId"),
			State:            q.Get("state"),
			ErrorCode:        q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		}

		if err := flow.CompleteExchange(r.Context(), params); err != nil {
			logger.Warn("authorization callback failed", slog.String("error", err.Error()))
			http.Error(w, "authorization failed: "+err.Error(), http.StatusBadRequest)

			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Connected to QuickBooks. You can close this window.")
	}
}

// HandleDisconnect returns the POST /auth/disconnect handler. It clears
// the stored connection; consent held on the Intuit side is untouched.
func HandleDisconnect(store *Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store.Clear()
		logger.Info("disconnected from QuickBooks")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}
}

// WriteJSONError writes the gateway's error envelope. Every error body
// the gateway authors itself uses this shape; provider error bodies
// are forwarded verbatim instead.
func WriteJSONError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}
