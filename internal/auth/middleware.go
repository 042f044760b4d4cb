package auth

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey int

const (
	ctxRealmID contextKey = iota
)

// RequestRealmID returns the connected realm ID from the context, or "".
func RequestRealmID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRealmID).(string)
	return v
}

// RequireConnected returns HTTP middleware that rejects requests until
// a QuickBooks company is connected. The realm ID is injected into the
// request context so downstream handlers can log it.
func RequireConnected(store *Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, ok := store.Get()
			if !ok {
				logger.Debug("middleware: no QuickBooks connection",
					slog.String("path", r.URL.Path),
				)
				WriteJSONError(w, http.StatusUnauthorized, "not_connected", "no QuickBooks company connected; visit /auth/connect first")

				return
			}

			ctx := context.WithValue(r.Context(), ctxRealmID, conn.RealmID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
