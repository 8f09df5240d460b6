// Package admin guards write endpoints of the admin surface with a shared
// token sent in the X-Admin-Token header.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"contentsync/pkg/platform/httputil"
)

const tokenHeader = "X-Admin-Token"

// RequireAdminToken rejects requests whose token does not match expectedToken.
// An empty expectedToken rejects every request.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(tokenHeader)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", middleware.GetReqID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, httputil.Unauthorized("admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
