package admin

import (
	"log/slog"
	"net/http"

	request "kycflow/pkg/platform/middleware/request"
	"kycflow/pkg/platform/secrets"
)

// HeaderAdminToken carries the operator token on admin routes.
const HeaderAdminToken = "X-Admin-Token"

// RequireAdminToken guards operator routes with the bcrypt hash of the
// operator token. An empty hash disables them entirely.
func RequireAdminToken(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderAdminToken)
			if tokenHash == "" || token == "" || secrets.Verify(token, tokenHash) != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", request.GetRequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
