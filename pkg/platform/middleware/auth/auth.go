package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"kycflow/pkg/platform/middleware/device"
	request "kycflow/pkg/platform/middleware/request"
)

// JWTValidator defines the interface for validating device tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*DeviceClaims, error)
}

// DeviceClaims represents the claims we expect from the JWT validator
type DeviceClaims struct {
	DeviceID string
	JTI      string
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireDevice rejects requests without a valid device bearer token and
// stores the device id in the request context.
func RequireDevice(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(device.WithDeviceID(ctx, claims.DeviceID)))
		})
	}
}

// DeviceIDFrom is a shorthand for handlers.
func DeviceIDFrom(ctx context.Context) string {
	return device.GetDeviceID(ctx)
}
