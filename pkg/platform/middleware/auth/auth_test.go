package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*DeviceClaims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &DeviceClaims{DeviceID: "device-1", JTI: "j1"}, nil
}

func TestRequireDevice(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen string
	h := RequireDevice(stubValidator{}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = DeviceIDFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer good", status: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPut, "/v1/verifications/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "device-1", seen)
			} else {
				assert.Empty(t, seen)
				assert.JSONEq(t, `{"error":"unauthorized","error_description":"`+errorDescription(tt.header)+`"}`, rec.Body.String())
			}
		})
	}
}

func errorDescription(header string) string {
	if header == "Bearer nope" {
		return "Invalid or expired token"
	}
	return "Missing or invalid Authorization header"
}
