package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/pkg/platform/secrets"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	hash, err := secrets.Hash("s3cret")
	require.NoError(t, err)

	tests := []struct {
		name   string
		hash   string
		sent   string
		status int
	}{
		{name: "match", hash: hash, sent: "s3cret", status: http.StatusNoContent},
		{name: "mismatch", hash: hash, sent: "guess", status: http.StatusUnauthorized},
		{name: "missing", hash: hash, status: http.StatusUnauthorized},
		{name: "plaintext configured as hash", hash: "s3cret", sent: "s3cret", status: http.StatusUnauthorized},
		{name: "disabled", hash: "", sent: "", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/outbox/publish", nil)
			if tt.sent != "" {
				req.Header.Set(HeaderAdminToken, tt.sent)
			}
			rec := httptest.NewRecorder()
			RequireAdminToken(tt.hash, logger)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
