// Package uploader implements the transports the sync worker uploads through.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() (string, error)
}

// StatusError is a non-success response from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// HTTP uploads bundles with PUT /v1/verifications/{sessionID}. The session id
// doubles as the Idempotency-Key, so a replay never creates a second record.
type HTTP struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

type HTTPOption func(*HTTP)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(u *HTTP) {
		u.client = c
	}
}

func NewHTTP(baseURL string, tokens TokenSource, opts ...HTTPOption) *HTTP {
	u := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *HTTP) Upload(ctx context.Context, sessionID id.SessionID, payload []byte) (*models.Ack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.baseURL+"/v1/verifications/"+sessionID.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sessionID.String())
	if u.tokens != nil {
		token, err := u.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("device token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", sessionID, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusConflict:
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ack := &models.Ack{SessionID: sessionID, ReceivedAt: time.Now().UTC()}
	if len(body) > 0 && resp.StatusCode != http.StatusConflict {
		if err := json.Unmarshal(body, ack); err != nil {
			return nil, fmt.Errorf("decode ack: %w", err)
		}
	}
	if resp.StatusCode != http.StatusCreated {
		ack.Duplicate = true
	}
	return ack, nil
}
