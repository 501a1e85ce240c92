// Package oracle talks JSON over HTTP to the document and face analysis
// services. Both run next to the daemon and read images by reference.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kycflow/internal/verification/models"
	"kycflow/internal/verification/ports"
	id "kycflow/pkg/domain"
)

const maxResponseBytes = 256 << 10

type Client struct {
	documentURL string
	faceURL     string
	http        *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// New builds a client for both oracles. Per-call deadlines come from the
// caller's context; the transport timeout is only a backstop.
func New(documentURL, faceURL string, opts ...Option) *Client {
	c := &Client{
		documentURL: strings.TrimRight(documentURL, "/"),
		faceURL:     strings.TrimRight(faceURL, "/"),
		http:        &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ ports.DocumentOracle = (*Client)(nil)
	_ ports.FaceOracle     = (*Client)(nil)
	_ ports.PreviewChecker = (*Client)(nil)
)

type analyzeRequest struct {
	ImageRef     models.ImageRef `json:"image_ref"`
	DocumentType id.DocumentType `json:"document_type"`
}

type analyzeResponse struct {
	QualityScore    *float64          `json:"quality_score"`
	ExtractedFields map[string]string `json:"extracted_fields"`
}

func (c *Client) Analyze(ctx context.Context, ref models.ImageRef, docType id.DocumentType) (*ports.DocumentAnalysis, error) {
	var resp analyzeResponse
	if err := c.do(ctx, "document", http.MethodPost, c.documentURL+"/v1/documents/analyze", analyzeRequest{ImageRef: ref, DocumentType: docType}, &resp); err != nil {
		return nil, err
	}
	if resp.QualityScore == nil {
		return nil, newError(CategoryContractMismatch, "document", "response has no quality_score", nil)
	}
	return &ports.DocumentAnalysis{QualityScore: *resp.QualityScore, ExtractedFields: resp.ExtractedFields}, nil
}

type livenessRequest struct {
	ImageRef   models.ImageRef      `json:"image_ref"`
	Challenges []models.ChallengeID `json:"challenges"`
}

type livenessResponse struct {
	LivenessScore *float64                    `json:"liveness_score"`
	Checks        map[models.ChallengeID]bool `json:"checks"`
}

func (c *Client) AnalyzeLiveness(ctx context.Context, ref models.ImageRef, challenges []models.ChallengeID) (*ports.LivenessAnalysis, error) {
	var resp livenessResponse
	if err := c.do(ctx, "face", http.MethodPost, c.faceURL+"/v1/liveness", livenessRequest{ImageRef: ref, Challenges: challenges}, &resp); err != nil {
		return nil, err
	}
	if resp.LivenessScore == nil {
		return nil, newError(CategoryContractMismatch, "face", "response has no liveness_score", nil)
	}
	return &ports.LivenessAnalysis{LivenessScore: *resp.LivenessScore, Checks: resp.Checks}, nil
}

type matchRequest struct {
	DocumentRef models.ImageRef `json:"document_ref"`
	LiveRef     models.ImageRef `json:"live_ref"`
}

type matchResponse struct {
	MatchScore *float64 `json:"match_score"`
}

func (c *Client) Match(ctx context.Context, docFaceRef, liveFaceRef models.ImageRef) (float64, error) {
	var resp matchResponse
	if err := c.do(ctx, "face", http.MethodPost, c.faceURL+"/v1/match", matchRequest{DocumentRef: docFaceRef, LiveRef: liveFaceRef}, &resp); err != nil {
		return 0, err
	}
	if resp.MatchScore == nil {
		return 0, newError(CategoryContractMismatch, "face", "response has no match_score", nil)
	}
	return *resp.MatchScore, nil
}

func (c *Client) CheckDocumentPreview(ctx context.Context) (float64, error) {
	var resp struct {
		QualityScore float64 `json:"quality_score"`
	}
	if err := c.do(ctx, "document", http.MethodGet, c.documentURL+"/v1/preview", nil, &resp); err != nil {
		return 0, err
	}
	return resp.QualityScore, nil
}

func (c *Client) CheckFacePresence(ctx context.Context) (bool, error) {
	var resp struct {
		FacePresent bool `json:"face_present"`
	}
	if err := c.do(ctx, "face", http.MethodGet, c.faceURL+"/v1/preview", nil, &resp); err != nil {
		return false, err
	}
	return resp.FacePresent, nil
}

func (c *Client) do(ctx context.Context, oracle, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", oracle, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", oracle, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Keep the context error visible to the engine's timeout handling.
			return ctx.Err()
		}
		return newError(CategoryOutage, oracle, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return newError(CategoryOutage, oracle, "read response", err)
	}
	if err := statusError(oracle, resp.StatusCode, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(CategoryBadData, oracle, "decode response", err)
	}
	return nil
}

func statusError(oracle string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(CategoryAuthentication, oracle, msg, nil)
	case status == http.StatusTooManyRequests:
		return newError(CategoryRateLimited, oracle, msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return newError(CategoryTimeout, oracle, msg, nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return newError(CategoryBadData, oracle, msg, nil)
	case status == http.StatusNotFound || status == http.StatusNotImplemented:
		return newError(CategoryContractMismatch, oracle, msg, nil)
	case status >= 500:
		return newError(CategoryOutage, oracle, msg, nil)
	}
	return newError(CategoryContractMismatch, oracle, msg, errors.New("unexpected status"))
}
