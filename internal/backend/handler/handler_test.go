package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/backend/handler"
	"kycflow/internal/backend/models"
	"kycflow/internal/backend/service"
	"kycflow/internal/backend/store"
	jwttoken "kycflow/internal/jwt_token"
	"kycflow/internal/outbox/uploader"
	vmodels "kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/secrets"
)

const (
	signingKey = "test-signing-key"
	issuer     = "kycflow-device"
	audience   = "kycflow-backend"
)

type HandlerSuite struct {
	suite.Suite
	store   *store.InMemory
	jwt     *jwttoken.JWTService
	server  *httptest.Server
	drained int
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = store.NewInMemory()
	s.jwt = jwttoken.NewJWTService(signingKey, issuer, audience)
	s.drained = 0

	adminHash, err := secrets.Hash("admin-token")
	s.Require().NoError(err)

	h := handler.New(service.New(s.store), jwttoken.NewJWTServiceAdapter(s.jwt), logger,
		handler.WithAdmin(adminHash, drainerFunc(func(context.Context) (int, error) {
			s.drained++
			return 3, nil
		})),
	)
	r := chi.NewRouter()
	h.Register(r)
	s.server = httptest.NewServer(r)
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

type drainerFunc func(context.Context) (int, error)

func (f drainerFunc) PublishPending(ctx context.Context) (int, error) { return f(ctx) }

func completedBundle(sid id.SessionID, deviceID string) []byte {
	overall, match := 0.85, 0.8
	now := time.Now().UTC()
	out, _ := json.Marshal(&vmodels.Bundle{
		SessionID: sid,
		DeviceID:  deviceID,
		Session: &vmodels.Session{
			ID: sid, DocumentType: id.DocumentPassport, Language: id.LanguageEnglish,
			Status: vmodels.SessionCompleted, OverallScore: &overall, CompletedAt: &now,
		},
		Document: &vmodels.DocumentRecord{SessionID: sid, ImageRef: "doc", QualityScore: 0.85},
		Face:     &vmodels.FaceRecord{SessionID: sid, ImageRef: "face", LivenessScore: 0.9, MatchScore: &match},
		Grade:    "Good",
	})
	return out
}

func (s *HandlerSuite) request(method, path, token string, body []byte) *http.Response {
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(string(body)))
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

// The device uploader replays the same bundle; the backend keeps one record.
func (s *HandlerSuite) TestUploaderReplayCreatesOneRecord() {
	ctx := context.Background()
	sid := id.NewSessionID()
	up := uploader.NewHTTP(s.server.URL, s.jwt.TokenSource("device-1", time.Hour))
	payload := completedBundle(sid, "device-1")

	first, err := up.Upload(ctx, sid, payload)
	s.Require().NoError(err)
	s.False(first.Duplicate)
	s.NotEmpty(first.RemoteID)

	second, err := up.Upload(ctx, sid, payload)
	s.Require().NoError(err)
	s.True(second.Duplicate)
	s.Equal(first.RemoteID, second.RemoteID)

	entries, err := s.store.FetchUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Len(entries, 1)

	v, err := s.store.FindBySessionID(ctx, sid)
	s.Require().NoError(err)
	s.Equal("device-1", v.DeviceID)
}

func (s *HandlerSuite) TestIngestRecordsPlatform() {
	sid := id.NewSessionID()
	token, err := s.jwt.GenerateDeviceToken("device-1", time.Hour)
	s.Require().NoError(err)

	resp := s.request(http.MethodPut, "/v1/verifications/"+sid.String(), token, completedBundle(sid, "device-1"))
	defer resp.Body.Close()
	s.Equal(http.StatusCreated, resp.StatusCode)

	var ack models.Ack
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&ack))
	s.Equal(sid, ack.SessionID)

	v, err := s.store.FindBySessionID(context.Background(), sid)
	s.Require().NoError(err)
	s.Contains(v.Platform, "Android")
}

func (s *HandlerSuite) TestIngestRejections() {
	sid := id.NewSessionID()
	token, err := s.jwt.GenerateDeviceToken("device-1", time.Hour)
	s.Require().NoError(err)
	expired, err := s.jwt.GenerateDeviceToken("device-1", -time.Minute)
	s.Require().NoError(err)

	tests := []struct {
		name   string
		path   string
		token  string
		body   []byte
		status int
	}{
		{name: "no token", path: sid.String(), body: completedBundle(sid, "device-1"), status: http.StatusUnauthorized},
		{name: "expired token", path: sid.String(), token: expired, body: completedBundle(sid, "device-1"), status: http.StatusUnauthorized},
		{name: "bad session id", path: "not-a-uuid", token: token, body: completedBundle(sid, "device-1"), status: http.StatusBadRequest},
		{name: "malformed body", path: sid.String(), token: token, body: []byte("{"), status: http.StatusBadRequest},
		{name: "other device", path: sid.String(), token: token, body: completedBundle(sid, "device-2"), status: http.StatusForbidden},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp := s.request(http.MethodPut, "/v1/verifications/"+tt.path, tt.token, tt.body)
			defer resp.Body.Close()
			s.Equal(tt.status, resp.StatusCode)
		})
	}
}

func (s *HandlerSuite) TestIdempotencyKeyMustMatchPath() {
	sid := id.NewSessionID()
	token, err := s.jwt.GenerateDeviceToken("device-1", time.Hour)
	s.Require().NoError(err)

	req, err := http.NewRequest(http.MethodPut, s.server.URL+"/v1/verifications/"+sid.String(), strings.NewReader(string(completedBundle(sid, "device-1"))))
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", id.NewSessionID().String())
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestGet() {
	sid := id.NewSessionID()
	token, err := s.jwt.GenerateDeviceToken("device-1", time.Hour)
	s.Require().NoError(err)
	other, err := s.jwt.GenerateDeviceToken("device-2", time.Hour)
	s.Require().NoError(err)

	resp := s.request(http.MethodGet, "/v1/verifications/"+sid.String(), token, nil)
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp = s.request(http.MethodPut, "/v1/verifications/"+sid.String(), token, completedBundle(sid, "device-1"))
	resp.Body.Close()

	resp = s.request(http.MethodGet, "/v1/verifications/"+sid.String(), token, nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	var v models.Verification
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&v))
	s.Equal(sid, v.SessionID)

	resp = s.request(http.MethodGet, "/v1/verifications/"+sid.String(), other, nil)
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlerSuite) TestAdminPublish() {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/admin/outbox/publish", nil)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Zero(s.drained)

	req.Header.Set("X-Admin-Token", "admin-token")
	resp, err = http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(1, s.drained)
}

func TestHealthz(t *testing.T) {
	r := chi.NewRouter()
	handler.New(service.New(store.NewInMemory()), nil, slog.Default()).Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type failingService struct{}

func (failingService) Ingest(context.Context, service.IngestRequest) (*models.Ack, bool, error) {
	return nil, false, errors.New("db exploded")
}

func (failingService) Get(context.Context, id.SessionID, string) (*models.Verification, error) {
	return nil, errors.New("db exploded")
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	jwt := jwttoken.NewJWTService(signingKey, issuer, audience)
	token, err := jwt.GenerateDeviceToken("device-1", time.Hour)
	require.NoError(t, err)

	r := chi.NewRouter()
	handler.New(failingService{}, jwttoken.NewJWTServiceAdapter(jwt), slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	req := httptest.NewRequest(http.MethodPut, "/v1/verifications/"+id.NewSessionID().String(), strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "exploded")
}
