package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/media"
	"kycflow/internal/preferences"
	"kycflow/internal/verification/engine"
	"kycflow/internal/verification/handler"
	"kycflow/internal/verification/models"
	"kycflow/internal/verification/ports"
	"kycflow/internal/verification/store"
	id "kycflow/pkg/domain"
)

type fixedOracle struct {
	document, liveness, match float64
}

func (o fixedOracle) Analyze(context.Context, models.ImageRef, id.DocumentType) (*ports.DocumentAnalysis, error) {
	return &ports.DocumentAnalysis{QualityScore: o.document}, nil
}

func (o fixedOracle) AnalyzeLiveness(context.Context, models.ImageRef, []models.ChallengeID) (*ports.LivenessAnalysis, error) {
	return &ports.LivenessAnalysis{LivenessScore: o.liveness}, nil
}

func (o fixedOracle) Match(context.Context, models.ImageRef, models.ImageRef) (float64, error) {
	return o.match, nil
}

type HandlerSuite struct {
	suite.Suite
	store    *store.InMemory
	server   *httptest.Server
	mediaDir string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.serve(fixedOracle{document: 0.85, liveness: 0.9, match: 0.8})
}

// serve replaces the server with one whose oracles answer with oracle.
func (s *HandlerSuite) serve(oracle fixedOracle) {
	if s.server != nil {
		s.server.Close()
	}
	dir := s.T().TempDir()
	s.store = store.NewInMemory()
	s.mediaDir = filepath.Join(dir, "media")
	mediaStore, err := media.NewStore(s.mediaDir)
	s.Require().NoError(err)
	eng, err := engine.New(s.store, oracle, oracle, engine.WithImageStore(mediaStore))
	s.Require().NoError(err)

	h := handler.New(eng, mediaStore, preferences.NewFile(filepath.Join(dir, "prefs.yaml")),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	s.server = httptest.NewServer(r)
}

// images counts the image files on disk.
func (s *HandlerSuite) images() int {
	n := 0
	err := filepath.WalkDir(s.mediaDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	s.Require().NoError(err)
	return n
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
	s.server = nil
}

func (s *HandlerSuite) do(method, path string, body []byte, out any) int {
	req, err := http.NewRequest(method, s.server.URL+path, bytes.NewReader(body))
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	if out != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *HandlerSuite) start(docType string) engine.View {
	var v engine.View
	status := s.do(http.MethodPost, "/v1/sessions", []byte(`{"document_type":"`+docType+`"}`), &v)
	s.Require().Equal(http.StatusCreated, status)
	return v
}

func (s *HandlerSuite) TestFullSessionOverHTTP() {
	v := s.start("aadhaar")
	s.Equal(models.StateDocumentCapture, v.State)
	base := "/v1/sessions/" + v.SessionID.String()

	var res engine.Result
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, base+"/document", []byte("document-jpeg"), &res))
	s.Equal(models.StateFaceCapture, res.View.State)
	s.Require().NotEmpty(res.View.Challenges)

	for _, c := range res.View.Challenges {
		var view engine.View
		s.Require().Equal(http.StatusOK, s.do(http.MethodPost, base+"/challenges/"+string(c), nil, &view))
	}

	res = engine.Result{}
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, base+"/face", []byte("face-jpeg"), &res))
	s.Equal(models.StateCompleted, res.View.State)
	s.Require().NotNil(res.View.Scores.Overall)
	s.InDelta(0.85, *res.View.Scores.Overall, 1e-9)
	s.Equal(models.SyncPending, res.View.SyncStatus)

	var got engine.View
	s.Equal(http.StatusOK, s.do(http.MethodGet, base, nil, &got))
	s.Equal(models.SessionCompleted, got.Status)

	doc, err := s.store.GetDocumentRecord(context.Background(), v.SessionID)
	s.Require().NoError(err)
	s.Contains(string(doc.ImageRef), v.SessionID.String())
}

func (s *HandlerSuite) TestErrors() {
	v := s.start("passport")
	base := "/v1/sessions/" + v.SessionID.String()

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		status int
	}{
		{name: "unknown document type", method: http.MethodPost, path: "/v1/sessions", body: []byte(`{"document_type":"library_card"}`), status: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/v1/sessions", body: []byte(`{"document_type":"pan","x":1}`), status: http.StatusBadRequest},
		{name: "bad session id", method: http.MethodGet, path: "/v1/sessions/nope", status: http.StatusBadRequest},
		{name: "unknown session", method: http.MethodGet, path: "/v1/sessions/" + id.NewSessionID().String(), status: http.StatusNotFound},
		{name: "face before document", method: http.MethodPost, path: base + "/face", body: []byte("face"), status: http.StatusConflict},
		{name: "challenge before face stage", method: http.MethodPost, path: base + "/challenges/blink", status: http.StatusConflict},
		{name: "unknown challenge", method: http.MethodPost, path: base + "/challenges/juggle", status: http.StatusBadRequest},
		{name: "no capture provider", method: http.MethodPost, path: base + "/document", status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Equal(tt.status, s.do(tt.method, tt.path, tt.body, nil))
		})
	}
}

func (s *HandlerSuite) TestUploadsOutsideTheirStageAreNotStored() {
	for i := 0; i < 3; i++ {
		path := "/v1/sessions/" + id.NewSessionID().String() + "/document"
		s.Equal(http.StatusNotFound, s.do(http.MethodPost, path, []byte("document-jpeg"), nil))
	}
	s.Zero(s.images())

	v := s.start("passport")
	base := "/v1/sessions/" + v.SessionID.String()
	s.Equal(http.StatusConflict, s.do(http.MethodPost, base+"/face", []byte("face-jpeg"), nil))
	s.Zero(s.images())

	var res engine.Result
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, base+"/document", []byte("document-jpeg"), &res))
	s.Require().Equal(models.StateFaceCapture, res.View.State)
	s.Equal(1, s.images())

	s.Equal(http.StatusConflict, s.do(http.MethodPost, base+"/document", []byte("second-document"), nil))
	s.Equal(http.StatusConflict, s.do(http.MethodPost, base+"/face", []byte("face-before-challenges"), nil))
	s.Equal(1, s.images())
}

func (s *HandlerSuite) TestRetriedAndFailedImagesAreDiscarded() {
	s.serve(fixedOracle{document: 0.6, liveness: 0.9, match: 0.8})
	v := s.start("pan")
	base := "/v1/sessions/" + v.SessionID.String()

	var res engine.Result
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, base+"/document", []byte("blurry"), &res))
	s.Require().Equal(models.StateDocumentCapture, res.View.State)
	s.Zero(s.images())

	for i := 0; i < 3; i++ {
		res = engine.Result{}
		s.Require().Equal(http.StatusOK, s.do(http.MethodPost, base+"/document", []byte("blurry"), &res))
	}
	s.Require().Equal(models.StateFailed, res.View.State)
	s.Zero(s.images())

	s.Equal(http.StatusConflict, s.do(http.MethodPost, base+"/document", []byte("late"), nil))
	s.Zero(s.images())
}

func (s *HandlerSuite) TestLanguagePreferenceAppliesToNewSessions() {
	var lang struct {
		Language string `json:"language"`
	}
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/v1/preferences/language", nil, &lang))
	s.Equal("en", lang.Language)

	s.Equal(http.StatusOK, s.do(http.MethodPut, "/v1/preferences/language", []byte(`{"language":"ta"}`), &lang))
	s.Equal(http.StatusBadRequest, s.do(http.MethodPut, "/v1/preferences/language", []byte(`{"language":"xx"}`), nil))

	v := s.start("pan")
	s.Equal(id.LanguageTamil, v.Language)

	var explicit engine.View
	s.Equal(http.StatusCreated, s.do(http.MethodPost, "/v1/sessions", []byte(`{"document_type":"pan","language":"bn"}`), &explicit))
	s.Equal(id.LanguageBengali, explicit.Language)
}

func (s *HandlerSuite) TestStageControlAndPreview() {
	v := s.start("pan")
	base := "/v1/sessions/" + v.SessionID.String()

	var view engine.View
	s.Equal(http.StatusOK, s.do(http.MethodPost, base+"/stage/start", nil, &view))
	s.Equal(models.StateDocumentCapture, view.State)

	var preview map[string]any
	s.Equal(http.StatusOK, s.do(http.MethodGet, base+"/preview", nil, &preview))

	s.Equal(http.StatusOK, s.do(http.MethodPost, base+"/stage/stop", nil, &view))

	var res engine.Result
	s.Equal(http.StatusOK, s.do(http.MethodPost, base+"/resume", nil, &res))
	s.Equal(models.StateDocumentCapture, res.View.State)
}
