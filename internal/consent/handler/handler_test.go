package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"consent-manager/internal/consent/handler/mocks"
	"consent-manager/internal/consent/models"
	dErrors "consent-manager/pkg/domain-errors"
	authmw "consent-manager/pkg/platform/middleware/auth"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,ReplayGuard

// tokenTable treats the bearer token as the caller id.
type tokenTable struct{}

func (tokenTable) ValidateToken(token string) (*authmw.CallerClaims, error) {
	if token == "bad" {
		return nil, errors.New("invalid token")
	}
	return &authmw.CallerClaims{CallerID: token}, nil
}

type ConsentHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	guard   *mocks.MockReplayGuard
	router  http.Handler
	now     time.Time
}

func TestConsentHandlerSuite(t *testing.T) {
	suite.Run(t, new(ConsentHandlerSuite))
}

func (s *ConsentHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.guard = mocks.NewMockReplayGuard(ctrl)
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	h := New(s.service, s.guard, tokenTable{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *ConsentHandlerSuite) do(method, path, caller string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.T(), json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set("Authorization", "Bearer "+caller)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *ConsentHandlerSuite) envelope(id string) map[string]any {
	return map[string]any{"requestId": id, "timestamp": s.now}
}

func (s *ConsentHandlerSuite) request() *models.ConsentRequest {
	return &models.ConsentRequest{ID: "r-1", PatientID: "P", HIU: models.Party{ID: "Y"}, Status: models.StatusRequested}
}

func (s *ConsentHandlerSuite) TestRequiresBearerToken() {
	assert.Equal(s.T(), http.StatusUnauthorized, s.do(http.MethodGet, "/consent-requests/r-1", "", nil).Code)
	assert.Equal(s.T(), http.StatusUnauthorized, s.do(http.MethodGet, "/consent-requests/r-1", "bad", nil).Code)
}

func (s *ConsentHandlerSuite) TestCreateRequest() {
	s.Run("accepted after guard", func() {
		s.guard.EXPECT().Require(gomock.Any(), "req-1", s.now).Return(nil)
		s.service.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req *models.ConsentRequest) (*models.ConsentRequest, error) {
				assert.Equal(s.T(), "Y", req.HIU.ID)
				req.ID = "r-1"
				req.Status = models.StatusRequested
				return req, nil
			})

		body := s.envelope(" req-1 ")
		body["consent"] = map[string]any{"patientId": "P", "hiu": map[string]any{"id": "Y"}}
		rr := s.do(http.MethodPost, "/consent-requests", "Y", body)

		require.Equal(s.T(), http.StatusAccepted, rr.Code)
		var got requestStatusResponse
		require.NoError(s.T(), json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(s.T(), requestStatusResponse{ID: "r-1", Status: models.StatusRequested}, got)
	})

	s.Run("replay rejected before service", func() {
		s.guard.EXPECT().Require(gomock.Any(), "req-1", s.now).
			Return(dErrors.New(dErrors.CodeTooManyRequests, "duplicate or replayed request"))

		body := s.envelope("req-1")
		body["consent"] = map[string]any{"hiu": map[string]any{"id": "Y"}}
		assert.Equal(s.T(), http.StatusTooManyRequests, s.do(http.MethodPost, "/consent-requests", "Y", body).Code)
	})

	s.Run("caller must be the requesting hiu", func() {
		s.guard.EXPECT().Require(gomock.Any(), "req-2", s.now).Return(nil)

		body := s.envelope("req-2")
		body["consent"] = map[string]any{"hiu": map[string]any{"id": "Y"}}
		assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPost, "/consent-requests", "Z", body).Code)
	})

	s.Run("unknown fields rejected", func() {
		body := s.envelope("req-3")
		body["surprise"] = true
		assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodPost, "/consent-requests", "Y", body).Code)
	})
}

func (s *ConsentHandlerSuite) TestGetRequest() {
	s.Run("visible to the hiu with artefact refs", func() {
		s.service.EXPECT().GetRequest(gomock.Any(), "r-1").Return(s.request(), nil)
		s.service.EXPECT().ListArtefactsForRequest(gomock.Any(), "r-1").Return([]*models.ConsentArtefact{
			{ID: "a-1", HIP: models.Party{ID: "X"}, Signature: "sig"},
		}, nil)

		rr := s.do(http.MethodGet, "/consent-requests/r-1", "Y", nil)
		require.Equal(s.T(), http.StatusOK, rr.Code)
		var got map[string]any
		require.NoError(s.T(), json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(s.T(), []any{map[string]any{"id": "a-1", "hip": map[string]any{"id": "X"}}}, got["consentArtefacts"])
	})

	s.Run("hidden from unrelated callers", func() {
		s.service.EXPECT().GetRequest(gomock.Any(), "r-1").Return(s.request(), nil)
		assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodGet, "/consent-requests/r-1", "Z", nil).Code)
	})
}

func (s *ConsentHandlerSuite) TestApprove() {
	grants := []models.Grant{{HIP: models.Party{ID: "X"}}}

	s.Run("patient approves", func() {
		s.guard.EXPECT().Require(gomock.Any(), "req-1", s.now).Return(nil)
		s.service.EXPECT().GetRequest(gomock.Any(), "r-1").Return(s.request(), nil)
		s.service.EXPECT().Approve(gomock.Any(), "r-1", grants).Return([]*models.ConsentArtefact{
			{ID: "a-1", HIP: models.Party{ID: "X"}},
		}, nil)

		body := s.envelope("req-1")
		body["consents"] = grants
		rr := s.do(http.MethodPost, "/consent-requests/r-1/approve", "P", body)
		require.Equal(s.T(), http.StatusOK, rr.Code)
		var got artefactsResponse
		require.NoError(s.T(), json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(s.T(), []models.ArtefactRef{{ID: "a-1", HIP: models.Party{ID: "X"}}}, got.Consents)
	})

	s.Run("hiu cannot approve", func() {
		s.guard.EXPECT().Require(gomock.Any(), "req-2", s.now).Return(nil)
		s.service.EXPECT().GetRequest(gomock.Any(), "r-1").Return(s.request(), nil)

		body := s.envelope("req-2")
		body["consents"] = grants
		assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPost, "/consent-requests/r-1/approve", "Y", body).Code)
	})

	s.Run("invalid state surfaces as conflict", func() {
		s.guard.EXPECT().Require(gomock.Any(), "req-3", s.now).Return(nil)
		s.service.EXPECT().GetRequest(gomock.Any(), "r-1").Return(s.request(), nil)
		s.service.EXPECT().Approve(gomock.Any(), "r-1", grants).
			Return(nil, dErrors.New(dErrors.CodeInvalidState, "consent request is not awaiting a decision"))

		body := s.envelope("req-3")
		body["consents"] = grants
		assert.Equal(s.T(), http.StatusConflict, s.do(http.MethodPost, "/consent-requests/r-1/approve", "P", body).Code)
	})
}

func (s *ConsentHandlerSuite) TestDeny() {
	s.guard.EXPECT().Require(gomock.Any(), "req-1", s.now).Return(nil)
	s.service.EXPECT().GetRequest(gomock.Any(), "r-1").Return(s.request(), nil)
	s.service.EXPECT().Deny(gomock.Any(), "r-1").Return(&models.ConsentRequest{ID: "r-1", Status: models.StatusDenied}, nil)

	rr := s.do(http.MethodPost, "/consent-requests/r-1/deny", "P", s.envelope("req-1"))
	require.Equal(s.T(), http.StatusOK, rr.Code)
	assert.JSONEq(s.T(), `{"id":"r-1","status":"DENIED"}`, rr.Body.String())
}

func (s *ConsentHandlerSuite) TestRevoke() {
	s.Run("caller is the requester", func() {
		s.guard.EXPECT().Require(gomock.Any(), "req-1", s.now).Return(nil)
		s.service.EXPECT().Revoke(gomock.Any(), []string{"a-1", "a-2"}, "P").Return([]*models.ConsentArtefact{
			{ID: "a-1", HIP: models.Party{ID: "X"}},
			{ID: "a-2", HIP: models.Party{ID: "W"}},
		}, nil)

		body := s.envelope("req-1")
		body["consents"] = []string{" a-1", "a-2 ", " "}
		rr := s.do(http.MethodPost, "/consents/revoke", "P", body)
		require.Equal(s.T(), http.StatusOK, rr.Code)
	})

	s.Run("forbidden for other parties", func() {
		s.guard.EXPECT().Require(gomock.Any(), "req-2", s.now).Return(nil)
		s.service.EXPECT().Revoke(gomock.Any(), []string{"a-1"}, "Z").
			Return(nil, dErrors.New(dErrors.CodeForbidden, "requester may not revoke this consent"))

		body := s.envelope("req-2")
		body["consents"] = []string{"a-1"}
		assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPost, "/consents/revoke", "Z", body).Code)
	})
}

func (s *ConsentHandlerSuite) TestInternalArtefactReadSkipsAuth() {
	s.service.EXPECT().GetArtefact(gomock.Any(), "a-1").Return(&models.ConsentArtefact{ID: "a-1", Status: models.StatusGranted}, nil)
	rr := s.do(http.MethodGet, "/internal/consent-artefacts/a-1", "", nil)
	require.Equal(s.T(), http.StatusOK, rr.Code)

	s.service.EXPECT().GetArtefact(gomock.Any(), "missing").Return(nil, dErrors.New(dErrors.CodeNotFound, "consent artefact not found"))
	assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodGet, "/internal/consent-artefacts/missing", "", nil).Code)
}

func TestSanitize(t *testing.T) {
	body := revokeBody{envelope: envelope{RequestID: " r "}, Consents: []string{" a ", "", "b"}}
	sanitize(&body)
	assert.Equal(t, "r", body.RequestID)
	assert.Equal(t, []string{"a", "b"}, body.Consents)

	type nested struct {
		ID    string
		Inner *struct{ Code string }
		Refs  []struct{ Ref string }
		Tags  map[string]string
	}
	n := nested{
		ID:    " x ",
		Inner: &struct{ Code string }{Code: " CAREMGT "},
		Refs:  []struct{ Ref string }{{Ref: " cc-1 "}},
		Tags:  map[string]string{"k": " v "},
	}
	sanitize(&n)
	assert.Equal(t, "x", n.ID)
	assert.Equal(t, "CAREMGT", n.Inner.Code)
	assert.Equal(t, "cc-1", n.Refs[0].Ref)
	assert.Equal(t, " v ", n.Tags["k"], "maps are not touched")

	assert.NotPanics(t, func() { sanitize(body) }, "non-pointer is ignored")
}
