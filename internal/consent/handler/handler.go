package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"consent-manager/internal/consent/models"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/platform/httputil"
	authmw "consent-manager/pkg/platform/middleware/auth"
	"consent-manager/pkg/requestcontext"
)

// Service defines the consent lifecycle operations the handler exposes.
type Service interface {
	Create(ctx context.Context, req *models.ConsentRequest) (*models.ConsentRequest, error)
	GetRequest(ctx context.Context, id string) (*models.ConsentRequest, error)
	GetArtefact(ctx context.Context, id string) (*models.ConsentArtefact, error)
	ListArtefactsForRequest(ctx context.Context, requestID string) ([]*models.ConsentArtefact, error)
	Approve(ctx context.Context, requestID string, grants []models.Grant) ([]*models.ConsentArtefact, error)
	Deny(ctx context.Context, requestID string) (*models.ConsentRequest, error)
	Revoke(ctx context.Context, artefactIDs []string, requesterID string) ([]*models.ConsentArtefact, error)
}

// ReplayGuard admits each (requestId, timestamp) once.
type ReplayGuard interface {
	Require(ctx context.Context, key string, ts time.Time) error
}

// Handler handles consent request and artefact endpoints.
type Handler struct {
	logger       *slog.Logger
	consent      Service
	guard        ReplayGuard
	jwtValidator authmw.TokenValidator
}

// New creates a new consent Handler.
func New(
	consent Service,
	guard ReplayGuard,
	jwtValidator authmw.TokenValidator,
	logger *slog.Logger) *Handler {
	return &Handler{
		logger:       logger,
		consent:      consent,
		guard:        guard,
		jwtValidator: jwtValidator,
	}
}

// Register registers the consent routes with the chi router. The internal
// artefact read is for sibling services and sits outside caller auth.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/consent-requests", h.handleCreateRequest)
		r.Get("/consent-requests/{id}", h.handleGetRequest)
		r.Post("/consent-requests/{id}/approve", h.handleApprove)
		r.Post("/consent-requests/{id}/deny", h.handleDeny)
		r.Post("/consents/revoke", h.handleRevoke)
	})
	r.Get("/internal/consent-artefacts/{id}", h.handleGetArtefact)
}

// envelope is the replay-guarded wrapper every mutating body carries.
type envelope struct {
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type createRequestBody struct {
	envelope
	Consent models.ConsentRequest `json:"consent"`
}

type approveBody struct {
	envelope
	Consents []models.Grant `json:"consents"`
}

type denyBody struct {
	envelope
}

type revokeBody struct {
	envelope
	Consents []string `json:"consents"`
}

type requestStatusResponse struct {
	ID     string        `json:"id"`
	Status models.Status `json:"status"`
}

type getRequestResponse struct {
	ConsentRequest   *models.ConsentRequest `json:"consentRequest"`
	ConsentArtefacts []models.ArtefactRef   `json:"consentArtefacts"`
}

type artefactsResponse struct {
	Consents []models.ArtefactRef `json:"consents"`
}

// admit decodes body, trims its strings and runs the replay guard.
// It writes the error response itself and reports whether to continue.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, body any, env *envelope) bool {
	ctx := r.Context()
	if err := httputil.DecodeJSON(r, body); err != nil {
		h.logger.WarnContext(ctx, "invalid consent request body",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return false
	}
	sanitize(body)
	if err := h.guard.Require(ctx, env.RequestID, env.Timestamp); err != nil {
		httputil.WriteError(w, err)
		return false
	}
	return true
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := requestcontext.CallerID(ctx)

	var body createRequestBody
	if !h.admit(w, r, &body, &body.envelope) {
		return
	}
	if body.Consent.HIU.ID != callerID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "consent may only be requested on behalf of the calling hiu"))
		return
	}

	created, err := h.consent.Create(ctx, &body.Consent)
	if err != nil {
		h.logFailure(ctx, "failed to create consent request", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, requestStatusResponse{ID: created.ID, Status: created.Status})
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := requestcontext.CallerID(ctx)

	req, err := h.consent.GetRequest(ctx, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if callerID != req.PatientID && callerID != req.HIU.ID {
		// Unrelated callers learn nothing about the request's existence.
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "consent request not found"))
		return
	}
	artefacts, err := h.consent.ListArtefactsForRequest(ctx, req.ID)
	if err != nil {
		h.logFailure(ctx, "failed to list consent artefacts", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, getRequestResponse{ConsentRequest: req, ConsentArtefacts: refs(artefacts)})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body approveBody
	if !h.admit(w, r, &body, &body.envelope) {
		return
	}
	id := chi.URLParam(r, "id")
	if !h.callerIsPatient(w, r, id) {
		return
	}

	artefacts, err := h.consent.Approve(ctx, id, body.Consents)
	if err != nil {
		h.logFailure(ctx, "failed to approve consent request", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, artefactsResponse{Consents: refs(artefacts)})
}

func (h *Handler) handleDeny(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body denyBody
	if !h.admit(w, r, &body, &body.envelope) {
		return
	}
	id := chi.URLParam(r, "id")
	if !h.callerIsPatient(w, r, id) {
		return
	}

	denied, err := h.consent.Deny(ctx, id)
	if err != nil {
		h.logFailure(ctx, "failed to deny consent request", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, requestStatusResponse{ID: denied.ID, Status: denied.Status})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body revokeBody
	if !h.admit(w, r, &body, &body.envelope) {
		return
	}

	revoked, err := h.consent.Revoke(ctx, body.Consents, requestcontext.CallerID(ctx))
	if err != nil {
		h.logFailure(ctx, "failed to revoke consent artefacts", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, artefactsResponse{Consents: refs(revoked)})
}

func (h *Handler) handleGetArtefact(w http.ResponseWriter, r *http.Request) {
	a, err := h.consent.GetArtefact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) callerIsPatient(w http.ResponseWriter, r *http.Request, requestID string) bool {
	ctx := r.Context()
	req, err := h.consent.GetRequest(ctx, requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return false
	}
	if req.PatientID != requestcontext.CallerID(ctx) {
		h.logger.WarnContext(ctx, "consent decision by non-patient caller",
			"request_id", requestcontext.RequestID(ctx),
			"consent_request_id", requestID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only the patient may decide on a consent request"))
		return false
	}
	return true
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
}

func refs(artefacts []*models.ConsentArtefact) []models.ArtefactRef {
	out := make([]models.ArtefactRef, 0, len(artefacts))
	for _, a := range artefacts {
		out = append(out, models.ArtefactRef{ID: a.ID, HIP: a.HIP})
	}
	return out
}
