package link

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"consent-manager/internal/authz"
	"consent-manager/pkg/platform/httputil"
	authmw "consent-manager/pkg/platform/middleware/auth"
	"consent-manager/pkg/requestcontext"
)

// Flows is the link service as seen by the handler.
type Flows interface {
	Discover(ctx context.Context, req DiscoverRequest) (*Discovery, error)
	Init(ctx context.Context, req InitRequest) (*Reference, error)
	Confirm(ctx context.Context, req ConfirmRequest) (*Link, error)
	Authorize(ctx context.Context, patientID, hipID string, repeat int) (string, *authz.HipAction, error)
	LinkByHIP(ctx context.Context, req HIPLinkRequest) (*Link, error)
	Links(ctx context.Context, patientID string) ([]*Link, error)
}

// ReplayGuard admits each (requestId, timestamp) once.
type ReplayGuard interface {
	Require(ctx context.Context, key string, ts time.Time) error
}

// Handler serves the link endpoints. The caller id from the bearer token is
// the patient on patient routes and the HIP on /links/hip.
type Handler struct {
	flows        Flows
	guard        ReplayGuard
	jwtValidator authmw.TokenValidator
	logger       *slog.Logger
}

func NewHandler(flows Flows, guard ReplayGuard, jwtValidator authmw.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{flows: flows, guard: guard, jwtValidator: jwtValidator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/links", h.handleList)
		r.Post("/links/discover", h.handleDiscover)
		r.Post("/links/init", h.handleInit)
		r.Post("/links/confirm", h.handleConfirm)
		r.Post("/links/hip/authorize", h.handleAuthorize)
		r.Post("/links/hip", h.handleLinkByHIP)
	})
}

type envelope struct {
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type hipRef struct {
	ID string `json:"id"`
}

type discoverBody struct {
	envelope
	HIP         hipRef       `json:"hip"`
	Name        string       `json:"name,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
}

type initRequestBody struct {
	envelope
	HIP             hipRef        `json:"hip"`
	TransactionID   string        `json:"transactionId"`
	ReferenceNumber string        `json:"referenceNumber"`
	CareContexts    []CareContext `json:"careContexts"`
}

type confirmRequestBody struct {
	envelope
	HIP           hipRef `json:"hip"`
	LinkRefNumber string `json:"linkRefNumber"`
	Token         string `json:"token"`
}

type authorizeBody struct {
	envelope
	HIP           hipRef `json:"hip"`
	AllowedRepeat int    `json:"allowedRepeat"`
}

type authorizeResponse struct {
	AccessToken string    `json:"accessToken"`
	SessionID   string    `json:"sessionId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type hipLinkBody struct {
	envelope
	PatientID       string        `json:"patientId"`
	AccessToken     string        `json:"accessToken"`
	ReferenceNumber string        `json:"referenceNumber"`
	Display         string        `json:"display,omitempty"`
	CareContexts    []CareContext `json:"careContexts"`
}

func (h *Handler) admit(w http.ResponseWriter, r *http.Request, body any, env *envelope) bool {
	if err := httputil.DecodeJSON(r, body); err != nil {
		httputil.WriteError(w, err)
		return false
	}
	if err := h.guard.Require(r.Context(), env.RequestID, env.Timestamp); err != nil {
		httputil.WriteError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.WarnContext(r.Context(), msg,
		"request_id", requestcontext.RequestID(r.Context()),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	links, err := h.flows.Links(r.Context(), requestcontext.CallerID(r.Context()))
	if err != nil {
		h.fail(w, r, "failed to list links", err)
		return
	}
	if links == nil {
		links = []*Link{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (h *Handler) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var body discoverBody
	if !h.admit(w, r, &body, &body.envelope) {
		return
	}
	res, err := h.flows.Discover(r.Context(), DiscoverRequest{
		PatientID:   requestcontext.CallerID(r.Context()),
		HIPID:       body.HIP.ID,
		Name:        body.Name,
		Identifiers: body.Identifiers,
	})
	if err != nil {
		h.fail(w, r, "care context discovery failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	var body initRequestBody
	if !h.admit(w, r, &body, &body.envelope) {
		return
	}
	ref, err := h.flows.Init(r.Context(), InitRequest{
		PatientID:       requestcontext.CallerID(r.Context()),
		HIPID:           body.HIP.ID,
		TransactionID:   body.TransactionID,
		ReferenceNumber: body.ReferenceNumber,
		CareContexts:    body.CareContexts,
	})
	if err != nil {
		h.fail(w, r, "link init failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"link": ref})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var body confirmRequestBody
	if !h.admit(w, r, &body, &body.envelope) {
		return
	}
	l, err := h.flows.Confirm(r.Context(), ConfirmRequest{
		PatientID:     requestcontext.CallerID(r.Context()),
		HIPID:         body.HIP.ID,
		LinkRefNumber: body.LinkRefNumber,
		Token:         body.Token,
	})
	if err != nil {
		h.fail(w, r, "link confirm failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var body authorizeBody
	if !h.admit(w, r, &body, &body.envelope) {
		return
	}
	token, action, err := h.flows.Authorize(r.Context(), requestcontext.CallerID(r.Context()), body.HIP.ID, body.AllowedRepeat)
	if err != nil {
		h.fail(w, r, "hip link authorisation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, authorizeResponse{
		AccessToken: token,
		SessionID:   action.SessionID,
		ExpiresAt:   action.ExpiresAt,
	})
}

func (h *Handler) handleLinkByHIP(w http.ResponseWriter, r *http.Request) {
	var body hipLinkBody
	if !h.admit(w, r, &body, &body.envelope) {
		return
	}
	l, err := h.flows.LinkByHIP(r.Context(), HIPLinkRequest{
		HIPID:           requestcontext.CallerID(r.Context()),
		PatientID:       body.PatientID,
		ActionToken:     body.AccessToken,
		ReferenceNumber: body.ReferenceNumber,
		Display:         body.Display,
		CareContexts:    body.CareContexts,
	})
	if err != nil {
		h.fail(w, r, "hip initiated link failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, l)
}
