package dataflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"consent-manager/internal/consent/models"
	"consent-manager/pkg/platform/httputil"
	authmw "consent-manager/pkg/platform/middleware/auth"
	"consent-manager/pkg/requestcontext"
)

// ReplayGuard admits each (requestId, timestamp) once.
type ReplayGuard interface {
	Require(ctx context.Context, key string, ts time.Time) error
}

type Handler struct {
	svc          *Service
	guard        ReplayGuard
	jwtValidator authmw.TokenValidator
	logger       *slog.Logger
}

func NewHandler(svc *Service, guard ReplayGuard, jwtValidator authmw.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, guard: guard, jwtValidator: jwtValidator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.With(authmw.RequireAuth(h.jwtValidator, h.logger)).
		Post("/health-information/request", h.handleRequest)
}

type requestBody struct {
	RequestID     string    `json:"requestId"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transactionId,omitempty"`
	HIRequest     struct {
		Consent struct {
			ID string `json:"id"`
		} `json:"consent"`
		DateRange   models.DateRange `json:"dateRange"`
		DataPushURL string           `json:"dataPushUrl"`
		KeyMaterial json.RawMessage  `json:"keyMaterial,omitempty"`
	} `json:"hiRequest"`
}

type requestResponse struct {
	TransactionID string `json:"transactionId"`
	SessionStatus string `json:"sessionStatus"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body requestBody
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.guard.Require(ctx, body.RequestID, body.Timestamp); err != nil {
		httputil.WriteError(w, err)
		return
	}
	txn, err := h.svc.RequestHealthInformation(ctx, requestcontext.CallerID(ctx), Request{
		TransactionID: body.TransactionID,
		ArtefactID:    body.HIRequest.Consent.ID,
		DateRange:     body.HIRequest.DateRange,
		DataPushURL:   body.HIRequest.DataPushURL,
		KeyMaterial:   body.HIRequest.KeyMaterial,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "health information request rejected",
			"request_id", requestcontext.RequestID(ctx),
			"consent_artefact_id", body.HIRequest.Consent.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, requestResponse{TransactionID: txn, SessionStatus: "REQUESTED"})
}
