package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"consent-manager/internal/correlation"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/platform/httputil"
	"consent-manager/pkg/requestcontext"
)

const maxCallbackBody = 1 << 20

// ReplayGuard admits each (key, timestamp) once. Release gives a key back
// when the admitted callback could not be stored.
type ReplayGuard interface {
	Require(ctx context.Context, key string, ts time.Time) error
	Release(ctx context.Context, key string) error
}

// CallbackSink stores a callback for the waiter on requestID.
type CallbackSink interface {
	OnCallback(ctx context.Context, requestID string, payload []byte) error
}

// CallbackHandler accepts Gateway on-* callbacks. It only checks the envelope
// and replay guard; the payload is handed to the correlator untouched.
type CallbackHandler struct {
	guard  ReplayGuard
	sink   CallbackSink
	logger *slog.Logger
}

func NewCallbackHandler(guard ReplayGuard, sink CallbackSink, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{guard: guard, sink: sink, logger: logger}
}

// Register mounts POST /v0.5/.../on-{action}.
func (h *CallbackHandler) Register(r chi.Router) {
	r.Post("/v0.5/*", h.handleCallback)
}

func (h *CallbackHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	path := chi.URLParam(r, "*")
	last := path[strings.LastIndex(path, "/")+1:]
	if !strings.HasPrefix(last, "on-") {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown gateway callback"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable callback body"))
		return
	}
	var cb correlation.Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		h.logger.WarnContext(ctx, "malformed gateway callback",
			"request_id", requestID,
			"path", path,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid callback body"))
		return
	}
	if cb.RequestID == "" || cb.Timestamp.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "requestId and timestamp are required"))
		return
	}
	answers := cb.AnsweredRequestID()
	if answers == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "resp.requestId is required"))
		return
	}

	if err := h.guard.Require(ctx, cb.RequestID, cb.Timestamp); err != nil {
		h.logger.WarnContext(ctx, "gateway callback rejected by replay guard",
			"request_id", requestID,
			"callback_request_id", cb.RequestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if err := h.sink.OnCallback(ctx, answers, payload); err != nil {
		h.logger.ErrorContext(ctx, "failed to store gateway callback",
			"request_id", requestID,
			"answers_request_id", answers,
			"error", err,
		)
		if relErr := h.guard.Release(context.WithoutCancel(ctx), cb.RequestID); relErr != nil {
			h.logger.ErrorContext(ctx, "failed to release gateway callback replay key",
				"callback_request_id", cb.RequestID,
				"error", relErr,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.DebugContext(ctx, "gateway callback stored",
		"path", path,
		"answers_request_id", answers,
		"partner_error", cb.Error != nil,
	)
	w.WriteHeader(http.StatusAccepted)
}
