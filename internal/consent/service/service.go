// Package service owns the consent request and artefact lifecycle. It is the
// only component that changes a status; every change is checked against the
// transition table in models and committed with compare-and-set.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"consent-manager/internal/consent/metrics"
	"consent-manager/internal/consent/models"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/platform/sentinel"
	"consent-manager/pkg/requestcontext"
)

var tracer = otel.Tracer("consent-manager/consent")

// Service manages consent requests and artefacts.
type Service struct {
	store    Store
	tx       ConsentStoreTx
	signer   Signer
	notifier Notifier
	policy   AutoApprovalPolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAutoApprovalPolicy replaces the default deny-all policy.
func WithAutoApprovalPolicy(p AutoApprovalPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// New wires the lifecycle manager. All collaborators are required.
func New(store Store, tx ConsentStoreTx, signer Signer, notifier Notifier, opts ...Option) (*Service, error) {
	switch {
	case store == nil:
		return nil, errors.New("consent store is required")
	case tx == nil:
		return nil, errors.New("consent store tx is required")
	case signer == nil:
		return nil, errors.New("artefact signer is required")
	case notifier == nil:
		return nil, errors.New("notifier is required")
	}
	s := &Service{
		store:    store,
		tx:       tx,
		signer:   signer,
		notifier: notifier,
		policy:   DenyAllPolicy{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create persists a new request in REQUESTED and announces it. When the
// auto-approval policy allows, the request is approved with its own scope.
func (s *Service) Create(ctx context.Context, req *models.ConsentRequest) (*models.ConsentRequest, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "consent request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if _, err := uuid.Parse(req.ID); err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "consent request id must be a uuid")
	}
	req.Status = models.StatusRequested
	req.CreatedAt = now
	req.UpdatedAt = now

	if err := s.store.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "consent request already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save consent request")
	}
	s.metrics.IncTransition("request", "", string(models.StatusRequested))
	s.logger.InfoContext(ctx, "consent request created",
		"consent_request_id", req.ID,
		"hiu_id", req.HIU.ID,
		"purpose", req.Purpose.Code,
	)
	if err := s.notifier.NotifyConsentRequest(ctx, req); err != nil {
		s.notifyFailed(ctx, req.ID, models.StatusRequested, err)
	}

	if s.policy.Allows(ctx, req) {
		if req.HIP == nil {
			s.logger.InfoContext(ctx, "auto-approval skipped, request names no HIP",
				"consent_request_id", req.ID,
			)
			return req, nil
		}
		grants := []models.Grant{{HIP: *req.HIP}}
		if _, err := s.Approve(ctx, req.ID, grants); err != nil {
			s.logger.WarnContext(ctx, "auto-approval failed, request left for patient",
				"consent_request_id", req.ID,
				"error", err,
			)
			return req, nil
		}
		req.Status = models.StatusGranted
		s.logger.InfoContext(ctx, "consent request auto-approved", "consent_request_id", req.ID)
	}
	return req, nil
}

// GetRequest loads a consent request.
func (s *Service) GetRequest(ctx context.Context, id string) (*models.ConsentRequest, error) {
	req, err := s.store.FindRequest(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, translateNotFound(err, "consent request not found")
	}
	return req, nil
}

// GetArtefact loads a consent artefact.
func (s *Service) GetArtefact(ctx context.Context, id string) (*models.ConsentArtefact, error) {
	a, err := s.store.FindArtefact(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, translateNotFound(err, "consent artefact not found")
	}
	return a, nil
}

// ListArtefactsForRequest returns the artefacts granted under a request.
func (s *Service) ListArtefactsForRequest(ctx context.Context, requestID string) ([]*models.ConsentArtefact, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	artefacts, err := s.store.ListArtefactsByRequest(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consent artefacts")
	}
	return artefacts, nil
}

func (s *Service) notify(ctx context.Context, change models.StatusChange) {
	if err := s.notifier.NotifyConsentStatus(ctx, change); err != nil {
		s.notifyFailed(ctx, change.ConsentRequestID, change.Status, err)
	}
}

// notifyFailed records a fan-out failure. The transition is already
// committed, so the operation still succeeds.
func (s *Service) notifyFailed(ctx context.Context, requestID string, status models.Status, err error) {
	s.metrics.IncNotifyFailure(string(status))
	s.logger.ErrorContext(ctx, "consent notification publish failed",
		"consent_request_id", requestID,
		"status", status,
		"error", err,
	)
}

func translateNotFound(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent record")
}

func translateCAS(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist consent transition")
}
