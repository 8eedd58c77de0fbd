package link

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"consent-manager/internal/authz"
	"consent-manager/internal/consent/models"
	"consent-manager/internal/correlation"
	"consent-manager/internal/gateway"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/requestcontext"
)

// Gateway sends a request to a HIP through the central Gateway.
type Gateway interface {
	Post(ctx context.Context, path string, target gateway.Target, body any) error
}

// ActionAuthorizer checks and spends HIP action tokens.
type ActionAuthorizer interface {
	Validate(ctx context.Context, token string, expected authz.Purpose) (*authz.HipAction, error)
	Consume(ctx context.Context, sessionID string) error
	Issue(ctx context.Context, action *authz.HipAction) (string, error)
}

// Service runs the link flows.
type Service struct {
	gateway    Gateway
	correlator *correlation.Correlator
	actions    ActionAuthorizer
	store      Store
	timeout    time.Duration
	logger     *slog.Logger
}

type Option func(*Service)

// WithTimeout overrides the correlator's default callback wait.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(gw Gateway, correlator *correlation.Correlator, actions ActionAuthorizer, store Store, opts ...Option) (*Service, error) {
	if gw == nil {
		return nil, errors.New("gateway client is required")
	}
	if correlator == nil {
		return nil, errors.New("correlator is required")
	}
	if actions == nil {
		return nil, errors.New("action authorizer is required")
	}
	if store == nil {
		return nil, errors.New("link store is required")
	}
	s := &Service{
		gateway:    gw,
		correlator: correlator,
		actions:    actions,
		store:      store,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type hipDiscoverBody struct {
	RequestID     string    `json:"requestId"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transactionId"`
	Patient       struct {
		ID                    string       `json:"id"`
		Name                  string       `json:"name,omitempty"`
		VerifiedIdentifiers   []Identifier `json:"verifiedIdentifiers,omitempty"`
		UnverifiedIdentifiers []Identifier `json:"unverifiedIdentifiers,omitempty"`
	} `json:"patient"`
}

type onDiscover struct {
	TransactionID string         `json:"transactionId"`
	Patient       *PatientRecord `json:"patient"`
}

// Discover asks the HIP for the patient's records.
func (s *Service) Discover(ctx context.Context, req DiscoverRequest) (*Discovery, error) {
	if err := required("patientId", req.PatientID, "hipId", req.HIPID); err != nil {
		return nil, err
	}
	body := hipDiscoverBody{
		RequestID:     uuid.NewString(),
		Timestamp:     requestcontext.Now(ctx).UTC(),
		TransactionID: uuid.NewString(),
	}
	body.Patient.ID = req.PatientID
	body.Patient.Name = req.Name
	body.Patient.UnverifiedIdentifiers = req.Identifiers

	answer, err := roundTrip[onDiscover](ctx, s, gateway.PathDiscover, req.HIPID, body.RequestID, body)
	if err != nil {
		return nil, err
	}
	if answer.Patient == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "hip found no matching patient")
	}
	txn := answer.TransactionID
	if txn == "" {
		txn = body.TransactionID
	}
	return &Discovery{TransactionID: txn, Patient: *answer.Patient}, nil
}

type initBody struct {
	RequestID     string    `json:"requestId"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transactionId"`
	Patient       struct {
		ID              string        `json:"id"`
		ReferenceNumber string        `json:"referenceNumber"`
		CareContexts    []CareContext `json:"careContexts"`
	} `json:"patient"`
}

type onInit struct {
	Link *Reference `json:"link"`
}

// Init asks the HIP to start linking the chosen care contexts. The HIP
// answers with a reference the patient confirms with an out-of-band token.
func (s *Service) Init(ctx context.Context, req InitRequest) (*Reference, error) {
	if err := required("patientId", req.PatientID, "hipId", req.HIPID,
		"transactionId", req.TransactionID, "referenceNumber", req.ReferenceNumber); err != nil {
		return nil, err
	}
	if err := validContexts(req.CareContexts); err != nil {
		return nil, err
	}
	body := initBody{
		RequestID:     uuid.NewString(),
		Timestamp:     requestcontext.Now(ctx).UTC(),
		TransactionID: req.TransactionID,
	}
	body.Patient.ID = req.PatientID
	body.Patient.ReferenceNumber = req.ReferenceNumber
	body.Patient.CareContexts = req.CareContexts

	answer, err := roundTrip[onInit](ctx, s, gateway.PathLinkInit, req.HIPID, body.RequestID, body)
	if err != nil {
		return nil, err
	}
	if answer.Link == nil || answer.Link.ReferenceNumber == "" {
		return nil, dErrors.New(dErrors.CodePartnerError, "hip returned no link reference")
	}
	return answer.Link, nil
}

type confirmBody struct {
	RequestID    string    `json:"requestId"`
	Timestamp    time.Time `json:"timestamp"`
	Confirmation struct {
		LinkRefNumber string `json:"linkRefNumber"`
		Token         string `json:"token"`
	} `json:"confirmation"`
}

type onConfirm struct {
	Patient *PatientRecord `json:"patient"`
}

// Confirm completes a pending link and records the linked care contexts.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*Link, error) {
	if err := required("patientId", req.PatientID, "hipId", req.HIPID,
		"linkRefNumber", req.LinkRefNumber, "token", req.Token); err != nil {
		return nil, err
	}
	body := confirmBody{
		RequestID: uuid.NewString(),
		Timestamp: requestcontext.Now(ctx).UTC(),
	}
	body.Confirmation.LinkRefNumber = req.LinkRefNumber
	body.Confirmation.Token = req.Token

	answer, err := roundTrip[onConfirm](ctx, s, gateway.PathLinkConfirm, req.HIPID, body.RequestID, body)
	if err != nil {
		return nil, err
	}
	if answer.Patient == nil || len(answer.Patient.CareContexts) == 0 {
		return nil, dErrors.New(dErrors.CodePartnerError, "hip confirmed no care contexts")
	}
	l := &Link{
		PatientID:       req.PatientID,
		HIPID:           req.HIPID,
		ReferenceNumber: answer.Patient.ReferenceNumber,
		Display:         answer.Patient.Display,
		CareContexts:    answer.Patient.CareContexts,
		LinkedAt:        requestcontext.Now(ctx),
	}
	if err := s.save(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Authorize lets the patient allow a HIP to push links on their behalf up to
// repeat times. It returns the action token handed to the HIP.
func (s *Service) Authorize(ctx context.Context, patientID, hipID string, repeat int) (string, *authz.HipAction, error) {
	if err := required("patientId", patientID, "hipId", hipID); err != nil {
		return "", nil, err
	}
	action := &authz.HipAction{
		RequesterID:   hipID,
		PatientID:     patientID,
		Purpose:       authz.PurposeLink,
		AllowedRepeat: repeat,
	}
	token, err := s.actions.Issue(ctx, action)
	if err != nil {
		return "", nil, err
	}
	return token, action, nil
}

// LinkByHIP records care contexts pushed by a HIP. The action token must be
// a LINK action issued to this HIP for this patient; one repeat is spent
// before the link is written.
func (s *Service) LinkByHIP(ctx context.Context, req HIPLinkRequest) (*Link, error) {
	if err := required("hipId", req.HIPID, "patientId", req.PatientID, "accessToken", req.ActionToken); err != nil {
		return nil, err
	}
	if err := validContexts(req.CareContexts); err != nil {
		return nil, err
	}
	action, err := s.actions.Validate(ctx, req.ActionToken, authz.PurposeLink)
	if err != nil {
		return nil, err
	}
	if action.RequesterID != req.HIPID || action.PatientID != req.PatientID {
		return nil, dErrors.New(dErrors.CodeForbidden, "action token was not issued for this hip and patient")
	}
	if err := s.actions.Consume(ctx, action.SessionID); err != nil {
		return nil, err
	}
	l := &Link{
		PatientID:       req.PatientID,
		HIPID:           req.HIPID,
		ReferenceNumber: req.ReferenceNumber,
		Display:         req.Display,
		CareContexts:    req.CareContexts,
		LinkedAt:        requestcontext.Now(ctx),
	}
	if err := s.save(ctx, l); err != nil {
		s.logger.ErrorContext(ctx, "hip link write failed after action was consumed",
			"session_id", action.SessionID,
			"hip_id", req.HIPID,
			"error", err,
		)
		return nil, err
	}
	return l, nil
}

// Links lists the patient's linked care contexts.
func (s *Service) Links(ctx context.Context, patientID string) ([]*Link, error) {
	links, err := s.store.List(ctx, patientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list links")
	}
	return links, nil
}

// roundTrip posts body to the HIP and decodes the correlated callback as T.
func roundTrip[T any](ctx context.Context, s *Service, path, hipID, requestID string, body any) (*T, error) {
	target := gateway.Target{Kind: models.PartyHIP, ID: hipID}
	answer, err := correlation.Await[T](ctx, s.correlator, requestID, func(ctx context.Context) error {
		return s.gateway.Post(ctx, path, target, body)
	}, s.timeout)
	if err != nil {
		s.logger.WarnContext(ctx, "link round trip failed",
			"path", path,
			"hip_id", hipID,
			"gateway_request_id", requestID,
			"error", err,
		)
		return nil, err
	}
	return answer, nil
}

func (s *Service) save(ctx context.Context, l *Link) error {
	if err := s.store.Save(ctx, l); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save link")
	}
	s.logger.InfoContext(ctx, "care contexts linked",
		"patient_id", l.PatientID,
		"hip_id", l.HIPID,
		"care_context_count", len(l.CareContexts),
	)
	return nil
}
