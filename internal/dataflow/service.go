// Package dataflow accepts an HIU's request for health information under a
// granted consent and forwards it to the HIP through the notification topic.
package dataflow

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"consent-manager/internal/consent/models"
	"consent-manager/internal/notification"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/requestcontext"
)

// ArtefactReader loads consent artefacts.
type ArtefactReader interface {
	GetArtefact(ctx context.Context, id string) (*models.ConsentArtefact, error)
}

// Publisher hands the request to the HIP-side fan-out.
type Publisher interface {
	NotifyDataFlow(ctx context.Context, artefact *models.ConsentArtefact, req notification.DataFlowRequest) error
}

// Request is the HIU's ask.
type Request struct {
	TransactionID string
	ArtefactID    string
	DateRange     models.DateRange
	DataPushURL   string
	KeyMaterial   []byte
}

type Service struct {
	artefacts ArtefactReader
	publisher Publisher
	logger    *slog.Logger
}

func New(artefacts ArtefactReader, publisher Publisher, logger *slog.Logger) (*Service, error) {
	if artefacts == nil || publisher == nil {
		return nil, errors.New("artefact reader and publisher are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{artefacts: artefacts, publisher: publisher, logger: logger}, nil
}

// RequestHealthInformation checks that hiuID holds an active artefact
// covering the asked date range and queues the request for the HIP. It
// returns the transaction id the HIP will push data under.
func (s *Service) RequestHealthInformation(ctx context.Context, hiuID string, req Request) (string, error) {
	if strings.TrimSpace(req.ArtefactID) == "" {
		return "", dErrors.New(dErrors.CodeValidation, "consent id is required")
	}
	if err := validPushURL(req.DataPushURL); err != nil {
		return "", err
	}
	a, err := s.artefacts.GetArtefact(ctx, req.ArtefactID)
	if err != nil {
		return "", err
	}
	if a.HIU.ID != hiuID {
		return "", dErrors.New(dErrors.CodeForbidden, "consent artefact was not granted to this hiu")
	}
	now := requestcontext.Now(ctx)
	if !a.IsActive(now) {
		return "", dErrors.New(dErrors.CodeNotGranted, "consent artefact is not active")
	}
	if err := within(req.DateRange, a.Permission.DateRange); err != nil {
		return "", err
	}

	txn := req.TransactionID
	if txn == "" {
		txn = uuid.NewString()
	}
	err = s.publisher.NotifyDataFlow(ctx, a, notification.DataFlowRequest{
		TransactionID: txn,
		DateRange:     req.DateRange,
		DataPushURL:   req.DataPushURL,
		KeyMaterial:   req.KeyMaterial,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to queue data flow request",
			"consent_artefact_id", a.ID,
			"transaction_id", txn,
			"error", err,
		)
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to queue data flow request")
	}
	s.logger.InfoContext(ctx, "data flow requested",
		"consent_artefact_id", a.ID,
		"hip_id", a.HIP.ID,
		"transaction_id", txn,
	)
	return txn, nil
}

func validPushURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return dErrors.New(dErrors.CodeValidation, "dataPushUrl must be an absolute http(s) url")
	}
	return nil
}

// within requires asked to lie inside granted. A zero bound on granted is open.
func within(asked, granted models.DateRange) error {
	if asked.From.IsZero() || asked.To.IsZero() || asked.To.Before(asked.From) {
		return dErrors.New(dErrors.CodeValidation, "dateRange must have from before to")
	}
	if (!granted.From.IsZero() && asked.From.Before(granted.From)) ||
		(!granted.To.IsZero() && asked.To.After(granted.To)) {
		return dErrors.New(dErrors.CodeForbidden, "dateRange exceeds the granted range")
	}
	return nil
}
