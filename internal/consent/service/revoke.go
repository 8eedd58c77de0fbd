package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"consent-manager/internal/consent/models"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/platform/sentinel"
	"consent-manager/pkg/platform/strings"
	"consent-manager/pkg/requestcontext"
)

// Revoke moves every listed artefact from GRANTED to REVOKED, all or nothing.
// The requester must be each artefact's HIU or patient. The HIU and every HIP
// involved receive a revocation notice.
func (s *Service) Revoke(ctx context.Context, artefactIDs []string, requesterID string) ([]*models.ConsentArtefact, error) {
	ctx, span := tracer.Start(ctx, "consent.Revoke")
	defer span.End()

	ids := strings.DedupeAndTrim(artefactIDs)
	if len(ids) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one consent artefact id is required")
	}
	if requesterID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "requester is required")
	}
	span.SetAttributes(attribute.Int("artefact_count", len(ids)))

	artefacts := make([]*models.ConsentArtefact, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetArtefact(ctx, id)
		if err != nil {
			return nil, err
		}
		if !a.IsRevocableBy(requesterID) {
			s.logger.WarnContext(ctx, "revoke refused, requester does not own artefact",
				"consent_artefact_id", a.ID,
				"requester_id", requesterID,
			)
			return nil, dErrors.New(dErrors.CodeForbidden, "requester may not revoke consent artefact "+a.ID)
		}
		if _, err := models.NextArtefactStatus(a.Status, models.EventRevoke); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "consent artefact "+a.ID+" is not granted")
		}
		artefacts = append(artefacts, a)
	}

	now := requestcontext.Now(ctx)
	err := s.tx.RunInTx(WithTxKey(ctx, artefacts[0].ConsentRequestID), func(store Store) error {
		for _, a := range artefacts {
			if err := store.UpdateArtefactStatus(ctx, a.ID, models.StatusGranted, models.StatusRevoked, now); err != nil {
				return translateCAS(err, "consent artefact "+a.ID+" changed concurrently")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	byRequest := make(map[string][]*models.ConsentArtefact)
	var order []string
	for _, a := range artefacts {
		a.Status = models.StatusRevoked
		a.UpdatedAt = now
		if _, ok := byRequest[a.ConsentRequestID]; !ok {
			order = append(order, a.ConsentRequestID)
		}
		byRequest[a.ConsentRequestID] = append(byRequest[a.ConsentRequestID], a)
		s.metrics.IncTransition("artefact", string(models.StatusGranted), string(models.StatusRevoked))
	}
	s.logger.InfoContext(ctx, "consent artefacts revoked",
		"artefact_count", len(artefacts),
		"requester_id", requesterID,
	)
	for _, reqID := range order {
		group := byRequest[reqID]
		s.notify(ctx, models.StatusChange{
			ConsentRequestID: reqID,
			HIU:              group[0].HIU,
			Status:           models.StatusRevoked,
			Artefacts:        group,
			At:               now,
		})
	}
	return artefacts, nil
}

// ExpireRequest moves a stale REQUESTED request to EXPIRED and announces it
// with no artefacts. Only the expiry sweep calls it.
func (s *Service) ExpireRequest(ctx context.Context, requestID string) error {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	to, err := models.NextRequestStatus(req.Status, models.EventExpire)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	if err := s.store.UpdateRequestStatus(ctx, req.ID, models.StatusRequested, to, now); err != nil {
		return translateCAS(err, "consent request changed concurrently")
	}
	s.metrics.IncTransition("request", string(models.StatusRequested), string(to))
	s.logger.InfoContext(ctx, "consent request expired", "consent_request_id", req.ID)
	s.notify(ctx, models.StatusChange{
		ConsentRequestID: req.ID,
		HIU:              req.HIU,
		Status:           models.StatusExpired,
		At:               now,
	})
	return nil
}

// ExpireArtefact moves a GRANTED artefact past its expiry to EXPIRED. The
// stored context is reloaded first; an artefact whose request is no longer
// GRANTED or whose parties disagree with the request fails loudly.
func (s *Service) ExpireArtefact(ctx context.Context, artefactID string) error {
	a, err := s.GetArtefact(ctx, artefactID)
	if err != nil {
		return err
	}
	req, err := s.store.FindRequest(ctx, a.ConsentRequestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotGranted, "consent artefact has no parent request")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent request")
	}
	if req.Status != models.StatusGranted {
		return dErrors.New(dErrors.CodeNotGranted, "parent consent request is "+string(req.Status))
	}
	if req.HIU.ID != a.HIU.ID || req.PatientID != a.PatientID {
		return dErrors.New(dErrors.CodeForbidden, "consent artefact parties do not match its request")
	}
	if _, err := models.NextArtefactStatus(a.Status, models.EventExpire); err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotGranted, "consent artefact is "+string(a.Status))
	}

	now := requestcontext.Now(ctx)
	if err := s.store.UpdateArtefactStatus(ctx, a.ID, models.StatusGranted, models.StatusExpired, now); err != nil {
		return translateCAS(err, "consent artefact changed concurrently")
	}
	a.Status = models.StatusExpired
	a.UpdatedAt = now
	s.metrics.IncTransition("artefact", string(models.StatusGranted), string(models.StatusExpired))
	s.logger.InfoContext(ctx, "consent artefact expired",
		"consent_artefact_id", a.ID,
		"consent_request_id", a.ConsentRequestID,
	)
	s.notify(ctx, models.StatusChange{
		ConsentRequestID: a.ConsentRequestID,
		HIU:              a.HIU,
		Status:           models.StatusExpired,
		Artefacts:        []*models.ConsentArtefact{a},
		At:               now,
	})
	return nil
}
