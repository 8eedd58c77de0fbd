package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"consent-manager/internal/consent/models"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/requestcontext"
)

// Approve grants a REQUESTED request. One artefact is built and signed per
// HIP in grants before anything is written; the artefacts and the request
// status then commit together. On any failure the request stays REQUESTED
// with no artefacts.
func (s *Service) Approve(ctx context.Context, requestID string, grants []models.Grant) ([]*models.ConsentArtefact, error) {
	ctx, span := tracer.Start(ctx, "consent.Approve")
	defer span.End()
	span.SetAttributes(attribute.String("consent_request_id", requestID))

	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if _, err := models.NextRequestStatus(req.Status, models.EventGrant); err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one hip grant is required")
	}

	now := requestcontext.Now(ctx)
	artefacts, err := buildArtefacts(req, grants, now)
	if err != nil {
		return nil, err
	}
	for _, a := range artefacts {
		sig, err := s.signer.Sign(ctx, a)
		if err != nil {
			s.logger.ErrorContext(ctx, "artefact signing failed, approval aborted",
				"consent_request_id", req.ID,
				"hip_id", a.HIP.ID,
				"error", err,
			)
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to sign consent artefact")
		}
		if sig == "" {
			return nil, dErrors.New(dErrors.CodeInternal, "signer returned an empty signature")
		}
		a.Signature = sig
	}

	err = s.tx.RunInTx(WithTxKey(ctx, req.ID), func(store Store) error {
		if err := store.UpdateRequestStatus(ctx, req.ID, models.StatusRequested, models.StatusGranted, now); err != nil {
			return translateCAS(err, "consent request changed concurrently")
		}
		if err := store.CreateArtefacts(ctx, artefacts); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save consent artefacts")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req.Status = models.StatusGranted
	req.UpdatedAt = now
	s.metrics.IncTransition("request", string(models.StatusRequested), string(models.StatusGranted))
	s.metrics.AddArtefactsGranted(len(artefacts))
	s.logger.InfoContext(ctx, "consent request granted",
		"consent_request_id", req.ID,
		"artefact_count", len(artefacts),
	)
	s.notify(ctx, models.StatusChange{
		ConsentRequestID: req.ID,
		HIU:              req.HIU,
		Status:           models.StatusGranted,
		Artefacts:        artefacts,
		At:               now,
	})
	return artefacts, nil
}

// buildArtefacts merges grants per HIP and derives one artefact per HIP.
func buildArtefacts(req *models.ConsentRequest, grants []models.Grant, now time.Time) ([]*models.ConsentArtefact, error) {
	byHIP := make(map[string]*models.ConsentArtefact, len(grants))
	var order []string
	for _, g := range grants {
		hipID := strings.TrimSpace(g.HIP.ID)
		if hipID == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "grant hip id is required")
		}
		a, ok := byHIP[hipID]
		if !ok {
			perm := req.Permission
			if g.Permission != nil {
				perm = *g.Permission
			}
			hiTypes := req.HITypes
			if len(g.HITypes) > 0 {
				hiTypes = g.HITypes
			}
			if perm.DataEraseAt.IsZero() || !perm.DataEraseAt.After(now) {
				return nil, dErrors.New(dErrors.CodeValidation, "grant dataEraseAt must be in the future")
			}
			a = &models.ConsentArtefact{
				ID:               uuid.NewString(),
				ConsentRequestID: req.ID,
				PatientID:        req.PatientID,
				HIP:              models.Party{ID: hipID, Name: g.HIP.Name},
				HIU:              req.HIU,
				Requester:        req.Requester,
				Purpose:          req.Purpose,
				HITypes:          slices.Clone(hiTypes),
				Permission:       perm,
				Status:           models.StatusGranted,
				ExpiresAt:        perm.DataEraseAt,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			byHIP[hipID] = a
			order = append(order, hipID)
		}
		for _, cc := range g.CareContexts {
			if !slices.Contains(a.CareContexts, cc) {
				a.CareContexts = append(a.CareContexts, cc)
			}
		}
	}
	out := make([]*models.ConsentArtefact, 0, len(order))
	for _, id := range order {
		out = append(out, byHIP[id])
	}
	return out, nil
}

// Deny moves a REQUESTED request to DENIED and announces it with no artefacts.
func (s *Service) Deny(ctx context.Context, requestID string) (*models.ConsentRequest, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	to, err := models.NextRequestStatus(req.Status, models.EventDeny)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if err := s.store.UpdateRequestStatus(ctx, req.ID, req.Status, to, now); err != nil {
		return nil, translateCAS(err, "consent request changed concurrently")
	}
	from := req.Status
	req.Status = to
	req.UpdatedAt = now
	s.metrics.IncTransition("request", string(from), string(to))
	s.logger.InfoContext(ctx, "consent request denied", "consent_request_id", req.ID)
	s.notify(ctx, models.StatusChange{
		ConsentRequestID: req.ID,
		HIU:              req.HIU,
		Status:           to,
		At:               now,
	})
	return req, nil
}
