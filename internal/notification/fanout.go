package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"consent-manager/internal/consent/models"
	"consent-manager/internal/platform/kafka"
	"consent-manager/pkg/requestcontext"
)

// Publisher produces one record. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, rec kafka.Record) error
}

// Fanout turns lifecycle events into per-party envelopes and produces them.
type Fanout struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
}

type FanoutOption func(*Fanout)

func WithFanoutLogger(logger *slog.Logger) FanoutOption {
	return func(f *Fanout) { f.logger = logger }
}

func WithFanoutMetrics(m *Metrics) FanoutOption {
	return func(f *Fanout) { f.metrics = m }
}

func NewFanout(publisher Publisher, opts ...FanoutOption) (*Fanout, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	f := &Fanout{publisher: publisher, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// NotifyConsentRequest tells the HIU its request was accepted.
func (f *Fanout) NotifyConsentRequest(ctx context.Context, req *models.ConsentRequest) error {
	return f.publish(ctx, &Envelope{
		TargetKind:       models.PartyHIU,
		TargetID:         req.HIU.ID,
		ConsentRequestID: req.ID,
		Status:           models.StatusRequested,
		Timestamp:        req.CreatedAt,
	})
}

// NotifyConsentStatus produces one envelope for the HIU and one per artefact
// for its HIP. Every envelope is attempted; the errors are joined.
func (f *Fanout) NotifyConsentStatus(ctx context.Context, change models.StatusChange) error {
	var errs []error
	for _, env := range EnvelopesFor(change) {
		if err := f.publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyDataFlow asks the artefact's HIP to push data.
func (f *Fanout) NotifyDataFlow(ctx context.Context, artefact *models.ConsentArtefact, req DataFlowRequest) error {
	if artefact.Status != models.StatusGranted {
		return fmt.Errorf("data flow for %s artefact %s", artefact.Status, artefact.ID)
	}
	req.ConsentArtefactID = artefact.ID
	return f.publish(ctx, &Envelope{
		TargetKind:       models.PartyHIP,
		TargetID:         artefact.HIP.ID,
		ConsentRequestID: artefact.ConsentRequestID,
		Status:           artefact.Status,
		Timestamp:        requestcontext.Now(ctx),
		DataFlow:         &req,
	})
}

// EnvelopesFor derives the envelopes for one status change. The HIU envelope
// is always first. An HIP only sees artefact scope while it is GRANTED.
func EnvelopesFor(change models.StatusChange) []*Envelope {
	refs := make([]models.ArtefactRef, 0, len(change.Artefacts))
	for _, a := range change.Artefacts {
		refs = append(refs, models.ArtefactRef{ID: a.ID, HIP: a.HIP})
	}
	out := []*Envelope{{
		TargetKind:       models.PartyHIU,
		TargetID:         change.HIU.ID,
		ConsentRequestID: change.ConsentRequestID,
		Status:           change.Status,
		Timestamp:        change.At,
		Artefacts:        refs,
	}}
	for _, a := range change.Artefacts {
		env := &Envelope{
			TargetKind:       models.PartyHIP,
			TargetID:         a.HIP.ID,
			ConsentRequestID: change.ConsentRequestID,
			Status:           change.Status,
			Timestamp:        change.At,
		}
		if change.Status == models.StatusGranted {
			env.Artefact = a
		} else {
			env.Notice = &ArtefactNotice{Status: change.Status, ArtefactID: a.ID}
		}
		out = append(out, env)
	}
	return out
}

func (f *Fanout) publish(ctx context.Context, env *Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	topic := env.Topic()
	err = f.publisher.Publish(ctx, kafka.Record{
		Topic:   topic,
		Key:     []byte(env.ConsentRequestID),
		Value:   value,
		Headers: map[string]string{HeaderDeathCount: "0"},
	})
	if err != nil {
		return fmt.Errorf("publish %s envelope for %s: %w", env.Status, env.TargetID, err)
	}
	f.metrics.IncPublished(topic)
	f.logger.DebugContext(ctx, "notification published",
		"topic", topic,
		"consent_request_id", env.ConsentRequestID,
		"status", env.Status,
		"target_kind", env.TargetKind,
		"target_id", env.TargetID,
	)
	return nil
}
