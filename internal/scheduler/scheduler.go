// Package scheduler runs the periodic expiry sweeps. Each sweep walks its
// candidates page by page with a keyset cursor and expires them one at a
// time through the lifecycle service, so one bad record never stops a run.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"consent-manager/internal/consent/models"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/requestcontext"
)

const (
	DefaultRequestSchedule  = "@every 1m"
	DefaultArtefactSchedule = "@every 5m"
	DefaultPageSize         = 100
)

var tracer = otel.Tracer("consent-manager/scheduler")

// Source pages expiry candidates in keyset order.
type Source interface {
	ListRequestsCreatedBefore(ctx context.Context, status models.Status, cutoff time.Time, after models.Cursor, limit int) ([]*models.ConsentRequest, error)
	ListArtefactsExpiringBefore(ctx context.Context, status models.Status, cutoff time.Time, after models.Cursor, limit int) ([]*models.ConsentArtefact, error)
}

// Lifecycle performs the expire transitions and their fan-out.
type Lifecycle interface {
	ExpireRequest(ctx context.Context, requestID string) error
	ExpireArtefact(ctx context.Context, artefactID string) error
}

// Result counts what one sweep did.
type Result struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

// Scheduler owns the cron runner and the two sweeps.
type Scheduler struct {
	source           Source
	lifecycle        Lifecycle
	requestExpiry    time.Duration
	requestSchedule  string
	artefactSchedule string
	pageSize         int
	logger           *slog.Logger
	metrics          *Metrics

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

type Option func(*Scheduler)

func WithRequestSchedule(spec string) Option {
	return func(s *Scheduler) { s.requestSchedule = spec }
}

func WithArtefactSchedule(spec string) Option {
	return func(s *Scheduler) { s.artefactSchedule = spec }
}

func WithPageSize(n int) Option {
	return func(s *Scheduler) { s.pageSize = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a Scheduler. requestExpiry is how long a request may stay
// REQUESTED before the sweep expires it.
func New(source Source, lifecycle Lifecycle, requestExpiry time.Duration, opts ...Option) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("scheduler source is required")
	}
	if lifecycle == nil {
		return nil, errors.New("scheduler lifecycle is required")
	}
	if requestExpiry <= 0 {
		return nil, errors.New("request expiry must be positive")
	}
	s := &Scheduler{
		source:           source,
		lifecycle:        lifecycle,
		requestExpiry:    requestExpiry,
		requestSchedule:  DefaultRequestSchedule,
		artefactSchedule: DefaultArtefactSchedule,
		pageSize:         DefaultPageSize,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pageSize < 1 {
		return nil, errors.New("scheduler page size must be at least 1")
	}
	if _, err := cron.ParseStandard(s.requestSchedule); err != nil {
		return nil, errors.Join(errors.New("invalid request sweep schedule"), err)
	}
	if _, err := cron.ParseStandard(s.artefactSchedule); err != nil {
		return nil, errors.Join(errors.New("invalid artefact sweep schedule"), err)
	}
	return s, nil
}

// Start registers both sweeps and starts the cron runner. Overlapping runs of
// the same sweep are skipped. Jobs see a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.requestSchedule, func() { s.runRequests(ctx) }); err != nil {
		cancel()
		return err
	}
	if _, err := c.AddFunc(s.artefactSchedule, func() { s.runArtefacts(ctx) }); err != nil {
		cancel()
		return err
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.logger.InfoContext(ctx, "expiry scheduler started",
		"request_schedule", s.requestSchedule,
		"artefact_schedule", s.artefactSchedule,
	)
	return nil
}

// Stop cancels running sweeps and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("expiry scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) runRequests(ctx context.Context) {
	if _, err := s.SweepRequests(ctx, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "request expiry sweep aborted", "error", err)
	}
}

func (s *Scheduler) runArtefacts(ctx context.Context) {
	if _, err := s.SweepArtefacts(ctx, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "artefact expiry sweep aborted", "error", err)
	}
}

// SweepRequests expires every REQUESTED request created more than the
// request expiry before now. A listing error aborts the sweep; a failure on
// one record is logged and the sweep moves on.
func (s *Scheduler) SweepRequests(ctx context.Context, now time.Time) (Result, error) {
	cutoff := now.Add(-s.requestExpiry)
	return s.sweep(ctx, kindRequest, now, func(ctx context.Context, after models.Cursor) ([]candidate, error) {
		reqs, err := s.source.ListRequestsCreatedBefore(ctx, models.StatusRequested, cutoff, after, s.pageSize)
		if err != nil {
			return nil, err
		}
		out := make([]candidate, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, candidate{id: r.ID, at: r.CreatedAt})
		}
		return out, nil
	}, s.lifecycle.ExpireRequest)
}

// SweepArtefacts expires every GRANTED artefact whose expiry is before now.
func (s *Scheduler) SweepArtefacts(ctx context.Context, now time.Time) (Result, error) {
	return s.sweep(ctx, kindArtefact, now, func(ctx context.Context, after models.Cursor) ([]candidate, error) {
		artefacts, err := s.source.ListArtefactsExpiringBefore(ctx, models.StatusGranted, now, after, s.pageSize)
		if err != nil {
			return nil, err
		}
		out := make([]candidate, 0, len(artefacts))
		for _, a := range artefacts {
			out = append(out, candidate{id: a.ID, at: a.ExpiresAt})
		}
		return out, nil
	}, s.lifecycle.ExpireArtefact)
}

type candidate struct {
	id string
	at time.Time
}

type pageFunc func(ctx context.Context, after models.Cursor) ([]candidate, error)

func (s *Scheduler) sweep(ctx context.Context, kind string, now time.Time, page pageFunc, expire func(context.Context, string) error) (Result, error) {
	ctx, span := tracer.Start(ctx, "scheduler.sweep")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind))

	start := time.Now()
	defer func() { s.metrics.ObserveSweep(kind, time.Since(start)) }()

	ctx = requestcontext.WithTime(ctx, now)
	var (
		res    Result
		cursor models.Cursor
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := page(ctx, cursor)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list candidates")
			return res, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list "+kind+" expiry candidates")
		}
		for _, c := range batch {
			res.Scanned++
			s.expireOne(ctx, kind, c.id, expire, &res)
		}
		if len(batch) < s.pageSize {
			break
		}
		last := batch[len(batch)-1]
		cursor = models.Cursor{At: last.at, ID: last.id}
	}

	span.SetAttributes(
		attribute.Int("scanned", res.Scanned),
		attribute.Int("expired", res.Expired),
		attribute.Int("failed", res.Failed),
	)
	if res.Scanned > 0 {
		s.logger.InfoContext(ctx, "expiry sweep finished",
			"kind", kind,
			"scanned", res.Scanned,
			"expired", res.Expired,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	return res, nil
}

func (s *Scheduler) expireOne(ctx context.Context, kind, id string, expire func(context.Context, string) error, res *Result) {
	err := expire(ctx, id)
	switch {
	case err == nil:
		res.Expired++
		s.metrics.IncRecord(kind, outcomeExpired)
	case dErrors.HasCode(err, dErrors.CodeConflict), dErrors.HasCode(err, dErrors.CodeInvalidState):
		// A concurrent decision or revoke committed first.
		res.Skipped++
		s.metrics.IncRecord(kind, outcomeSkipped)
		s.logger.InfoContext(ctx, "expiry skipped, record already moved on",
			"kind", kind,
			"id", id,
			"error", err,
		)
	default:
		res.Failed++
		s.metrics.IncRecord(kind, outcomeFailed)
		s.logger.ErrorContext(ctx, "failed to expire record",
			"kind", kind,
			"id", id,
			"error", err,
		)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
