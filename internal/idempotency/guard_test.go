package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/requestcontext"
)

type GuardSuite struct {
	suite.Suite
	now   time.Time
	store *MemoryStore
	guard *Guard
	ctx   context.Context
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewMemoryStoreWithClock(func() time.Time { return s.now })
	g, err := New(s.store, WithWindow(5*time.Minute), WithAllowedSkew(30*time.Second))
	s.Require().NoError(err)
	s.guard = g
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *GuardSuite) TestAdmitOnceThenReject() {
	ok, err := s.guard.Admit(s.ctx, "req-1", s.now)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.guard.Admit(s.ctx, "req-1", s.now)
	s.Require().NoError(err)
	s.False(ok, "identical key within the window must be rejected")
}

func (s *GuardSuite) TestSameKeyDifferentTimestampStillRejected() {
	ok, _ := s.guard.Admit(s.ctx, "req-1", s.now)
	s.True(ok)
	ok, _ = s.guard.Admit(s.ctx, "req-1", s.now.Add(-time.Second))
	s.False(ok)
}

func (s *GuardSuite) TestTimestampOutsideWindowRejected() {
	ok, err := s.guard.Admit(s.ctx, "stale", s.now.Add(-6*time.Minute))
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.guard.Admit(s.ctx, "future", s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.guard.Admit(s.ctx, "edge-skew", s.now.Add(30*time.Second))
	s.Require().NoError(err)
	s.True(ok, "timestamp exactly at the skew bound is accepted")
}

func (s *GuardSuite) TestRejectedTimestampsDoNotConsumeKey() {
	ok, _ := s.guard.Admit(s.ctx, "req-2", s.now.Add(-time.Hour))
	s.False(ok)
	ok, _ = s.guard.Admit(s.ctx, "req-2", s.now)
	s.True(ok)
}

func (s *GuardSuite) TestKeyReadmittedAfterExpiry() {
	ok, _ := s.guard.Admit(s.ctx, "req-3", s.now)
	s.True(ok)

	s.now = s.now.Add(6 * time.Minute)
	ctx := requestcontext.WithTime(context.Background(), s.now)
	ok, _ = s.guard.Admit(ctx, "req-3", s.now)
	s.True(ok)
}

func (s *GuardSuite) TestRequireMapsToTooManyRequests() {
	s.Require().NoError(s.guard.Require(s.ctx, "req-4", s.now))
	err := s.guard.Require(s.ctx, "req-4", s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeTooManyRequests))
}

func (s *GuardSuite) TestReleasedKeyIsAdmittedAgain() {
	s.Require().NoError(s.guard.Require(s.ctx, "req-5", s.now))
	s.Require().NoError(s.guard.Release(s.ctx, " req-5 "))
	s.Require().NoError(s.guard.Require(s.ctx, "req-5", s.now), "released key is admitted on retry")
	s.Error(s.guard.Require(s.ctx, "req-5", s.now))
	s.NoError(s.guard.Release(s.ctx, ""), "blank key is a no-op")
}

func (s *GuardSuite) TestBlankKeyIsBadRequest() {
	_, err := s.guard.Admit(s.ctx, "  ", s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	_, err = s.guard.Admit(s.ctx, "k", time.Time{})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *GuardSuite) TestConcurrentIdenticalRequestsAdmitOnce() {
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.guard.Admit(s.ctx, "race", s.now); err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), admitted.Load())
}

type failingStore struct{}

func (failingStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func TestAdmitStoreFailureIsUnavailable(t *testing.T) {
	g, err := New(failingStore{})
	require.NoError(t, err)
	_, err = g.Admit(context.Background(), "k", time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.True(t, dErrors.HasCode(g.Release(context.Background(), "k"), dErrors.CodeUnavailable))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(NewMemoryStore(), WithWindow(0))
	assert.Error(t, err)
	_, err = New(NewMemoryStore(), WithAllowedSkew(-time.Second))
	assert.Error(t, err)
}
