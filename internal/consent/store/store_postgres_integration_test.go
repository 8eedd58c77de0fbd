//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"consent-manager/internal/consent/models"
	"consent-manager/internal/consent/service"
	"consent-manager/pkg/platform/sentinel"
	"consent-manager/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *PostgresStore
	tx    *PostgresTx
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.pg.DB)
	s.tx = NewPostgresTxRunner(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background()))
}

func (s *PostgresStoreSuite) seedRequest(status models.Status, createdAt time.Time) *models.ConsentRequest {
	req := request(uuid.NewString(), status, createdAt)
	req.Permission = models.Permission{
		AccessMode:  models.AccessView,
		DataEraseAt: createdAt.Add(24 * time.Hour),
	}
	s.Require().NoError(s.store.CreateRequest(context.Background(), req))
	return req
}

func (s *PostgresStoreSuite) TestRequestRoundTrip() {
	ctx := context.Background()
	req := s.seedRequest(models.StatusRequested, base)

	got, err := s.store.FindRequest(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(req.ID, got.ID)
	s.Equal("X", got.HIP.ID)
	s.Equal([]string{"Prescription"}, got.HITypes)
	s.True(req.CreatedAt.Equal(got.CreatedAt))

	s.ErrorIs(s.store.CreateRequest(ctx, req), sentinel.ErrAlreadyExists)
	_, err = s.store.FindRequest(ctx, uuid.NewString())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestCompareAndSet() {
	ctx := context.Background()
	req := s.seedRequest(models.StatusRequested, base)

	s.ErrorIs(s.store.UpdateRequestStatus(ctx, req.ID, models.StatusGranted, models.StatusRevoked, base), sentinel.ErrConflict)
	s.ErrorIs(s.store.UpdateRequestStatus(ctx, uuid.NewString(), models.StatusRequested, models.StatusDenied, base), sentinel.ErrNotFound)
	s.Require().NoError(s.store.UpdateRequestStatus(ctx, req.ID, models.StatusRequested, models.StatusDenied, base))
}

func (s *PostgresStoreSuite) TestTxRollsBackArtefactsAndStatus() {
	ctx := context.Background()
	req := s.seedRequest(models.StatusRequested, base)
	boom := errors.New("boom")

	err := s.tx.RunInTx(ctx, func(st service.Store) error {
		if err := st.UpdateRequestStatus(ctx, req.ID, models.StatusRequested, models.StatusGranted, base); err != nil {
			return err
		}
		if err := st.CreateArtefacts(ctx, []*models.ConsentArtefact{artefact(uuid.NewString(), req.ID, models.StatusGranted, base)}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.FindRequest(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRequested, got.Status)
	artefacts, err := s.store.ListArtefactsByRequest(ctx, req.ID)
	s.Require().NoError(err)
	s.Empty(artefacts)
}

func (s *PostgresStoreSuite) TestSweepQueries() {
	ctx := context.Background()
	var want []string
	for i := range 3 {
		want = append(want, s.seedRequest(models.StatusRequested, base.Add(time.Duration(i)*time.Second)).ID)
	}
	s.seedRequest(models.StatusRequested, base.Add(time.Hour))

	var seen []string
	var cur models.Cursor
	for {
		page, err := s.store.ListRequestsCreatedBefore(ctx, models.StatusRequested, base.Add(time.Minute), cur, 2)
		s.Require().NoError(err)
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			seen = append(seen, r.ID)
		}
		last := page[len(page)-1]
		cur = models.Cursor{At: last.CreatedAt, ID: last.ID}
	}
	s.Equal(want, seen)

	granted := s.seedRequest(models.StatusGranted, base)
	a := artefact(uuid.NewString(), granted.ID, models.StatusGranted, base.Add(time.Hour))
	s.Require().NoError(s.store.CreateArtefacts(ctx, []*models.ConsentArtefact{a}))
	due, err := s.store.ListArtefactsExpiringBefore(ctx, models.StatusGranted, base.Add(2*time.Hour), models.Cursor{}, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(a.ID, due[0].ID)
	s.Equal(a.CareContexts, due[0].CareContexts)
}
