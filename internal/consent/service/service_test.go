package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"consent-manager/internal/consent/models"
	"consent-manager/internal/consent/service"
	"consent-manager/internal/consent/service/mocks"
	"consent-manager/internal/consent/store"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/platform/sentinel"
	"consent-manager/pkg/requestcontext"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Signer,Notifier,AutoApprovalPolicy

type stubSigner struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSigner) Sign(_ context.Context, a *models.ConsentArtefact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "sig:" + a.ID, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	requests []*models.ConsentRequest
	changes  []models.StatusChange
}

func (n *recordingNotifier) NotifyConsentRequest(_ context.Context, req *models.ConsentRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	return nil
}

func (n *recordingNotifier) NotifyConsentStatus(_ context.Context, change models.StatusChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	return nil
}

type ServiceSuite struct {
	suite.Suite
	now      time.Time
	ctx      context.Context
	store    *store.InMemoryStore
	signer   *stubSigner
	notifier *recordingNotifier
	svc      *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = store.NewInMemoryStore()
	s.signer = &stubSigner{}
	s.notifier = &recordingNotifier{}
	svc, err := service.New(s.store, store.NewShardedTx(s.store), s.signer, s.notifier,
		service.WithLogger(discardLogger()))
	s.Require().NoError(err)
	s.svc = svc
}

func (s *ServiceSuite) newRequest() *models.ConsentRequest {
	return &models.ConsentRequest{
		Requester: models.Requester{Name: "Dr. Rao", Identifier: models.Identifier{Type: "REGNO", Value: "MH1001"}},
		PatientID: "P",
		HIU:       models.Party{ID: "Y"},
		HIP:       &models.Party{ID: "X"},
		Purpose:   models.Purpose{Code: "CLINICAL", Text: "Care management"},
		HITypes:   []string{"OPConsultation", "Prescription"},
		Permission: models.Permission{
			AccessMode:  models.AccessView,
			DateRange:   models.DateRange{From: s.now.AddDate(-1, 0, 0), To: s.now},
			DataEraseAt: s.now.AddDate(0, 0, 30),
			Frequency:   models.Frequency{Unit: "HOUR", Value: 1, Repeats: 0},
		},
	}
}

func (s *ServiceSuite) create() *models.ConsentRequest {
	req, err := s.svc.Create(s.ctx, s.newRequest())
	s.Require().NoError(err)
	return req
}

func grantsFor(hips ...string) []models.Grant {
	var out []models.Grant
	for _, h := range hips {
		out = append(out, models.Grant{
			HIP:          models.Party{ID: h},
			CareContexts: []models.CareContext{{PatientReference: "P@" + h, CareContextReference: "visit-1"}},
		})
	}
	return out
}

func (s *ServiceSuite) TestCreatePersistsRequested() {
	req := s.create()

	s.NotEmpty(req.ID)
	s.Equal(models.StatusRequested, req.Status)
	s.Equal(s.now, req.CreatedAt)

	stored, err := s.svc.GetRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRequested, stored.Status)
	s.Len(s.notifier.requests, 1)
	s.Empty(s.notifier.changes)
}

func (s *ServiceSuite) TestCreateRejectsInvalidRequest() {
	req := s.newRequest()
	req.HITypes = nil
	_, err := s.svc.Create(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	req = s.newRequest()
	req.ID = "not-a-uuid"
	_, err = s.svc.Create(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestCreateDuplicateIDConflicts() {
	req := s.create()
	dup := s.newRequest()
	dup.ID = req.ID
	_, err := s.svc.Create(s.ctx, dup)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

// Scenario B
func (s *ServiceSuite) TestApproveCreatesSignedArtefactPerHIP() {
	req := s.create()

	artefacts, err := s.svc.Approve(s.ctx, req.ID, grantsFor("X"))
	s.Require().NoError(err)
	s.Require().Len(artefacts, 1)

	a := artefacts[0]
	s.Equal(models.StatusGranted, a.Status)
	s.Equal("sig:"+a.ID, a.Signature)
	s.Equal("X", a.HIP.ID)
	s.Equal("Y", a.HIU.ID)
	s.Equal(req.Permission.DataEraseAt, a.ExpiresAt)

	stored, err := s.svc.GetRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusGranted, stored.Status)

	listed, err := s.svc.ListArtefactsForRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Len(listed, 1)

	s.Require().Len(s.notifier.changes, 1)
	change := s.notifier.changes[0]
	s.Equal(models.StatusGranted, change.Status)
	s.Equal("Y", change.HIU.ID)
	s.Len(change.Artefacts, 1)
}

func (s *ServiceSuite) TestApproveMergesGrantsForSameHIP() {
	req := s.create()
	grants := append(grantsFor("X", "Z"), models.Grant{
		HIP:          models.Party{ID: "X"},
		CareContexts: []models.CareContext{{PatientReference: "P@X", CareContextReference: "visit-2"}},
	})

	artefacts, err := s.svc.Approve(s.ctx, req.ID, grants)
	s.Require().NoError(err)
	s.Require().Len(artefacts, 2)
	s.Equal("X", artefacts[0].HIP.ID)
	s.Len(artefacts[0].CareContexts, 2)
	s.Equal("Z", artefacts[1].HIP.ID)
	s.Equal(2, s.signer.calls)
}

func (s *ServiceSuite) TestApproveRequiresRequested() {
	req := s.create()
	_, err := s.svc.Deny(s.ctx, req.ID)
	s.Require().NoError(err)

	_, err = s.svc.Approve(s.ctx, req.ID, grantsFor("X"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestApproveUnknownRequest() {
	_, err := s.svc.Approve(s.ctx, "00000000-0000-0000-0000-000000000001", grantsFor("X"))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestApproveRejectsEmptyOrExpiredGrant() {
	req := s.create()
	_, err := s.svc.Approve(s.ctx, req.ID, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	past := req.Permission
	past.DataEraseAt = s.now.Add(-time.Minute)
	_, err = s.svc.Approve(s.ctx, req.ID, []models.Grant{{HIP: models.Party{ID: "X"}, Permission: &past}})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestApproveSignerFailureLeavesRequestUntouched() {
	req := s.create()
	ctrl := gomock.NewController(s.T())
	signer := mocks.NewMockSigner(ctrl)
	signer.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig-1", nil)
	signer.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("", errors.New("hsm unavailable"))

	svc, err := service.New(s.store, store.NewShardedTx(s.store), signer, s.notifier,
		service.WithLogger(discardLogger()))
	s.Require().NoError(err)

	_, err = svc.Approve(s.ctx, req.ID, grantsFor("X", "Z"))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	stored, err := s.svc.GetRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRequested, stored.Status)
	artefacts, err := s.svc.ListArtefactsForRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Empty(artefacts)
	s.Empty(s.notifier.changes)
}

type failingArtefactStore struct {
	service.Store
}

func (failingArtefactStore) CreateArtefacts(context.Context, []*models.ConsentArtefact) error {
	return errors.New("disk full")
}

type failingTx struct {
	inner *store.ShardedTx
}

func (t failingTx) RunInTx(ctx context.Context, fn func(service.Store) error) error {
	return t.inner.RunInTx(ctx, func(st service.Store) error {
		return fn(failingArtefactStore{st})
	})
}

func (s *ServiceSuite) TestApproveRollsBackStatusWhenArtefactWriteFails() {
	req := s.create()
	svc, err := service.New(s.store, failingTx{inner: store.NewShardedTx(s.store)}, s.signer, s.notifier,
		service.WithLogger(discardLogger()))
	s.Require().NoError(err)

	_, err = svc.Approve(s.ctx, req.ID, grantsFor("X"))
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	stored, err := s.svc.GetRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRequested, stored.Status, "no GRANTED request without artefacts")
}

func (s *ServiceSuite) TestConcurrentApproveGrantsOnce() {
	req := s.create()

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Approve(s.ctx, req.ID, grantsFor("X"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeConflict) || dErrors.HasCode(err, dErrors.CodeInvalidState), err.Error())
	}
	s.Equal(1, ok)
	artefacts, err := s.svc.ListArtefactsForRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Len(artefacts, 1)
}

func (s *ServiceSuite) TestDeny() {
	req := s.create()
	denied, err := s.svc.Deny(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDenied, denied.Status)

	s.Require().Len(s.notifier.changes, 1)
	s.Equal(models.StatusDenied, s.notifier.changes[0].Status)
	s.Empty(s.notifier.changes[0].Artefacts)

	_, err = s.svc.Deny(s.ctx, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) approved(hips ...string) (*models.ConsentRequest, []*models.ConsentArtefact) {
	req := s.create()
	artefacts, err := s.svc.Approve(s.ctx, req.ID, grantsFor(hips...))
	s.Require().NoError(err)
	s.notifier.changes = nil
	return req, artefacts
}

func (s *ServiceSuite) TestRevokeByHIUOrPatient() {
	_, artefacts := s.approved("X")

	revoked, err := s.svc.Revoke(s.ctx, []string{artefacts[0].ID}, "Y")
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, revoked[0].Status)

	stored, err := s.svc.GetArtefact(s.ctx, artefacts[0].ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, stored.Status)

	s.Require().Len(s.notifier.changes, 1)
	s.Equal(models.StatusRevoked, s.notifier.changes[0].Status)

	_, artefacts = s.approved("X")
	_, err = s.svc.Revoke(s.ctx, []string{artefacts[0].ID}, "P")
	s.NoError(err, "the patient may revoke")
}

func (s *ServiceSuite) TestRevokeForbiddenForOtherParties() {
	_, artefacts := s.approved("X")
	_, err := s.svc.Revoke(s.ctx, []string{artefacts[0].ID}, "X")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestRevokeNonGrantedConflicts() {
	_, artefacts := s.approved("X")
	_, err := s.svc.Revoke(s.ctx, []string{artefacts[0].ID}, "Y")
	s.Require().NoError(err)

	_, err = s.svc.Revoke(s.ctx, []string{artefacts[0].ID}, "Y")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestRevokeIsAllOrNothing() {
	_, first := s.approved("X")
	_, second := s.approved("X")
	_, err := s.svc.Revoke(s.ctx, []string{second[0].ID}, "Y")
	s.Require().NoError(err)
	s.notifier.changes = nil

	_, err = s.svc.Revoke(s.ctx, []string{first[0].ID, second[0].ID}, "Y")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	stored, err := s.svc.GetArtefact(s.ctx, first[0].ID)
	s.Require().NoError(err)
	s.Equal(models.StatusGranted, stored.Status)
	s.Empty(s.notifier.changes)
}

func (s *ServiceSuite) TestRevokeValidatesInput() {
	_, err := s.svc.Revoke(s.ctx, []string{" ", ""}, "Y")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.svc.Revoke(s.ctx, []string{"a"}, "")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestExpireRequest() {
	req := s.create()
	s.Require().NoError(s.svc.ExpireRequest(s.ctx, req.ID))

	stored, err := s.svc.GetRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
	s.Require().Len(s.notifier.changes, 1)
	s.Equal(models.StatusExpired, s.notifier.changes[0].Status)
	s.Empty(s.notifier.changes[0].Artefacts)

	err = s.svc.ExpireRequest(s.ctx, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState), "terminal states never reopen")
}

func (s *ServiceSuite) TestExpireArtefact() {
	_, artefacts := s.approved("X")
	s.Require().NoError(s.svc.ExpireArtefact(s.ctx, artefacts[0].ID))

	stored, err := s.svc.GetArtefact(s.ctx, artefacts[0].ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
	s.Require().Len(s.notifier.changes, 1)
	s.Len(s.notifier.changes[0].Artefacts, 1)
}

func (s *ServiceSuite) TestExpireArtefactAfterRevokeIsNotGranted() {
	_, artefacts := s.approved("X")
	_, err := s.svc.Revoke(s.ctx, []string{artefacts[0].ID}, "Y")
	s.Require().NoError(err)

	err = s.svc.ExpireArtefact(s.ctx, artefacts[0].ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotGranted))
}

type conflictingStore struct {
	*store.InMemoryStore
}

func (conflictingStore) UpdateArtefactStatus(context.Context, string, models.Status, models.Status, time.Time) error {
	return sentinel.ErrConflict
}

func (s *ServiceSuite) TestExpireArtefactLosingRaceConflicts() {
	_, artefacts := s.approved("X")
	cs := conflictingStore{s.store}
	svc, err := service.New(cs, store.NewShardedTx(s.store), s.signer, s.notifier, service.WithLogger(discardLogger()))
	s.Require().NoError(err)

	err = svc.ExpireArtefact(s.ctx, artefacts[0].ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestAutoApprovalPolicy() {
	ctrl := gomock.NewController(s.T())
	policy := mocks.NewMockAutoApprovalPolicy(ctrl)
	policy.EXPECT().Allows(gomock.Any(), gomock.Any()).Return(true)

	svc, err := service.New(s.store, store.NewShardedTx(s.store), s.signer, s.notifier,
		service.WithLogger(discardLogger()), service.WithAutoApprovalPolicy(policy))
	s.Require().NoError(err)

	req, err := svc.Create(s.ctx, s.newRequest())
	s.Require().NoError(err)
	s.Equal(models.StatusGranted, req.Status)

	artefacts, err := svc.ListArtefactsForRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(artefacts, 1)
	s.Equal("X", artefacts[0].HIP.ID)
}

func (s *ServiceSuite) TestAutoApprovalWithoutHIPLeavesRequestRequested() {
	ctrl := gomock.NewController(s.T())
	policy := mocks.NewMockAutoApprovalPolicy(ctrl)
	policy.EXPECT().Allows(gomock.Any(), gomock.Any()).Return(true)

	svc, err := service.New(s.store, store.NewShardedTx(s.store), s.signer, s.notifier,
		service.WithLogger(discardLogger()), service.WithAutoApprovalPolicy(policy))
	s.Require().NoError(err)

	in := s.newRequest()
	in.HIP = nil
	var req *models.ConsentRequest
	s.Require().NotPanics(func() {
		req, err = svc.Create(s.ctx, in)
	})
	s.Require().NoError(err)
	s.Equal(models.StatusRequested, req.Status)

	stored, err := svc.GetRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRequested, stored.Status)
	artefacts, err := svc.ListArtefactsForRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Empty(artefacts)
}

func TestAllowlistPolicy(t *testing.T) {
	p := service.AllowlistPolicy{HIUs: []string{"hiu-1"}, Purposes: []string{"PUBHLTH"}}
	req := &models.ConsentRequest{HIU: models.Party{ID: "hiu-1"}, HIP: &models.Party{ID: "hip"}, Purpose: models.Purpose{Code: "PUBHLTH"}}
	assert.True(t, p.Allows(context.Background(), req))

	req.Purpose.Code = "CAREMGT"
	assert.False(t, p.Allows(context.Background(), req))

	req.Purpose.Code = "PUBHLTH"
	req.HIP = nil
	assert.False(t, p.Allows(context.Background(), req), "no hip, nothing to grant")

	assert.False(t, service.DenyAllPolicy{}.Allows(context.Background(), req))
}

func TestNewRequiresCollaborators(t *testing.T) {
	st := store.NewInMemoryStore()
	_, err := service.New(nil, store.NewShardedTx(st), &stubSigner{}, &recordingNotifier{})
	require.Error(t, err)
	_, err = service.New(st, nil, &stubSigner{}, &recordingNotifier{})
	require.Error(t, err)
	_, err = service.New(st, store.NewShardedTx(st), nil, &recordingNotifier{})
	require.Error(t, err)
	_, err = service.New(st, store.NewShardedTx(st), &stubSigner{}, nil)
	require.Error(t, err)
}
