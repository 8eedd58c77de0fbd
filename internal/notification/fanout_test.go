package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consent-manager/internal/consent/models"
	"consent-manager/internal/consent/service"
	"consent-manager/internal/consent/store"
	"consent-manager/internal/notification"
	"consent-manager/internal/platform/kafka"
	"consent-manager/pkg/requestcontext"
)

type recordingPublisher struct {
	mu      sync.Mutex
	records []kafka.Record
	failOn  string
}

func (p *recordingPublisher) Publish(_ context.Context, rec kafka.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec.Topic == p.failOn {
		return errors.New("broker unavailable")
	}
	p.records = append(p.records, rec)
	return nil
}

func (p *recordingPublisher) envelopes(t *testing.T) []*notification.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*notification.Envelope, 0, len(p.records))
	for _, rec := range p.records {
		env, err := notification.DecodeEnvelope(rec.Value)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var at = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func grantedArtefact(id, hip string) *models.ConsentArtefact {
	return &models.ConsentArtefact{
		ID:               id,
		ConsentRequestID: "req-1",
		PatientID:        "P",
		HIP:              models.Party{ID: hip},
		HIU:              models.Party{ID: "Y"},
		HITypes:          []string{"Prescription"},
		CareContexts:     []models.CareContext{{PatientReference: "P@" + hip, CareContextReference: "visit-1"}},
		Signature:        "sig",
		Status:           models.StatusGranted,
		ExpiresAt:        at.Add(24 * time.Hour),
	}
}

// Scenario B
func TestEnvelopesForGrant(t *testing.T) {
	a := grantedArtefact("a-1", "X")
	envs := notification.EnvelopesFor(models.StatusChange{
		ConsentRequestID: "req-1",
		HIU:              models.Party{ID: "Y"},
		Status:           models.StatusGranted,
		Artefacts:        []*models.ConsentArtefact{a},
		At:               at,
	})

	require.Len(t, envs, 2)
	hiu, hip := envs[0], envs[1]
	assert.Equal(t, models.PartyHIU, hiu.TargetKind)
	assert.Equal(t, "Y", hiu.TargetID)
	assert.Equal(t, []models.ArtefactRef{{ID: "a-1", HIP: models.Party{ID: "X"}}}, hiu.Artefacts)
	assert.Nil(t, hiu.Artefact)
	assert.Equal(t, notification.TopicHIUNotify, hiu.Topic())

	assert.Equal(t, models.PartyHIP, hip.TargetKind)
	assert.Equal(t, "X", hip.TargetID)
	assert.Same(t, a, hip.Artefact)
	assert.Nil(t, hip.Notice)
	assert.Equal(t, notification.TopicHIPNotify, hip.Topic())
}

func TestEnvelopesForInactiveStripsScope(t *testing.T) {
	for _, status := range []models.Status{models.StatusRevoked, models.StatusExpired} {
		t.Run(string(status), func(t *testing.T) {
			a := grantedArtefact("a-1", "X")
			a.Status = status
			envs := notification.EnvelopesFor(models.StatusChange{
				ConsentRequestID: "req-1",
				HIU:              models.Party{ID: "Y"},
				Status:           status,
				Artefacts:        []*models.ConsentArtefact{a},
				At:               at,
			})
			require.Len(t, envs, 2)
			hip := envs[1]
			assert.Nil(t, hip.Artefact)
			assert.Equal(t, &notification.ArtefactNotice{Status: status, ArtefactID: "a-1"}, hip.Notice)

			raw, err := json.Marshal(hip)
			require.NoError(t, err)
			assert.NotContains(t, string(raw), "careContexts")
			assert.NotContains(t, string(raw), "hiTypes")
		})
	}
}

// Scenario A: an expired request reaches the HIU only, with no artefacts.
func TestEnvelopesForExpiredRequest(t *testing.T) {
	envs := notification.EnvelopesFor(models.StatusChange{
		ConsentRequestID: "req-1",
		HIU:              models.Party{ID: "Y"},
		Status:           models.StatusExpired,
		At:               at,
	})
	require.Len(t, envs, 1)
	assert.Equal(t, "Y", envs[0].TargetID)
	assert.Empty(t, envs[0].Artefacts)
}

func TestFanoutPublishesKeyedRecords(t *testing.T) {
	pub := &recordingPublisher{}
	f, err := notification.NewFanout(pub, notification.WithFanoutLogger(discard()))
	require.NoError(t, err)

	err = f.NotifyConsentStatus(context.Background(), models.StatusChange{
		ConsentRequestID: "req-1",
		HIU:              models.Party{ID: "Y"},
		Status:           models.StatusGranted,
		Artefacts:        []*models.ConsentArtefact{grantedArtefact("a-1", "X"), grantedArtefact("a-2", "Z")},
		At:               at,
	})
	require.NoError(t, err)

	require.Len(t, pub.records, 3)
	topics := []string{pub.records[0].Topic, pub.records[1].Topic, pub.records[2].Topic}
	assert.Equal(t, []string{notification.TopicHIUNotify, notification.TopicHIPNotify, notification.TopicHIPNotify}, topics)
	for _, rec := range pub.records {
		assert.Equal(t, "req-1", string(rec.Key))
		assert.Equal(t, "0", rec.Headers[notification.HeaderDeathCount])
	}
}

func TestFanoutAttemptsEveryEnvelope(t *testing.T) {
	pub := &recordingPublisher{failOn: notification.TopicHIPNotify}
	f, err := notification.NewFanout(pub, notification.WithFanoutLogger(discard()))
	require.NoError(t, err)

	err = f.NotifyConsentStatus(context.Background(), models.StatusChange{
		ConsentRequestID: "req-1",
		HIU:              models.Party{ID: "Y"},
		Status:           models.StatusGranted,
		Artefacts:        []*models.ConsentArtefact{grantedArtefact("a-1", "X")},
		At:               at,
	})
	require.Error(t, err)
	require.Len(t, pub.records, 1)
	assert.Equal(t, notification.TopicHIUNotify, pub.records[0].Topic)
}

func TestNotifyDataFlow(t *testing.T) {
	pub := &recordingPublisher{}
	f, err := notification.NewFanout(pub, notification.WithFanoutLogger(discard()))
	require.NoError(t, err)
	ctx := requestcontext.WithTime(context.Background(), at)

	a := grantedArtefact("a-1", "X")
	require.NoError(t, f.NotifyDataFlow(ctx, a, notification.DataFlowRequest{TransactionID: "txn-1", DataPushURL: "https://hiu.test/push"}))
	require.Len(t, pub.records, 1)
	assert.Equal(t, notification.TopicHIPDataFlow, pub.records[0].Topic)

	env := pub.envelopes(t)[0]
	assert.Equal(t, "a-1", env.DataFlow.ConsentArtefactID)
	assert.Equal(t, "dataflow:txn-1", env.DedupeKey())

	a.Status = models.StatusRevoked
	assert.Error(t, f.NotifyDataFlow(ctx, a, notification.DataFlowRequest{TransactionID: "txn-2"}))
}

type stubSigner struct{}

func (stubSigner) Sign(_ context.Context, a *models.ConsentArtefact) (string, error) {
	return "sig:" + a.ID, nil
}

// Approving for two HIPs then revoking both yields exactly one REVOKED
// notice per party, with no scope sent to either HIP.
func TestApproveThenRevokeNotifiesEachPartyOnce(t *testing.T) {
	pub := &recordingPublisher{}
	fanout, err := notification.NewFanout(pub, notification.WithFanoutLogger(discard()))
	require.NoError(t, err)
	st := store.NewInMemoryStore()
	svc, err := service.New(st, store.NewShardedTx(st), stubSigner{}, fanout, service.WithLogger(discard()))
	require.NoError(t, err)

	ctx := requestcontext.WithTime(context.Background(), at)
	req, err := svc.Create(ctx, &models.ConsentRequest{
		PatientID: "P",
		HIU:       models.Party{ID: "Y"},
		Purpose:   models.Purpose{Code: "CAREMGT"},
		HITypes:   []string{"Prescription"},
		Permission: models.Permission{
			AccessMode:  models.AccessView,
			DataEraseAt: at.Add(30 * 24 * time.Hour),
		},
	})
	require.NoError(t, err)
	artefacts, err := svc.Approve(ctx, req.ID, []models.Grant{{HIP: models.Party{ID: "X"}}, {HIP: models.Party{ID: "Z"}}})
	require.NoError(t, err)

	pub.records = nil
	_, err = svc.Revoke(ctx, []string{artefacts[0].ID, artefacts[1].ID}, "Y")
	require.NoError(t, err)

	want := []*notification.Envelope{
		{
			TargetKind:       models.PartyHIU,
			TargetID:         "Y",
			ConsentRequestID: req.ID,
			Status:           models.StatusRevoked,
			Timestamp:        at,
			Artefacts: []models.ArtefactRef{
				{ID: artefacts[0].ID, HIP: models.Party{ID: "X"}},
				{ID: artefacts[1].ID, HIP: models.Party{ID: "Z"}},
			},
		},
		{
			TargetKind:       models.PartyHIP,
			TargetID:         "X",
			ConsentRequestID: req.ID,
			Status:           models.StatusRevoked,
			Timestamp:        at,
			Notice:           &notification.ArtefactNotice{Status: models.StatusRevoked, ArtefactID: artefacts[0].ID},
		},
		{
			TargetKind:       models.PartyHIP,
			TargetID:         "Z",
			ConsentRequestID: req.ID,
			Status:           models.StatusRevoked,
			Timestamp:        at,
			Notice:           &notification.ArtefactNotice{Status: models.StatusRevoked, ArtefactID: artefacts[1].ID},
		},
	}
	if diff := cmp.Diff(want, pub.envelopes(t)); diff != "" {
		t.Errorf("revocation envelopes mismatch (-want +got):\n%s", diff)
	}
}
