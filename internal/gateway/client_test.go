package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consent-manager/internal/consent/models"
	"consent-manager/internal/notification"
	dErrors "consent-manager/pkg/domain-errors"
)

type captured struct {
	path    string
	headers http.Header
	body    map[string]any
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []captured
	status   int
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	g.requests = append(g.requests, captured{path: r.URL.Path, headers: r.Header.Clone(), body: body})
	status := g.status
	if status == 0 {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
}

func newTestClient(t *testing.T, gw *fakeGateway) *Client {
	t.Helper()
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", "cm-test", time.Second, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return c
}

func TestDeliverRoutesByEnvelope(t *testing.T) {
	artefact := &models.ConsentArtefact{ID: "a-1", HIP: models.Party{ID: "X"}, Signature: "sig", Status: models.StatusGranted}
	cases := []struct {
		name     string
		env      *notification.Envelope
		path     string
		header   string
		targetID string
	}{
		{
			name:     "hiu request acknowledgement",
			env:      &notification.Envelope{TargetKind: models.PartyHIU, TargetID: "Y", ConsentRequestID: "r-1", Status: models.StatusRequested},
			path:     PathConsentRequestOnInit,
			header:   HeaderHIUID,
			targetID: "Y",
		},
		{
			name:     "hiu status",
			env:      &notification.Envelope{TargetKind: models.PartyHIU, TargetID: "Y", ConsentRequestID: "r-1", Status: models.StatusDenied},
			path:     PathHIUConsentNotify,
			header:   HeaderHIUID,
			targetID: "Y",
		},
		{
			name:     "hip grant",
			env:      &notification.Envelope{TargetKind: models.PartyHIP, TargetID: "X", ConsentRequestID: "r-1", Status: models.StatusGranted, Artefact: artefact},
			path:     PathHIPConsentNotify,
			header:   HeaderHIPID,
			targetID: "X",
		},
		{
			name: "hip data flow",
			env: &notification.Envelope{TargetKind: models.PartyHIP, TargetID: "X", ConsentRequestID: "r-1", Status: models.StatusGranted,
				DataFlow: &notification.DataFlowRequest{TransactionID: "t-1", ConsentArtefactID: "a-1"}},
			path:     PathHIPDataFlowRequest,
			header:   HeaderHIPID,
			targetID: "X",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &fakeGateway{}
			require.NoError(t, newTestClient(t, gw).Deliver(context.Background(), tc.env))
			require.Len(t, gw.requests, 1)
			got := gw.requests[0]
			assert.Equal(t, tc.path, got.path)
			assert.Equal(t, tc.targetID, got.headers.Get(tc.header))
			assert.Equal(t, "cm-test", got.headers.Get(HeaderCMID))
			assert.NotEmpty(t, got.body["requestId"])
		})
	}
}

func TestDeliverRevocationCarriesNoScope(t *testing.T) {
	gw := &fakeGateway{}
	err := newTestClient(t, gw).Deliver(context.Background(), &notification.Envelope{
		TargetKind:       models.PartyHIP,
		TargetID:         "X",
		ConsentRequestID: "r-1",
		Status:           models.StatusRevoked,
		Notice:           &notification.ArtefactNotice{Status: models.StatusRevoked, ArtefactID: "a-1"},
	})
	require.NoError(t, err)

	n := gw.requests[0].body["notification"].(map[string]any)
	assert.Equal(t, map[string]any{"status": "REVOKED", "consentId": "a-1"}, n)
}

func TestDeliverHIUStatusAlwaysListsArtefacts(t *testing.T) {
	gw := &fakeGateway{}
	err := newTestClient(t, gw).Deliver(context.Background(), &notification.Envelope{
		TargetKind: models.PartyHIU, TargetID: "Y", ConsentRequestID: "r-1", Status: models.StatusExpired,
	})
	require.NoError(t, err)
	n := gw.requests[0].body["notification"].(map[string]any)
	assert.Equal(t, []any{}, n["consentArtefacts"])
}

func TestPostMapsStatusToCodes(t *testing.T) {
	env := &notification.Envelope{TargetKind: models.PartyHIU, TargetID: "Y", ConsentRequestID: "r-1", Status: models.StatusDenied}

	err := newTestClient(t, &fakeGateway{status: http.StatusBadGateway}).Deliver(context.Background(), env)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))

	err = newTestClient(t, &fakeGateway{status: http.StatusBadRequest}).Deliver(context.Background(), env)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePartnerError))
}

func TestPostUnreachableGateway(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", "cm", 200*time.Millisecond)
	require.NoError(t, err)
	err = c.Post(context.Background(), PathDiscover, Target{Kind: models.PartyHIP, ID: "X"}, map[string]string{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}
