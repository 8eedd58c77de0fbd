package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "consent-manager/pkg/domain-errors"
)

func TestRequestTransitions(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		to   Status
	}{
		{StatusRequested, EventGrant, StatusGranted},
		{StatusRequested, EventDeny, StatusDenied},
		{StatusRequested, EventExpire, StatusExpired},
	}
	for _, tc := range cases {
		got, err := NextRequestStatus(tc.from, tc.ev)
		require.NoError(t, err)
		assert.Equal(t, tc.to, got)
	}

	rejected := []struct {
		from Status
		ev   Event
	}{
		{StatusGranted, EventGrant},
		{StatusGranted, EventExpire},
		{StatusDenied, EventGrant},
		{StatusExpired, EventGrant},
		{StatusRequested, EventRevoke},
	}
	for _, tc := range rejected {
		_, err := NextRequestStatus(tc.from, tc.ev)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState), "%s --%s--> should be rejected", tc.from, tc.ev)
	}
}

func TestArtefactTransitions(t *testing.T) {
	to, err := NextArtefactStatus(StatusGranted, EventRevoke)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, to)

	to, err = NextArtefactStatus(StatusGranted, EventExpire)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, to)

	for _, from := range []Status{StatusRevoked, StatusExpired} {
		for _, ev := range []Event{EventRevoke, EventExpire, EventGrant} {
			_, err := NextArtefactStatus(from, ev)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []Status{StatusDenied, StatusExpired, StatusRevoked} {
		assert.True(t, s.IsTerminal())
		assert.Empty(t, requestTransitions[s])
		assert.Empty(t, artefactTransitions[s])
	}
}
