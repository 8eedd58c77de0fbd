package signer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consent-manager/internal/consent/models"
	dErrors "consent-manager/pkg/domain-errors"
)

func testArtefact(now time.Time) *models.ConsentArtefact {
	return &models.ConsentArtefact{
		ID:               "a-1",
		ConsentRequestID: "r-1",
		PatientID:        "P",
		HIP:              models.Party{ID: "X"},
		HIU:              models.Party{ID: "Y"},
		Purpose:          models.Purpose{Code: "CAREMGT"},
		HITypes:          []string{"Prescription"},
		CareContexts:     []models.CareContext{{PatientReference: "p", CareContextReference: "c"}},
		CreatedAt:        now,
		ExpiresAt:        now.Add(24 * time.Hour),
	}
}

func TestSignAndVerify(t *testing.T) {
	s, err := NewHMACSigner("0123456789abcdef", "consent-manager")
	require.NoError(t, err)
	now := time.Now().Truncate(time.Second)
	a := testArtefact(now)

	sig, err := s.Sign(context.Background(), a)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	assert.NoError(t, s.Verify(a, sig, now.Add(time.Hour)))

	err = s.Verify(a, sig, now.Add(48*time.Hour))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidOrExpired), "expired artefact")

	tampered := *a
	tampered.HIU = models.Party{ID: "Z"}
	err = s.Verify(&tampered, sig, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidOrExpired))
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	now := time.Now()
	a := testArtefact(now)
	s1, err := NewHMACSigner("0123456789abcdef", "cm")
	require.NoError(t, err)
	s2, err := NewHMACSigner("fedcba9876543210", "cm")
	require.NoError(t, err)

	sig, err := s1.Sign(context.Background(), a)
	require.NoError(t, err)
	assert.Error(t, s2.Verify(a, sig, now))
}

func TestNewHMACSignerRejectsShortKey(t *testing.T) {
	_, err := NewHMACSigner("short", "cm")
	assert.Error(t, err)
}

func TestSignRequiresID(t *testing.T) {
	s, err := NewHMACSigner("0123456789abcdef", "cm")
	require.NoError(t, err)
	_, err = s.Sign(context.Background(), &models.ConsentArtefact{})
	assert.Error(t, err)
}
