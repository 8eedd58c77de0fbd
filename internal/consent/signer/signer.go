// Package signer produces the detached JWS carried by every consent artefact.
// Recipients verify the artefact body against the signature before releasing
// or fetching data.
package signer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"consent-manager/internal/consent/models"
	dErrors "consent-manager/pkg/domain-errors"
)

// ArtefactClaims is the signed view of an artefact. Status is deliberately
// absent: it changes after signing.
type ArtefactClaims struct {
	ConsentRequestID string               `json:"consent_request_id"`
	PatientID        string               `json:"patient_id"`
	HIP              string               `json:"hip_id"`
	HIU              string               `json:"hiu_id"`
	Purpose          string               `json:"purpose"`
	HITypes          []string             `json:"hi_types"`
	CareContexts     []models.CareContext `json:"care_contexts"`
	Permission       models.Permission    `json:"permission"`
	jwt.RegisteredClaims
}

// HMACSigner signs artefacts with HS256.
type HMACSigner struct {
	key    []byte
	issuer string
}

func NewHMACSigner(key, issuer string) (*HMACSigner, error) {
	if len(key) < 16 {
		return nil, errors.New("artefact signing key must be at least 16 bytes")
	}
	return &HMACSigner{key: []byte(key), issuer: issuer}, nil
}

func claimsFor(a *models.ConsentArtefact, issuer string) ArtefactClaims {
	return ArtefactClaims{
		ConsentRequestID: a.ConsentRequestID,
		PatientID:        a.PatientID,
		HIP:              a.HIP.ID,
		HIU:              a.HIU.ID,
		Purpose:          a.Purpose.Code,
		HITypes:          a.HITypes,
		CareContexts:     a.CareContexts,
		Permission:       a.Permission,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        a.ID,
			Issuer:    issuer,
			Subject:   a.PatientID,
			IssuedAt:  jwt.NewNumericDate(a.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(a.ExpiresAt),
		},
	}
}

func (s *HMACSigner) Sign(ctx context.Context, a *models.ConsentArtefact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a == nil || a.ID == "" {
		return "", errors.New("artefact id is required to sign")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor(a, s.issuer))
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign artefact %s: %w", a.ID, err)
	}
	return signed, nil
}

// Verify checks that signature was produced by this signer for a. Expiry is
// checked against now.
func (s *HMACSigner) Verify(a *models.ConsentArtefact, signature string, now time.Time) error {
	parsed, err := jwt.ParseWithClaims(signature, &ArtefactClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.key, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidOrExpired, "artefact signature rejected")
	}
	claims, ok := parsed.Claims.(*ArtefactClaims)
	if !ok || claims.ID != a.ID || claims.HIP != a.HIP.ID || claims.HIU != a.HIU.ID || claims.PatientID != a.PatientID {
		return dErrors.New(dErrors.CodeInvalidOrExpired, "artefact signature does not match artefact")
	}
	return nil
}
