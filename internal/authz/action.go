// Package authz authorises HIP-initiated operations. A HIP is issued a short
// lived action token bound to a stored HipAction; each successful use spends
// one of the action's allowed repeats.
package authz

import (
	"strings"
	"time"

	dErrors "consent-manager/pkg/domain-errors"
)

// Purpose names the operation an action token authorises.
type Purpose string

const (
	PurposeLink       Purpose = "LINK"
	PurposeKYCAndLink Purpose = "KYC_AND_LINK"
)

// HipAction is a session a HIP may act within on a patient's behalf.
type HipAction struct {
	SessionID     string    `json:"sessionId"`
	RequesterID   string    `json:"requesterId"`
	PatientID     string    `json:"patientId"`
	Purpose       Purpose   `json:"purpose"`
	ExpiresAt     time.Time `json:"expiresAt"`
	AllowedRepeat int       `json:"allowedRepeat"`
	Counter       int       `json:"counter"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (a *HipAction) validate() error {
	switch {
	case strings.TrimSpace(a.RequesterID) == "":
		return dErrors.New(dErrors.CodeValidation, "requester id is required")
	case strings.TrimSpace(a.PatientID) == "":
		return dErrors.New(dErrors.CodeValidation, "patient id is required")
	case a.Purpose != PurposeLink && a.Purpose != PurposeKYCAndLink:
		return dErrors.New(dErrors.CodeValidation, "unknown action purpose")
	case a.AllowedRepeat < 1:
		return dErrors.New(dErrors.CodeValidation, "allowed repeat must be at least 1")
	}
	return nil
}

// exhausted reports whether one more use would exceed the repeat budget.
func (a *HipAction) exhausted() bool {
	return a.Counter+1 > a.AllowedRepeat
}
