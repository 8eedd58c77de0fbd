// Package link runs the care-context discovery and linking flows. Each step
// is one Gateway round trip to the HIP, answered by an on-* callback that the
// correlator hands back to the waiting call.
package link

import (
	"strings"
	"time"

	dErrors "consent-manager/pkg/domain-errors"
)

// CareContext is one record a HIP holds for the patient.
type CareContext struct {
	ReferenceNumber string `json:"referenceNumber"`
	Display         string `json:"display,omitempty"`
}

// PatientRecord is the HIP's view of the patient and their care contexts.
type PatientRecord struct {
	ReferenceNumber string        `json:"referenceNumber"`
	Display         string        `json:"display,omitempty"`
	CareContexts    []CareContext `json:"careContexts"`
	MatchedBy       []string      `json:"matchedBy,omitempty"`
}

type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DiscoverRequest asks a HIP which of its records belong to the patient.
type DiscoverRequest struct {
	PatientID   string       `json:"patientId"`
	HIPID       string       `json:"hipId"`
	Name        string       `json:"name,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
}

// Discovery is the HIP's answer; TransactionID threads through init.
type Discovery struct {
	TransactionID string        `json:"transactionId"`
	Patient       PatientRecord `json:"patient"`
}

// InitRequest asks the HIP to start linking the chosen care contexts.
type InitRequest struct {
	PatientID       string        `json:"patientId"`
	HIPID           string        `json:"hipId"`
	TransactionID   string        `json:"transactionId"`
	ReferenceNumber string        `json:"referenceNumber"`
	CareContexts    []CareContext `json:"careContexts"`
}

// Reference identifies a pending link the patient must confirm.
type Reference struct {
	ReferenceNumber    string `json:"referenceNumber"`
	AuthenticationType string `json:"authenticationType"`
	Meta               struct {
		CommunicationMedium string    `json:"communicationMedium,omitempty"`
		CommunicationHint   string    `json:"communicationHint,omitempty"`
		CommunicationExpiry time.Time `json:"communicationExpiry,omitempty"`
	} `json:"meta"`
}

// ConfirmRequest carries the patient's proof for a pending link.
type ConfirmRequest struct {
	PatientID     string `json:"patientId"`
	HIPID         string `json:"hipId"`
	LinkRefNumber string `json:"linkRefNumber"`
	Token         string `json:"token"`
}

// HIPLinkRequest is a HIP pushing care contexts under an action token.
type HIPLinkRequest struct {
	HIPID           string        `json:"hipId"`
	PatientID       string        `json:"patientId"`
	ActionToken     string        `json:"accessToken"`
	ReferenceNumber string        `json:"referenceNumber"`
	Display         string        `json:"display,omitempty"`
	CareContexts    []CareContext `json:"careContexts"`
}

// Link is the set of care contexts linked between a patient and one HIP.
type Link struct {
	PatientID       string        `json:"patientId"`
	HIPID           string        `json:"hipId"`
	ReferenceNumber string        `json:"referenceNumber"`
	Display         string        `json:"display,omitempty"`
	CareContexts    []CareContext `json:"careContexts"`
	LinkedAt        time.Time     `json:"linkedAt"`
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return dErrors.New(dErrors.CodeValidation, fields[i]+" is required")
		}
	}
	return nil
}

func validContexts(ccs []CareContext) error {
	if len(ccs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one care context is required")
	}
	for _, cc := range ccs {
		if strings.TrimSpace(cc.ReferenceNumber) == "" {
			return dErrors.New(dErrors.CodeValidation, "care context referenceNumber is required")
		}
	}
	return nil
}

// merge adds the contexts in add not already present in have.
func merge(have, add []CareContext) []CareContext {
	seen := make(map[string]bool, len(have))
	for _, cc := range have {
		seen[cc.ReferenceNumber] = true
	}
	out := append([]CareContext(nil), have...)
	for _, cc := range add {
		if !seen[cc.ReferenceNumber] {
			seen[cc.ReferenceNumber] = true
			out = append(out, cc)
		}
	}
	return out
}
