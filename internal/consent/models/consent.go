// Package models holds the consent request and artefact aggregates and the
// transition table that governs their status.
package models

import (
	"strings"
	"time"

	dErrors "consent-manager/pkg/domain-errors"
)

// PartyKind distinguishes the two sides a notification can target.
type PartyKind string

const (
	PartyHIP PartyKind = "HIP"
	PartyHIU PartyKind = "HIU"
)

// Party references a registered HIP or HIU.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Requester is the person at the HIU asking for consent.
type Requester struct {
	Name       string     `json:"name"`
	Identifier Identifier `json:"identifier"`
}

type Identifier struct {
	Type   string `json:"type"`
	Value  string `json:"value"`
	System string `json:"system,omitempty"`
}

type Purpose struct {
	Code string `json:"code"`
	Text string `json:"text,omitempty"`
}

type AccessMode string

const (
	AccessView   AccessMode = "VIEW"
	AccessStore  AccessMode = "STORE"
	AccessQuery  AccessMode = "QUERY"
	AccessStream AccessMode = "STREAM"
)

type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type Frequency struct {
	Unit    string `json:"unit"`
	Value   int    `json:"value"`
	Repeats int    `json:"repeats"`
}

// Permission bounds what the HIU may do with granted data and until when.
type Permission struct {
	AccessMode  AccessMode `json:"accessMode"`
	DateRange   DateRange  `json:"dateRange"`
	DataEraseAt time.Time  `json:"dataEraseAt"`
	Frequency   Frequency  `json:"frequency"`
}

// CareContext is one patient record at a HIP.
type CareContext struct {
	PatientReference     string `json:"patientReference"`
	CareContextReference string `json:"careContextReference"`
}

// ConsentRequest is an HIU's ask for access to a patient's records.
type ConsentRequest struct {
	ID         string     `json:"id"`
	Requester  Requester  `json:"requester"`
	PatientID  string     `json:"patientId"`
	HIU        Party      `json:"hiu"`
	HIP        *Party     `json:"hip,omitempty"`
	Purpose    Purpose    `json:"purpose"`
	HITypes    []string   `json:"hiTypes"`
	Permission Permission `json:"permission"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"lastUpdated"`
}

// Validate checks the fields a request must carry before it is persisted.
func (r *ConsentRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.PatientID) == "":
		return dErrors.New(dErrors.CodeValidation, "patient id is required")
	case strings.TrimSpace(r.HIU.ID) == "":
		return dErrors.New(dErrors.CodeValidation, "hiu id is required")
	case strings.TrimSpace(r.Purpose.Code) == "":
		return dErrors.New(dErrors.CodeValidation, "purpose code is required")
	case len(r.HITypes) == 0:
		return dErrors.New(dErrors.CodeValidation, "at least one hi type is required")
	case r.Permission.DataEraseAt.IsZero():
		return dErrors.New(dErrors.CodeValidation, "permission dataEraseAt is required")
	case !r.Permission.DateRange.To.IsZero() && r.Permission.DateRange.To.Before(r.Permission.DateRange.From):
		return dErrors.New(dErrors.CodeValidation, "permission date range is inverted")
	}
	if r.HIP != nil && strings.TrimSpace(r.HIP.ID) == "" {
		return dErrors.New(dErrors.CodeValidation, "hip id must not be blank when present")
	}
	return nil
}

// ExpiresAt is the instant after which an unanswered request is stale.
func (r *ConsentRequest) ExpiresAt(expiry time.Duration) time.Time {
	return r.CreatedAt.Add(expiry)
}

// ConsentArtefact is the signed grant scoping what one HIP may release to one HIU.
type ConsentArtefact struct {
	ID               string        `json:"id"`
	ConsentRequestID string        `json:"consentRequestId"`
	PatientID        string        `json:"patientId"`
	HIP              Party         `json:"hip"`
	HIU              Party         `json:"hiu"`
	Requester        Requester     `json:"requester"`
	Purpose          Purpose       `json:"purpose"`
	CareContexts     []CareContext `json:"careContexts"`
	HITypes          []string      `json:"hiTypes"`
	Permission       Permission    `json:"permission"`
	Signature        string        `json:"signature"`
	Status           Status        `json:"status"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"lastUpdated"`
}

// IsRevocableBy reports whether requesterID is the artefact's HIU or patient.
func (a *ConsentArtefact) IsRevocableBy(requesterID string) bool {
	return requesterID != "" && (requesterID == a.HIU.ID || requesterID == a.PatientID)
}

// IsActive reports whether the artefact still authorises data flow at now.
func (a *ConsentArtefact) IsActive(now time.Time) bool {
	return a.Status == StatusGranted && now.Before(a.ExpiresAt)
}

// ArtefactRef is what non-HIP parties receive about an artefact.
type ArtefactRef struct {
	ID  string `json:"id"`
	HIP Party  `json:"hip"`
}

// Grant is the patient's approved scope for one HIP.
type Grant struct {
	HIP          Party         `json:"hip"`
	CareContexts []CareContext `json:"careContexts"`
	HITypes      []string      `json:"hiTypes,omitempty"`
	Permission   *Permission   `json:"permission,omitempty"`
}

// Cursor is a keyset position for paginated sweeps. The zero value starts
// from the beginning.
type Cursor struct {
	At time.Time
	ID string
}

// StatusChange is one lifecycle event to fan out to the affected parties.
type StatusChange struct {
	ConsentRequestID string
	HIU              Party
	Status           Status
	Artefacts        []*ConsentArtefact
	At               time.Time
}
