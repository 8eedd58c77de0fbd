// Package notification fans consent lifecycle events out to the affected
// parties through Kafka and delivers them to partners through the Gateway.
//
// Every party gets its own envelope. Delivery is at least once; the
// dispatcher dedupes on (consent request, status, target) and parks records
// that keep failing.
package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"consent-manager/internal/consent/models"
)

// Topics, one per direction plus the parking topic.
const (
	TopicHIUNotify   = "consent.hiu.notify"
	TopicHIPNotify   = "consent.hip.notify"
	TopicHIPDataFlow = "consent.hip.dataflow"
	TopicParked      = "consent.parked"
)

// Record headers.
const (
	HeaderDeathCount    = "x-death-count"
	HeaderOriginalTopic = "x-original-topic"
)

// Topics lists every topic the service produces to.
func Topics() []string {
	return []string{TopicHIUNotify, TopicHIPNotify, TopicHIPDataFlow, TopicParked}
}

// ArtefactNotice is all an HIP learns about an artefact that is no longer active.
type ArtefactNotice struct {
	Status     models.Status `json:"status"`
	ArtefactID string        `json:"artefactId"`
}

// DataFlowRequest asks an HIP to push the records an artefact covers.
type DataFlowRequest struct {
	TransactionID     string           `json:"transactionId"`
	ConsentArtefactID string           `json:"consentArtefactId"`
	DateRange         models.DateRange `json:"dateRange"`
	DataPushURL       string           `json:"dataPushUrl"`
	KeyMaterial       json.RawMessage  `json:"keyMaterial,omitempty"`
}

// Envelope is one party's view of one lifecycle event. Exactly one payload
// field is set, depending on the target and the status.
type Envelope struct {
	TargetKind       models.PartyKind `json:"targetKind"`
	TargetID         string           `json:"targetId"`
	ConsentRequestID string           `json:"consentRequestId"`
	Status           models.Status    `json:"status"`
	Timestamp        time.Time        `json:"timestamp"`

	// HIU envelopes list the artefacts by reference only.
	Artefacts []models.ArtefactRef `json:"artefacts,omitempty"`
	// Artefact is the full signed artefact, only for an HIP on GRANTED.
	Artefact *models.ConsentArtefact `json:"artefact,omitempty"`
	// Notice replaces the artefact for an HIP on EXPIRED or REVOKED.
	Notice   *ArtefactNotice  `json:"notice,omitempty"`
	DataFlow *DataFlowRequest `json:"dataFlow,omitempty"`
}

// Topic is where the envelope is produced.
func (e *Envelope) Topic() string {
	switch {
	case e.DataFlow != nil:
		return TopicHIPDataFlow
	case e.TargetKind == models.PartyHIP:
		return TopicHIPNotify
	default:
		return TopicHIUNotify
	}
}

// DedupeKey identifies a delivery. Two envelopes with the same key are the
// same notification.
func (e *Envelope) DedupeKey() string {
	if e.DataFlow != nil {
		return "dataflow:" + e.DataFlow.TransactionID
	}
	key := fmt.Sprintf("%s:%s:%s:%s", e.ConsentRequestID, e.Status, e.TargetKind, e.TargetID)
	if e.Notice != nil {
		key += ":" + e.Notice.ArtefactID
	} else if e.Artefact != nil {
		key += ":" + e.Artefact.ID
	}
	return key
}

// Validate rejects envelopes a dispatcher cannot route.
func (e *Envelope) Validate() error {
	switch {
	case e.TargetKind != models.PartyHIP && e.TargetKind != models.PartyHIU:
		return fmt.Errorf("unknown target kind %q", e.TargetKind)
	case e.TargetID == "":
		return errors.New("target id is required")
	case e.ConsentRequestID == "":
		return errors.New("consent request id is required")
	case e.Status == "":
		return errors.New("status is required")
	case e.TargetKind == models.PartyHIP && e.Artefact != nil && e.Status != models.StatusGranted:
		return errors.New("hip envelope carries scope for an inactive artefact")
	}
	return nil
}

// DecodeEnvelope parses and validates a record value.
func DecodeEnvelope(value []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &env, nil
}
