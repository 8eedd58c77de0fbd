package models

import (
	dErrors "consent-manager/pkg/domain-errors"
)

// Status is the lifecycle state of a consent request or artefact.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusGranted   Status = "GRANTED"
	StatusDenied    Status = "DENIED"
	StatusExpired   Status = "EXPIRED"
	StatusRevoked   Status = "REVOKED"
)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDenied || s == StatusExpired || s == StatusRevoked
}

// Event drives a lifecycle transition.
type Event string

const (
	EventGrant  Event = "grant"
	EventDeny   Event = "deny"
	EventExpire Event = "expire"
	EventRevoke Event = "revoke"
)

type transitionTable map[Status]map[Event]Status

var requestTransitions = transitionTable{
	StatusRequested: {
		EventGrant:  StatusGranted,
		EventDeny:   StatusDenied,
		EventExpire: StatusExpired,
	},
}

var artefactTransitions = transitionTable{
	StatusGranted: {
		EventRevoke: StatusRevoked,
		EventExpire: StatusExpired,
	},
}

func (t transitionTable) next(kind string, from Status, ev Event) (Status, error) {
	if to, ok := t[from][ev]; ok {
		return to, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidState,
		"cannot "+string(ev)+" "+kind+" in status "+string(from))
}

// NextRequestStatus returns the state a consent request moves to on ev.
func NextRequestStatus(from Status, ev Event) (Status, error) {
	return requestTransitions.next("consent request", from, ev)
}

// NextArtefactStatus returns the state a consent artefact moves to on ev.
func NextArtefactStatus(from Status, ev Event) (Status, error) {
	return artefactTransitions.next("consent artefact", from, ev)
}
