// Package lifecycle holds the contract state machine. Every status change in
// the services goes through Next, so the allowed transitions live in one
// table:
//
//	pending --activate--> active --complete--> completed
//	pending --cancel----> cancelled
//	active  --cancel----> cancelled
//
// completed and cancelled are terminal.
package lifecycle

import (
	"fmt"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type Event string

const (
	// EventActivate fires when the second signature lands.
	EventActivate Event = "activate"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
)

type edge struct {
	from  models.ContractStatus
	event Event
}

var transitions = map[edge]models.ContractStatus{
	{models.ContractPending, EventActivate}: models.ContractActive,
	{models.ContractPending, EventCancel}:   models.ContractCancelled,
	{models.ContractActive, EventComplete}:  models.ContractCompleted,
	{models.ContractActive, EventCancel}:    models.ContractCancelled,
}

// CanTransition reports whether event moves a contract from one status to
// the other.
func CanTransition(from, to models.ContractStatus, event Event) bool {
	next, ok := transitions[edge{from, event}]
	return ok && next == to
}

// Next returns the status reached by applying event to from, or an error
// wrapping common.ErrInvalidState.
func Next(from models.ContractStatus, event Event) (models.ContractStatus, error) {
	next, ok := transitions[edge{from, event}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s contract", common.ErrInvalidState, event, from)
	}
	return next, nil
}

// IsTerminal reports whether no event leaves status.
func IsTerminal(status models.ContractStatus) bool {
	return status == models.ContractCompleted || status == models.ContractCancelled
}

// TermsEditable reports whether financial terms may change. Pending
// contracts are always editable; an active one only while the owner keeps
// the override flag set.
func TermsEditable(status models.ContractStatus, isEditable bool) bool {
	switch status {
	case models.ContractPending:
		return true
	case models.ContractActive:
		return isEditable
	default:
		return false
	}
}
