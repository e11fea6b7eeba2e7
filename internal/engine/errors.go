package engine

import (
	"fmt"
	"strings"

	"mandato/internal/domain"
)

// InvalidTransitionError indicates the requested action does not match an
// edge from the mandate's current status. The record is left unchanged.
type InvalidTransitionError struct {
	MandateID string
	From      domain.MandateStatus
	Action    domain.Action
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s mandate %s in status %s", e.Action, e.MandateID, e.From)
}

// UnauthorizedActorError indicates the actor's role is not permitted for the
// requested edge or mutation.
type UnauthorizedActorError struct {
	ActorID string
	Role    domain.Role
	Action  string
}

func (e UnauthorizedActorError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("actor %s is not a party to this mandate", e.ActorID)
	}
	return fmt.Sprintf("role %s not authorized to %s", e.Role, e.Action)
}

// ValidationError indicates malformed input: commission rate out of range,
// end date before start date, or unknown permission keys.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// BatchError reports a failed all-or-nothing batch creation. No mandate from
// the batch is persisted.
type BatchError struct {
	Failed  []string
	Reasons map[string]string
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch creation failed for properties: %s", strings.Join(e.Failed, ", "))
}
