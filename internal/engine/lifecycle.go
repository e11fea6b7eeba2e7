package engine

import (
	"time"

	"mandato/internal/domain"
)

// transition is one edge of the mandate state machine.
type transition struct {
	from  domain.MandateStatus
	to    domain.MandateStatus
	roles []domain.Role
}

// transitions is the complete edge set. Status never changes through any
// other path.
var transitions = map[domain.Action]transition{
	domain.ActionAccept:     {from: domain.StatusPending, to: domain.StatusActive, roles: []domain.Role{domain.RoleAgency}},
	domain.ActionRefuse:     {from: domain.StatusPending, to: domain.StatusCancelled, roles: []domain.Role{domain.RoleAgency}},
	domain.ActionSuspend:    {from: domain.StatusActive, to: domain.StatusSuspended, roles: []domain.Role{domain.RoleAgency}},
	domain.ActionReactivate: {from: domain.StatusSuspended, to: domain.StatusActive, roles: []domain.Role{domain.RoleAgency}},
	domain.ActionExpire:     {from: domain.StatusActive, to: domain.StatusExpired, roles: []domain.Role{domain.RoleSystem}},
}

// nextStatus resolves the target status for an action from the given state.
// Terminate is the one action with two source states, so it is handled apart
// from the table.
func nextStatus(from domain.MandateStatus, action domain.Action) (domain.MandateStatus, bool) {
	if action == domain.ActionTerminate {
		if from == domain.StatusActive || from == domain.StatusSuspended {
			return domain.StatusCancelled, true
		}
		return "", false
	}
	tr, ok := transitions[action]
	if !ok || tr.from != from {
		return "", false
	}
	return tr.to, true
}

// roleAllowed reports whether the role may request the action at all,
// regardless of the mandate's current status.
func roleAllowed(action domain.Action, role domain.Role) bool {
	if action == domain.ActionTerminate {
		return role == domain.RoleOwner || role == domain.RoleAgency
	}
	tr, ok := transitions[action]
	if !ok {
		return false
	}
	for _, r := range tr.roles {
		if r == role {
			return true
		}
	}
	return false
}

// EffectiveStatus derives the logical status at a point in time. A stored
// active mandate whose end date has passed is logically expired; the stored
// row is never mutated by reads.
func EffectiveStatus(m domain.Mandate, now time.Time) domain.MandateStatus {
	if m.Status != domain.StatusActive || m.EndDate == nil {
		return m.Status
	}
	end, err := time.Parse(dateLayout, *m.EndDate)
	if err != nil {
		return m.Status
	}
	// A mandate runs through the whole of its end date.
	if now.After(end.AddDate(0, 0, 1).Add(-time.Nanosecond)) {
		return domain.StatusExpired
	}
	return m.Status
}

const dateLayout = "2006-01-02"
