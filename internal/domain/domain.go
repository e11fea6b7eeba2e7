package domain

// MandateStatus is the closed set of lifecycle states for a mandate.
type MandateStatus string

const (
	StatusPending   MandateStatus = "pending"
	StatusActive    MandateStatus = "active"
	StatusSuspended MandateStatus = "suspended"
	StatusExpired   MandateStatus = "expired"
	StatusCancelled MandateStatus = "cancelled"
)

// Statuses lists every mandate status in display order.
var Statuses = []MandateStatus{StatusPending, StatusActive, StatusSuspended, StatusExpired, StatusCancelled}

func (s MandateStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s MandateStatus) Terminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

// Action is a lifecycle transition request.
type Action string

const (
	ActionAccept     Action = "accept"
	ActionRefuse     Action = "refuse"
	ActionSuspend    Action = "suspend"
	ActionReactivate Action = "reactivate"
	ActionTerminate  Action = "terminate"
	ActionExpire     Action = "expire"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAccept, ActionRefuse, ActionSuspend, ActionReactivate, ActionTerminate, ActionExpire:
		return true
	}
	return false
}

// Role identifies which side of the mandate an actor is acting as.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAgency Role = "agency"
	RoleSystem Role = "system"
)

// Mandate is the delegation contract between an owner and an agency.
// PropertyID nil means the mandate covers all current and future properties
// of the owner (scope all_properties).
type Mandate struct {
	ID               string        `json:"id"`
	OwnerID          string        `json:"owner_id"`
	AgencyID         string        `json:"agency_id"`
	PropertyID       *string       `json:"property_id,omitempty"`
	Status           MandateStatus `json:"status" enum:"pending,active,suspended,expired,cancelled"`
	CommissionRate   float64       `json:"commission_rate"`
	StartDate        string        `json:"start_date" format:"date"`
	EndDate          *string       `json:"end_date,omitempty" format:"date"`
	Permissions      PermissionSet `json:"permissions"`
	OwnerSignedAt    *string       `json:"owner_signed_at,omitempty" format:"date-time"`
	AgencySignedAt   *string       `json:"agency_signed_at,omitempty" format:"date-time"`
	SignedMandateURL *string       `json:"signed_mandate_url,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	CreatedAt        string        `json:"created_at" format:"date-time"`
	UpdatedAt        string        `json:"updated_at" format:"date-time"`
}

// AllProperties reports whether the mandate covers the owner's whole portfolio.
func (m Mandate) AllProperties() bool {
	return m.PropertyID == nil
}

// Role resolves the role an actor holds on this mandate, if any.
func (m Mandate) Role(actorID string) (Role, bool) {
	switch actorID {
	case m.OwnerID:
		return RoleOwner, true
	case m.AgencyID:
		return RoleAgency, true
	}
	return "", false
}

// Property is read-only reference data consumed by the engine.
type Property struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	Title     string  `json:"title"`
	City      string  `json:"city"`
	Rent      float64 `json:"rent"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Profile is read-only identity reference data for owners and agencies.
type Profile struct {
	ID          string `json:"id"`
	Kind        string `json:"kind" enum:"owner,agency"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Event is one append-only audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
