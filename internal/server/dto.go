package server

import (
	"encoding/json"

	"mandato/internal/domain"
	"mandato/internal/engine"
)

// Request payloads

type CreateMandatesRequest struct {
	AgencyID string `json:"agency_id"`
	// PropertyIDs selects the properties covered, one mandate each. Empty
	// means a single mandate over the owner's whole portfolio.
	PropertyIDs    []string `json:"property_ids,omitempty"`
	CommissionRate float64  `json:"commission_rate"`
	StartDate      string   `json:"start_date" format:"date"`
	EndDate        *string  `json:"end_date,omitempty" format:"date"`
	Notes          *string  `json:"notes,omitempty"`
}

type UpdatePermissionsRequest struct {
	Permissions map[string]bool `json:"permissions"`
}

type AttachDocumentRequest struct {
	URL string `json:"url"`
}

type UpdateNotesRequest struct {
	Notes string `json:"notes"`
}

type CreatePropertyRequest struct {
	ID      *string `json:"id,omitempty"`
	OwnerID *string `json:"owner_id,omitempty"`
	Title   string  `json:"title"`
	City    string  `json:"city"`
	Rent    float64 `json:"rent"`
}

type SetRentRequest struct {
	Rent float64 `json:"rent"`
}

type CreateProfileRequest struct {
	ID          *string `json:"id,omitempty"`
	Kind        string  `json:"kind" enum:"owner,agency"`
	DisplayName string  `json:"display_name"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type MandateResponse struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	AgencyID         string          `json:"agency_id"`
	PropertyID       *string         `json:"property_id,omitempty"`
	AllProperties    bool            `json:"all_properties"`
	Status           string          `json:"status" enum:"pending,active,suspended,expired,cancelled"`
	SignatureState   string          `json:"signature_state" enum:"unsigned,owner_signed,agency_signed,completed"`
	CommissionRate   float64         `json:"commission_rate"`
	StartDate        string          `json:"start_date" format:"date"`
	EndDate          *string         `json:"end_date,omitempty" format:"date"`
	Permissions      map[string]bool `json:"permissions"`
	OwnerSignedAt    *string         `json:"owner_signed_at,omitempty" format:"date-time"`
	AgencySignedAt   *string         `json:"agency_signed_at,omitempty" format:"date-time"`
	SignedMandateURL *string         `json:"signed_mandate_url,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
	UpdatedAt        string          `json:"updated_at" format:"date-time"`
}

type MandateViewResponse struct {
	MandateResponse
	EffectiveStatus   string `json:"effective_status" enum:"pending,active,suspended,expired,cancelled"`
	PropertyTitle     string `json:"property_title,omitempty"`
	PropertyCity      string `json:"property_city,omitempty"`
	PropertyCount     int    `json:"property_count"`
	CounterpartyName  string `json:"counterparty_name"`
	MonthlyCommission int64  `json:"monthly_commission"`
}

type PropertyResponse struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	Title     string  `json:"title"`
	City      string  `json:"city"`
	Rent      float64 `json:"rent"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type ProfileResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind" enum:"owner,agency"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is the plaintext secret, returned once at creation.
	Key string `json:"key,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
	Kind    string `json:"kind,omitempty" enum:"owner,agency"`
}

// Conversion helpers

func permissionsMap(p domain.PermissionSet) map[string]bool {
	out := make(map[string]bool, len(domain.PermissionKeys))
	for _, key := range domain.PermissionKeys {
		v, _ := p.Get(key)
		out[key] = v
	}
	return out
}

func mandateResponse(m domain.Mandate) MandateResponse {
	return MandateResponse{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		AgencyID:         m.AgencyID,
		PropertyID:       m.PropertyID,
		AllProperties:    m.AllProperties(),
		Status:           string(m.Status),
		SignatureState:   string(m.SignatureState()),
		CommissionRate:   m.CommissionRate,
		StartDate:        m.StartDate,
		EndDate:          m.EndDate,
		Permissions:      permissionsMap(m.Permissions),
		OwnerSignedAt:    m.OwnerSignedAt,
		AgencySignedAt:   m.AgencySignedAt,
		SignedMandateURL: m.SignedMandateURL,
		Notes:            m.Notes,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func viewResponse(v engine.MandateView) MandateViewResponse {
	return MandateViewResponse{
		MandateResponse:   mandateResponse(v.Mandate),
		EffectiveStatus:   string(v.EffectiveStatus),
		PropertyTitle:     v.PropertyTitle,
		PropertyCity:      v.PropertyCity,
		PropertyCount:     v.PropertyCount,
		CounterpartyName:  v.CounterpartyName,
		MonthlyCommission: v.MonthlyCommission,
	}
}

func propertyResponse(p domain.Property) PropertyResponse {
	return PropertyResponse{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Title:     p.Title,
		City:      p.City,
		Rent:      p.Rent,
		CreatedAt: p.CreatedAt,
	}
}

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		ID:          p.ID,
		Kind:        p.Kind,
		DisplayName: p.DisplayName,
		CreatedAt:   p.CreatedAt,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	var payload map[string]any
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}
