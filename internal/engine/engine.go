package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mandato/internal/config"
	"mandato/internal/domain"
	"mandato/internal/events"
	"mandato/internal/repo"
)

// SystemActorID is the reserved actor for time-driven transitions.
const SystemActorID = "system"

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// BatchCreateOptions are parameters for an owner-initiated agency invitation.
// PropertyIDs empty means the mandate covers all current and future
// properties of the owner.
type BatchCreateOptions struct {
	OwnerID        string
	AgencyID       string
	PropertyIDs    []string
	CommissionRate float64
	StartDate      string
	EndDate        string
	Notes          string
	ActorID        string
}

// CreateBatch produces one pending mandate per selected property, all
// sharing the same agency, rate, dates and default permissions. The batch is
// all-or-nothing: any invalid property id fails the whole call and nothing
// is persisted. A single-property or all-properties invitation runs through
// the same path as a batch of one.
func (e Engine) CreateBatch(ctx context.Context, opts BatchCreateOptions) ([]domain.Mandate, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	if opts.OwnerID == "" {
		return nil, ValidationError{Field: "owner_id", Reason: "required"}
	}
	if opts.AgencyID == "" {
		return nil, ValidationError{Field: "agency_id", Reason: "required"}
	}
	if opts.ActorID != opts.OwnerID {
		return nil, UnauthorizedActorError{ActorID: opts.ActorID}
	}
	if opts.CommissionRate < 0 || opts.CommissionRate > 100 {
		return nil, ValidationError{Field: "commission_rate", Reason: "must be between 0 and 100"}
	}
	if _, err := time.Parse(dateLayout, opts.StartDate); err != nil {
		return nil, ValidationError{Field: "start_date", Reason: "must be YYYY-MM-DD"}
	}
	var endDate *string
	if opts.EndDate != "" {
		end, err := time.Parse(dateLayout, opts.EndDate)
		if err != nil {
			return nil, ValidationError{Field: "end_date", Reason: "must be YYYY-MM-DD"}
		}
		start, _ := time.Parse(dateLayout, opts.StartDate)
		if end.Before(start) {
			return nil, ValidationError{Field: "end_date", Reason: "must not precede start_date"}
		}
		endDate = &opts.EndDate
	}

	owner, err := e.Repo.GetProfile(ctx, opts.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("owner %s: %w", opts.OwnerID, err)
	}
	if owner.Kind != "owner" {
		return nil, ValidationError{Field: "owner_id", Reason: "profile is not an owner"}
	}
	agency, err := e.Repo.GetProfile(ctx, opts.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("agency %s: %w", opts.AgencyID, err)
	}
	if agency.Kind != "agency" {
		return nil, ValidationError{Field: "agency_id", Reason: "profile is not an agency"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Resolve every property before any insert so a failed batch leaves
	// nothing behind.
	var scoped []*string
	if len(opts.PropertyIDs) == 0 {
		scoped = []*string{nil}
	} else {
		failed := []string{}
		reasons := map[string]string{}
		seen := map[string]bool{}
		for _, pid := range opts.PropertyIDs {
			if seen[pid] {
				failed = append(failed, pid)
				reasons[pid] = "duplicate property in batch"
				continue
			}
			seen[pid] = true
			p, err := e.Repo.GetPropertyTx(ctx, tx, pid)
			if errors.Is(err, repo.ErrNotFound) {
				failed = append(failed, pid)
				reasons[pid] = "property not found"
				continue
			}
			if err != nil {
				return nil, err
			}
			if p.OwnerID != opts.OwnerID {
				failed = append(failed, pid)
				reasons[pid] = "property not owned by owner"
				continue
			}
			id := pid
			scoped = append(scoped, &id)
		}
		if len(failed) > 0 {
			return nil, BatchError{Failed: failed, Reasons: reasons}
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	perms := e.Config.DefaultGrant()
	created := make([]domain.Mandate, 0, len(scoped))
	for _, propertyID := range scoped {
		m := domain.Mandate{
			ID:             uuid.New().String(),
			OwnerID:        opts.OwnerID,
			AgencyID:       opts.AgencyID,
			PropertyID:     propertyID,
			Status:         domain.StatusPending,
			CommissionRate: opts.CommissionRate,
			StartDate:      opts.StartDate,
			EndDate:        endDate,
			Permissions:    perms,
			Notes:          opts.Notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.InsertMandate(ctx, tx, m); err != nil {
			return nil, err
		}
		payload := events.EventPayload{"agency_id": m.AgencyID, "status": m.Status, "commission_rate": m.CommissionRate}
		if propertyID != nil {
			payload["property_id"] = *propertyID
		} else {
			payload["scope"] = "all_properties"
		}
		if err := e.Events.Append(ctx, tx, "mandate.created", "mandate", m.ID, opts.ActorID, payload); err != nil {
			return nil, err
		}
		created = append(created, m)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// Transition applies one lifecycle action. The precondition check and the
// write are indivisible: the status swap is compare-and-set on the status
// read in the same transaction, so a concurrent writer fails with an
// InvalidTransitionError instead of overwriting.
func (e Engine) Transition(ctx context.Context, mandateID string, action domain.Action, actorID string) (domain.Mandate, error) {
	if !action.Valid() {
		return domain.Mandate{}, ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mandate{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMandateTx(ctx, tx, mandateID)
	if err != nil {
		return domain.Mandate{}, err
	}
	role, err := e.resolveRole(m, actorID)
	if err != nil {
		return m, err
	}
	if !roleAllowed(action, role) {
		return m, UnauthorizedActorError{ActorID: actorID, Role: role, Action: string(action)}
	}
	to, ok := nextStatus(m.Status, action)
	if !ok {
		return m, InvalidTransitionError{MandateID: m.ID, From: m.Status, Action: action}
	}
	if action == domain.ActionExpire {
		if m.EndDate == nil {
			return m, InvalidTransitionError{MandateID: m.ID, From: m.Status, Action: action}
		}
		if EffectiveStatus(m, e.now()) != domain.StatusExpired {
			return m, InvalidTransitionError{MandateID: m.ID, From: m.Status, Action: action}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	applied, err := e.Repo.UpdateMandateStatus(ctx, tx, m.ID, m.Status, to, now)
	if err != nil {
		return m, err
	}
	if !applied {
		// Lost the race: someone else already moved the mandate.
		current, rerr := e.Repo.GetMandate(ctx, m.ID)
		if errors.Is(rerr, repo.ErrNotFound) {
			return m, repo.ErrNotFound
		}
		if rerr != nil {
			return m, rerr
		}
		return current, InvalidTransitionError{MandateID: m.ID, From: current.Status, Action: action}
	}
	if err := e.Events.Append(ctx, tx, "mandate."+string(action), "mandate", m.ID, actorID, events.EventPayload{
		"from_status": m.Status,
		"to_status":   to,
	}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	m.Status = to
	m.UpdatedAt = now
	return m, nil
}

func (e Engine) resolveRole(m domain.Mandate, actorID string) (domain.Role, error) {
	if actorID == SystemActorID {
		return domain.RoleSystem, nil
	}
	role, ok := m.Role(actorID)
	if !ok {
		return "", UnauthorizedActorError{ActorID: actorID}
	}
	return role, nil
}

// UpdatePermissions merges the keys present in partial into the mandate's
// grant vector. Only the owner may update, and only while the mandate is
// active. Keys absent from partial are never cleared.
func (e Engine) UpdatePermissions(ctx context.Context, mandateID, actorID string, partial map[string]bool) (domain.Mandate, error) {
	if len(partial) == 0 {
		return domain.Mandate{}, ValidationError{Field: "permissions", Reason: "at least one capability required"}
	}
	for key := range partial {
		if !domain.ValidPermissionKey(key) {
			return domain.Mandate{}, ValidationError{Field: "permissions", Reason: fmt.Sprintf("unknown capability %q", key)}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mandate{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMandateTx(ctx, tx, mandateID)
	if err != nil {
		return domain.Mandate{}, err
	}
	role, err := e.resolveRole(m, actorID)
	if err != nil {
		return m, err
	}
	if role != domain.RoleOwner {
		return m, UnauthorizedActorError{ActorID: actorID, Role: role, Action: "update permissions"}
	}
	if m.Status != domain.StatusActive {
		return m, InvalidTransitionError{MandateID: m.ID, From: m.Status, Action: "update_permissions"}
	}
	merged := m.Permissions.Merge(partial)
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateMandatePermissions(ctx, tx, m.ID, merged, now); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "mandate.permissions.updated", "mandate", m.ID, actorID, events.EventPayload{
		"changed": partial,
	}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	m.Permissions = merged
	m.UpdatedAt = now
	return m, nil
}

// RecordSignature sets the calling party's signature timestamp. Re-signing
// by the same party is a no-op, and lifecycle status is never touched:
// a mandate becomes legally binding by signature and operationally active by
// lifecycle, and the two can legitimately race.
func (e Engine) RecordSignature(ctx context.Context, mandateID, actorID string) (domain.Mandate, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mandate{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMandateTx(ctx, tx, mandateID)
	if err != nil {
		return domain.Mandate{}, err
	}
	role, err := e.resolveRole(m, actorID)
	if err != nil {
		return m, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	switch role {
	case domain.RoleOwner:
		if m.OwnerSignedAt != nil {
			return m, tx.Commit()
		}
		if err := e.Repo.SetOwnerSignature(ctx, tx, m.ID, now, now); err != nil {
			return m, err
		}
		m.OwnerSignedAt = &now
	case domain.RoleAgency:
		if m.AgencySignedAt != nil {
			return m, tx.Commit()
		}
		if err := e.Repo.SetAgencySignature(ctx, tx, m.ID, now, now); err != nil {
			return m, err
		}
		m.AgencySignedAt = &now
	default:
		return m, UnauthorizedActorError{ActorID: actorID, Role: role, Action: "sign"}
	}
	if err := e.Events.Append(ctx, tx, "mandate.signed", "mandate", m.ID, actorID, events.EventPayload{
		"role":            role,
		"signature_state": m.SignatureState(),
	}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	m.UpdatedAt = now
	return m, nil
}

// AttachSignedDocument stores the reference handed back by the external
// document store. The engine never generates or parses the document.
func (e Engine) AttachSignedDocument(ctx context.Context, mandateID, actorID, url string) (domain.Mandate, error) {
	if url == "" {
		return domain.Mandate{}, ValidationError{Field: "signed_mandate_url", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mandate{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMandateTx(ctx, tx, mandateID)
	if err != nil {
		return domain.Mandate{}, err
	}
	if _, err := e.resolveRole(m, actorID); err != nil {
		return m, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetSignedMandateURL(ctx, tx, m.ID, url, now); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "mandate.document.attached", "mandate", m.ID, actorID, events.EventPayload{"url": url}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	m.SignedMandateURL = &url
	m.UpdatedAt = now
	return m, nil
}

// UpdateNotes replaces the free-text notes. Either party may annotate.
func (e Engine) UpdateNotes(ctx context.Context, mandateID, actorID, notes string) (domain.Mandate, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mandate{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMandateTx(ctx, tx, mandateID)
	if err != nil {
		return domain.Mandate{}, err
	}
	if _, err := e.resolveRole(m, actorID); err != nil {
		return m, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateMandateNotes(ctx, tx, m.ID, notes, now); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "mandate.notes.updated", "mandate", m.ID, actorID, nil); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	m.Notes = notes
	m.UpdatedAt = now
	return m, nil
}

// GetMandate returns one mandate by id.
func (e Engine) GetMandate(ctx context.Context, id string) (domain.Mandate, error) {
	return e.Repo.GetMandate(ctx, id)
}
