package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mandato/internal/config"
	"mandato/internal/db"
	"mandato/internal/domain"
	"mandato/internal/engine"
	"mandato/internal/migrate"
	"mandato/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return testNow }
	ctx := context.Background()
	if err := eng.Repo.UpsertConfig(ctx, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	seed := []domain.Profile{
		{ID: "owner-1", Kind: "owner", DisplayName: "Claire Fontaine", CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "owner-2", Kind: "owner", DisplayName: "Bruno Keller", CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "agency-1", Kind: "agency", DisplayName: "Lakeside Realty", CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "agency-2", Kind: "agency", DisplayName: "Hilltop Homes", CreatedAt: "2026-01-01T00:00:00Z"},
	}
	for _, p := range seed {
		if err := eng.Repo.InsertProfile(ctx, p); err != nil {
			t.Fatalf("seed profile %s: %v", p.ID, err)
		}
	}
	props := []domain.Property{
		{ID: "prop-1", OwnerID: "owner-1", Title: "Rue de Lyon 12", City: "Geneva", Rent: 2000, CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "prop-2", OwnerID: "owner-1", Title: "Quai des Bergues 3", City: "Geneva", Rent: 3000, CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "prop-3", OwnerID: "owner-2", Title: "Bahnhofstrasse 8", City: "Zurich", Rent: 4000, CreatedAt: "2026-01-01T00:00:00Z"},
	}
	for _, p := range props {
		if err := eng.Repo.InsertProperty(ctx, p); err != nil {
			t.Fatalf("seed property %s: %v", p.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func createOne(t *testing.T, env testEnv, propertyIDs ...string) domain.Mandate {
	t.Helper()
	mandates, err := env.Engine.CreateBatch(env.Ctx, engine.BatchCreateOptions{
		OwnerID:        "owner-1",
		AgencyID:       "agency-1",
		PropertyIDs:    propertyIDs,
		CommissionRate: 8,
		StartDate:      "2026-03-01",
		ActorID:        "owner-1",
	})
	if err != nil {
		t.Fatalf("create mandate: %v", err)
	}
	if len(mandates) != 1 {
		t.Fatalf("expected 1 mandate, got %d", len(mandates))
	}
	return mandates[0]
}

func mustTransition(t *testing.T, env testEnv, id string, action domain.Action, actorID string) domain.Mandate {
	t.Helper()
	m, err := env.Engine.Transition(env.Ctx, id, action, actorID)
	if err != nil {
		t.Fatalf("%s as %s: %v", action, actorID, err)
	}
	return m
}

func TestCreateBatchDefaults(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")
	if m.Status != domain.StatusPending {
		t.Fatalf("new mandate status = %s, want pending", m.Status)
	}
	if m.AllProperties() {
		t.Fatalf("expected single-property scope")
	}
	if !m.Permissions.CanViewProperties || !m.Permissions.CanViewApplications || !m.Permissions.CanContactTenants {
		t.Fatalf("default grant missing view capabilities: %+v", m.Permissions)
	}
	if m.Permissions.CanEditProperties || m.Permissions.CanDeleteProperties || m.Permissions.CanCreateLeases {
		t.Fatalf("default grant should not include write capabilities: %+v", m.Permissions)
	}
	if m.SignatureState() != domain.SignatureUnsigned {
		t.Fatalf("new mandate signature state = %s", m.SignatureState())
	}
}

func TestCreateBatchAllProperties(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env)
	if !m.AllProperties() {
		t.Fatalf("expected portfolio scope when no properties given")
	}
}

func TestCreateBatchMultipleProperties(t *testing.T) {
	env := newTestEnv(t)
	mandates, err := env.Engine.CreateBatch(env.Ctx, engine.BatchCreateOptions{
		OwnerID:        "owner-1",
		AgencyID:       "agency-1",
		PropertyIDs:    []string{"prop-1", "prop-2"},
		CommissionRate: 8,
		StartDate:      "2026-03-01",
		ActorID:        "owner-1",
	})
	if err != nil {
		t.Fatalf("batch create: %v", err)
	}
	if len(mandates) != 2 {
		t.Fatalf("expected 2 mandates, got %d", len(mandates))
	}
	for _, m := range mandates {
		if m.Status != domain.StatusPending || m.AgencyID != "agency-1" || m.CommissionRate != 8 {
			t.Fatalf("mandate fields not shared across batch: %+v", m)
		}
	}
}

func TestCreateBatchAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateBatch(env.Ctx, engine.BatchCreateOptions{
		OwnerID:        "owner-1",
		AgencyID:       "agency-1",
		PropertyIDs:    []string{"prop-1", "no-such-property"},
		CommissionRate: 8,
		StartDate:      "2026-03-01",
		ActorID:        "owner-1",
	})
	var be engine.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if be.Reasons["no-such-property"] != "property not found" {
		t.Fatalf("unexpected failure reason: %v", be.Reasons)
	}
	// Nothing persisted for the valid property either.
	mandates, err := env.Engine.Repo.ListMandates(env.Ctx, repo.MandateFilters{PartyID: "owner-1"})
	if err != nil {
		t.Fatalf("list mandates: %v", err)
	}
	if len(mandates) != 0 {
		t.Fatalf("failed batch persisted %d mandates", len(mandates))
	}
}

func TestCreateBatchRejectsForeignAndDuplicateProperties(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateBatch(env.Ctx, engine.BatchCreateOptions{
		OwnerID:        "owner-1",
		AgencyID:       "agency-1",
		PropertyIDs:    []string{"prop-3", "prop-1", "prop-1"},
		CommissionRate: 8,
		StartDate:      "2026-03-01",
		ActorID:        "owner-1",
	})
	var be engine.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if be.Reasons["prop-3"] != "property not owned by owner" {
		t.Fatalf("foreign property reason: %v", be.Reasons)
	}
	if be.Reasons["prop-1"] != "duplicate property in batch" {
		t.Fatalf("duplicate property reason: %v", be.Reasons)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	env := newTestEnv(t)
	base := engine.BatchCreateOptions{
		OwnerID:        "owner-1",
		AgencyID:       "agency-1",
		PropertyIDs:    []string{"prop-1"},
		CommissionRate: 8,
		StartDate:      "2026-03-01",
		ActorID:        "owner-1",
	}

	bad := base
	bad.CommissionRate = 101
	var ve engine.ValidationError
	if _, err := env.Engine.CreateBatch(env.Ctx, bad); !errors.As(err, &ve) || ve.Field != "commission_rate" {
		t.Fatalf("rate > 100: %v", err)
	}

	bad = base
	bad.StartDate = "01/03/2026"
	if _, err := env.Engine.CreateBatch(env.Ctx, bad); !errors.As(err, &ve) || ve.Field != "start_date" {
		t.Fatalf("bad start date: %v", err)
	}

	bad = base
	bad.EndDate = "2026-01-01"
	if _, err := env.Engine.CreateBatch(env.Ctx, bad); !errors.As(err, &ve) || ve.Field != "end_date" {
		t.Fatalf("end before start: %v", err)
	}

	bad = base
	bad.ActorID = "agency-1"
	var uae engine.UnauthorizedActorError
	if _, err := env.Engine.CreateBatch(env.Ctx, bad); !errors.As(err, &uae) {
		t.Fatalf("non-owner actor: %v", err)
	}

	bad = base
	bad.AgencyID = "owner-2"
	if _, err := env.Engine.CreateBatch(env.Ctx, bad); !errors.As(err, &ve) || ve.Field != "agency_id" {
		t.Fatalf("owner profile as agency: %v", err)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")

	m = mustTransition(t, env, m.ID, domain.ActionAccept, "agency-1")
	if m.Status != domain.StatusActive {
		t.Fatalf("after accept: %s", m.Status)
	}
	m = mustTransition(t, env, m.ID, domain.ActionSuspend, "agency-1")
	if m.Status != domain.StatusSuspended {
		t.Fatalf("after suspend: %s", m.Status)
	}
	m = mustTransition(t, env, m.ID, domain.ActionReactivate, "agency-1")
	if m.Status != domain.StatusActive {
		t.Fatalf("after reactivate: %s", m.Status)
	}
	m = mustTransition(t, env, m.ID, domain.ActionTerminate, "owner-1")
	if m.Status != domain.StatusCancelled {
		t.Fatalf("after terminate: %s", m.Status)
	}
}

func TestRefusePendingMandate(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")
	m = mustTransition(t, env, m.ID, domain.ActionRefuse, "agency-1")
	if m.Status != domain.StatusCancelled {
		t.Fatalf("after refuse: %s", m.Status)
	}
	// Cancelled is terminal, nothing restarts it.
	_, err := env.Engine.Transition(env.Ctx, m.ID, domain.ActionAccept, "agency-1")
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("accept after refuse: %v", err)
	}
}

func TestTransitionRoleChecks(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")

	var uae engine.UnauthorizedActorError
	if _, err := env.Engine.Transition(env.Ctx, m.ID, domain.ActionAccept, "owner-1"); !errors.As(err, &uae) {
		t.Fatalf("owner accept: %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, m.ID, domain.ActionAccept, "owner-2"); !errors.As(err, &uae) {
		t.Fatalf("stranger accept: %v", err)
	}

	m = mustTransition(t, env, m.ID, domain.ActionAccept, "agency-1")
	if _, err := env.Engine.Transition(env.Ctx, m.ID, domain.ActionSuspend, "owner-1"); !errors.As(err, &uae) {
		t.Fatalf("owner suspend: %v", err)
	}
	// Both parties may terminate.
	m = mustTransition(t, env, m.ID, domain.ActionSuspend, "agency-1")
	mustTransition(t, env, m.ID, domain.ActionTerminate, "agency-1")
}

func TestDoubleAcceptFails(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")
	mustTransition(t, env, m.ID, domain.ActionAccept, "agency-1")
	_, err := env.Engine.Transition(env.Ctx, m.ID, domain.ActionAccept, "agency-1")
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != domain.StatusActive {
		t.Fatalf("error reports from=%s, want active", ite.From)
	}
}

func TestExpirePreconditions(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")
	mustTransition(t, env, m.ID, domain.ActionAccept, "agency-1")

	var ite engine.InvalidTransitionError
	// No end date: nothing to expire.
	if _, err := env.Engine.Transition(env.Ctx, m.ID, domain.ActionExpire, engine.SystemActorID); !errors.As(err, &ite) {
		t.Fatalf("expire without end date: %v", err)
	}

	mandates, err := env.Engine.CreateBatch(env.Ctx, engine.BatchCreateOptions{
		OwnerID:        "owner-1",
		AgencyID:       "agency-1",
		PropertyIDs:    []string{"prop-2"},
		CommissionRate: 8,
		StartDate:      "2026-01-01",
		EndDate:        "2026-02-28",
		ActorID:        "owner-1",
	})
	if err != nil {
		t.Fatalf("create dated mandate: %v", err)
	}
	ended := mandates[0]
	mustTransition(t, env, ended.ID, domain.ActionAccept, "agency-1")

	// Only the system actor expires.
	var uae engine.UnauthorizedActorError
	if _, err := env.Engine.Transition(env.Ctx, ended.ID, domain.ActionExpire, "agency-1"); !errors.As(err, &uae) {
		t.Fatalf("agency expire: %v", err)
	}
	got := mustTransition(t, env, ended.ID, domain.ActionExpire, engine.SystemActorID)
	if got.Status != domain.StatusExpired {
		t.Fatalf("after expire: %s", got.Status)
	}
}

func TestEffectiveStatusLazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	mandates, err := env.Engine.CreateBatch(env.Ctx, engine.BatchCreateOptions{
		OwnerID:        "owner-1",
		AgencyID:       "agency-1",
		PropertyIDs:    []string{"prop-1"},
		CommissionRate: 8,
		StartDate:      "2026-01-01",
		EndDate:        "2026-02-28",
		ActorID:        "owner-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m := mandates[0]
	mustTransition(t, env, m.ID, domain.ActionAccept, "agency-1")

	views, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(views) != 1 || views[0].EffectiveStatus != domain.StatusExpired {
		t.Fatalf("effective status = %v, want expired", views)
	}
	// The stored row is untouched by reads.
	stored, err := env.Engine.GetMandate(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusActive {
		t.Fatalf("stored status = %s, want active", stored.Status)
	}
}

func TestEffectiveStatusRunsThroughEndDate(t *testing.T) {
	m := domain.Mandate{Status: domain.StatusActive}
	end := "2026-03-15"
	m.EndDate = &end
	// Still active during the end date itself.
	if got := engine.EffectiveStatus(m, time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC)); got != domain.StatusActive {
		t.Fatalf("during end date: %s", got)
	}
	if got := engine.EffectiveStatus(m, time.Date(2026, 3, 16, 0, 0, 1, 0, time.UTC)); got != domain.StatusExpired {
		t.Fatalf("after end date: %s", got)
	}
}

func TestUpdatePermissions(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")

	// Only active mandates accept permission updates.
	var ite engine.InvalidTransitionError
	if _, err := env.Engine.UpdatePermissions(env.Ctx, m.ID, "owner-1", map[string]bool{"can_create_leases": true}); !errors.As(err, &ite) {
		t.Fatalf("update on pending: %v", err)
	}

	mustTransition(t, env, m.ID, domain.ActionAccept, "agency-1")

	var uae engine.UnauthorizedActorError
	if _, err := env.Engine.UpdatePermissions(env.Ctx, m.ID, "agency-1", map[string]bool{"can_create_leases": true}); !errors.As(err, &uae) {
		t.Fatalf("agency update: %v", err)
	}

	var ve engine.ValidationError
	if _, err := env.Engine.UpdatePermissions(env.Ctx, m.ID, "owner-1", map[string]bool{"can_fly": true}); !errors.As(err, &ve) {
		t.Fatalf("unknown capability: %v", err)
	}

	updated, err := env.Engine.UpdatePermissions(env.Ctx, m.ID, "owner-1", map[string]bool{
		"can_create_leases":   true,
		"can_view_properties": false,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Permissions.CanCreateLeases {
		t.Fatalf("granted capability not set")
	}
	if updated.Permissions.CanViewProperties {
		t.Fatalf("revoked capability still set")
	}
	// Keys absent from the partial update keep their value.
	if !updated.Permissions.CanViewApplications || !updated.Permissions.CanContactTenants {
		t.Fatalf("merge cleared untouched capabilities: %+v", updated.Permissions)
	}
}

func TestSignatures(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")

	m, err := env.Engine.RecordSignature(env.Ctx, m.ID, "owner-1")
	if err != nil {
		t.Fatalf("owner sign: %v", err)
	}
	if m.SignatureState() != domain.SignatureOwnerSigned {
		t.Fatalf("after owner sign: %s", m.SignatureState())
	}
	first := *m.OwnerSignedAt

	// Re-signing is a no-op, the original timestamp stays.
	m, err = env.Engine.RecordSignature(env.Ctx, m.ID, "owner-1")
	if err != nil {
		t.Fatalf("owner re-sign: %v", err)
	}
	if *m.OwnerSignedAt != first {
		t.Fatalf("re-sign changed timestamp")
	}

	var uae engine.UnauthorizedActorError
	if _, err := env.Engine.RecordSignature(env.Ctx, m.ID, "owner-2"); !errors.As(err, &uae) {
		t.Fatalf("stranger sign: %v", err)
	}

	m, err = env.Engine.RecordSignature(env.Ctx, m.ID, "agency-1")
	if err != nil {
		t.Fatalf("agency sign: %v", err)
	}
	if m.SignatureState() != domain.SignatureCompleted {
		t.Fatalf("after both signatures: %s", m.SignatureState())
	}
	// Signing never drives the lifecycle.
	if m.Status != domain.StatusPending {
		t.Fatalf("signature moved status to %s", m.Status)
	}
}

func TestTerminateKeepsSignatures(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")
	if _, err := env.Engine.RecordSignature(env.Ctx, m.ID, "owner-1"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	mustTransition(t, env, m.ID, domain.ActionAccept, "agency-1")
	mustTransition(t, env, m.ID, domain.ActionTerminate, "owner-1")

	got, err := env.Engine.GetMandate(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OwnerSignedAt == nil {
		t.Fatalf("terminate cleared owner signature")
	}
	if got.SignatureState() != domain.SignatureOwnerSigned {
		t.Fatalf("signature state after terminate: %s", got.SignatureState())
	}
}

func TestNotesAndDocument(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")

	m, err := env.Engine.UpdateNotes(env.Ctx, m.ID, "agency-1", "keys at the concierge")
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	if m.Notes != "keys at the concierge" {
		t.Fatalf("notes = %q", m.Notes)
	}

	m, err = env.Engine.AttachSignedDocument(env.Ctx, m.ID, "owner-1", "https://docs.example/mandate.pdf")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if m.SignedMandateURL == nil || *m.SignedMandateURL != "https://docs.example/mandate.pdf" {
		t.Fatalf("document url not stored")
	}

	var ve engine.ValidationError
	if _, err := env.Engine.AttachSignedDocument(env.Ctx, m.ID, "owner-1", ""); !errors.As(err, &ve) {
		t.Fatalf("empty url: %v", err)
	}

	var uae engine.UnauthorizedActorError
	if _, err := env.Engine.UpdateNotes(env.Ctx, m.ID, "owner-2", "nope"); !errors.As(err, &uae) {
		t.Fatalf("stranger notes: %v", err)
	}
}

func TestTransitionUnknownMandate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Transition(env.Ctx, "no-such-id", domain.ActionAccept, "agency-1")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEventsAppended(t *testing.T) {
	env := newTestEnv(t)
	m := createOne(t, env, "prop-1")
	mustTransition(t, env, m.ID, domain.ActionAccept, "agency-1")

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "mandate", m.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "mandate.accept" || events[1].Type != "mandate.created" {
		t.Fatalf("event types: %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].ActorID != "agency-1" {
		t.Fatalf("accept actor = %s", events[0].ActorID)
	}
}
