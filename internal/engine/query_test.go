package engine_test

import (
	"errors"
	"testing"

	"mandato/internal/domain"
	"mandato/internal/engine"
)

// seedPortfolio creates three mandates:
//   - owner-1 / agency-1 over prop-1, rate 8, accepted
//   - owner-1 / agency-2 over prop-2, rate 10, pending
//   - owner-2 / agency-1 over prop-3, rate 5, accepted
func seedPortfolio(t *testing.T, env testEnv) (m1, m2, m3 domain.Mandate) {
	t.Helper()
	create := func(owner, agency, property string, rate float64) domain.Mandate {
		mandates, err := env.Engine.CreateBatch(env.Ctx, engine.BatchCreateOptions{
			OwnerID:        owner,
			AgencyID:       agency,
			PropertyIDs:    []string{property},
			CommissionRate: rate,
			StartDate:      "2026-03-01",
			ActorID:        owner,
		})
		if err != nil {
			t.Fatalf("create %s/%s: %v", owner, agency, err)
		}
		return mandates[0]
	}
	m1 = create("owner-1", "agency-1", "prop-1", 8)
	m2 = create("owner-1", "agency-2", "prop-2", 10)
	m3 = create("owner-2", "agency-1", "prop-3", 5)
	mustTransition(t, env, m1.ID, domain.ActionAccept, "agency-1")
	mustTransition(t, env, m3.ID, domain.ActionAccept, "agency-1")
	return m1, m2, m3
}

func TestQueryVisibility(t *testing.T) {
	env := newTestEnv(t)
	m1, m2, m3 := seedPortfolio(t, env)

	owned, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{})
	if err != nil {
		t.Fatalf("owner query: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("owner-1 sees %d mandates, want 2", len(owned))
	}
	for _, v := range owned {
		if v.ID == m3.ID {
			t.Fatalf("owner-1 sees a foreign mandate")
		}
	}

	managed, err := env.Engine.Query(env.Ctx, "agency-1", engine.QueryOptions{})
	if err != nil {
		t.Fatalf("agency query: %v", err)
	}
	if len(managed) != 2 {
		t.Fatalf("agency-1 sees %d mandates, want 2", len(managed))
	}
	ids := map[string]bool{managed[0].ID: true, managed[1].ID: true}
	if !ids[m1.ID] || !ids[m3.ID] {
		t.Fatalf("agency-1 view misses its mandates: %v, want %s and %s", ids, m1.ID, m2.ID)
	}
}

func TestQueryViewFields(t *testing.T) {
	env := newTestEnv(t)
	m1, _, _ := seedPortfolio(t, env)

	views, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{Status: domain.StatusActive})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(views) != 1 || views[0].ID != m1.ID {
		t.Fatalf("status filter returned %v", views)
	}
	v := views[0]
	if v.PropertyTitle != "Rue de Lyon 12" || v.PropertyCity != "Geneva" {
		t.Fatalf("property join: %+v", v)
	}
	if v.CounterpartyName != "Lakeside Realty" {
		t.Fatalf("counterparty for owner = %q", v.CounterpartyName)
	}
	if v.MonthlyCommission != 160 {
		t.Fatalf("commission = %d, want 160", v.MonthlyCommission)
	}
	if v.PropertyCount != 1 {
		t.Fatalf("property count = %d", v.PropertyCount)
	}

	// The agency sees the owner as counterparty on the same mandate.
	agencyViews, err := env.Engine.Query(env.Ctx, "agency-1", engine.QueryOptions{Search: "rue de lyon"})
	if err != nil {
		t.Fatalf("agency query: %v", err)
	}
	if len(agencyViews) != 1 || agencyViews[0].CounterpartyName != "Claire Fontaine" {
		t.Fatalf("counterparty for agency: %v", agencyViews)
	}
}

func TestQuerySearch(t *testing.T) {
	env := newTestEnv(t)
	_, m2, m3 := seedPortfolio(t, env)

	byCity, err := env.Engine.Query(env.Ctx, "agency-1", engine.QueryOptions{Search: "zurich"})
	if err != nil {
		t.Fatalf("search city: %v", err)
	}
	if len(byCity) != 1 || byCity[0].ID != m3.ID {
		t.Fatalf("city search: %v", byCity)
	}

	byCounterparty, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{Search: "HILLTOP"})
	if err != nil {
		t.Fatalf("search counterparty: %v", err)
	}
	if len(byCounterparty) != 1 || byCounterparty[0].ID != m2.ID {
		t.Fatalf("counterparty search: %v", byCounterparty)
	}

	none, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{Search: "no match"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty result, got %v", none)
	}
}

func TestQuerySort(t *testing.T) {
	env := newTestEnv(t)
	m1, m2, _ := seedPortfolio(t, env)

	asc, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{SortBy: engine.SortByCommissionRate})
	if err != nil {
		t.Fatalf("sort asc: %v", err)
	}
	if asc[0].ID != m1.ID || asc[1].ID != m2.ID {
		t.Fatalf("ascending rate order: %s, %s", asc[0].ID, asc[1].ID)
	}

	desc, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{SortBy: engine.SortByCommissionRate, Desc: true})
	if err != nil {
		t.Fatalf("sort desc: %v", err)
	}
	if desc[0].ID != m2.ID || desc[1].ID != m1.ID {
		t.Fatalf("descending rate order: %s, %s", desc[0].ID, desc[1].ID)
	}

	// Equal created_at values fall back to id ascending in either direction.
	tied, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{SortBy: engine.SortByCreatedAt, Desc: true})
	if err != nil {
		t.Fatalf("sort tie: %v", err)
	}
	if tied[0].ID > tied[1].ID {
		t.Fatalf("tie-break not ascending by id: %s, %s", tied[0].ID, tied[1].ID)
	}

	var ve engine.ValidationError
	if _, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{SortBy: "rent"}); !errors.As(err, &ve) {
		t.Fatalf("unknown sort key: %v", err)
	}
}

func TestKanban(t *testing.T) {
	env := newTestEnv(t)
	m1, m2, _ := seedPortfolio(t, env)

	columns, err := env.Engine.Kanban(env.Ctx, "owner-1")
	if err != nil {
		t.Fatalf("kanban: %v", err)
	}
	// Every status has a column even when empty.
	for _, s := range domain.Statuses {
		if _, ok := columns[s]; !ok {
			t.Fatalf("missing column %s", s)
		}
	}
	if len(columns[domain.StatusActive]) != 1 || columns[domain.StatusActive][0].ID != m1.ID {
		t.Fatalf("active column: %v", columns[domain.StatusActive])
	}
	if len(columns[domain.StatusPending]) != 1 || columns[domain.StatusPending][0].ID != m2.ID {
		t.Fatalf("pending column: %v", columns[domain.StatusPending])
	}
	if len(columns[domain.StatusCancelled]) != 0 {
		t.Fatalf("cancelled column should be empty")
	}
}

func TestKPIs(t *testing.T) {
	env := newTestEnv(t)
	m1, _, _ := seedPortfolio(t, env)

	// An active portfolio mandate ending inside the look-ahead window.
	mandates, err := env.Engine.CreateBatch(env.Ctx, engine.BatchCreateOptions{
		OwnerID:        "owner-1",
		AgencyID:       "agency-1",
		CommissionRate: 8,
		StartDate:      "2026-03-01",
		EndDate:        "2026-04-01",
		ActorID:        "owner-1",
	})
	if err != nil {
		t.Fatalf("create portfolio mandate: %v", err)
	}
	m4 := mandates[0]
	mustTransition(t, env, m4.ID, domain.ActionAccept, "agency-1")
	if _, err := env.Engine.RecordSignature(env.Ctx, m1.ID, "owner-1"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := env.Engine.RecordSignature(env.Ctx, m1.ID, "agency-1"); err != nil {
		t.Fatalf("sign: %v", err)
	}

	k, err := env.Engine.KPIsFor(env.Ctx, "owner-1")
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if k.Total != 3 || k.Active != 2 || k.Pending != 1 {
		t.Fatalf("counts: %+v", k)
	}
	// prop-1 at 8% = 160, portfolio (prop-1 + prop-2) at 8% = 160 + 240.
	if k.TotalMonthlyCommission != 560 {
		t.Fatalf("total commission = %d, want 560", k.TotalMonthlyCommission)
	}
	if k.ExpiringSoonCount != 1 {
		t.Fatalf("expiring soon = %d, want 1", k.ExpiringSoonCount)
	}
	// m4 is active and unsigned; m1 is fully signed.
	if k.PendingSignatureCount != 1 {
		t.Fatalf("pending signatures = %d, want 1", k.PendingSignatureCount)
	}
}

func TestAllPropertiesView(t *testing.T) {
	env := newTestEnv(t)
	mandates, err := env.Engine.CreateBatch(env.Ctx, engine.BatchCreateOptions{
		OwnerID:        "owner-1",
		AgencyID:       "agency-1",
		CommissionRate: 8,
		StartDate:      "2026-03-01",
		ActorID:        "owner-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	views, err := env.Engine.Query(env.Ctx, "owner-1", engine.QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("views: %v", views)
	}
	v := views[0]
	if v.ID != mandates[0].ID || !v.AllProperties() {
		t.Fatalf("expected portfolio mandate: %+v", v)
	}
	if v.PropertyCount != 2 {
		t.Fatalf("portfolio size = %d, want 2", v.PropertyCount)
	}
	if v.MonthlyCommission != 400 {
		t.Fatalf("portfolio commission = %d, want 400", v.MonthlyCommission)
	}
	if v.PropertyTitle != "" {
		t.Fatalf("portfolio mandate should not carry a single title")
	}
}
