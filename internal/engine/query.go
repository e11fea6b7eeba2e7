package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mandato/internal/domain"
	"mandato/internal/repo"
)

// SortKey selects the field mandate listings are ordered by.
type SortKey string

const (
	SortByCreatedAt      SortKey = "created_at"
	SortByStartDate      SortKey = "start_date"
	SortByPropertyTitle  SortKey = "property_title"
	SortByCommissionRate SortKey = "commission_rate"
	SortByCounterparty   SortKey = "counterparty"
)

func (k SortKey) Valid() bool {
	switch k {
	case SortByCreatedAt, SortByStartDate, SortByPropertyTitle, SortByCommissionRate, SortByCounterparty:
		return true
	}
	return false
}

// QueryOptions narrow and order a mandate listing for one party.
type QueryOptions struct {
	Status domain.MandateStatus
	Search string
	SortBy SortKey
	Desc   bool
}

// MandateView is a mandate joined with its reference data and derived
// fields, as consumed by kanban/list/grid presentations.
type MandateView struct {
	domain.Mandate
	EffectiveStatus   domain.MandateStatus  `json:"effective_status" enum:"pending,active,suspended,expired,cancelled"`
	SignatureState    domain.SignatureState `json:"signature_state" enum:"unsigned,owner_signed,agency_signed,completed"`
	PropertyTitle     string                `json:"property_title,omitempty"`
	PropertyCity      string                `json:"property_city,omitempty"`
	PropertyCount     int                   `json:"property_count"`
	CounterpartyName  string                `json:"counterparty_name"`
	MonthlyCommission int64                 `json:"monthly_commission"`
}

// KPIs are the aggregate counters shown on the mandate dashboard. Counts use
// the effective status, so a stale active row past its end date reports as
// expired without the stored row changing.
type KPIs struct {
	Total                  int   `json:"total"`
	Pending                int   `json:"pending"`
	Active                 int   `json:"active"`
	Suspended              int   `json:"suspended"`
	Expired                int   `json:"expired"`
	Cancelled              int   `json:"cancelled"`
	TotalMonthlyCommission int64 `json:"total_monthly_commission"`
	ExpiringSoonCount      int   `json:"expiring_soon_count"`
	PendingSignatureCount  int   `json:"pending_signature_count"`
}

// Query returns the mandates a party can see, filtered, searched and sorted.
func (e Engine) Query(ctx context.Context, partyID string, opts QueryOptions) ([]MandateView, error) {
	if opts.SortBy == "" {
		opts.SortBy = SortByCreatedAt
		opts.Desc = true
	}
	if !opts.SortBy.Valid() {
		return nil, ValidationError{Field: "sort", Reason: fmt.Sprintf("unknown sort key %q", opts.SortBy)}
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", opts.Status)}
	}
	views, err := e.views(ctx, partyID)
	if err != nil {
		return nil, err
	}
	views = filterViews(views, opts)
	sortViews(views, opts.SortBy, opts.Desc)
	return views, nil
}

// Kanban partitions a party's mandates into status columns.
func (e Engine) Kanban(ctx context.Context, partyID string) (map[domain.MandateStatus][]MandateView, error) {
	views, err := e.views(ctx, partyID)
	if err != nil {
		return nil, err
	}
	sortViews(views, SortByCreatedAt, true)
	columns := map[domain.MandateStatus][]MandateView{}
	for _, s := range domain.Statuses {
		columns[s] = []MandateView{}
	}
	for _, v := range views {
		columns[v.EffectiveStatus] = append(columns[v.EffectiveStatus], v)
	}
	return columns, nil
}

// KPIsFor aggregates dashboard counters for one party.
func (e Engine) KPIsFor(ctx context.Context, partyID string) (KPIs, error) {
	views, err := e.views(ctx, partyID)
	if err != nil {
		return KPIs{}, err
	}
	window := 30
	if e.Config != nil && e.Config.Engine.ExpiringSoonDays > 0 {
		window = e.Config.Engine.ExpiringSoonDays
	}
	now := e.now()
	horizon := now.AddDate(0, 0, window)
	var k KPIs
	k.Total = len(views)
	for _, v := range views {
		switch v.EffectiveStatus {
		case domain.StatusPending:
			k.Pending++
		case domain.StatusActive:
			k.Active++
		case domain.StatusSuspended:
			k.Suspended++
		case domain.StatusExpired:
			k.Expired++
		case domain.StatusCancelled:
			k.Cancelled++
		}
		if v.EffectiveStatus != domain.StatusActive {
			continue
		}
		k.TotalMonthlyCommission += v.MonthlyCommission
		if v.SignatureState != domain.SignatureCompleted {
			k.PendingSignatureCount++
		}
		if v.EndDate != nil {
			if end, err := time.Parse(dateLayout, *v.EndDate); err == nil {
				if !end.Before(now.Truncate(24*time.Hour)) && !end.After(horizon) {
					k.ExpiringSoonCount++
				}
			}
		}
	}
	return k, nil
}

func (e Engine) views(ctx context.Context, partyID string) ([]MandateView, error) {
	if partyID == "" {
		return nil, ValidationError{Field: "party_id", Reason: "required"}
	}
	mandates, err := e.Repo.ListMandates(ctx, repo.MandateFilters{PartyID: partyID})
	if err != nil {
		return nil, err
	}
	now := e.now()
	properties := map[string]domain.Property{}
	portfolios := map[string][]domain.Property{}
	profiles := map[string]domain.Profile{}

	lookupProfile := func(id string) (domain.Profile, error) {
		if p, ok := profiles[id]; ok {
			return p, nil
		}
		p, err := e.Repo.GetProfile(ctx, id)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.Profile{}, err
		}
		profiles[id] = p
		return p, nil
	}

	views := make([]MandateView, 0, len(mandates))
	for _, m := range mandates {
		v := MandateView{
			Mandate:         m,
			EffectiveStatus: EffectiveStatus(m, now),
			SignatureState:  m.SignatureState(),
		}
		counterpartyID := m.AgencyID
		if partyID == m.AgencyID {
			counterpartyID = m.OwnerID
		}
		counterparty, err := lookupProfile(counterpartyID)
		if err != nil {
			return nil, err
		}
		v.CounterpartyName = counterparty.DisplayName

		if m.PropertyID != nil {
			p, ok := properties[*m.PropertyID]
			if !ok {
				p, err = e.Repo.GetProperty(ctx, *m.PropertyID)
				if err != nil && !errors.Is(err, repo.ErrNotFound) {
					return nil, err
				}
				properties[*m.PropertyID] = p
			}
			v.PropertyTitle = p.Title
			v.PropertyCity = p.City
			v.PropertyCount = 1
			v.MonthlyCommission = MonthlyCommission(p.Rent, m.CommissionRate)
		} else {
			portfolio, ok := portfolios[m.OwnerID]
			if !ok {
				portfolio, err = e.Repo.ListProperties(ctx, m.OwnerID)
				if err != nil {
					return nil, err
				}
				portfolios[m.OwnerID] = portfolio
			}
			rents := make([]float64, len(portfolio))
			for i, p := range portfolio {
				rents[i] = p.Rent
			}
			v.PropertyCount = len(portfolio)
			v.MonthlyCommission = PortfolioCommission(rents, m.CommissionRate)
		}
		views = append(views, v)
	}
	return views, nil
}

func filterViews(views []MandateView, opts QueryOptions) []MandateView {
	out := views[:0]
	search := strings.ToLower(strings.TrimSpace(opts.Search))
	for _, v := range views {
		if opts.Status != "" && v.EffectiveStatus != opts.Status {
			continue
		}
		if search != "" && !matchesSearch(v, search) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// matchesSearch does a case-insensitive substring match across property
// title, property city, counterparty name and mandate id; any hit qualifies.
func matchesSearch(v MandateView, search string) bool {
	for _, field := range []string{v.PropertyTitle, v.PropertyCity, v.CounterpartyName, v.ID} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func sortViews(views []MandateView, key SortKey, desc bool) {
	less := func(a, b MandateView) bool {
		switch key {
		case SortByStartDate:
			if a.StartDate != b.StartDate {
				return a.StartDate < b.StartDate
			}
		case SortByPropertyTitle:
			if a.PropertyTitle != b.PropertyTitle {
				return a.PropertyTitle < b.PropertyTitle
			}
		case SortByCommissionRate:
			if a.CommissionRate != b.CommissionRate {
				return a.CommissionRate < b.CommissionRate
			}
		case SortByCounterparty:
			if a.CounterpartyName != b.CounterpartyName {
				return a.CounterpartyName < b.CounterpartyName
			}
		default:
			if a.CreatedAt != b.CreatedAt {
				return a.CreatedAt < b.CreatedAt
			}
		}
		return false
	}
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if desc {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		// Stable tie-break on id, always ascending.
		return views[i].ID < views[j].ID
	})
}
