package mandatosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Mandato HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Mandate represents the API mandate model (partial).
type Mandate struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	AgencyID         string          `json:"agency_id"`
	PropertyID       *string         `json:"property_id,omitempty"`
	AllProperties    bool            `json:"all_properties"`
	Status           string          `json:"status"`
	SignatureState   string          `json:"signature_state"`
	CommissionRate   float64         `json:"commission_rate"`
	StartDate        string          `json:"start_date"`
	EndDate          *string         `json:"end_date,omitempty"`
	Permissions      map[string]bool `json:"permissions"`
	SignedMandateURL *string         `json:"signed_mandate_url,omitempty"`
	Notes            string          `json:"notes,omitempty"`
}

// MandateView is a mandate enriched with derived dashboard fields.
type MandateView struct {
	Mandate
	EffectiveStatus   string `json:"effective_status"`
	PropertyTitle     string `json:"property_title,omitempty"`
	PropertyCity      string `json:"property_city,omitempty"`
	PropertyCount     int    `json:"property_count"`
	CounterpartyName  string `json:"counterparty_name"`
	MonthlyCommission int64  `json:"monthly_commission"`
}

// KPIs are the dashboard counters.
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

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateMandateOptions are the create-mandates request fields.
type CreateMandateOptions struct {
	AgencyID       string   `json:"agency_id"`
	PropertyIDs    []string `json:"property_ids,omitempty"`
	CommissionRate float64  `json:"commission_rate"`
	StartDate      string   `json:"start_date"`
	EndDate        *string  `json:"end_date,omitempty"`
	Notes          *string  `json:"notes,omitempty"`
}

// CreateMandates invites an agency over one or more properties.
func (c *Client) CreateMandates(ctx context.Context, opts CreateMandateOptions) ([]Mandate, error) {
	var resp struct {
		Items []Mandate `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "v0/mandates", opts, &resp)
	return resp.Items, err
}

// ListMandates returns the mandates visible to the caller.
func (c *Client) ListMandates(ctx context.Context, status, search string) ([]MandateView, error) {
	endpoint := "v0/mandates"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if search != "" {
		params.Set("search", search)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Items []MandateView `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetMandate fetches a mandate by id.
func (c *Client) GetMandate(ctx context.Context, id string) (Mandate, error) {
	var resp Mandate
	err := c.do(ctx, http.MethodGet, c.mandatePath(id, ""), nil, &resp)
	return resp, err
}

// Act applies a lifecycle action (accept, refuse, suspend, reactivate, terminate).
func (c *Client) Act(ctx context.Context, id, action string) (Mandate, error) {
	var resp Mandate
	err := c.do(ctx, http.MethodPost, c.mandatePath(id, action), nil, &resp)
	return resp, err
}

// Sign records the caller's signature.
func (c *Client) Sign(ctx context.Context, id string) (Mandate, error) {
	var resp Mandate
	err := c.do(ctx, http.MethodPost, c.mandatePath(id, "signatures"), nil, &resp)
	return resp, err
}

// UpdatePermissions merges a partial permission update.
func (c *Client) UpdatePermissions(ctx context.Context, id string, partial map[string]bool) (Mandate, error) {
	body := map[string]any{"permissions": partial}
	var resp Mandate
	err := c.do(ctx, http.MethodPatch, c.mandatePath(id, "permissions"), body, &resp)
	return resp, err
}

// AttachDocument attaches the signed mandate document URL.
func (c *Client) AttachDocument(ctx context.Context, id, docURL string) (Mandate, error) {
	body := map[string]any{"url": docURL}
	var resp Mandate
	err := c.do(ctx, http.MethodPut, c.mandatePath(id, "document"), body, &resp)
	return resp, err
}

// Kanban returns mandates grouped by effective status.
func (c *Client) Kanban(ctx context.Context) (map[string][]MandateView, error) {
	var resp map[string][]MandateView
	err := c.do(ctx, http.MethodGet, "v0/mandates/kanban", nil, &resp)
	return resp, err
}

// KPIs returns the dashboard counters.
func (c *Client) KPIs(ctx context.Context) (KPIs, error) {
	var resp KPIs
	err := c.do(ctx, http.MethodGet, "v0/mandates/kpis", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) mandatePath(id, sub string) string {
	p := fmt.Sprintf("v0/mandates/%s", url.PathEscape(id))
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
