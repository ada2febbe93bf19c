package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crm-callengine/pkg/types"
)

// numberPlaceholder stands in for the matched phone number when a winning
// route is memoized, so the memo never pins a concrete number.
const numberPlaceholder = "{number}"

// probeRoute is one candidate endpoint+verb+payload combination.
type probeRoute struct {
	Method   string
	Path     string
	QueryKey string // number goes in the query string when set
	BodyKey  string // number goes in a JSON body when set
}

// defaultRoutes is the ordered list of shapes the backend has been observed
// to accept. The first structurally valid response wins.
var defaultRoutes = []probeRoute{
	{Method: http.MethodGet, Path: "/search/phone", QueryKey: "number"},
	{Method: http.MethodPost, Path: "/search/phone", BodyKey: "number"},
	{Method: http.MethodPost, Path: "/contacts/lookup", BodyKey: "phone"},
}

// ProbeLookup implements RemoteLookup by probing candidate endpoints and
// memoizing the first combination that answers with a structurally valid
// record, so repeat lookups skip the failed probes.
type ProbeLookup struct {
	baseURL    string
	httpClient *http.Client
	routes     []probeRoute

	mu       sync.Mutex
	memoized *probeRoute
	memoKey  string // route rendered with numberPlaceholder, for inspection
}

// NewProbeLookup creates a probing lookup client against the CRM backend.
func NewProbeLookup(baseURL string) *ProbeLookup {
	return &ProbeLookup{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		routes:     defaultRoutes,
	}
}

// Lookup resolves a number via the backend search endpoints. A memoized
// successful route is tried first; if it is absent or failing, the candidate
// list is probed in order and the winner memoized.
func (p *ProbeLookup) Lookup(ctx context.Context, number string) (types.IdentityMeta, error) {
	p.mu.Lock()
	memo := p.memoized
	p.mu.Unlock()

	if memo != nil {
		meta, err := p.tryRoute(ctx, *memo, number)
		if err == nil {
			return meta, nil
		}
		// The remembered route stopped working; fall through to a full probe.
		p.mu.Lock()
		p.memoized = nil
		p.memoKey = ""
		p.mu.Unlock()
	}

	var lastErr error
	for _, route := range p.routes {
		meta, err := p.tryRoute(ctx, route, number)
		if err != nil {
			lastErr = err
			continue
		}

		p.mu.Lock()
		r := route
		p.memoized = &r
		p.memoKey = renderRoute(route)
		p.mu.Unlock()

		return meta, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no search routes configured")
	}
	return types.IdentityMeta{}, fmt.Errorf("all search routes failed: %w", lastErr)
}

// MemoizedRoute returns the remembered winning route with the number
// replaced by a placeholder, or empty if no probe has succeeded yet.
func (p *ProbeLookup) MemoizedRoute() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.memoKey
}

func renderRoute(route probeRoute) string {
	if route.QueryKey != "" {
		return fmt.Sprintf("%s %s?%s=%s", route.Method, route.Path, route.QueryKey, numberPlaceholder)
	}
	return fmt.Sprintf("%s %s {%q:%q}", route.Method, route.Path, route.BodyKey, numberPlaceholder)
}

func (p *ProbeLookup) tryRoute(ctx context.Context, route probeRoute, number string) (types.IdentityMeta, error) {
	reqURL := p.baseURL + route.Path

	var body *bytes.Reader
	if route.QueryKey != "" {
		q := url.Values{}
		q.Set(route.QueryKey, number)
		reqURL += "?" + q.Encode()
		body = bytes.NewReader(nil)
	} else {
		payload, err := json.Marshal(map[string]string{route.BodyKey: number})
		if err != nil {
			return types.IdentityMeta{}, fmt.Errorf("failed to marshal lookup payload: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, reqURL, body)
	if err != nil {
		return types.IdentityMeta{}, fmt.Errorf("failed to create request: %w", err)
	}
	if route.BodyKey != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.IdentityMeta{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.IdentityMeta{}, fmt.Errorf("search endpoint error (%d)", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return types.IdentityMeta{}, fmt.Errorf("failed to decode response: %w", err)
	}

	meta, ok := payload.toMeta()
	if !ok {
		return types.IdentityMeta{}, fmt.Errorf("response carries no recognizable record")
	}

	meta.Number = number
	return meta, nil
}

// searchResponse covers the overlapping shapes different backend versions
// return: any of contact/person and account/company, with alternate key
// names inside each.
type searchResponse struct {
	Contact *personPayload  `json:"contact"`
	Person  *personPayload  `json:"person"`
	Account *accountPayload `json:"account"`
	Company *accountPayload `json:"company"`
}

type personPayload struct {
	ID        string `json:"id"`
	ContactID string `json:"contact_id"`
	Name      string `json:"name"`
	FullName  string `json:"full_name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Title     string `json:"title"`
	City      string `json:"city"`
	State     string `json:"state"`
	AccountID string `json:"account_id"`
	Company   string `json:"company"`
}

type accountPayload struct {
	ID      string `json:"id"`
	AcctID  string `json:"account_id"`
	Name    string `json:"name"`
	Company string `json:"company_name"`
	City    string `json:"city"`
	State   string `json:"state"`
	Domain  string `json:"domain"`
	LogoURL string `json:"logo_url"`
	Logo    string `json:"logo"`
}

func (pp *personPayload) id() string {
	return coalesce(pp.ID, pp.ContactID)
}

func (pp *personPayload) name() string {
	if n := coalesce(pp.Name, pp.FullName); n != "" {
		return n
	}
	name := pp.FirstName
	if pp.LastName != "" {
		if name != "" {
			name += " "
		}
		name += pp.LastName
	}
	return name
}

func (ap *accountPayload) id() string {
	return coalesce(ap.ID, ap.AcctID)
}

func (ap *accountPayload) name() string {
	return coalesce(ap.Name, ap.Company)
}

func (ap *accountPayload) logo() string {
	return coalesce(ap.LogoURL, ap.Logo)
}

// toMeta converts a response to an IdentityMeta. The second return value is
// false when the response carries no recognizable record, which is what
// makes a probe structurally invalid.
func (sr *searchResponse) toMeta() (types.IdentityMeta, bool) {
	person := sr.Contact
	if person == nil {
		person = sr.Person
	}
	account := sr.Account
	if account == nil {
		account = sr.Company
	}

	if person == nil && account == nil {
		return types.IdentityMeta{}, false
	}

	var meta types.IdentityMeta
	if person != nil {
		meta.ContactID = person.id()
		meta.Name = person.name()
		meta.ContactName = person.name()
		meta.Title = person.Title
		meta.City = person.City
		meta.State = person.State
		meta.AccountID = person.AccountID
		meta.Company = person.Company
		meta.AccountName = person.Company
	}
	if account != nil {
		if meta.AccountID == "" {
			meta.AccountID = account.id()
		}
		if meta.Company == "" {
			meta.Company = account.name()
			meta.AccountName = account.name()
		}
		if meta.City == "" {
			meta.City = account.City
		}
		if meta.State == "" {
			meta.State = account.State
		}
		meta.Domain = account.Domain
		meta.LogoURL = account.logo()
	}

	meta.IsCompanyPhone = person == nil && account != nil
	return meta, !meta.IsEmpty()
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
