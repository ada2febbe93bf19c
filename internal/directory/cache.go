package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crm-callengine/internal/phone"
	"crm-callengine/pkg/types"
)

// Cache holds the local copy of the CRM directory used for fast identity
// lookups. It is refreshed from the backend and scanned with comparison
// keys, never raw string equality.
type Cache struct {
	mu       sync.RWMutex
	people   []types.Person
	accounts []types.Account
	loadedAt time.Time

	baseURL    string
	httpClient *http.Client
}

// NewCache creates a directory cache backed by the given CRM backend.
func NewCache(baseURL string) *Cache {
	return &Cache{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Refresh reloads people and accounts from the backend directory endpoints.
func (c *Cache) Refresh(ctx context.Context) error {
	var people []types.Person
	if err := c.getJSON(ctx, "/directory/people", &people); err != nil {
		return fmt.Errorf("failed to load people: %w", err)
	}

	var accounts []types.Account
	if err := c.getJSON(ctx, "/directory/accounts", &accounts); err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	c.mu.Lock()
	c.people = people
	c.accounts = accounts
	c.loadedAt = time.Now()
	c.mu.Unlock()

	return nil
}

func (c *Cache) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend error (%d) for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// SetPeople replaces the cached people collection.
func (c *Cache) SetPeople(people []types.Person) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.people = people
	c.loadedAt = time.Now()
}

// SetAccounts replaces the cached accounts collection.
func (c *Cache) SetAccounts(accounts []types.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = accounts
	c.loadedAt = time.Now()
}

// LoadedAt returns when the cache was last populated.
func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// FindPersonByNumber scans cached people for a phone-field match against the
// given comparison keys.
func (c *Cache) FindPersonByNumber(keys []string) (types.Person, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.people {
		for _, field := range p.PhoneFields() {
			if field == "" {
				continue
			}
			if phone.KeysMatch(keys, phone.ComparisonKeys(field)) {
				return p, true
			}
		}
	}
	return types.Person{}, false
}

// FindAccountByNumber scans cached accounts for a phone-field match against
// the given comparison keys.
func (c *Cache) FindAccountByNumber(keys []string) (types.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, a := range c.accounts {
		for _, field := range a.PhoneFields() {
			if field == "" {
				continue
			}
			if phone.KeysMatch(keys, phone.ComparisonKeys(field)) {
				return a, true
			}
		}
	}
	return types.Account{}, false
}

// AccountByID returns the account with the given id.
func (c *Cache) AccountByID(id string) (types.Account, bool) {
	if id == "" {
		return types.Account{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, a := range c.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return types.Account{}, false
}

// AccountForPerson finds the organization a person belongs to: by foreign
// key first, then by normalized company name, then by email domain suffix
// match against account domains.
func (c *Cache) AccountForPerson(p types.Person) (types.Account, bool) {
	if a, ok := c.AccountByID(p.AccountID); ok {
		return a, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if p.CompanyName != "" {
		want := normalizeCompanyName(p.CompanyName)
		for _, a := range c.accounts {
			if normalizeCompanyName(a.Name) == want {
				return a, true
			}
		}
	}

	if domain := emailDomain(p.Email); domain != "" {
		for _, a := range c.accounts {
			if d := accountDomain(a); d != "" && strings.HasSuffix(domain, d) {
				return a, true
			}
		}
	}

	return types.Account{}, false
}

// companySuffixes are legal-form suffixes stripped before name comparison.
var companySuffixes = []string{"inc", "inc.", "llc", "ltd", "ltd.", "corp", "corp.", "co", "co.", "company"}

func normalizeCompanyName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, ",", "")

	fields := strings.Fields(name)
	if len(fields) > 1 {
		last := fields[len(fields)-1]
		for _, suffix := range companySuffixes {
			if last == suffix {
				fields = fields[:len(fields)-1]
				break
			}
		}
	}
	return strings.Join(fields, " ")
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// accountDomain extracts the comparable domain for an account, preferring
// the explicit domain field over the website host.
func accountDomain(a types.Account) string {
	if a.Domain != "" {
		return strings.ToLower(strings.TrimPrefix(a.Domain, "www."))
	}
	if a.Website == "" {
		return ""
	}

	site := a.Website
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	u, err := url.Parse(site)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
}
