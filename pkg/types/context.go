package types

import "sync"

// CallContext describes who the engine is currently talking to. One context
// is live per engine session; it is owned by a ContextStore and must not be
// shared mutably across goroutines.
type CallContext struct {
	Number      string `json:"number"`       // canonical dialed/caller number
	Name        string `json:"name"`         // resolved person name
	ContactName string `json:"contact_name"` // CRM contact display name
	Company     string `json:"company"`      // resolved organization name
	AccountName string `json:"account_name"` // CRM account display name
	ContactID   string `json:"contact_id"`   // empty = not yet resolved
	AccountID   string `json:"account_id"`   // empty = not yet resolved
	Title       string `json:"title"`
	City        string `json:"city"`
	State       string `json:"state"`
	Domain      string `json:"domain"`
	LogoURL     string `json:"logo_url"`

	IsCompanyPhone bool `json:"is_company_phone"`
	IsActive       bool `json:"is_active"`
}

// HasIdentity reports whether any identity signal is present. Resolution is
// skipped entirely when this is true, so a slow lookup can never overwrite a
// fast, page-supplied context.
func (c *CallContext) HasIdentity() bool {
	return c.ContactID != "" || c.AccountID != "" || c.Name != "" || c.ContactName != "" || c.Company != "" || c.AccountName != ""
}

// ContextUpdate is a partial update to a CallContext. Empty string fields are
// ignored; boolean fields are only applied when the pointer is non-nil.
type ContextUpdate struct {
	Number      string `json:"number"`
	Name        string `json:"name"`
	ContactName string `json:"contact_name"`
	Company     string `json:"company"`
	AccountName string `json:"account_name"`
	ContactID   string `json:"contact_id"`
	AccountID   string `json:"account_id"`
	Title       string `json:"title"`
	City        string `json:"city"`
	State       string `json:"state"`
	Domain      string `json:"domain"`
	LogoURL     string `json:"logo_url"`

	IsCompanyPhone *bool `json:"is_company_phone"`
	IsActive       *bool `json:"is_active"`
}

// ContextStore owns the single mutable CallContext for an engine session.
// All access goes through the store so partial updates can enforce the merge
// rules: identity is only ever enriched within one call attempt, never
// regressed.
type ContextStore struct {
	mu      sync.RWMutex
	current CallContext

	// stale marks a context whose call has ended. Identity fields survive
	// teardown so recent-call consumers can still attribute the call; the
	// next unrelated attempt clears them.
	stale bool
}

// NewContextStore creates an empty context store.
func NewContextStore() *ContextStore {
	return &ContextStore{}
}

// Get returns a copy of the current context.
func (s *ContextStore) Get() CallContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Snapshot returns an immutable copy to be threaded through a pending
// asynchronous operation. A concurrent Clear or BeginAttempt elsewhere
// cannot corrupt the snapshot.
func (s *ContextStore) Snapshot() CallContext {
	return s.Get()
}

// Apply merges a partial update into the context. Identity keys
// (ContactID, AccountID) are write-once per attempt in the sense that an
// empty incoming value never clears a known one. A present ContactID forces
// IsCompanyPhone to false.
func (s *ContextStore) Apply(u ContextUpdate) CallContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &s.current

	applyIfSet(&c.Number, u.Number)
	applyIfSet(&c.Name, u.Name)
	applyIfSet(&c.ContactName, u.ContactName)
	applyIfSet(&c.Company, u.Company)
	applyIfSet(&c.AccountName, u.AccountName)
	applyIfSet(&c.ContactID, u.ContactID)
	applyIfSet(&c.AccountID, u.AccountID)
	applyIfSet(&c.Title, u.Title)
	applyIfSet(&c.City, u.City)
	applyIfSet(&c.State, u.State)
	applyIfSet(&c.Domain, u.Domain)
	applyIfSet(&c.LogoURL, u.LogoURL)

	if u.IsCompanyPhone != nil {
		c.IsCompanyPhone = *u.IsCompanyPhone
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}

	// A known contact implies the number is not a bare company line.
	if c.ContactID != "" {
		c.IsCompanyPhone = false
	}

	s.stale = false
	return s.current
}

// Fill merges resolved identity additively: a field already non-empty in the
// context is never replaced, only filled in when empty.
func (s *ContextStore) Fill(meta IdentityMeta) CallContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &s.current

	fillIfEmpty(&c.Number, meta.Number)
	fillIfEmpty(&c.Name, meta.Name)
	fillIfEmpty(&c.ContactName, meta.ContactName)
	fillIfEmpty(&c.Company, meta.Company)
	fillIfEmpty(&c.AccountName, meta.AccountName)
	fillIfEmpty(&c.ContactID, meta.ContactID)
	fillIfEmpty(&c.AccountID, meta.AccountID)
	fillIfEmpty(&c.Title, meta.Title)
	fillIfEmpty(&c.City, meta.City)
	fillIfEmpty(&c.State, meta.State)
	fillIfEmpty(&c.Domain, meta.Domain)
	fillIfEmpty(&c.LogoURL, meta.LogoURL)

	if meta.IsCompanyPhone && c.ContactID == "" {
		c.IsCompanyPhone = true
	}
	if c.ContactID != "" {
		c.IsCompanyPhone = false
	}

	return s.current
}

// BeginAttempt prepares the context for a new call attempt with the given
// canonical number. A stale context from a previous call, or a context for a
// different number, is fully cleared first; a pre-seeded context for the same
// number is kept.
func (s *ContextStore) BeginAttempt(number string) CallContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stale || (s.current.Number != "" && s.current.Number != number) {
		s.current = CallContext{}
	}

	s.current.Number = number
	s.current.IsActive = true
	s.stale = false
	return s.current
}

// EndAttempt marks the call over. Identity fields are preserved for exactly
// long enough for recent-call consumers to attribute the just-ended call;
// the next unrelated BeginAttempt clears them.
func (s *ContextStore) EndAttempt() CallContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.IsActive = false
	s.stale = true
	return s.current
}

// Clear fully resets the context.
func (s *ContextStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = CallContext{}
	s.stale = false
}

func applyIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fillIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
