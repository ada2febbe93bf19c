package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestProbeLookupFindsWorkingRoute(t *testing.T) {
	var getCalls, postCalls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/search/phone":
			atomic.AddInt32(&getCalls, 1)
			http.Error(w, "gone", http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/search/phone":
			atomic.AddInt32(&postCalls, 1)
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["number"] == "" {
				http.Error(w, "missing number", http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"contact": map[string]string{"id": "c-9", "full_name": "Remote Person", "account_id": "a-9"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewProbeLookup(server.URL)

	meta, err := p.Lookup(context.Background(), "+18176630380")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if meta.ContactID != "c-9" || meta.ContactName != "Remote Person" {
		t.Errorf("Unexpected identity: %+v", meta)
	}
	if meta.AccountID != "a-9" {
		t.Errorf("Expected account id from contact payload, got %q", meta.AccountID)
	}

	// The winning route is memoized with a placeholder, not the number.
	memo := p.MemoizedRoute()
	if memo == "" {
		t.Fatal("Expected a memoized route")
	}
	if strings.Contains(memo, "8176630380") {
		t.Errorf("Memoized route must not pin the number: %q", memo)
	}
	if !strings.Contains(memo, numberPlaceholder) {
		t.Errorf("Expected placeholder in memoized route: %q", memo)
	}

	// A repeat lookup goes straight to the memoized route.
	if _, err := p.Lookup(context.Background(), "+15125551234"); err != nil {
		t.Fatalf("Repeat lookup failed: %v", err)
	}
	if got := atomic.LoadInt32(&getCalls); got != 1 {
		t.Errorf("Expected failed GET probed exactly once, got %d", got)
	}
	if got := atomic.LoadInt32(&postCalls); got != 2 {
		t.Errorf("Expected POST used for both lookups, got %d", got)
	}
}

func TestProbeLookupReprobesWhenMemoizedRouteDies(t *testing.T) {
	var mode atomic.Int32 // 0: GET works; 1: GET dead, contacts/lookup works

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/search/phone":
			if mode.Load() != 0 {
				http.Error(w, "gone", http.StatusGone)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"person": map[string]string{"id": "c-1", "name": "First Route"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/contacts/lookup":
			json.NewEncoder(w).Encode(map[string]any{
				"contact": map[string]string{"contact_id": "c-2", "first_name": "Second", "last_name": "Route"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewProbeLookup(server.URL)

	meta, err := p.Lookup(context.Background(), "+18176630380")
	if err != nil || meta.ContactID != "c-1" {
		t.Fatalf("First lookup: meta=%+v err=%v", meta, err)
	}

	mode.Store(1)

	meta, err = p.Lookup(context.Background(), "+18176630380")
	if err != nil {
		t.Fatalf("Lookup after route death failed: %v", err)
	}
	if meta.ContactID != "c-2" {
		t.Errorf("Expected fallback route identity, got %+v", meta)
	}
	if meta.ContactName != "Second Route" {
		t.Errorf("Expected name assembled from first/last, got %q", meta.ContactName)
	}
}

func TestProbeLookupStructurallyInvalidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 with no recognizable record must not be accepted.
		json.NewEncoder(w).Encode(map[string]any{"results": []string{}})
	}))
	defer server.Close()

	p := NewProbeLookup(server.URL)

	if _, err := p.Lookup(context.Background(), "+18176630380"); err == nil {
		t.Error("Expected error for structurally invalid responses")
	}
	if p.MemoizedRoute() != "" {
		t.Error("Expected no route memoized after invalid responses")
	}
}

func TestProbeLookupAllRoutesFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewProbeLookup(server.URL)
	if _, err := p.Lookup(context.Background(), "+18176630380"); err == nil {
		t.Error("Expected error when every route fails")
	}
}

func TestSearchResponseCompanyOnly(t *testing.T) {
	payload := []byte(`{"company": {"account_id": "a-5", "company_name": "Lone Star Freight", "domain": "lonestar.example", "logo": "https://cdn.example/l.png"}}`)

	var sr searchResponse
	if err := json.Unmarshal(payload, &sr); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	meta, ok := sr.toMeta()
	if !ok {
		t.Fatal("Expected a valid record")
	}
	if meta.AccountID != "a-5" || meta.AccountName != "Lone Star Freight" {
		t.Errorf("Unexpected account mapping: %+v", meta)
	}
	if meta.LogoURL != "https://cdn.example/l.png" {
		t.Errorf("Expected alternate logo key honored, got %q", meta.LogoURL)
	}
	if !meta.IsCompanyPhone {
		t.Error("Company-only response must be flagged as company phone")
	}
}
