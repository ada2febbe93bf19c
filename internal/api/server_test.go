package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-callengine/internal/device"
	"crm-callengine/internal/engine"
	"crm-callengine/pkg/types"
)

// fakeEngine records API-driven operations.
type fakeEngine struct {
	guard    *engine.Guard
	contexts *types.ContextStore

	placeCalls []placeCallRequest
	placed     bool
	ended      bool
	accepted   bool
	rejected   bool
	digits     []string
	state      types.CallState
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		guard:    engine.NewGuard(engine.DefaultGuardConfig()),
		contexts: types.NewContextStore(),
		state:    types.CallStateIdle,
	}
}

func (f *fakeEngine) PlaceCall(ctx context.Context, number, displayName string, autoTrigger bool, sourceTag string) bool {
	f.placeCalls = append(f.placeCalls, placeCallRequest{number, displayName, autoTrigger, sourceTag})
	return f.placed
}

func (f *fakeEngine) EndCall() bool                            { return f.ended }
func (f *fakeEngine) AcceptIncoming(ctx context.Context) bool  { return f.accepted }
func (f *fakeEngine) RejectIncoming() bool                     { return f.rejected }
func (f *fakeEngine) SendDigit(digit string) bool              { f.digits = append(f.digits, digit); return true }
func (f *fakeEngine) ActiveState() types.CallState             { return f.state }
func (f *fakeEngine) Contexts() *types.ContextStore            { return f.contexts }
func (f *fakeEngine) Guard() *engine.Guard                     { return f.guard }

type fakeRecentStore struct {
	records []types.CallRecord
	err     error
}

func (f *fakeRecentStore) RecentCalls(limit int) ([]types.CallRecord, error) {
	return f.records, f.err
}

type fakeDeviceStatus struct {
	state device.State
}

func (f *fakeDeviceStatus) State() device.State { return f.state }

type fakeBrokerStatus struct {
	connected bool
}

func (f *fakeBrokerStatus) IsConnected() bool { return f.connected }

func newTestServer(eng *fakeEngine, store RecentCallSource, secret string) *httptest.Server {
	s := NewServer(eng, store, nil, nil, 0, secret)
	return httptest.NewServer(s.routes())
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func TestPlaceCallEndpoint(t *testing.T) {
	eng := newFakeEngine()
	eng.placed = true
	server := newTestServer(eng, nil, "")
	defer server.Close()

	resp := postJSON(t, server.URL+"/calls", map[string]any{
		"number":     "(817) 663-0380",
		"source_tag": engine.SourceUserClick,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["placed"] != true {
		t.Errorf("Expected placed=true, got %+v", body)
	}
	if len(eng.placeCalls) != 1 || eng.placeCalls[0].Number != "(817) 663-0380" {
		t.Errorf("Unexpected engine call: %+v", eng.placeCalls)
	}
}

func TestPlaceCallRequiresNumber(t *testing.T) {
	eng := newFakeEngine()
	server := newTestServer(eng, nil, "")
	defer server.Close()

	resp := postJSON(t, server.URL+"/calls", map[string]any{})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
	if len(eng.placeCalls) != 0 {
		t.Errorf("Expected no engine call, got %+v", eng.placeCalls)
	}
}

func TestEndCallEndpoint(t *testing.T) {
	eng := newFakeEngine()
	eng.ended = true
	server := newTestServer(eng, nil, "")
	defer server.Close()

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/calls/active", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["ended"] != true {
		t.Errorf("Expected ended=true, got %+v", body)
	}
}

func TestAcceptWithoutRingingCall(t *testing.T) {
	eng := newFakeEngine()
	server := newTestServer(eng, nil, "")
	defer server.Close()

	resp := postJSON(t, server.URL+"/calls/active/accept", map[string]any{})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 with no ringing call, got %d", resp.StatusCode)
	}
}

func TestSendDigitValidation(t *testing.T) {
	eng := newFakeEngine()
	server := newTestServer(eng, nil, "")
	defer server.Close()

	resp := postJSON(t, server.URL+"/calls/active/digits", map[string]string{"digit": "55"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for multi-character digit, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/calls/active/digits", map[string]string{"digit": "5"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if len(eng.digits) != 1 || eng.digits[0] != "5" {
		t.Errorf("Unexpected digits: %+v", eng.digits)
	}
}

func TestSetContextEndpoint(t *testing.T) {
	eng := newFakeEngine()
	server := newTestServer(eng, nil, "")
	defer server.Close()

	resp := postJSON(t, server.URL+"/context", map[string]string{
		"number":       "+18176630380",
		"contact_id":   "c-1",
		"contact_name": "Dana Reeve",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	ctx := eng.contexts.Get()
	if ctx.ContactID != "c-1" || ctx.ContactName != "Dana Reeve" {
		t.Errorf("Context not applied: %+v", ctx)
	}
}

func TestRecentCallsEndpoint(t *testing.T) {
	eng := newFakeEngine()
	store := &fakeRecentStore{records: []types.CallRecord{{ID: "call-1", Outcome: types.OutcomeCompleted}}}
	server := newTestServer(eng, store, "")
	defer server.Close()

	resp, err := http.Get(server.URL + "/calls/recent")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var records []types.CallRecord
	json.NewDecoder(resp.Body).Decode(&records)
	if len(records) != 1 || records[0].ID != "call-1" {
		t.Errorf("Unexpected records: %+v", records)
	}
}

func TestActivityEndpoint(t *testing.T) {
	eng := newFakeEngine()
	server := newTestServer(eng, nil, "")
	defer server.Close()

	resp := postJSON(t, server.URL+"/activity", map[string]string{"type": "typing"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/activity", map[string]string{"type": "scroll"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown activity type, got %d", resp.StatusCode)
	}
}

func TestSecretRequired(t *testing.T) {
	eng := newFakeEngine()
	server := newTestServer(eng, nil, "s3cret")
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without secret, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/health?secret=s3cret")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with secret, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	eng := newFakeEngine()
	eng.state = types.CallStateConnected
	s := NewServer(eng, nil, &fakeDeviceStatus{state: device.StateReady}, &fakeBrokerStatus{connected: true}, 0, "")
	server := httptest.NewServer(s.routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["state"] != "connected" {
		t.Errorf("Unexpected health payload: %+v", body)
	}
	if body["device"] != "ready" {
		t.Errorf("Expected device state in health payload, got %+v", body)
	}
	if body["mqtt_connected"] != true {
		t.Errorf("Expected broker connectivity in health payload, got %+v", body)
	}
}

func TestHealthEndpointWithoutBroker(t *testing.T) {
	eng := newFakeEngine()
	server := newTestServer(eng, nil, "")
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["mqtt_connected"] != false {
		t.Errorf("Expected mqtt_connected=false with publishing disabled, got %+v", body)
	}
}
