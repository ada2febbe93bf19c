// Package reporter pushes finished call attempts to the CRM backend.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crm-callengine/pkg/types"
)

// Reporter posts call logs and leg terminations to the backend. Both calls
// are best-effort from the engine's point of view; the caller decides whether
// a failure is worth more than a log line.
type Reporter struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a reporter for the given backend base URL.
func New(baseURL string) *Reporter {
	return &Reporter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// callLogPayload is the shape of a completed-call report.
type callLogPayload struct {
	CallID      string `json:"call_id"`
	Direction   string `json:"direction"`
	Number      string `json:"number"`
	ContactID   string `json:"contact_id,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	AccountName string `json:"account_name,omitempty"`
	Duration    int    `json:"duration"`
	StartedAt   string `json:"started_at"`
	EndedAt     string `json:"ended_at"`
}

// ReportCompleted logs a finished call with the backend. Only calls that
// actually connected are reported; anything else returns without a request.
func (r *Reporter) ReportCompleted(ctx context.Context, record types.CallRecord) error {
	if record.Outcome != types.OutcomeCompleted {
		return nil
	}

	payload := callLogPayload{
		CallID:      record.ID,
		Direction:   string(record.Direction),
		Number:      record.Number,
		ContactID:   record.ContactID,
		AccountID:   record.AccountID,
		ContactName: record.ContactName,
		AccountName: record.AccountName,
		Duration:    record.Duration,
		StartedAt:   record.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:     record.EndedAt.UTC().Format(time.RFC3339),
	}

	return r.post(ctx, "/calls/log", payload)
}

// TerminateLegs asks the backend to tear down the given provider call legs.
// Used on teardown so half-open legs do not linger server-side.
func (r *Reporter) TerminateLegs(ctx context.Context, legIDs []string) error {
	if len(legIDs) == 0 {
		return nil
	}
	return r.post(ctx, "/calls/terminate", map[string][]string{"legIds": legIDs})
}

func (r *Reporter) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend error (%d) on %s", resp.StatusCode, path)
	}
	return nil
}
