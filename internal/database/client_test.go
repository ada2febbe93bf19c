package database

import (
	"testing"
	"time"

	"crm-callengine/pkg/types"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(t.TempDir())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.RunEmbeddedMigrations(); err != nil {
		t.Fatalf("RunEmbeddedMigrations failed: %v", err)
	}
	return client
}

func TestMigrationsApplyOnce(t *testing.T) {
	client := newTestClient(t)

	version, err := client.GetMigrator().GetCurrentVersion()
	if err != nil {
		t.Fatalf("GetCurrentVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected schema version 2, got %d", version)
	}

	// Running again is a no-op.
	if err := client.RunEmbeddedMigrations(); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}

	applied, err := client.GetMigrator().GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("Expected 2 applied migrations, got %d", len(applied))
	}
}

func testRecord(id string, endedAt time.Time) types.CallRecord {
	return types.CallRecord{
		ID:          id,
		Direction:   types.CallDirectionOutbound,
		Number:      "+18176630380",
		ContactID:   "c-1",
		AccountID:   "a-1",
		ContactName: "Dana Reeve",
		AccountName: "Reeve Logistics",
		Outcome:     types.OutcomeCompleted,
		Duration:    75,
		StartedAt:   endedAt.Add(-75 * time.Second),
		EndedAt:     endedAt,
	}
}

func TestSaveAndListCalls(t *testing.T) {
	client := newTestClient(t)
	base := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)

	for i, id := range []string{"call-1", "call-2", "call-3"} {
		record := testRecord(id, base.Add(time.Duration(i)*time.Minute))
		if err := client.SaveCall(record); err != nil {
			t.Fatalf("SaveCall(%s) failed: %v", id, err)
		}
	}

	records, err := client.RecentCalls(2)
	if err != nil {
		t.Fatalf("RecentCalls failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].ID != "call-3" || records[1].ID != "call-2" {
		t.Errorf("Expected newest first, got %s then %s", records[0].ID, records[1].ID)
	}
	if records[0].ContactName != "Dana Reeve" || records[0].Duration != 75 {
		t.Errorf("Round-trip mismatch: %+v", records[0])
	}
	if records[0].Outcome != types.OutcomeCompleted {
		t.Errorf("Expected completed outcome, got %s", records[0].Outcome)
	}
}

func TestSaveCallIsIdempotentPerID(t *testing.T) {
	client := newTestClient(t)
	endedAt := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)

	record := testRecord("call-1", endedAt)
	if err := client.SaveCall(record); err != nil {
		t.Fatalf("SaveCall failed: %v", err)
	}
	record.Duration = 80
	if err := client.SaveCall(record); err != nil {
		t.Fatalf("Repeated SaveCall failed: %v", err)
	}

	count, err := client.CallCount()
	if err != nil {
		t.Fatalf("CallCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected one row per call id, got %d", count)
	}
}

func TestRecentCallsEmpty(t *testing.T) {
	client := newTestClient(t)

	records, err := client.RecentCalls(10)
	if err != nil {
		t.Fatalf("RecentCalls failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
}
