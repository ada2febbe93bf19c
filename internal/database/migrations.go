package database

// GetEmbeddedMigrations returns the built-in migrations as a slice
func GetEmbeddedMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "initial_schema",
			Description: "Create the calls table for recent-call history",
			UpSQL: `-- Table for finished call attempts
CREATE TABLE IF NOT EXISTS calls (
    call_id TEXT PRIMARY KEY,
    direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
    number TEXT NOT NULL,
    contact_id TEXT,
    account_id TEXT,
    contact_name TEXT,
    account_name TEXT,
    outcome TEXT NOT NULL CHECK (outcome IN ('completed', 'failed', 'missed', 'rejected', 'canceled')),
    duration INTEGER NOT NULL DEFAULT 0, -- seconds
    started_at DATETIME NOT NULL,
    ended_at DATETIME NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Index for newest-first recent-call queries
CREATE INDEX IF NOT EXISTS idx_calls_ended_at ON calls(ended_at);

-- Index for per-number lookups
CREATE INDEX IF NOT EXISTS idx_calls_number ON calls(number);`,
			DownSQL: `DROP INDEX IF EXISTS idx_calls_number;
DROP INDEX IF EXISTS idx_calls_ended_at;
DROP TABLE IF EXISTS calls;`,
		},
		{
			Version:     2,
			Name:        "add_attribution_indexes",
			Description: "Index contact and account attribution for CRM-side queries",
			UpSQL: `CREATE INDEX IF NOT EXISTS idx_calls_contact_id ON calls(contact_id);
CREATE INDEX IF NOT EXISTS idx_calls_account_id ON calls(account_id);`,
			DownSQL: `DROP INDEX IF EXISTS idx_calls_account_id;
DROP INDEX IF EXISTS idx_calls_contact_id;`,
		},
	}
}
