package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"crm-callengine/pkg/types"
)

// Client represents a database client with migration support
type Client struct {
	db           *sql.DB
	dataDir      string
	databasePath string
	migrator     *Migrator
}

// NewClient creates a new database client
func NewClient(dataDir string) (*Client, error) {
	// Ensure the data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	databaseDir := filepath.Join(dataDir, "database")
	if err := os.MkdirAll(databaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", databaseDir, err)
	}

	return &Client{
		dataDir:      dataDir,
		databasePath: filepath.Join(databaseDir, "callengine.db"),
	}, nil
}

// Connect opens a connection to the SQLite database
func (c *Client) Connect() error {
	var err error
	c.db, err = sql.Open("sqlite", c.databasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := c.db.Ping(); err != nil {
		c.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := c.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		c.db.Close()
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	c.migrator = NewMigrator(c.db)
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// DB returns the underlying database connection
func (c *Client) DB() *sql.DB {
	return c.db
}

// GetDatabasePath returns the path to the database file
func (c *Client) GetDatabasePath() string {
	return c.databasePath
}

// GetMigrator returns the migrator instance
func (c *Client) GetMigrator() *Migrator {
	return c.migrator
}

// RunEmbeddedMigrations loads and runs the built-in migrations
func (c *Client) RunEmbeddedMigrations() error {
	if c.migrator == nil {
		return fmt.Errorf("migrator not initialized")
	}

	c.migrator.LoadEmbeddedMigrations()
	if err := c.migrator.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveCall persists a finished call attempt.
func (c *Client) SaveCall(record types.CallRecord) error {
	insertSQL := `
		INSERT OR REPLACE INTO calls (
			call_id, direction, number, contact_id, account_id,
			contact_name, account_name, outcome, duration,
			started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(insertSQL,
		record.ID,
		string(record.Direction),
		record.Number,
		record.ContactID,
		record.AccountID,
		record.ContactName,
		record.AccountName,
		string(record.Outcome),
		record.Duration,
		record.StartedAt.UTC(),
		record.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save call %s: %w", record.ID, err)
	}
	return nil
}

// RecentCalls returns the most recently ended calls, newest first.
func (c *Client) RecentCalls(limit int) ([]types.CallRecord, error) {
	query := `
		SELECT call_id, direction, number, contact_id, account_id,
		       contact_name, account_name, outcome, duration,
		       started_at, ended_at
		FROM calls
		ORDER BY ended_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent calls: %w", err)
	}
	defer rows.Close()

	var records []types.CallRecord
	for rows.Next() {
		var r types.CallRecord
		var direction, outcome string
		err := rows.Scan(
			&r.ID, &direction, &r.Number, &r.ContactID, &r.AccountID,
			&r.ContactName, &r.AccountName, &outcome, &r.Duration,
			&r.StartedAt, &r.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call row: %w", err)
		}
		r.Direction = types.CallDirection(direction)
		r.Outcome = types.CallOutcome(outcome)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call rows: %w", err)
	}

	return records, nil
}

// CallCount returns the total number of persisted calls.
func (c *Client) CallCount() (int, error) {
	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM calls").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}
	return count, nil
}
