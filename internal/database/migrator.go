package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Name        string
	UpSQL       string
	DownSQL     string
	Description string
}

// Migrator handles database migrations
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: []Migration{},
	}
}

// LoadEmbeddedMigrations loads the built-in migrations
func (m *Migrator) LoadEmbeddedMigrations() {
	m.migrations = GetEmbeddedMigrations()

	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// InitSchema initializes the migration tracking table
func (m *Migrator) InitSchema() error {
	createSchemaSQL := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		);
	`

	if _, err := m.db.Exec(createSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// GetCurrentVersion returns the current database schema version
func (m *Migrator) GetCurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current schema version: %w", err)
	}
	return version, nil
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate() error {
	if err := m.InitSchema(); err != nil {
		return err
	}

	currentVersion, err := m.GetCurrentVersion()
	if err != nil {
		return err
	}

	var pending []Migration
	for _, migration := range m.migrations {
		if migration.Version > currentVersion {
			pending = append(pending, migration)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	// Apply migrations in a single transaction
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, migration := range pending {
		if err := m.applyMigration(tx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}

// applyMigration applies a single migration
func (m *Migrator) applyMigration(tx *sql.Tx, migration Migration) error {
	if migration.UpSQL != "" {
		if _, err := tx.Exec(migration.UpSQL); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
	}

	insertSQL := `
		INSERT INTO schema_migrations (version, name, description, applied_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`
	if _, err := tx.Exec(insertSQL, migration.Version, migration.Name, migration.Description); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all applied migrations
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	query := `
		SELECT version, name, description
		FROM schema_migrations
		ORDER BY version
	`

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var migrations []Migration
	for rows.Next() {
		var migration Migration
		if err := rows.Scan(&migration.Version, &migration.Name, &migration.Description); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		migrations = append(migrations, migration)
	}
	return migrations, nil
}
