package kvstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/persistence/database"
)

// SQLStore persists values in the kv_entries table of a sqlite or libsql
// database, isolated by scope.
type SQLStore struct {
	db            *database.DB
	scope         string
	maxValueBytes int
}

// NewSQLStore creates the schema if needed and returns a store for scope.
func NewSQLStore(db *database.DB, scope string, maxValueBytes int) (*SQLStore, error) {
	if err := database.NewTableCreator().CreateSchema(db); err != nil {
		return nil, fmt.Errorf("failed to prepare kv schema: %w", err)
	}
	return &SQLStore{db: db, scope: scope, maxValueBytes: maxValueBytes}, nil
}

func (s *SQLStore) Get(key string) (string, bool, error) {
	query := `SELECT value FROM kv_entries WHERE scope = ? AND key = ?`
	start := time.Now()
	var value string
	err := s.db.QueryRow(query, s.scope, key).Scan(&value)
	s.db.CheckSlowQuery(query, time.Since(start))
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(key, value string) error {
	if s.maxValueBytes > 0 && len(value) > s.maxValueBytes {
		return fmt.Errorf("set %s (%d bytes): %w", key, len(value), ErrQuotaExceeded)
	}
	query := `INSERT INTO kv_entries (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	start := time.Now()
	_, err := s.db.Exec(query, s.scope, key, value, time.Now().UTC())
	s.db.CheckSlowQuery(query, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(key string) error {
	query := `DELETE FROM kv_entries WHERE scope = ? AND key = ?`
	start := time.Now()
	_, err := s.db.Exec(query, s.scope, key)
	s.db.CheckSlowQuery(query, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
