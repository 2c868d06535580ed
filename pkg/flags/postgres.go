package flags

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore reads flag definitions from PostgreSQL.
//
// Schema:
//
//	CREATE TABLE flag_definitions (
//	    key             TEXT PRIMARY KEY,
//	    enabled         BOOLEAN NOT NULL DEFAULT FALSE,
//	    rollout_percent INTEGER NOT NULL DEFAULT 0,
//	    fallback        BOOLEAN NOT NULL DEFAULT FALSE,
//	    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
//	CREATE TABLE flag_overrides (
//	    flag_key   TEXT NOT NULL REFERENCES flag_definitions(key) ON DELETE CASCADE,
//	    scope      TEXT NOT NULL CHECK (scope IN ('org', 'user')),
//	    scope_id   TEXT NOT NULL,
//	    enabled    BOOLEAN NOT NULL,
//	    PRIMARY KEY (flag_key, scope, scope_id)
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetDefinition loads a flag definition and its overrides.
func (s *PostgresStore) GetDefinition(ctx context.Context, key string) (*Definition, error) {
	def := &Definition{
		Key:           key,
		OrgOverrides:  make(map[string]bool),
		UserOverrides: make(map[string]bool),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT enabled, rollout_percent, fallback, updated_at
		FROM flag_definitions
		WHERE key = $1
	`, key)
	err := row.Scan(&def.Enabled, &def.RolloutPercent, &def.Fallback, &def.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrFlagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, scope_id, enabled
		FROM flag_overrides
		WHERE flag_key = $1
	`, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope, scopeID string
		var enabled bool
		if err := rows.Scan(&scope, &scopeID, &enabled); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		switch scope {
		case "org":
			def.OrgOverrides[scopeID] = enabled
		case "user":
			def.UserOverrides[scopeID] = enabled
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return def, nil
}
