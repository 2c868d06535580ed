// Package directory provides read access to the user/organization
// membership records.
//
// Token claims are authoritative once verified; the directory exists
// for deployments that want role claims re-checked against the database
// on every authenticated request (strict mode). A token can then claim
// at most what the directory records.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/luminate-bi/authcore/pkg/tenant"
)

var (
	// ErrNotMember means the user has no recorded role in the
	// organization.
	ErrNotMember = errors.New("directory: user is not a member of the organization")
	// ErrUnavailable wraps directory database failures.
	ErrUnavailable = errors.New("directory: lookup failed")
)

// Store resolves a user's recorded role within an organization.
type Store interface {
	RecordedRole(ctx context.Context, userID, orgID string) (tenant.Role, error)
}

// PostgresStore reads membership from PostgreSQL.
//
// Schema:
//
//	CREATE TABLE organization_members (
//	    organization_id TEXT NOT NULL,
//	    user_id         TEXT NOT NULL,
//	    role            TEXT NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (organization_id, user_id)
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RecordedRole returns the role recorded for (userID, orgID). Unknown
// role strings in the database decode to viewer, same as token claims.
func (s *PostgresStore) RecordedRole(ctx context.Context, userID, orgID string) (tenant.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role
		FROM organization_members
		WHERE user_id = $1 AND organization_id = $2
	`, userID, orgID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return tenant.ParseRole(role), nil
}
