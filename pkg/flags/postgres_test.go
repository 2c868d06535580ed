package flags

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresGetDefinition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	updated := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT enabled, rollout_percent, fallback, updated_at").
		WithArgs("new-dashboard").
		WillReturnRows(sqlmock.NewRows([]string{"enabled", "rollout_percent", "fallback", "updated_at"}).
			AddRow(true, 25, false, updated))
	mock.ExpectQuery("SELECT scope, scope_id, enabled").
		WithArgs("new-dashboard").
		WillReturnRows(sqlmock.NewRows([]string{"scope", "scope_id", "enabled"}).
			AddRow("org", "org-a", false).
			AddRow("user", "user-1", true))

	store := NewPostgresStore(db)
	def, err := store.GetDefinition(context.Background(), "new-dashboard")
	require.NoError(t, err)
	assert.Equal(t, "new-dashboard", def.Key)
	assert.True(t, def.Enabled)
	assert.Equal(t, 25, def.RolloutPercent)
	assert.Equal(t, map[string]bool{"org-a": false}, def.OrgOverrides)
	assert.Equal(t, map[string]bool{"user-1": true}, def.UserOverrides)
	assert.Equal(t, updated, def.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDefinitionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT enabled, rollout_percent, fallback, updated_at").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"enabled", "rollout_percent", "fallback", "updated_at"}))

	store := NewPostgresStore(db)
	_, err = store.GetDefinition(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrFlagNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDefinitionStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT enabled, rollout_percent, fallback, updated_at").
		WithArgs("new-dashboard").
		WillReturnError(errors.New("connection refused"))

	store := NewPostgresStore(db)
	_, err = store.GetDefinition(context.Background(), "new-dashboard")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}
