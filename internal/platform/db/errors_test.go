package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/tapline/tapline/internal/shared"
)

func TestTranslate(t *testing.T) {
	require.NoError(t, Translate(nil, "x"))

	require.ErrorIs(t, Translate(pgx.ErrNoRows, "bar"), shared.ErrNotFound)

	unique := &pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"}
	require.ErrorIs(t, Translate(fmt.Errorf("insert: %w", unique), "user"), shared.ErrConflict)
	require.True(t, IsUniqueViolation(unique))
	require.False(t, IsUniqueViolation(errors.New("23505")))

	fk := &pgconn.PgError{Code: "23503", ConstraintName: "roles_bar_id_fkey"}
	err := Translate(fk, "role")
	require.ErrorIs(t, err, shared.ErrValidation)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "roles_bar_id_fkey", verr.Field)

	check := &pgconn.PgError{Code: "23514", ConstraintName: "stock_items_unit_factor_check"}
	require.ErrorIs(t, Translate(check, "stock item"), shared.ErrValidation)

	other := errors.New("connection reset")
	err = Translate(other, "bar")
	require.ErrorIs(t, err, other)
	require.NotErrorIs(t, err, shared.ErrNotFound)
}

func TestSchemaDeclaresLedgerTables(t *testing.T) {
	ddl := Schema()
	for _, table := range []string{"bars", "users", "roles", "stock_items", "accounts", "ledger_operations", "idempotency_keys", "audit_logs"} {
		require.Contains(t, ddl, table)
	}
}
