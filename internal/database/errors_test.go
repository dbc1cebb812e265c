package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyWriteErrorPostgres(t *testing.T) {
	tests := []struct {
		name           string
		code           string
		wantViolation  WriteViolation
		wantConstraint string
	}{
		{"foreign key", "23503", ViolationForeignKey, "orders_user_fk"},
		{"unique", "23505", ViolationUnique, "users_pkey"},
		{"not null", "23502", ViolationNotNull, ""},
		{"unrelated code", "42P01", ViolationNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var constraint string
			if tt.wantViolation != ViolationNone {
				constraint = tt.wantConstraint
			}
			err := fmt.Errorf("exec failed: %w", &pgconn.PgError{
				Code:           tt.code,
				ConstraintName: constraint,
			})

			violation, name := ClassifyWriteError(err)
			assert.Equal(t, tt.wantViolation, violation)
			assert.Equal(t, tt.wantConstraint, name)
		})
	}
}

func TestClassifyWriteErrorNonViolation(t *testing.T) {
	violation, name := ClassifyWriteError(nil)
	assert.Equal(t, ViolationNone, violation)
	assert.Empty(t, name)

	violation, _ = ClassifyWriteError(errors.New("connection refused"))
	assert.Equal(t, ViolationNone, violation)
}

func TestClassifyWriteErrorSQLite(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	_, err := d.db.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = d.db.ExecContext(ctx, `INSERT INTO t VALUES (1, 'a')`)
	require.NoError(t, err)

	t.Run("unique violation", func(t *testing.T) {
		_, err := d.db.ExecContext(ctx, `INSERT INTO t VALUES (1, 'b')`)
		require.Error(t, err)

		violation, _ := ClassifyWriteError(err)
		assert.Equal(t, ViolationUnique, violation)
	})

	t.Run("not null violation", func(t *testing.T) {
		_, err := d.db.ExecContext(ctx, `INSERT INTO t (id) VALUES (2)`)
		require.Error(t, err)

		violation, _ := ClassifyWriteError(err)
		assert.Equal(t, ViolationNotNull, violation)
	})
}

func TestWriteViolationString(t *testing.T) {
	assert.Equal(t, "foreign key", ViolationForeignKey.String())
	assert.Equal(t, "unique", ViolationUnique.String())
	assert.Equal(t, "not null", ViolationNotNull.String())
	assert.Equal(t, "none", ViolationNone.String())
}
