package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abridge-db/abridge/internal/schema"
)

func twoColumns(t *testing.T) []*schema.Column {
	t.Helper()
	s := schema.New()
	table := s.AddTable("t")
	a := table.AddColumn("a", true)
	b := table.AddColumn("b", true)
	return []*schema.Column{a, b}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1", postgresDialect{}.Placeholder(1))
	assert.Equal(t, "$7", postgresDialect{}.Placeholder(7))
	assert.Equal(t, "?", sqliteDialect{}.Placeholder(1))
	assert.Equal(t, "?", sqliteDialect{}.Placeholder(7))
}

func TestMultiColumnIn(t *testing.T) {
	cols := twoColumns(t)

	t.Run("postgresql uses a row constructor", func(t *testing.T) {
		clause := postgresDialect{}.MultiColumnIn(cols, 2, 1)
		assert.Equal(t, `("a", "b") IN (($1, $2), ($3, $4))`, clause)
	})

	t.Run("sqlite falls back to or-of-ands", func(t *testing.T) {
		clause := sqliteDialect{}.MultiColumnIn(cols, 2, 1)
		assert.Equal(t, `("a"=? AND "b"=?) OR ("a"=? AND "b"=?)`, clause)
	})
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"users"`, quoteIdentifier("users"))
	assert.Equal(t, `"we""ird"`, quoteIdentifier(`we"ird`))
}

func TestEscapeLiteral(t *testing.T) {
	tests := []struct {
		name         string
		value        any
		wantPostgres string
		wantSQLite   string
	}{
		{"null", nil, "NULL", "NULL"},
		{"string", "it's", "'it''s'", "'it''s'"},
		{"int64", int64(42), "42", "42"},
		{"float", 1.5, "1.5", "1.5"},
		{"bool true", true, "TRUE", "1"},
		{"bool false", false, "FALSE", "0"},
		{"bytes", []byte{0xde, 0xad}, `'\xdead'`, "X'dead'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantPostgres, postgresDialect{}.EscapeLiteral(tt.value))
			assert.Equal(t, tt.wantSQLite, sqliteDialect{}.EscapeLiteral(tt.value))
		})
	}

	t.Run("time is quoted", func(t *testing.T) {
		ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
		escaped := postgresDialect{}.EscapeLiteral(ts)
		require.NotEmpty(t, escaped)
		assert.Equal(t, "'2024-03-01 12:30:00+00'", escaped)
	})
}
