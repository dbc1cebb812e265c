package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abridge-db/abridge/internal/schema"
)

// Dialect captures the differences between supported database engines:
// placeholder symbols, identifier quoting, literal escaping for script
// output, multi-column IN syntax and schema introspection.
type Dialect interface {
	// Name is the dialect family name, used for the same-dialect check
	// between source and destination.
	Name() string
	// DriverName is the database/sql driver to open connections with.
	DriverName() string
	// Placeholder returns the parameter placeholder for the n-th
	// argument (1-based).
	Placeholder(n int) string
	// CanGenerateSQL reports whether the dialect supports rendering a
	// runnable SQL script.
	CanGenerateSQL() bool
	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(name string) string
	// EscapeLiteral renders a value as an inline SQL literal.
	EscapeLiteral(value any) string
	// MultiColumnIn builds a WHERE clause matching the column tuple
	// against n value tuples, starting placeholder numbering at next.
	MultiColumnIn(cols []*schema.Column, n, next int) string
	// LoadSchema introspects the connected database.
	LoadSchema(ctx context.Context, db *sql.DB) (*schema.Schema, error)
	// ScriptPrologue and ScriptEpilogue frame a generated SQL script.
	ScriptPrologue() []string
	ScriptEpilogue() []string
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgresql" }
func (postgresDialect) DriverName() string { return "pgx" }
func (postgresDialect) CanGenerateSQL() bool { return true }
func (postgresDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (postgresDialect) QuoteIdentifier(name string) string {
	return quoteIdentifier(name)
}

func (d postgresDialect) EscapeLiteral(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case []byte:
		return `'\x` + hex.EncodeToString(v) + "'"
	default:
		return escapeScalar(value)
	}
}

// MultiColumnIn uses a row-constructor IN, which PostgreSQL plans as an
// efficient semi-join: (c1, c2) IN (($1, $2), ($3, $4)).
func (d postgresDialect) MultiColumnIn(cols []*schema.Column, n, next int) string {
	var b strings.Builder
	b.WriteString("(")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdentifier(col.Name))
	}
	b.WriteString(") IN (")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(next))
			next++
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func (postgresDialect) LoadSchema(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	return schema.LoadPostgres(ctx, db)
}

func (postgresDialect) ScriptPrologue() []string {
	return []string{"BEGIN;", `\set ON_ERROR_STOP`}
}

func (postgresDialect) ScriptEpilogue() []string {
	return []string{"COMMIT;"}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite3" }
func (sqliteDialect) CanGenerateSQL() bool { return true }
func (sqliteDialect) Placeholder(n int) string {
	return "?"
}

func (sqliteDialect) QuoteIdentifier(name string) string {
	return quoteIdentifier(name)
}

func (d sqliteDialect) EscapeLiteral(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "1"
		}
		return "0"
	case []byte:
		return "X'" + hex.EncodeToString(v) + "'"
	default:
		return escapeScalar(value)
	}
}

// MultiColumnIn falls back to OR-of-ANDs since SQLite lacks an indexed
// row-constructor IN: (c1=? AND c2=?) OR (c1=? AND c2=?).
func (d sqliteDialect) MultiColumnIn(cols []*schema.Column, n, next int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString("(")
		for j, col := range cols {
			if j > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString(d.QuoteIdentifier(col.Name))
			b.WriteString("=")
			b.WriteString(d.Placeholder(next))
			next++
		}
		b.WriteString(")")
	}
	return b.String()
}

func (sqliteDialect) LoadSchema(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	return schema.LoadSQLite(ctx, db)
}

func (sqliteDialect) ScriptPrologue() []string {
	return []string{"BEGIN;"}
}

func (sqliteDialect) ScriptEpilogue() []string {
	return []string{"COMMIT;"}
}

// escapeScalar renders dialect-independent literals.
func escapeScalar(value any) string {
	switch v := value.(type) {
	case string:
		return escapeString(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return escapeString(v.Format("2006-01-02 15:04:05.999999-07"))
	default:
		return escapeString(fmt.Sprintf("%v", v))
	}
}
