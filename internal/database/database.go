// Package database is the driver layer: it opens source and destination
// connections from URLs, fetches rows for the extractor and executes or
// renders the generated insert and update statements.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/abridge-db/abridge/internal/schema"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB is a dialect-aware database connection.
type DB struct {
	db      *sql.DB
	dialect Dialect
	url     string
	schema  *schema.Schema
}

// Connect parses a database URL, opens a connection and verifies it.
func Connect(ctx context.Context, rawURL string) (*DB, error) {
	dialect, dsn, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name(), err)
	}

	log.Debug().Str("dialect", dialect.Name()).Msg("Connected to database")
	return &DB{db: db, dialect: dialect, url: rawURL}, nil
}

// Dialect returns the connection's dialect.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// URL returns the URL the connection was opened with.
func (d *DB) URL() string {
	return d.url
}

// Close releases the connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Schema introspects the connected database, caching the result.
func (d *DB) Schema(ctx context.Context) (*schema.Schema, error) {
	if d.schema != nil {
		return d.schema, nil
	}
	s, err := d.dialect.LoadSchema(ctx, d.db)
	if err != nil {
		return nil, err
	}
	d.schema = s
	return s, nil
}

// Begin opens a transaction on the connection.
func (d *DB) Begin(ctx context.Context) (*sql.Tx, error) {
	return d.db.BeginTx(ctx, nil)
}

// FetchRows selects all columns of the table. With cols set, rows are
// restricted to those whose column tuple matches one of the value
// tuples; with cols nil the whole table is scanned. An empty value list
// fetches nothing without touching the database.
func (d *DB) FetchRows(ctx context.Context, table *schema.Table, cols []*schema.Column, values [][]any) ([][]any, error) {
	if values != nil && len(values) == 0 {
		return nil, nil
	}

	colNames := make([]string, len(table.Cols))
	for i, c := range table.Cols {
		colNames[i] = d.dialect.QuoteIdentifier(c.Name)
	}
	query := "SELECT " + strings.Join(colNames, ", ") +
		" FROM " + d.dialect.QuoteIdentifier(table.Name)

	var args []any
	switch {
	case cols == nil:
	case len(cols) == 1:
		placeholders := make([]string, len(values))
		for i, value := range values {
			placeholders[i] = d.dialect.Placeholder(i + 1)
			args = append(args, value[0])
		}
		query += " WHERE " + d.dialect.QuoteIdentifier(cols[0].Name) +
			" IN (" + strings.Join(placeholders, ", ") + ")"
	default:
		query += " WHERE " + d.dialect.MultiColumnIn(cols, len(values), 1)
		for _, value := range values {
			args = append(args, value...)
		}
	}

	log.Debug().Str("table", table.Name).Int("values", len(values)).Msg("Fetching rows")

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rows from %s: %w", table.Name, err)
	}
	defer rows.Close()

	var fetched [][]any
	for rows.Next() {
		row := make([]any, len(table.Cols))
		dest := make([]any, len(table.Cols))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", table.Name, err)
		}
		fetched = append(fetched, row)
	}
	return fetched, rows.Err()
}

// buildInsert renders a parameterized INSERT for a full row.
func (d *DB) buildInsert(table *schema.Table) string {
	colNames := make([]string, len(table.Cols))
	placeholders := make([]string, len(table.Cols))
	for i, c := range table.Cols {
		colNames[i] = d.dialect.QuoteIdentifier(c.Name)
		placeholders[i] = d.dialect.Placeholder(i + 1)
	}
	return "INSERT INTO " + d.dialect.QuoteIdentifier(table.Name) +
		" (" + strings.Join(colNames, ", ") + ")" +
		" VALUES (" + strings.Join(placeholders, ", ") + ")"
}

// buildUpdate renders a parameterized UPDATE setting setCols on the row
// identified by keyCols.
func (d *DB) buildUpdate(table *schema.Table, keyCols, setCols []*schema.Column) string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(d.dialect.QuoteIdentifier(table.Name))
	b.WriteString(" SET ")
	n := 1
	for i, c := range setCols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.dialect.QuoteIdentifier(c.Name))
		b.WriteString("=")
		b.WriteString(d.dialect.Placeholder(n))
		n++
	}
	b.WriteString(" WHERE ")
	for i, c := range keyCols {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(d.dialect.QuoteIdentifier(c.Name))
		b.WriteString("=")
		b.WriteString(d.dialect.Placeholder(n))
		n++
	}
	return b.String()
}

// InsertRow executes an insert inside the given transaction.
func (d *DB) InsertRow(ctx context.Context, tx *sql.Tx, table *schema.Table, row []any) error {
	if _, err := tx.ExecContext(ctx, d.buildInsert(table), row...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table.Name, err)
	}
	return nil
}

// UpdateRow executes a deferred update inside the given transaction.
func (d *DB) UpdateRow(ctx context.Context, tx *sql.Tx, table *schema.Table, keyCols []*schema.Column, keyValues []any, setCols []*schema.Column, setValues []any) error {
	args := make([]any, 0, len(setValues)+len(keyValues))
	args = append(args, setValues...)
	args = append(args, keyValues...)
	if _, err := tx.ExecContext(ctx, d.buildUpdate(table, keyCols, setCols), args...); err != nil {
		return fmt.Errorf("failed to update %s: %w", table.Name, err)
	}
	return nil
}

// RenderInsert renders an insert as literal SQL text for script output.
func (d *DB) RenderInsert(table *schema.Table, row []any) string {
	colNames := make([]string, len(table.Cols))
	literals := make([]string, len(row))
	for i, c := range table.Cols {
		colNames[i] = d.dialect.QuoteIdentifier(c.Name)
	}
	for i, v := range row {
		literals[i] = d.dialect.EscapeLiteral(v)
	}
	return "INSERT INTO " + d.dialect.QuoteIdentifier(table.Name) +
		" (" + strings.Join(colNames, ", ") + ")" +
		" VALUES (" + strings.Join(literals, ", ") + ");"
}

// RenderUpdate renders a deferred update as literal SQL text.
func (d *DB) RenderUpdate(table *schema.Table, keyCols []*schema.Column, keyValues []any, setCols []*schema.Column, setValues []any) string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(d.dialect.QuoteIdentifier(table.Name))
	b.WriteString(" SET ")
	for i, c := range setCols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.dialect.QuoteIdentifier(c.Name))
		b.WriteString("=")
		b.WriteString(d.dialect.EscapeLiteral(setValues[i]))
	}
	b.WriteString(" WHERE ")
	for i, c := range keyCols {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(d.dialect.QuoteIdentifier(c.Name))
		b.WriteString("=")
		b.WriteString(d.dialect.EscapeLiteral(keyValues[i]))
	}
	b.WriteString(";")
	return b.String()
}
