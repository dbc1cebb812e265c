package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// LoadPostgres introspects a PostgreSQL database through pg_catalog and
// returns its schema. All metadata is fetched with batched queries to
// avoid N+1 round trips.
func LoadPostgres(ctx context.Context, db *sql.DB) (*Schema, error) {
	s := New()
	tablesByOID := make(map[int64]*Table)
	colsByAttnum := make(map[int64]map[int]*Column)

	if err := pgAddTables(ctx, db, s, tablesByOID); err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	if err := pgAddColumns(ctx, db, tablesByOID, colsByAttnum); err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	if err := pgAddPrimaryKeys(ctx, db, tablesByOID, colsByAttnum); err != nil {
		return nil, fmt.Errorf("failed to query primary keys: %w", err)
	}
	if err := pgAddForeignKeys(ctx, db, s, tablesByOID, colsByAttnum); err != nil {
		return nil, err
	}
	if err := pgAddUniqueIndexes(ctx, db, tablesByOID, colsByAttnum); err != nil {
		return nil, fmt.Errorf("failed to query unique indexes: %w", err)
	}

	s.Finalize()
	return s, nil
}

func pgAddTables(ctx context.Context, db *sql.DB, s *Schema, tablesByOID map[int64]*Table) error {
	query := `
		SELECT c.oid, c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r'
			AND n.nspname NOT IN ('information_schema', 'pg_catalog')
		ORDER BY c.relname
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var oid int64
		var name string
		if err := rows.Scan(&oid, &name); err != nil {
			return err
		}
		tablesByOID[oid] = s.AddTable(name)
	}
	return rows.Err()
}

func pgAddColumns(ctx context.Context, db *sql.DB, tablesByOID map[int64]*Table, colsByAttnum map[int64]map[int]*Column) error {
	query := `
		SELECT c.oid, a.attname, a.attnum, a.attnotnull
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid
		WHERE c.relkind = 'r'
			AND n.nspname NOT IN ('information_schema', 'pg_catalog')
			AND a.attnum > 0
			AND NOT a.attisdropped
		ORDER BY c.relname, a.attnum
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var oid int64
		var name string
		var attnum int
		var notNull bool
		if err := rows.Scan(&oid, &name, &attnum, &notNull); err != nil {
			return err
		}
		table, ok := tablesByOID[oid]
		if !ok {
			continue
		}
		col := table.AddColumn(name, notNull)
		if colsByAttnum[oid] == nil {
			colsByAttnum[oid] = make(map[int]*Column)
		}
		colsByAttnum[oid][attnum] = col
	}
	return rows.Err()
}

func pgAddPrimaryKeys(ctx context.Context, db *sql.DB, tablesByOID map[int64]*Table, colsByAttnum map[int64]map[int]*Column) error {
	query := `
		SELECT conrelid, array_to_string(conkey, ' ')
		FROM pg_constraint
		WHERE contype = 'p'
		ORDER BY conrelid
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var oid int64
		var attnums string
		if err := rows.Scan(&oid, &attnums); err != nil {
			return err
		}
		table, ok := tablesByOID[oid]
		if !ok {
			continue
		}
		cols, err := pgResolveAttnums(colsByAttnum[oid], attnums)
		if err != nil {
			return err
		}
		table.PrimaryKey = cols
	}
	return rows.Err()
}

func pgAddForeignKeys(ctx context.Context, db *sql.DB, s *Schema, tablesByOID map[int64]*Table, colsByAttnum map[int64]map[int]*Column) error {
	query := `
		SELECT conname, conrelid, array_to_string(conkey, ' '),
			confrelid, array_to_string(confkey, ' ')
		FROM pg_constraint
		WHERE contype = 'f'
		ORDER BY conrelid, conname
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var srcOID, dstOID int64
		var srcAttnums, dstAttnums string
		if err := rows.Scan(&name, &srcOID, &srcAttnums, &dstOID, &dstAttnums); err != nil {
			return fmt.Errorf("failed to scan foreign key: %w", err)
		}
		if tablesByOID[srcOID] == nil || tablesByOID[dstOID] == nil {
			continue
		}
		srcCols, err := pgResolveAttnums(colsByAttnum[srcOID], srcAttnums)
		if err != nil {
			return err
		}
		dstCols, err := pgResolveAttnums(colsByAttnum[dstOID], dstAttnums)
		if err != nil {
			return err
		}
		if _, err := s.AddForeignKey(name, srcCols, dstCols); err != nil {
			return err
		}
	}
	return rows.Err()
}

func pgAddUniqueIndexes(ctx context.Context, db *sql.DB, tablesByOID map[int64]*Table, colsByAttnum map[int64]map[int]*Column) error {
	query := `
		SELECT t.oid, i.relname, ix.indkey::text
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		WHERE t.relkind = 'r' AND ix.indisunique
		ORDER BY t.relname, i.relname
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var oid int64
		var name, attnums string
		if err := rows.Scan(&oid, &name, &attnums); err != nil {
			return err
		}
		table, ok := tablesByOID[oid]
		if !ok {
			continue
		}
		// Expression indexes reference attnum 0 and carry no plain
		// column identity, so they cannot serve as a row identity.
		if strings.Contains(" "+attnums+" ", " 0 ") {
			continue
		}
		cols, err := pgResolveAttnums(colsByAttnum[oid], attnums)
		if err != nil {
			return err
		}
		table.AddUniqueIndex(name, cols)
	}
	return rows.Err()
}

// pgResolveAttnums maps a space-separated attnum list to columns.
func pgResolveAttnums(cols map[int]*Column, attnums string) ([]*Column, error) {
	fields := strings.Fields(attnums)
	result := make([]*Column, 0, len(fields))
	for _, f := range fields {
		attnum, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse attnum %q: %w", f, err)
		}
		col, ok := cols[attnum]
		if !ok {
			return nil, fmt.Errorf("no column with attnum %d", attnum)
		}
		result = append(result, col)
	}
	return result, nil
}
