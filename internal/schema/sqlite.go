package schema

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// fkClausePattern pulls foreign key clauses out of a CREATE TABLE
// statement. PRAGMA foreign_key_list does not report constraint names,
// so they have to be recovered from the table's SQL.
var fkClausePattern = regexp.MustCompile(
	`(?i)(?:CONSTRAINT\s+"?(\w+)"?\s+)?FOREIGN\s+KEY\s*\(\s*(.+?)\s*\)\s+REFERENCES\s+(?:"(.+?)"|([A-Za-z0-9_]+))\s*(?:\(\s*(.+?)\s*\))?`)

// LoadSQLite introspects a SQLite database through its PRAGMA interface
// and returns its schema.
func LoadSQLite(ctx context.Context, db *sql.DB) (*Schema, error) {
	s := New()

	if err := sqliteAddTables(ctx, db, s); err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	for _, table := range s.Tables {
		if err := sqliteAddColumns(ctx, db, table); err != nil {
			return nil, fmt.Errorf("failed to query columns of %s: %w", table.Name, err)
		}
	}
	// Foreign keys resolve destination columns against primary keys, so
	// all columns must be known first.
	for _, table := range s.Tables {
		if err := sqliteAddForeignKeys(ctx, db, s, table); err != nil {
			return nil, err
		}
		if err := sqliteAddUniqueIndexes(ctx, db, table); err != nil {
			return nil, fmt.Errorf("failed to query indexes of %s: %w", table.Name, err)
		}
	}

	s.Finalize()
	return s, nil
}

func sqliteAddTables(ctx context.Context, db *sql.DB, s *Schema) error {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		s.AddTable(name)
	}
	return rows.Err()
}

func sqliteAddColumns(ctx context.Context, db *sql.DB, table *Table) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLiteIdent(table.Name)))
	if err != nil {
		return err
	}
	defer rows.Close()

	type pkCol struct {
		col   *Column
		index int
	}
	var pkCols []pkCol

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull bool
		var dflt any
		var pkIndex int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pkIndex); err != nil {
			return err
		}
		col := table.AddColumn(name, notNull)
		if pkIndex > 0 {
			pkCols = append(pkCols, pkCol{col: col, index: pkIndex})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(pkCols) > 0 {
		pk := make([]*Column, len(pkCols))
		for _, pc := range pkCols {
			pk[pc.index-1] = pc.col
		}
		table.PrimaryKey = pk
	}
	return nil
}

func sqliteAddForeignKeys(ctx context.Context, db *sql.DB, s *Schema, table *Table) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteSQLiteIdent(table.Name)))
	if err != nil {
		return fmt.Errorf("failed to query foreign keys of %s: %w", table.Name, err)
	}

	type fkPart struct {
		dstTable string
		srcCol   string
		dstCol   sql.NullString
	}
	parts := make(map[int][]fkPart)
	var order []int

	for rows.Next() {
		var id, seq int
		var dstTable, srcCol string
		var dstCol sql.NullString
		var onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &dstTable, &srcCol, &dstCol, &onUpdate, &onDelete, &match); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan foreign key of %s: %w", table.Name, err)
		}
		if _, seen := parts[id]; !seen {
			order = append(order, id)
		}
		parts[id] = append(parts[id], fkPart{dstTable: dstTable, srcCol: srcCol, dstCol: dstCol})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(parts) == 0 {
		return nil
	}

	names, err := sqliteForeignKeyNames(ctx, db, table)
	if err != nil {
		return err
	}

	for _, id := range order {
		var srcCols, dstCols []*Column
		var srcNames []string
		for i, part := range parts[id] {
			dstTable := s.TablesByName[part.dstTable]
			if dstTable == nil {
				return fmt.Errorf(
					"%w: %q in foreign key constraint on table %q, column %q",
					ErrUnknownTable, part.dstTable, table.Name, part.srcCol)
			}

			srcCol := table.ColsByName[part.srcCol]
			if srcCol == nil {
				return fmt.Errorf("%w: %q on table %q", ErrUnknownColumn, part.srcCol, table.Name)
			}

			var dstCol *Column
			if part.dstCol.Valid {
				dstCol = dstTable.ColsByName[part.dstCol.String]
				if dstCol == nil {
					return fmt.Errorf("%w: %q on table %q", ErrUnknownColumn, part.dstCol.String, dstTable.Name)
				}
			} else {
				// An implicit reference targets the destination primary key.
				if dstTable.PrimaryKey == nil || i >= len(dstTable.PrimaryKey) {
					return fmt.Errorf(
						"%w: foreign key on table %q references table %q without a usable primary key",
						ErrRelationIntegrity, table.Name, dstTable.Name)
				}
				dstCol = dstTable.PrimaryKey[i]
			}

			srcCols = append(srcCols, srcCol)
			dstCols = append(dstCols, dstCol)
			srcNames = append(srcNames, srcCol.Name)
		}

		if _, err := s.AddForeignKey(names[strings.Join(srcNames, ",")], srcCols, dstCols); err != nil {
			return err
		}
	}
	return nil
}

// sqliteForeignKeyNames parses the CREATE TABLE statement and returns
// constraint names keyed by the comma-joined source column list.
func sqliteForeignKeyNames(ctx context.Context, db *sql.DB, table *Table) (map[string]string, error) {
	var tableSQL sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT sql FROM sqlite_master WHERE name = ? AND type = 'table'
	`, table.Name).Scan(&tableSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to read table SQL of %s: %w", table.Name, err)
	}

	names := make(map[string]string)
	if !tableSQL.Valid {
		return names, nil
	}

	for _, match := range fkClausePattern.FindAllStringSubmatch(tableSQL.String, -1) {
		name, srcColList := match[1], match[2]
		if name == "" {
			continue
		}
		var srcNames []string
		for _, c := range strings.Split(srcColList, ",") {
			srcNames = append(srcNames, strings.Trim(strings.TrimSpace(c), `"`))
		}
		names[strings.Join(srcNames, ",")] = name
	}
	return names, nil
}

func sqliteAddUniqueIndexes(ctx context.Context, db *sql.DB, table *Table) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteSQLiteIdent(table.Name)))
	if err != nil {
		return err
	}

	type indexEntry struct {
		name   string
		unique bool
	}
	var indexes []indexEntry
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial bool
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return err
		}
		indexes = append(indexes, indexEntry{name: name, unique: unique})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, idx := range indexes {
		if !idx.unique {
			continue
		}
		cols, err := sqliteIndexColumns(ctx, db, table, idx.name)
		if err != nil {
			return err
		}
		if cols != nil {
			table.AddUniqueIndex(idx.name, cols)
		}
	}
	return nil
}

// sqliteIndexColumns returns the columns of an index, or nil when the
// index contains an expression instead of plain columns.
func sqliteIndexColumns(ctx context.Context, db *sql.DB, table *Table, index string) ([]*Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteSQLiteIdent(index)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []*Column
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if !name.Valid {
			return nil, nil
		}
		col := table.ColsByName[name.String]
		if col == nil {
			return nil, fmt.Errorf("%w: %q on table %q", ErrUnknownColumn, name.String, table.Name)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func quoteSQLiteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
