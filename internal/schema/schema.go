// Package schema models the relational structure of a source database:
// tables, columns, primary keys, unique indexes and foreign keys, plus
// the derived identity used throughout extraction (the effective
// primary key).
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownTable is returned when a name does not resolve to a table.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn is returned when a name does not resolve to a column.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrRelationIntegrity is returned for schema or configuration shapes
	// that would make referentially consistent output impossible.
	ErrRelationIntegrity = errors.New("relation integrity error")
)

// Column is a single table column.
type Column struct {
	Table   *Table
	Name    string
	NotNull bool
	// Position is the zero-based ordinal of the column within its table.
	Position int
}

func (c *Column) String() string {
	return fmt.Sprintf("%s.%s", c.Table.Name, c.Name)
}

// ForeignKey is a (possibly multi-column) foreign key constraint.
// SrcCols and DstCols are parallel: SrcCols[i] references DstCols[i].
type ForeignKey struct {
	Name    string
	SrcCols []*Column
	DstCols []*Column
	// NotNull is true when every source column is NOT NULL, meaning the
	// reference can never be deferred by inserting NULL first.
	NotNull bool
}

func (fk *ForeignKey) String() string {
	src := make([]string, len(fk.SrcCols))
	dst := make([]string, len(fk.DstCols))
	for i, c := range fk.SrcCols {
		src[i] = c.Name
	}
	for i, c := range fk.DstCols {
		dst[i] = c.Name
	}
	nullability := "nullable"
	if fk.NotNull {
		nullability = "not null"
	}
	return fmt.Sprintf("%s: %s:(%s) -> %s:(%s) %s",
		fk.Name,
		fk.SrcCols[0].Table.Name, strings.Join(src, ","),
		fk.DstCols[0].Table.Name, strings.Join(dst, ","),
		nullability)
}

// UniqueIndex is a unique index over a set of columns. Column order is
// irrelevant for identity purposes.
type UniqueIndex struct {
	Name string
	Cols []*Column
}

// Table is a database table with its columns and constraints.
type Table struct {
	Name                string
	Cols                []*Column
	ColsByName          map[string]*Column
	PrimaryKey          []*Column
	UniqueIndexes       []*UniqueIndex
	ForeignKeys         []*ForeignKey
	IncomingForeignKeys []*ForeignKey

	// EffectivePrimaryKey is the primary key if present, else the
	// shortest unique index, else all columns. Computed by Finalize.
	EffectivePrimaryKey []*Column
	// EffectivePrimaryKeyIndexes holds the column positions of the
	// effective primary key.
	EffectivePrimaryKeyIndexes []int
	// CanHaveDuplicatedRows is true when the table has neither a primary
	// key nor a unique index, so identical rows are legitimate.
	CanHaveDuplicatedRows bool
}

func (t *Table) String() string {
	return t.Name
}

// AddColumn appends a column to the table.
func (t *Table) AddColumn(name string, notNull bool) *Column {
	col := &Column{Table: t, Name: name, NotNull: notNull, Position: len(t.Cols)}
	t.Cols = append(t.Cols, col)
	t.ColsByName[name] = col
	return col
}

// AddUniqueIndex registers a unique index on the table.
func (t *Table) AddUniqueIndex(name string, cols []*Column) *UniqueIndex {
	ui := &UniqueIndex{Name: name, Cols: cols}
	t.UniqueIndexes = append(t.UniqueIndexes, ui)
	return ui
}

// Schema is the introspected structure of a database.
type Schema struct {
	Tables       []*Table
	TablesByName map[string]*Table
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{TablesByName: make(map[string]*Table)}
}

// AddTable appends a table to the schema.
func (s *Schema) AddTable(name string) *Table {
	t := &Table{Name: name, ColsByName: make(map[string]*Column)}
	s.Tables = append(s.Tables, t)
	s.TablesByName[name] = t
	return t
}

// AddForeignKey creates a foreign key and registers it on both the
// source and the destination table. A NOT NULL self-referencing foreign
// key is rejected: no row could ever be inserted into such a table
// without disabling constraints.
func (s *Schema) AddForeignKey(name string, srcCols, dstCols []*Column) (*ForeignKey, error) {
	if len(srcCols) == 0 || len(srcCols) != len(dstCols) {
		return nil, fmt.Errorf("foreign key %q: source and destination column counts must match and be non-empty", name)
	}
	srcTable := srcCols[0].Table
	dstTable := dstCols[0].Table
	for _, c := range srcCols {
		if c.Table != srcTable {
			return nil, fmt.Errorf("foreign key %q: source columns span multiple tables", name)
		}
	}
	for _, c := range dstCols {
		if c.Table != dstTable {
			return nil, fmt.Errorf("foreign key %q: destination columns span multiple tables", name)
		}
	}

	notNull := true
	for _, c := range srcCols {
		if !c.NotNull {
			notNull = false
			break
		}
	}

	if notNull && srcTable == dstTable {
		return nil, fmt.Errorf(
			"%w: table %s has a self referencing not null foreign key; "+
				"no rows could be inserted without disabling foreign key constraints",
			ErrRelationIntegrity, srcTable.Name)
	}

	fk := &ForeignKey{Name: name, SrcCols: srcCols, DstCols: dstCols, NotNull: notNull}
	srcTable.ForeignKeys = append(srcTable.ForeignKeys, fk)
	dstTable.IncomingForeignKeys = append(dstTable.IncomingForeignKeys, fk)
	return fk, nil
}

// Finalize computes each table's effective primary key. Must be called
// once after introspection and before the schema is used.
func (s *Schema) Finalize() {
	for _, t := range s.Tables {
		switch {
		case t.PrimaryKey != nil:
			t.EffectivePrimaryKey = t.PrimaryKey
		case len(t.UniqueIndexes) > 0:
			// The shortest unique index is the cheapest row identity.
			var alt []*Column
			for _, ui := range t.UniqueIndexes {
				if alt == nil || len(ui.Cols) < len(alt) {
					alt = ui.Cols
				}
			}
			t.EffectivePrimaryKey = alt
		default:
			t.EffectivePrimaryKey = t.Cols
			t.CanHaveDuplicatedRows = true
		}

		t.EffectivePrimaryKeyIndexes = make([]int, len(t.EffectivePrimaryKey))
		for i, c := range t.EffectivePrimaryKey {
			t.EffectivePrimaryKeyIndexes[i] = c.Position
		}
	}
}

// RelationEntry is one foreign-key edge in the form used by the
// relations dump and by configuration seeding.
type RelationEntry struct {
	Table   string   `yaml:"table"`
	Column  string   `yaml:"column,omitempty"`
	Columns []string `yaml:"columns,omitempty"`
	Type    string   `yaml:"type,omitempty"`
	Name    *string  `yaml:"name"`
}

// Relations enumerates every foreign key as a pair of entries, one
// incoming and one outgoing. Only incoming entries carry an explicit
// type.
func (s *Schema) Relations() []RelationEntry {
	var entries []RelationEntry
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			var name *string
			if fk.Name != "" {
				n := fk.Name
				name = &n
			}
			entry := RelationEntry{Table: t.Name, Name: name, Type: TypeIncoming}
			if len(fk.SrcCols) == 1 {
				entry.Column = fk.SrcCols[0].Name
			} else {
				cols := make([]string, len(fk.SrcCols))
				for i, c := range fk.SrcCols {
					cols[i] = c.Name
				}
				sort.Strings(cols)
				entry.Columns = cols
			}

			entries = append(entries, entry)

			outgoing := entry
			outgoing.Type = ""
			entries = append(entries, outgoing)
		}
	}
	return entries
}

// Relation type names shared with the extraction model.
const (
	TypeIncoming = "incoming"
	TypeOutgoing = "outgoing"
)
