// Package model builds the validated extraction model: the subjects,
// relations and not-null-column overrides that describe what to pull
// out of a source database, resolved against its schema.
package model

import (
	"errors"
	"fmt"
	"sort"

	"github.com/abridge-db/abridge/internal/schema"
)

// ErrInvalidConfig is returned for structural or semantic violations in
// the extraction configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// TargetTable is one extraction seed: a table, optionally narrowed to
// rows whose column matches one of the given values.
type TargetTable struct {
	Table  *schema.Table
	Column *schema.Column
	Values []any
}

// Subject is a configured starting point for extraction: one or more
// target tables plus subject-local relation overrides.
type Subject struct {
	// ID is the subject's position in the configuration, used to key
	// per-subject state during extraction.
	ID        int
	Tables    []*TargetTable
	Relations []*Relation
}

// NotNullColumn promotes a nullable foreign-key column to be treated as
// NOT NULL during generation ordering.
type NotNullColumn struct {
	Table      *schema.Table
	Column     *schema.Column
	ForeignKey *schema.ForeignKey
}

// Model is the validated extraction model.
type Model struct {
	Schema      *schema.Schema
	Relations   []*Relation
	Subjects    []*Subject
	NotNullCols []*NotNullColumn

	gotRelationDefaults bool
}

// Load validates configuration data against the schema and builds the
// extraction model. The data is the parsed configuration file: a
// sequence of single-key mappings.
func Load(s *schema.Schema, data []any) (*Model, error) {
	m := &Model{Schema: s}

	for _, element := range data {
		key, listData, err := singleKeyEntry(element)
		if err != nil {
			return nil, err
		}

		switch key {
		case "relations":
			if err := m.addRelations(&m.Relations, listData); err != nil {
				return nil, err
			}
		case "subject":
			if err := m.addSubject(listData); err != nil {
				return nil, err
			}
		case "not-null-columns":
			if err := m.addNotNullCols(listData); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown top level key %q", ErrInvalidConfig, key)
		}
	}

	m.finalizeDefaultRelations()
	return m, nil
}

// singleKeyEntry unwraps one element of a single-key-mapping sequence.
func singleKeyEntry(element any) (string, []any, error) {
	mapping, ok := element.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("%w: expected a mapping, got %T", ErrInvalidConfig, element)
	}
	if len(mapping) != 1 {
		keys := make([]string, 0, len(mapping))
		for k := range mapping {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", nil, fmt.Errorf("%w: expected one key, got %v", ErrInvalidConfig, keys)
	}
	for key, value := range mapping {
		listData, ok := value.([]any)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q must hold a sequence", ErrInvalidConfig, key)
		}
		return key, listData, nil
	}
	panic("unreachable")
}

func (m *Model) checkTableAndColumn(tableName string, columnName *string) (*schema.Table, *schema.Column, error) {
	table := m.Schema.TablesByName[tableName]
	if table == nil {
		return nil, nil, fmt.Errorf("%w: %q", schema.ErrUnknownTable, tableName)
	}

	if columnName == nil {
		return table, nil, nil
	}
	col := table.ColsByName[*columnName]
	if col == nil {
		return nil, nil, fmt.Errorf("%w: %q on table %q", schema.ErrUnknownColumn, *columnName, tableName)
	}
	return table, col, nil
}

func (m *Model) addRelations(target *[]*Relation, data []any) error {
	for _, element := range data {
		fields, err := mappingFields(element, "relation", map[string]fieldKind{
			"defaults": kindDefaultsToken,
			"table":    kindString,
			"column":   kindString,
			"name":     kindNullableString,
			"type":     kindRelationType,
			"disabled": kindBool,
			"sticky":   kindBool,
		})
		if err != nil {
			return err
		}

		_, hasDefaults := fields["defaults"]
		_, hasTable := fields["table"]
		if hasDefaults == hasTable {
			return fmt.Errorf("%w: either defaults or table must be set", ErrInvalidConfig)
		}

		if hasTable {
			if err := m.addTableRelation(target, fields); err != nil {
				return err
			}
		} else {
			m.addDefaultRelations(target, fields["defaults"].(string))
		}
	}
	return nil
}

func (m *Model) addTableRelation(target *[]*Relation, fields map[string]any) error {
	tableName := fields["table"].(string)

	columnName, ok := fields["column"].(string)
	if !ok {
		return fmt.Errorf(
			"%w: non default relations must have a column on table %q",
			schema.ErrRelationIntegrity, tableName)
	}

	table, col, err := m.checkTableAndColumn(tableName, &columnName)
	if err != nil {
		return err
	}

	var foreignKey *schema.ForeignKey
	for _, fk := range table.ForeignKeys {
		for _, srcCol := range fk.SrcCols {
			if srcCol == col {
				foreignKey = fk
				break
			}
		}
		if foreignKey != nil {
			break
		}
	}
	if foreignKey == nil {
		return fmt.Errorf(
			"%w: relations can only be used on foreign keys; column %q on table %q isn't a foreign key",
			schema.ErrRelationIntegrity, col.Name, table.Name)
	}

	typ := TypeIncoming
	if t, ok := fields["type"].(string); ok {
		typ = t
	}
	disabled, _ := fields["disabled"].(bool)
	sticky, _ := fields["sticky"].(bool)

	if disabled && typ == TypeOutgoing && foreignKey.NotNull {
		return fmt.Errorf(
			"%w: cannot disable outgoing not null foreign keys on column %s as this would lead to an integrity error",
			schema.ErrRelationIntegrity, col)
	}
	if _, stickySet := fields["sticky"]; stickySet && disabled {
		return fmt.Errorf("%w: the sticky flag is meaningless on disabled relations", ErrInvalidConfig)
	}

	name, _ := fields["name"].(string)
	*target = append(*target, NewRelation(table, foreignKey, name, disabled, sticky, typ))
	return nil
}

// addDefaultRelations expands a defaults token. Outgoing NOT NULL
// relations are always included: a row cannot be inserted without the
// rows its NOT NULL foreign keys point at.
func (m *Model) addDefaultRelations(target *[]*Relation, defaults string) {
	wantOutgoingNullable := defaults == DefaultOutgoingNullable || defaults == DefaultEverything
	wantIncoming := defaults == DefaultIncoming || defaults == DefaultEverything

	for _, table := range m.Schema.Tables {
		for _, fk := range table.ForeignKeys {
			if fk.NotNull || wantOutgoingNullable {
				*target = append(*target, NewRelation(table, fk, "", false, false, TypeOutgoing))
			}
			if wantIncoming {
				*target = append(*target, NewRelation(table, fk, "", false, false, TypeIncoming))
			}
		}
	}

	m.gotRelationDefaults = true
}

// finalizeDefaultRelations applies the implicit defaults. Without an
// explicit defaults token the model follows all outgoing nullable
// foreign keys; outgoing NOT NULL ones are followed unconditionally.
func (m *Model) finalizeDefaultRelations() {
	if !m.gotRelationDefaults {
		m.addDefaultRelations(&m.Relations, DefaultOutgoingNullable)
	}
	m.addDefaultRelations(&m.Relations, DefaultOutgoingNotNull)
	m.Relations = DedupeRelations(m.Relations)
}

func (m *Model) addTables(target *[]*TargetTable, data []any) error {
	for _, element := range data {
		fields, err := mappingFields(element, "table", map[string]fieldKind{
			"table":  kindString,
			"column": kindString,
			"values": kindValues,
		})
		if err != nil {
			return err
		}

		tableName, ok := fields["table"].(string)
		if !ok {
			return fmt.Errorf("%w: a table entry must have a table", ErrInvalidConfig)
		}
		_, hasColumn := fields["column"]
		_, hasValues := fields["values"]
		if hasColumn && !hasValues {
			return fmt.Errorf("%w: a table with a column must have values", ErrInvalidConfig)
		}
		if hasValues && !hasColumn {
			return fmt.Errorf("%w: a table with values must have a column", ErrInvalidConfig)
		}

		var columnName *string
		if hasColumn {
			name := fields["column"].(string)
			columnName = &name
		}
		table, col, err := m.checkTableAndColumn(tableName, columnName)
		if err != nil {
			return err
		}

		var values []any
		if hasValues {
			switch v := fields["values"].(type) {
			case []any:
				values = v
			default:
				values = []any{v}
			}
		}

		*target = append(*target, &TargetTable{Table: table, Column: col, Values: values})
	}
	return nil
}

func (m *Model) addSubject(data []any) error {
	subject := &Subject{ID: len(m.Subjects)}
	m.Subjects = append(m.Subjects, subject)

	for _, element := range data {
		key, listData, err := singleKeyEntry(element)
		if err != nil {
			return err
		}
		switch key {
		case "relations":
			if err := m.addRelations(&subject.Relations, listData); err != nil {
				return err
			}
		case "tables":
			if err := m.addTables(&subject.Tables, listData); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown subject key %q", ErrInvalidConfig, key)
		}
	}

	if len(subject.Tables) == 0 {
		return fmt.Errorf("%w: a subject must have at least one table", ErrInvalidConfig)
	}
	return nil
}

func (m *Model) addNotNullCols(data []any) error {
	for _, element := range data {
		fields, err := mappingFields(element, "not-null-columns", map[string]fieldKind{
			"table":  kindString,
			"column": kindString,
		})
		if err != nil {
			return err
		}

		tableName, ok := fields["table"].(string)
		if !ok {
			return fmt.Errorf("%w: a not-null-columns entry must have a table", ErrInvalidConfig)
		}
		columnName, ok := fields["column"].(string)
		if !ok {
			return fmt.Errorf("%w: a not-null-columns entry must have a column", ErrInvalidConfig)
		}

		table, col, err := m.checkTableAndColumn(tableName, &columnName)
		if err != nil {
			return err
		}

		var foundFK *schema.ForeignKey
		for _, fk := range table.ForeignKeys {
			for _, srcCol := range fk.SrcCols {
				if srcCol == col {
					foundFK = fk
				}
			}
		}
		if foundFK == nil {
			return fmt.Errorf(
				"%w: not-null-columns can only be used on foreign keys; column %q on table %q isn't a foreign key",
				schema.ErrRelationIntegrity, col.Name, table.Name)
		}

		m.NotNullCols = append(m.NotNullCols, &NotNullColumn{
			Table: table, Column: col, ForeignKey: foundFK,
		})
	}
	return nil
}
