// Package generator orders extracted rows so NOT NULL foreign keys
// always point at already-inserted rows, deferring nullable references
// that cannot be satisfied at insert time to follow-up updates.
package generator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/abridge-db/abridge/internal/extractor"
	"github.com/abridge-db/abridge/internal/model"
	"github.com/abridge-db/abridge/internal/schema"
)

// ErrCyclicDependency is returned when the NOT NULL foreign-key graph
// contains a cycle that no nullable edge can break.
var ErrCyclicDependency = errors.New("cyclic dependency")

// InsertStatement inserts one full row.
type InsertStatement struct {
	Table *schema.Table
	Row   []any
}

// UpdateStatement sets deferred foreign-key columns on a row identified
// by its effective primary key.
type UpdateStatement struct {
	Table     *schema.Table
	KeyCols   []*schema.Column
	KeyValues []any
	SetCols   []*schema.Column
	SetValues []any
}

// Generator holds the computed ordering and the statement stream.
type Generator struct {
	Schema *schema.Schema
	Model  *model.Model

	TableOrder          []*schema.Table
	DeferredUpdateRules map[*schema.Table][]*schema.Column
	Inserts             []InsertStatement
	Updates             []UpdateStatement
}

// New computes the table order and deferred-update rules, then derives
// the statement stream from the extractor's results.
func New(s *schema.Schema, ex *extractor.Extractor) (*Generator, error) {
	g := &Generator{Schema: s, Model: ex.Model()}

	if err := g.makeTableOrder(); err != nil {
		return nil, err
	}
	g.makeDeferredUpdateRules()
	g.generateStatements(ex.Results())
	return g, nil
}

// notNullTablesGraph maps each table onto the set of tables it must be
// inserted after: destinations of its NOT NULL foreign keys, plus those
// of foreign keys promoted by not-null-columns.
func (g *Generator) notNullTablesGraph() map[*schema.Table]map[*schema.Table]struct{} {
	graph := make(map[*schema.Table]map[*schema.Table]struct{})
	for _, table := range g.Schema.Tables {
		graph[table] = make(map[*schema.Table]struct{})
	}

	for _, table := range g.Schema.Tables {
		for _, fk := range table.ForeignKeys {
			if fk.NotNull {
				graph[table][fk.DstCols[0].Table] = struct{}{}
			}
		}
	}

	for _, notNullCol := range g.Model.NotNullCols {
		graph[notNullCol.Table][notNullCol.ForeignKey.DstCols[0].Table] = struct{}{}
	}

	return graph
}

// makeTableOrder topologically sorts the NOT NULL dependency graph,
// emitting each rank sorted by table name for determinism.
func (g *Generator) makeTableOrder() error {
	graph := g.notNullTablesGraph()
	for table, deps := range graph {
		delete(deps, table)
	}

	remaining := len(graph)
	for remaining > 0 {
		var ready []*schema.Table
		for table, deps := range graph {
			if len(deps) == 0 {
				ready = append(ready, table)
			}
		}
		if len(ready) == 0 {
			var names []string
			for table := range graph {
				names = append(names, table.Name)
			}
			sort.Strings(names)
			return fmt.Errorf("%w amongst tables %s", ErrCyclicDependency, strings.Join(names, ", "))
		}

		sort.Slice(ready, func(i, j int) bool { return ready[i].Name < ready[j].Name })
		g.TableOrder = append(g.TableOrder, ready...)

		for _, table := range ready {
			delete(graph, table)
		}
		for _, deps := range graph {
			for _, table := range ready {
				delete(deps, table)
			}
		}
		remaining = len(graph)
	}

	return nil
}

// makeDeferredUpdateRules collects, per table, the nullable unpromoted
// foreign-key source columns whose destination table is ordered at or
// after the table itself. Those columns are inserted as NULL and set by
// a later update, breaking residual cycles through nullable edges.
func (g *Generator) makeDeferredUpdateRules() {
	promoted := make(map[*schema.Column]struct{})
	for _, notNullCol := range g.Model.NotNullCols {
		for _, c := range notNullCol.ForeignKey.SrcCols {
			promoted[c] = struct{}{}
		}
	}

	order := make(map[*schema.Table]int, len(g.TableOrder))
	for i, table := range g.TableOrder {
		order[table] = i
	}

	g.DeferredUpdateRules = make(map[*schema.Table][]*schema.Column)
	for _, table := range g.TableOrder {
		srcIndex := order[table]
		seen := make(map[*schema.Column]struct{})
		var cols []*schema.Column
		for _, fk := range table.ForeignKeys {
			dstIndex := order[fk.DstCols[0].Table]
			if dstIndex < srcIndex {
				continue
			}
			for _, c := range fk.SrcCols {
				_, isPromoted := promoted[c]
				if c.NotNull || isPromoted {
					continue
				}
				if _, ok := seen[c]; ok {
					continue
				}
				seen[c] = struct{}{}
				cols = append(cols, c)
			}
		}
		sort.Slice(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
		g.DeferredUpdateRules[table] = cols
	}
}

// generateStatements walks tables in order and rows in sorted order,
// splitting off deferred column values into update statements.
func (g *Generator) generateStatements(results *extractor.Results) {
	stored := make(map[*schema.Table]struct{})
	for _, table := range results.Tables() {
		stored[table] = struct{}{}
	}

	for _, table := range g.TableOrder {
		if _, ok := stored[table]; !ok {
			continue
		}

		deferredCols := g.DeferredUpdateRules[table]
		for _, resultsRow := range results.TableRows(table) {
			row := make([]any, len(resultsRow.Row))
			copy(row, resultsRow.Row)

			keyValues := make([]any, len(table.EffectivePrimaryKeyIndexes))
			for i, idx := range table.EffectivePrimaryKeyIndexes {
				keyValues[i] = row[idx]
			}

			var updateCols []*schema.Column
			var updateValues []any
			for _, c := range deferredCols {
				if value := row[c.Position]; value != nil {
					updateCols = append(updateCols, c)
					updateValues = append(updateValues, value)
					row[c.Position] = nil
				}
			}

			if len(updateCols) > 0 {
				g.Updates = append(g.Updates, UpdateStatement{
					Table:     table,
					KeyCols:   table.EffectivePrimaryKey,
					KeyValues: keyValues,
					SetCols:   updateCols,
					SetValues: updateValues,
				})
			}

			for i := 0; i < resultsRow.Count; i++ {
				g.Inserts = append(g.Inserts, InsertStatement{Table: table, Row: row})
			}
		}
	}
}
