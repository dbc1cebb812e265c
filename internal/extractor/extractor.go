// Package extractor walks the foreign-key graph breadth-first from the
// configured subjects and accumulates the minimum row closure that
// honors the extraction model's relations.
package extractor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/abridge-db/abridge/internal/model"
	"github.com/abridge-db/abridge/internal/schema"
)

// RowFetcher is the driver capability the extractor needs: fetch all
// columns of a table, optionally restricted to value tuples over cols.
type RowFetcher interface {
	FetchRows(ctx context.Context, table *schema.Table, cols []*schema.Column, values [][]any) ([][]any, error)
}

// tableRelation is one traversal edge of a subject's relation map,
// pre-resolved to the columns on either side.
type tableRelation struct {
	originTable     *schema.Table
	srcCols         []*schema.Column
	dstCols         []*schema.Column
	propagateSticky bool
	onlyIfSticky    bool
}

// Results stores extracted rows per table, keyed by effective primary
// key value. Collisions merge rather than overwrite, so a row is stored
// at most once.
type Results struct {
	rows map[*schema.Table]map[string]*ResultsRow
}

// Tables returns the tables with at least one stored row, sorted by
// name.
func (r *Results) Tables() []*schema.Table {
	tables := make([]*schema.Table, 0, len(r.rows))
	for t := range r.rows {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables
}

// TableRows returns a table's stored rows sorted by row value.
func (r *Results) TableRows(table *schema.Table) []*ResultsRow {
	bucket := r.rows[table]
	rows := make([]*ResultsRow, 0, len(bucket))
	for _, row := range bucket {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return CompareRows(rows[i].Row, rows[j].Row) < 0 })
	return rows
}

// Flat returns every stored row as (table, row) pairs, tables sorted by
// name, rows by value, duplicates replayed by count.
func (r *Results) Flat() []FlatRow {
	var flat []FlatRow
	for _, table := range r.Tables() {
		for _, row := range r.TableRows(table) {
			for i := 0; i < row.Count; i++ {
				flat = append(flat, FlatRow{Table: table, Row: row.Row, Subjects: row.Subjects})
			}
		}
	}
	return flat
}

// FlatRow is one entry of Results.Flat.
type FlatRow struct {
	Table    *schema.Table
	Row      []any
	Subjects map[int]struct{}
}

// Options configures an extraction run.
type Options struct {
	// Explain switches to per-row traversal that records and prints
	// breadcrumb trails instead of bulk fetches.
	Explain bool
	// ExplainWriter receives the trails. Defaults to io.Discard.
	ExplainWriter io.Writer
}

// Extractor drives the breadth-first traversal.
type Extractor struct {
	db      RowFetcher
	model   *model.Model
	explain bool
	out     io.Writer

	queue   []*WorkItem
	results *Results
	seen    map[string]struct{}

	// subjectTableRelations maps subject ID and table onto the edges to
	// follow when rows of that table are fetched for that subject.
	subjectTableRelations map[int]map[*schema.Table][]tableRelation

	// Stats filled during Launch.
	FetchCount          int
	FetchedRowCount     int
	FetchedRowsPerTable map[*schema.Table]int
	MaxDepth            int
}

// New prepares an extractor: it seeds the work queue from every
// subject's target tables and precomputes each subject's relation map.
func New(db RowFetcher, m *model.Model, opts Options) *Extractor {
	out := opts.ExplainWriter
	if out == nil {
		out = io.Discard
	}

	e := &Extractor{
		db:                    db,
		model:                 m,
		explain:               opts.Explain,
		out:                   out,
		results:               &Results{rows: make(map[*schema.Table]map[string]*ResultsRow)},
		seen:                  make(map[string]struct{}),
		subjectTableRelations: make(map[int]map[*schema.Table][]tableRelation),
		FetchedRowsPerTable:   make(map[*schema.Table]int),
	}

	for _, subject := range m.Subjects {
		for _, target := range subject.Tables {
			var cols []*schema.Column
			var values [][]any
			if target.Values != nil {
				cols = []*schema.Column{target.Column}
				values = make([][]any, len(target.Values))
				for i, v := range target.Values {
					values[i] = []any{v}
				}
			}
			e.queue = append(e.queue, newWorkItem(subject, target.Table, cols, values, true, nil, nil))
		}
		e.subjectTableRelations[subject.ID] = e.makeSubjectTableRelations(subject)
	}

	return e
}

// Results returns the accumulated row closure.
func (e *Extractor) Results() *Results {
	return e.results
}

// Model returns the extraction model driving the traversal.
func (e *Extractor) Model() *model.Model {
	return e.model
}

// makeSubjectTableRelations merges global and subject relations and
// indexes the surviving edges by the table whose rows trigger them. An
// incoming relation on a foreign key triggers on the key's destination
// table; an outgoing one on its source table.
func (e *Extractor) makeSubjectTableRelations(subject *model.Subject) map[*schema.Table][]tableRelation {
	tableRelations := make(map[*schema.Table][]tableRelation)

	merged := model.MergeRelations(append(append([]*model.Relation{}, e.model.Relations...), subject.Relations...))
	for _, relation := range merged {
		fk := relation.ForeignKey
		if relation.Type == model.TypeIncoming {
			key := fk.DstCols[0].Table
			tableRelations[key] = append(tableRelations[key], tableRelation{
				originTable:     relation.Table,
				srcCols:         fk.DstCols,
				dstCols:         fk.SrcCols,
				propagateSticky: relation.PropagateSticky,
				onlyIfSticky:    relation.OnlyIfSticky,
			})
		} else {
			key := fk.SrcCols[0].Table
			tableRelations[key] = append(tableRelations[key], tableRelation{
				originTable:     relation.Table,
				srcCols:         fk.SrcCols,
				dstCols:         fk.DstCols,
				propagateSticky: relation.PropagateSticky,
				onlyIfSticky:    relation.OnlyIfSticky,
			})
		}
	}

	return tableRelations
}

// Launch drains the work queue. It terminates because the seen-set
// grows monotonically over the finite space of reachable work items.
func (e *Extractor) Launch(ctx context.Context) error {
	start := time.Now()

	for len(e.queue) > 0 {
		work := e.queue[0]
		e.queue = e.queue[1:]

		if work.Cols == nil {
			h := work.nonValueHash()
			if _, ok := e.seen[h]; !ok {
				if err := e.processWorkItem(ctx, work); err != nil {
					return err
				}
			}
			e.seen[h] = struct{}{}
			continue
		}

		var newValues [][]any
		for _, value := range work.Values {
			if _, ok := e.seen[work.valueHash(value)]; !ok {
				newValues = append(newValues, value)
			}
		}
		if len(newValues) > 0 {
			work.Values = newValues
			if err := e.processWorkItem(ctx, work); err != nil {
				return err
			}
			for _, value := range newValues {
				e.seen[work.valueHash(value)] = struct{}{}
			}
		}
	}

	log.Info().
		Int("rows", e.FetchedRowCount).
		Int("tables", len(e.FetchedRowsPerTable)).
		Int("queries", e.FetchCount).
		Int("depth", e.MaxDepth).
		Dur("duration", time.Since(start)).
		Msg("Extraction completed")

	return nil
}

func (e *Extractor) processWorkItem(ctx context.Context, work *WorkItem) error {
	if work.Depth > e.MaxDepth {
		e.MaxDepth = work.Depth
	}

	if e.explain {
		fmt.Fprintln(e.out, work.HistoryString())
	}

	log.Debug().
		Int("pass", e.FetchCount+1).
		Int("queued", len(e.queue)).
		Int("depth", work.Depth).
		Int("rows", e.FetchedRowCount).
		Str("table", work.Table.Name).
		Msg("Processing work item")

	fetched, err := e.db.FetchRows(ctx, work.Table, work.Cols, work.Values)
	if err != nil {
		return err
	}
	e.FetchCount++

	if len(fetched) == 0 {
		return nil
	}

	rows := make([]*ResultsRow, len(fetched))
	for i, row := range fetched {
		rows[i] = newResultsRow(work.Table, row)
	}

	processedOutgoing := make(map[*schema.Column]struct{})
	e.processRelations(work, rows, processedOutgoing)
	e.storeRows(work, rows, processedOutgoing)
	return nil
}

// processRelations enqueues follow-up fetches for every relation edge
// triggered by the fetched rows and marks the traversed source columns
// so they escape nulling.
func (e *Extractor) processRelations(work *WorkItem, rows []*ResultsRow, processedOutgoing map[*schema.Column]struct{}) {
	relations := e.subjectTableRelations[work.Subject.ID][work.Table]

	for _, relation := range relations {
		if relation.onlyIfSticky && !work.Sticky {
			continue
		}

		sticky := work.Sticky && relation.propagateSticky
		for _, c := range relation.srcCols {
			processedOutgoing[c] = struct{}{}
		}

		dstTable := relation.dstCols[0].Table
		var dstValues [][]any
		seenDstValues := make(map[string]struct{})

		for _, row := range rows {
			value := make([]any, len(relation.srcCols))
			null := false
			for i, c := range relation.srcCols {
				value[i] = row.Row[c.Position]
				if value[i] == nil {
					null = true
				}
			}
			// A tuple containing NULL references nothing.
			if null {
				continue
			}

			key := valueKey(value)
			if _, ok := seenDstValues[key]; ok {
				continue
			}
			seenDstValues[key] = struct{}{}
			dstValues = append(dstValues, value)

			if e.explain {
				e.queue = append(e.queue, newWorkItem(
					work.Subject, dstTable, relation.dstCols,
					[][]any{value}, sticky, work, row))
			}
		}

		if !e.explain && len(dstValues) > 0 {
			e.queue = append(e.queue, newWorkItem(
				work.Subject, dstTable, relation.dstCols,
				dstValues, sticky, work, nil))
		}
	}
}

// storeRows nulls unfollowed foreign-key columns and merges the rows
// into the results store.
func (e *Extractor) storeRows(work *WorkItem, rows []*ResultsRow, processedOutgoing map[*schema.Column]struct{}) {
	table := work.Table

	var needNulling []int
	for _, fk := range table.ForeignKeys {
		for _, c := range fk.SrcCols {
			if _, ok := processedOutgoing[c]; !ok {
				needNulling = append(needNulling, c.Position)
			}
		}
	}
	for _, row := range rows {
		for _, idx := range needNulling {
			row.Row[idx] = nil
		}
	}

	bucket := e.results.rows[table]
	if bucket == nil {
		bucket = make(map[string]*ResultsRow)
		e.results.rows[table] = bucket
	}

	fetchCounts := make(map[string]int)
	for _, row := range rows {
		row.Subjects[work.Subject.ID] = struct{}{}
		e.FetchedRowCount++
		e.FetchedRowsPerTable[table]++

		key := row.epkKey()
		if table.CanHaveDuplicatedRows {
			fetchCounts[key]++
		}
		if existing, ok := bucket[key]; ok {
			row.Merge(existing)
		}
		bucket[key] = row
	}

	// The most recent fetch's count is authoritative for tables that
	// allow duplicate rows.
	for key, count := range fetchCounts {
		bucket[key].Count = count
	}
}
