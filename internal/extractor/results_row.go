package extractor

import (
	"github.com/abridge-db/abridge/internal/schema"
)

// ResultsRow is one extracted row together with its bookkeeping: the
// subjects that reached it and, for tables allowing duplicates, how
// many identical copies were fetched.
type ResultsRow struct {
	Table    *schema.Table
	Row      []any
	Subjects map[int]struct{}
	Count    int
}

func newResultsRow(table *schema.Table, row []any) *ResultsRow {
	return &ResultsRow{
		Table:    table,
		Row:      row,
		Subjects: make(map[int]struct{}),
		Count:    1,
	}
}

// Merge folds another row for the same effective-primary-key value into
// this one. Non-null values take precedence over nulls; two different
// non-null values never legitimately collide because the key identifies
// one logical row, with nulling the only source of divergence. Subject
// provenance is combined.
func (r *ResultsRow) Merge(other *ResultsRow) {
	for i, v := range r.Row {
		if v == nil && other.Row[i] != nil {
			r.Row[i] = other.Row[i]
		}
	}
	for subject := range other.Subjects {
		r.Subjects[subject] = struct{}{}
	}
}

// epkKey returns the row's identity under its table's effective primary
// key.
func (r *ResultsRow) epkKey() string {
	values := make([]any, len(r.Table.EffectivePrimaryKeyIndexes))
	for i, idx := range r.Table.EffectivePrimaryKeyIndexes {
		values[i] = r.Row[idx]
	}
	return valueKey(values)
}
