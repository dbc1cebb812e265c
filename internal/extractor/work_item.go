package extractor

import (
	"fmt"
	"strings"

	"github.com/abridge-db/abridge/internal/model"
	"github.com/abridge-db/abridge/internal/schema"
)

// WorkItem is one pending fetch: rows of a table restricted to value
// tuples over some columns, or a full table scan when Cols is nil.
type WorkItem struct {
	Subject *model.Subject
	Table   *schema.Table
	Cols    []*schema.Column
	Values  [][]any
	Sticky  bool
	Depth   int

	history []historyCrumb
}

// historyCrumb is one hop of an explain trail.
type historyCrumb struct {
	table  string
	cols   string
	values string
	sticky bool
}

func newWorkItem(subject *model.Subject, table *schema.Table, cols []*schema.Column, values [][]any, sticky bool, parent *WorkItem, parentRow *ResultsRow) *WorkItem {
	w := &WorkItem{
		Subject: subject,
		Table:   table,
		Cols:    cols,
		Values:  values,
		Sticky:  sticky,
	}
	if parent != nil {
		w.Depth = parent.Depth + 1
	}
	w.setHistory(parent, parentRow)
	return w
}

// valueHash identifies one (subject, table, columns, value, sticky)
// combination for the seen-set.
func (w *WorkItem) valueHash(value []any) string {
	return w.colsPrefix() + "\x1e" + valueKey(value)
}

// nonValueHash identifies a full-table-scan work item.
func (w *WorkItem) nonValueHash() string {
	return fmt.Sprintf("%d\x1e%s\x1e%t", w.Subject.ID, w.Table.Name, w.Sticky)
}

func (w *WorkItem) colsPrefix() string {
	names := make([]string, len(w.Cols))
	for i, c := range w.Cols {
		names[i] = c.Name
	}
	return fmt.Sprintf("%d\x1e%s\x1e%s\x1e%t",
		w.Subject.ID, w.Table.Name, strings.Join(names, ","), w.Sticky)
}

func (w *WorkItem) makeCrumb() historyCrumb {
	if w.Values == nil {
		return historyCrumb{table: w.Table.Name, sticky: w.Sticky}
	}
	cols := make([]string, len(w.Cols))
	for i, c := range w.Cols {
		cols[i] = c.Name
	}
	values := make([]string, len(w.Values[0]))
	for i, v := range w.Values[0] {
		values[i] = fmt.Sprintf("%v", v)
	}
	colsCSV := strings.Join(cols, ",")
	valuesCSV := strings.Join(values, ",")
	if len(w.Values[0]) > 1 {
		colsCSV = "(" + colsCSV + ")"
		valuesCSV = "(" + valuesCSV + ")"
	}
	return historyCrumb{table: w.Table.Name, cols: colsCSV, values: valuesCSV, sticky: w.Sticky}
}

func (w *WorkItem) makeRowCrumb(row *ResultsRow) historyCrumb {
	epk := row.Table.EffectivePrimaryKey
	cols := make([]string, len(epk))
	values := make([]string, len(epk))
	for i, c := range epk {
		cols[i] = c.Name
		values[i] = fmt.Sprintf("%v", row.Row[c.Position])
	}
	colsCSV := strings.Join(cols, ",")
	valuesCSV := strings.Join(values, ",")
	if len(epk) > 1 {
		colsCSV = "(" + colsCSV + ")"
		valuesCSV = "(" + valuesCSV + ")"
	}
	return historyCrumb{table: row.Table.Name, cols: colsCSV, values: valuesCSV, sticky: w.Sticky}
}

func (w *WorkItem) setHistory(parent *WorkItem, parentRow *ResultsRow) {
	if parent == nil {
		w.history = []historyCrumb{w.makeCrumb()}
		return
	}

	w.history = append(w.history, parent.history...)
	if parentRow == nil {
		return
	}

	crumb := w.makeCrumb()
	rowCrumb := w.makeRowCrumb(parentRow)
	if len(w.history) == 0 || w.history[len(w.history)-1] != rowCrumb {
		w.history = append(w.history, rowCrumb)
	}
	if crumb != rowCrumb {
		w.history = append(w.history, crumb)
	}
}

// HistoryString renders the explain trail, marking sticky hops with an
// asterisk.
func (w *WorkItem) HistoryString() string {
	var b strings.Builder
	for i, crumb := range w.history {
		if i > 0 {
			b.WriteString(" -> ")
		}
		if crumb.cols != "" {
			fmt.Fprintf(&b, "%s.%s=%s", crumb.table, crumb.cols, crumb.values)
		} else {
			b.WriteString(crumb.table)
		}
		if crumb.sticky {
			b.WriteString("*")
		}
	}
	return b.String()
}
