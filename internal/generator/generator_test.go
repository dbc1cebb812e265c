package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abridge-db/abridge/internal/extractor"
	"github.com/abridge-db/abridge/internal/model"
	"github.com/abridge-db/abridge/internal/schema"
)

type fakeDB struct {
	rowsByTable map[string][][]any
}

func (f *fakeDB) FetchRows(_ context.Context, table *schema.Table, cols []*schema.Column, values [][]any) ([][]any, error) {
	var out [][]any
	for _, row := range f.rowsByTable[table.Name] {
		if cols == nil {
			out = append(out, append([]any{}, row...))
			continue
		}
		for _, value := range values {
			match := true
			for i, c := range cols {
				if row[c.Position] != value[i] {
					match = false
					break
				}
			}
			if match {
				out = append(out, append([]any{}, row...))
				break
			}
		}
	}
	return out, nil
}

func subjectOn(tables ...string) map[string]any {
	var entries []any
	for _, table := range tables {
		entries = append(entries, map[string]any{"table": table})
	}
	return map[string]any{
		"subject": []any{map[string]any{"tables": entries}},
	}
}

func extract(t *testing.T, s *schema.Schema, db *fakeDB, data []any) *extractor.Extractor {
	t.Helper()
	m, err := model.Load(s, data)
	require.NoError(t, err)
	e := extractor.New(db, m, extractor.Options{})
	require.NoError(t, e.Launch(context.Background()))
	return e
}

// cycleFixture builds the mutually referencing pair: test1 has a
// nullable reference to test2, test2 a NOT NULL reference to test1.
func cycleFixture(t *testing.T) (*schema.Schema, *schema.Column) {
	t.Helper()

	s := schema.New()
	test1 := s.AddTable("test1")
	test1ID := test1.AddColumn("id", true)
	test1.PrimaryKey = []*schema.Column{test1ID}
	t2Ref := test1.AddColumn("t2_id", false)

	test2 := s.AddTable("test2")
	test2ID := test2.AddColumn("id", true)
	test2.PrimaryKey = []*schema.Column{test2ID}
	t1Ref := test2.AddColumn("t1_id", true)

	_, err := s.AddForeignKey("test1_t2_fk", []*schema.Column{t2Ref}, []*schema.Column{test2ID})
	require.NoError(t, err)
	_, err = s.AddForeignKey("test2_t1_fk", []*schema.Column{t1Ref}, []*schema.Column{test1ID})
	require.NoError(t, err)
	s.Finalize()

	return s, t2Ref
}

func TestDeferredUpdateBreaksNullableCycle(t *testing.T) {
	s, t2Ref := cycleFixture(t)

	db := &fakeDB{rowsByTable: map[string][][]any{
		"test1": {{1, 2}},
		"test2": {{2, 1}},
	}}
	e := extract(t, s, db, []any{subjectOn("test1", "test2")})

	g, err := New(s, e)
	require.NoError(t, err)

	// test2 depends on test1 through its NOT NULL reference.
	require.Len(t, g.TableOrder, 2)
	assert.Equal(t, "test1", g.TableOrder[0].Name)
	assert.Equal(t, "test2", g.TableOrder[1].Name)

	assert.Equal(t, []*schema.Column{t2Ref}, g.DeferredUpdateRules[s.TablesByName["test1"]])
	assert.Empty(t, g.DeferredUpdateRules[s.TablesByName["test2"]])

	require.Len(t, g.Inserts, 2)
	assert.Equal(t, "test1", g.Inserts[0].Table.Name)
	assert.Equal(t, []any{1, nil}, g.Inserts[0].Row)
	assert.Equal(t, "test2", g.Inserts[1].Table.Name)
	assert.Equal(t, []any{2, 1}, g.Inserts[1].Row)

	require.Len(t, g.Updates, 1)
	update := g.Updates[0]
	assert.Equal(t, "test1", update.Table.Name)
	assert.Equal(t, []any{1}, update.KeyValues)
	assert.Equal(t, []*schema.Column{t2Ref}, update.SetCols)
	assert.Equal(t, []any{2}, update.SetValues)
}

func TestCyclicNotNullDependencyFails(t *testing.T) {
	s := schema.New()
	names := []string{"alpha", "beta", "gamma"}
	ids := make(map[string]*schema.Column)
	refs := make(map[string]*schema.Column)
	for _, name := range names {
		table := s.AddTable(name)
		id := table.AddColumn("id", true)
		table.PrimaryKey = []*schema.Column{id}
		ids[name] = id
		refs[name] = table.AddColumn("next_id", true)
	}
	for i, name := range names {
		next := names[(i+1)%len(names)]
		_, err := s.AddForeignKey(name+"_next_fk", []*schema.Column{refs[name]}, []*schema.Column{ids[next]})
		require.NoError(t, err)
	}
	s.Finalize()

	db := &fakeDB{rowsByTable: map[string][][]any{}}
	e := extract(t, s, db, []any{subjectOn("alpha")})

	_, err := New(s, e)
	require.ErrorIs(t, err, ErrCyclicDependency)
	assert.ErrorContains(t, err, "alpha, beta, gamma")
}

func TestNotNullColumnPromotionOrdersTables(t *testing.T) {
	s := schema.New()
	parent := s.AddTable("parent")
	parentID := parent.AddColumn("id", true)
	parent.PrimaryKey = []*schema.Column{parentID}

	child := s.AddTable("child")
	childID := child.AddColumn("id", true)
	child.PrimaryKey = []*schema.Column{childID}
	ref := child.AddColumn("parent_id", false)
	_, err := s.AddForeignKey("child_parent_fk", []*schema.Column{ref}, []*schema.Column{parentID})
	require.NoError(t, err)
	s.Finalize()

	db := &fakeDB{rowsByTable: map[string][][]any{
		"parent": {{1}},
		"child":  {{5, 1}},
	}}
	e := extract(t, s, db, []any{
		map[string]any{"not-null-columns": []any{
			map[string]any{"table": "child", "column": "parent_id"},
		}},
		subjectOn("child"),
	})

	g, err := New(s, e)
	require.NoError(t, err)

	assert.Equal(t, "parent", g.TableOrder[0].Name)
	assert.Equal(t, "child", g.TableOrder[1].Name)

	// The promoted column must not be deferred.
	assert.Empty(t, g.DeferredUpdateRules[s.TablesByName["child"]])

	require.Len(t, g.Inserts, 2)
	assert.Equal(t, []any{5, 1}, g.Inserts[1].Row)
	assert.Empty(t, g.Updates)
}

func TestMixedNullabilityMultiColumnForeignKey(t *testing.T) {
	s := schema.New()
	target := s.AddTable("target")
	x := target.AddColumn("x", true)
	y := target.AddColumn("y", true)
	target.PrimaryKey = []*schema.Column{x, y}

	link := s.AddTable("link")
	linkID := link.AddColumn("id", true)
	link.PrimaryKey = []*schema.Column{linkID}
	xRef := link.AddColumn("x_ref", true)
	yRef := link.AddColumn("y_ref", false)

	fk, err := s.AddForeignKey("link_target_fk", []*schema.Column{xRef, yRef}, []*schema.Column{x, y})
	require.NoError(t, err)
	require.False(t, fk.NotNull)
	s.Finalize()

	db := &fakeDB{rowsByTable: map[string][][]any{
		"target": {{1, 2}},
		"link":   {{5, 1, 2}},
	}}
	e := extract(t, s, db, []any{subjectOn("target", "link")})

	g, err := New(s, e)
	require.NoError(t, err)

	// A foreign key with any nullable column forces no insert-order
	// edge; ranks fall back to name order and the nullable column is
	// deferred instead.
	require.Len(t, g.TableOrder, 2)
	assert.Equal(t, "link", g.TableOrder[0].Name)
	assert.Equal(t, "target", g.TableOrder[1].Name)

	assert.Equal(t, []*schema.Column{yRef}, g.DeferredUpdateRules[link])

	require.Len(t, g.Inserts, 2)
	assert.Equal(t, "link", g.Inserts[0].Table.Name)
	assert.Equal(t, []any{5, 1, nil}, g.Inserts[0].Row)
	assert.Equal(t, "target", g.Inserts[1].Table.Name)

	require.Len(t, g.Updates, 1)
	assert.Equal(t, []*schema.Column{yRef}, g.Updates[0].SetCols)
	assert.Equal(t, []any{2}, g.Updates[0].SetValues)
}

func TestInsertStatementsCarryAllColumns(t *testing.T) {
	s, _ := cycleFixture(t)
	db := &fakeDB{rowsByTable: map[string][][]any{
		"test1": {{1, nil}},
		"test2": {{2, 1}},
	}}
	e := extract(t, s, db, []any{subjectOn("test1", "test2")})

	g, err := New(s, e)
	require.NoError(t, err)

	for _, stmt := range g.Inserts {
		assert.Len(t, stmt.Row, len(stmt.Table.Cols))
	}
}

func TestTableOrderSortsRanksByName(t *testing.T) {
	s := schema.New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		table := s.AddTable(name)
		id := table.AddColumn("id", true)
		table.PrimaryKey = []*schema.Column{id}
	}
	s.Finalize()

	db := &fakeDB{rowsByTable: map[string][][]any{}}
	e := extract(t, s, db, []any{subjectOn("alpha")})

	g, err := New(s, e)
	require.NoError(t, err)

	var names []string
	for _, table := range g.TableOrder {
		names = append(names, table.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}
