package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectivePrimaryKey(t *testing.T) {
	tests := []struct {
		name          string
		build         func(*Schema) *Table
		wantCols      []string
		wantDuplicate bool
	}{
		{
			name: "primary key wins",
			build: func(s *Schema) *Table {
				table := s.AddTable("t")
				id := table.AddColumn("id", true)
				name := table.AddColumn("name", false)
				table.PrimaryKey = []*Column{id}
				table.AddUniqueIndex("u", []*Column{name})
				return table
			},
			wantCols: []string{"id"},
		},
		{
			name: "shortest unique index without primary key",
			build: func(s *Schema) *Table {
				table := s.AddTable("t")
				a := table.AddColumn("a", true)
				b := table.AddColumn("b", true)
				c := table.AddColumn("c", true)
				table.AddUniqueIndex("u1", []*Column{a, b})
				table.AddUniqueIndex("u2", []*Column{c})
				return table
			},
			wantCols: []string{"c"},
		},
		{
			name: "all columns without any identity",
			build: func(s *Schema) *Table {
				table := s.AddTable("t")
				table.AddColumn("a", false)
				table.AddColumn("b", false)
				return table
			},
			wantCols:      []string{"a", "b"},
			wantDuplicate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			table := tt.build(s)
			s.Finalize()

			var got []string
			for _, c := range table.EffectivePrimaryKey {
				got = append(got, c.Name)
			}
			assert.Equal(t, tt.wantCols, got)
			assert.Equal(t, tt.wantDuplicate, table.CanHaveDuplicatedRows)

			for i, idx := range table.EffectivePrimaryKeyIndexes {
				assert.Equal(t, table.EffectivePrimaryKey[i], table.Cols[idx])
			}
		})
	}
}

func TestAddForeignKey(t *testing.T) {
	t.Run("computes not null from source columns", func(t *testing.T) {
		s := New()
		parent := s.AddTable("parent")
		parentID := parent.AddColumn("id", true)
		child := s.AddTable("child")
		childRef := child.AddColumn("parent_id", true)

		fk, err := s.AddForeignKey("fk1", []*Column{childRef}, []*Column{parentID})
		require.NoError(t, err)
		assert.True(t, fk.NotNull)
		assert.Equal(t, []*ForeignKey{fk}, child.ForeignKeys)
		assert.Equal(t, []*ForeignKey{fk}, parent.IncomingForeignKeys)
	})

	t.Run("nullable when any source column is nullable", func(t *testing.T) {
		s := New()
		parent := s.AddTable("parent")
		a := parent.AddColumn("a", true)
		b := parent.AddColumn("b", true)
		child := s.AddTable("child")
		ca := child.AddColumn("a", true)
		cb := child.AddColumn("b", false)

		fk, err := s.AddForeignKey("fk1", []*Column{ca, cb}, []*Column{a, b})
		require.NoError(t, err)
		assert.False(t, fk.NotNull)
	})

	t.Run("rejects a not null self reference", func(t *testing.T) {
		s := New()
		table := s.AddTable("node")
		id := table.AddColumn("id", true)
		parentID := table.AddColumn("parent_id", true)

		_, err := s.AddForeignKey("fk1", []*Column{parentID}, []*Column{id})
		assert.ErrorIs(t, err, ErrRelationIntegrity)
	})

	t.Run("allows a nullable self reference", func(t *testing.T) {
		s := New()
		table := s.AddTable("node")
		id := table.AddColumn("id", true)
		parentID := table.AddColumn("parent_id", false)

		_, err := s.AddForeignKey("fk1", []*Column{parentID}, []*Column{id})
		assert.NoError(t, err)
	})
}

func TestRelations(t *testing.T) {
	s := New()
	parent := s.AddTable("parent")
	parentID := parent.AddColumn("id", true)
	child := s.AddTable("child")
	childRef := child.AddColumn("parent_id", false)

	_, err := s.AddForeignKey("child_parent_fk", []*Column{childRef}, []*Column{parentID})
	require.NoError(t, err)
	s.Finalize()

	entries := s.Relations()
	require.Len(t, entries, 2)

	assert.Equal(t, "child", entries[0].Table)
	assert.Equal(t, "parent_id", entries[0].Column)
	assert.Equal(t, TypeIncoming, entries[0].Type)
	require.NotNil(t, entries[0].Name)
	assert.Equal(t, "child_parent_fk", *entries[0].Name)

	assert.Equal(t, "child", entries[1].Table)
	assert.Equal(t, "parent_id", entries[1].Column)
	assert.Empty(t, entries[1].Type)
}
