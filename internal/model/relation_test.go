package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abridge-db/abridge/internal/schema"
)

// relationFixture builds a two-table schema with one nullable and one
// not null foreign key from child to parent.
func relationFixture(t *testing.T) (*schema.Schema, *schema.ForeignKey, *schema.ForeignKey) {
	t.Helper()

	s := schema.New()
	parent := s.AddTable("parent")
	parentID := parent.AddColumn("id", true)
	child := s.AddTable("child")
	nullableRef := child.AddColumn("parent_id", false)
	notNullRef := child.AddColumn("owner_id", true)

	nullableFK, err := s.AddForeignKey("child_parent_fk", []*schema.Column{nullableRef}, []*schema.Column{parentID})
	require.NoError(t, err)
	notNullFK, err := s.AddForeignKey("child_owner_fk", []*schema.Column{notNullRef}, []*schema.Column{parentID})
	require.NoError(t, err)
	s.Finalize()

	return s, nullableFK, notNullFK
}

func TestNewRelationOnlyIfSticky(t *testing.T) {
	s, nullableFK, notNullFK := relationFixture(t)
	child := s.TablesByName["child"]

	tests := []struct {
		name   string
		fk     *schema.ForeignKey
		typ    string
		sticky bool
		want   bool
	}{
		{"outgoing sticky nullable", nullableFK, TypeOutgoing, true, true},
		{"outgoing sticky not null", notNullFK, TypeOutgoing, true, false},
		{"outgoing non-sticky nullable", nullableFK, TypeOutgoing, false, false},
		{"incoming sticky", nullableFK, TypeIncoming, true, true},
		{"incoming non-sticky", nullableFK, TypeIncoming, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRelation(child, tt.fk, "", false, tt.sticky, tt.typ)
			assert.Equal(t, tt.want, r.OnlyIfSticky)
			assert.Equal(t, tt.sticky, r.PropagateSticky)
		})
	}
}

func TestDedupeRelations(t *testing.T) {
	s, nullableFK, _ := relationFixture(t)
	child := s.TablesByName["child"]

	a := NewRelation(child, nullableFK, "", false, false, TypeIncoming)
	b := NewRelation(child, nullableFK, "", false, false, TypeIncoming)
	c := NewRelation(child, nullableFK, "", false, true, TypeIncoming)

	deduped := DedupeRelations([]*Relation{a, b, c, a})
	require.Len(t, deduped, 2)
	assert.Same(t, a, deduped[0])
	assert.Same(t, c, deduped[1])
}

func TestMergeRelations(t *testing.T) {
	s, nullableFK, notNullFK := relationFixture(t)
	child := s.TablesByName["child"]

	t.Run("merge of identical input equals dedupe", func(t *testing.T) {
		a := NewRelation(child, nullableFK, "", false, false, TypeIncoming)
		merged := MergeRelations([]*Relation{a, a})
		require.Len(t, merged, 1)
		assert.Equal(t, a.baseKey(), merged[0].baseKey())
	})

	t.Run("disabled overrides the structural group", func(t *testing.T) {
		enabled := NewRelation(child, nullableFK, "", false, false, TypeIncoming)
		disabled := NewRelation(child, nullableFK, "", true, false, TypeIncoming)
		other := NewRelation(child, notNullFK, "", false, false, TypeIncoming)

		merged := MergeRelations([]*Relation{enabled, disabled, other})
		require.Len(t, merged, 1)
		assert.Equal(t, other.baseKey(), merged[0].baseKey())
	})

	t.Run("sticky flags fold by or", func(t *testing.T) {
		plain := NewRelation(child, nullableFK, "", false, false, TypeIncoming)
		sticky := NewRelation(child, nullableFK, "", false, true, TypeIncoming)

		merged := MergeRelations([]*Relation{plain, sticky})
		require.Len(t, merged, 1)
		assert.True(t, merged[0].PropagateSticky)
		assert.True(t, merged[0].OnlyIfSticky)
		assert.False(t, merged[0].Disabled)
	})

	t.Run("merging does not mutate inputs", func(t *testing.T) {
		plain := NewRelation(child, nullableFK, "", false, false, TypeIncoming)
		sticky := NewRelation(child, nullableFK, "", false, true, TypeIncoming)

		_ = MergeRelations([]*Relation{plain, sticky})
		assert.False(t, plain.PropagateSticky)
	})
}
