package model

import (
	"strconv"
	"strings"

	"github.com/abridge-db/abridge/internal/schema"
)

// Relation type names.
const (
	TypeIncoming = schema.TypeIncoming
	TypeOutgoing = schema.TypeOutgoing
)

// Relation defaults tokens accepted in configuration.
const (
	DefaultOutgoingNotNull  = "all-outgoing-not-null"
	DefaultOutgoingNullable = "all-outgoing-nullable"
	DefaultIncoming         = "all-incoming"
	DefaultEverything       = "everything"
)

// DefaultsTokens lists every accepted defaults token.
var DefaultsTokens = []string{
	DefaultOutgoingNotNull, DefaultOutgoingNullable,
	DefaultIncoming, DefaultEverything,
}

// Relation is a directed, flag-bearing edge along one foreign key that
// the extractor is permitted to traverse.
type Relation struct {
	Table      *schema.Table
	ForeignKey *schema.ForeignKey
	Name       string
	Type       string
	Disabled   bool
	// PropagateSticky lets the sticky tag travel across this edge.
	PropagateSticky bool
	// OnlyIfSticky restricts traversal of this edge to sticky rows.
	OnlyIfSticky bool
}

// NewRelation builds a relation and derives its only-if-sticky flag: a
// sticky outgoing edge over a nullable foreign key, or any sticky
// incoming edge, is crossed only by sticky rows.
func NewRelation(table *schema.Table, fk *schema.ForeignKey, name string, disabled, sticky bool, typ string) *Relation {
	onlyIfSticky := (typ == TypeOutgoing && sticky && !fk.NotNull) ||
		(typ == TypeIncoming && sticky)
	return &Relation{
		Table:           table,
		ForeignKey:      fk,
		Name:            name,
		Type:            typ,
		Disabled:        disabled,
		PropagateSticky: sticky,
		OnlyIfSticky:    onlyIfSticky,
	}
}

// baseKey identifies a relation up to its flags. Relations with equal
// base keys are folded together by MergeRelations.
func (r *Relation) baseKey() string {
	name := r.Name
	if name == "" {
		name = "-"
	}
	return strings.Join([]string{r.Table.Name, r.ForeignKey.String(), name, r.Type}, ".")
}

// fullKey identifies a relation including its flags.
func (r *Relation) fullKey() string {
	return strings.Join([]string{
		r.baseKey(),
		strconv.FormatBool(r.Disabled),
		strconv.FormatBool(r.PropagateSticky),
		strconv.FormatBool(r.OnlyIfSticky),
	}, ".")
}

func (r *Relation) String() string {
	var flags []string
	if r.PropagateSticky {
		flags = append(flags, "propagate_sticky")
	}
	if r.OnlyIfSticky {
		flags = append(flags, "only_if_sticky")
	}
	if r.Disabled {
		flags = append(flags, "disabled")
	}
	s := r.Table.Name + ":" + r.ForeignKey.String() +
		" name=" + r.Name + " type=" + r.Type
	if len(flags) > 0 {
		s += " " + strings.Join(flags, ",")
	}
	return s
}

// DedupeRelations removes duplicates by full identity, preserving
// first-seen order.
func DedupeRelations(relations []*Relation) []*Relation {
	seen := make(map[string]struct{})
	var deduped []*Relation
	for _, r := range relations {
		key := r.fullKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, r)
	}
	return deduped
}

// MergeRelations folds relations that differ only in flags into one
// representative: disabled, propagate-sticky and only-if-sticky each
// combine by logical OR, and a disabled group is dropped entirely.
func MergeRelations(relations []*Relation) []*Relation {
	groups := make(map[string][]*Relation)
	var order []string
	for _, r := range DedupeRelations(relations) {
		key := r.baseKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	var merged []*Relation
	for _, key := range order {
		group := groups[key]
		var disabled, propagateSticky, onlyIfSticky bool
		for _, r := range group {
			disabled = disabled || r.Disabled
			propagateSticky = propagateSticky || r.PropagateSticky
			onlyIfSticky = onlyIfSticky || r.OnlyIfSticky
		}
		if disabled {
			continue
		}
		folded := *group[0]
		folded.Disabled = false
		folded.PropagateSticky = propagateSticky
		folded.OnlyIfSticky = onlyIfSticky
		merged = append(merged, &folded)
	}
	return merged
}
