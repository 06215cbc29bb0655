// Package predicate builds the filter a live view runs from its UI-level
// selection.
package predicate

import (
	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

// OwnerParam is the parameter name bound to the selected owner.
const OwnerParam = "ownerId"

// Selection is the UI state a filter is derived from.
type Selection struct {
	// Owner restricts results to one owner. Empty means no owner filter.
	Owner string
}

// Builder derives filters for one collection.
type Builder struct {
	schema ir.CollectionSchema
}

// NewBuilder returns a builder for the collection described by schema.
func NewBuilder(schema ir.CollectionSchema) *Builder {
	return &Builder{schema: schema}
}

// Schema returns the collection schema the builder targets.
func (b *Builder) Schema() ir.CollectionSchema {
	return b.schema
}

// Build returns the filter for sel. The predicate always excludes hidden
// documents and, when sel.Owner is set and the collection has an owner
// field, matches that owner only. Build is pure: equal selections give
// equal filters.
func (b *Builder) Build(sel Selection) queryir.Filter {
	hidden := queryir.Not{Predicate: queryir.Equals{
		Field: b.schema.VisibilityField,
		Value: ir.IRBool(true),
	}}

	if sel.Owner == "" || b.schema.OwnerField == "" {
		return queryir.Filter{Collection: b.schema.Name, Where: hidden}
	}

	return queryir.Filter{
		Collection: b.schema.Name,
		Where:      queryir.AllOf(hidden, queryir.ParamEquals{Field: b.schema.OwnerField, Param: OwnerParam}),
		Params:     ir.IRObject{OwnerParam: ir.IRString(sel.Owner)},
	}
}
