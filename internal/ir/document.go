package ir

import (
	"fmt"
	"slices"
)

// IDField is the reserved field name that addresses a document's identifier
// in predicates and projections. It is never stored inside Fields.
const IDField = "_id"

// Document is a decoded record from a collection.
type Document struct {
	ID     string   `json:"id"`
	Fields IRObject `json:"fields"`
}

// Hidden reports whether the visibility flag named by field is set.
func (d Document) Hidden(field string) bool {
	return d.Fields.BoolField(field)
}

// Object returns the fields with IDField added, the shape predicates and
// golden traces see.
func (d Document) Object() IRObject {
	obj := d.Fields.Clone()
	if obj == nil {
		obj = IRObject{}
	}
	obj[IDField] = IRString(d.ID)
	return obj
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: d.Fields.Clone()}
}

// RawDocument is a stored record before decoding. Body is canonical JSON
// without the IDField.
type RawDocument struct {
	ID   string
	Body []byte
}

// NewRawDocument encodes fields canonically. An IDField entry is rejected.
func NewRawDocument(id string, fields IRObject) (RawDocument, error) {
	if _, ok := fields[IDField]; ok {
		return RawDocument{}, fmt.Errorf("field %q is reserved", IDField)
	}
	if fields == nil {
		fields = IRObject{}
	}
	body, err := MarshalCanonical(fields)
	if err != nil {
		return RawDocument{}, fmt.Errorf("encode document %s: %w", id, err)
	}
	return RawDocument{ID: id, Body: body}, nil
}

// ChangeKind identifies what happened to a document in a batch.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeEvict  ChangeKind = "evict"
)

// Change records one document touched by a committed statement.
type Change struct {
	ID   string     `json:"id"`
	Kind ChangeKind `json:"kind"`
}

// ChangeBatch is the set of changes produced by one committed statement.
// Seq comes from the store's logical clock and is strictly increasing.
type ChangeBatch struct {
	Seq        int64    `json:"seq"`
	Collection string   `json:"collection"`
	Changes    []Change `json:"changes"`
}

// IDs returns the distinct changed ids in ascending order.
func (b ChangeBatch) IDs() []string {
	ids := make([]string, 0, len(b.Changes))
	for _, c := range b.Changes {
		ids = append(ids, c.ID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// FieldKind is the declared type of a collection field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindBool   FieldKind = "bool"
	KindInt    FieldKind = "int"
	KindTags   FieldKind = "tags" // string to bool map
)

// CollectionSchema describes a collection: its declared fields, the boolean
// field that hides documents from live views, and the field that names a
// document's owner.
type CollectionSchema struct {
	Name            string               `json:"name"`
	VisibilityField string               `json:"visibility_field"`
	OwnerField      string               `json:"owner_field"`
	Fields          map[string]FieldKind `json:"fields"`
}

// Validate checks the schema is internally consistent.
func (s CollectionSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if _, ok := s.Fields[IDField]; ok {
		return fmt.Errorf("collection %s: field %q is reserved", s.Name, IDField)
	}
	if s.Fields[s.VisibilityField] != KindBool {
		return fmt.Errorf("collection %s: visibility field %q must be a declared bool", s.Name, s.VisibilityField)
	}
	if s.OwnerField != "" && s.Fields[s.OwnerField] != KindString {
		return fmt.Errorf("collection %s: owner field %q must be a declared string", s.Name, s.OwnerField)
	}
	return nil
}

// FieldNames returns declared field names in canonical order.
func (s CollectionSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	slices.SortFunc(names, compareKeysRFC8785)
	return names
}
