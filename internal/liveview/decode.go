package liveview

import (
	"fmt"

	"github.com/roach88/liveview/internal/ir"
)

// FieldValidator checks decoded fields against a collection schema.
// *schema.Collection implements it.
type FieldValidator interface {
	Validate(fields ir.IRObject) error
}

// Decoder turns stored documents into ir.Documents.
type Decoder struct {
	collection string
	validator  FieldValidator
}

// NewDecoder returns a decoder for collection. A nil validator checks
// structure only: the body must be a JSON object of valid values without
// the reserved id field.
func NewDecoder(collection string, validator FieldValidator) *Decoder {
	return &Decoder{collection: collection, validator: validator}
}

// Decode decodes one stored document. Every failure is a *DecodeError.
func (d *Decoder) Decode(raw ir.RawDocument) (ir.Document, error) {
	v, err := ir.UnmarshalIRValue(raw.Body)
	if err != nil {
		return ir.Document{}, d.fail(raw.ID, err)
	}
	fields, ok := v.(ir.IRObject)
	if !ok {
		return ir.Document{}, d.fail(raw.ID, fmt.Errorf("body is %T, not an object", v))
	}
	if _, ok := fields[ir.IDField]; ok {
		return ir.Document{}, d.fail(raw.ID, fmt.Errorf("body contains reserved field %q", ir.IDField))
	}
	if d.validator != nil {
		if err := d.validator.Validate(fields); err != nil {
			return ir.Document{}, d.fail(raw.ID, err)
		}
	}
	return ir.Document{ID: raw.ID, Fields: fields}, nil
}

func (d *Decoder) fail(id string, err error) error {
	return &DecodeError{Collection: d.collection, ID: id, Err: err}
}
