package queryir

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/roach88/liveview/internal/ir"
)

// Filter is a collection, a predicate and the named parameters it binds.
// It is the single value a live view hands to both the subscription
// registry and the local observer.
type Filter struct {
	Collection string
	Where      Predicate
	Params     ir.IRObject
}

// Select returns the statement that evaluates the filter.
func (f Filter) Select() Select {
	return Select{Collection: f.Collection, Where: f.Where}
}

// Text renders the filter as query text with parameters substituted.
//
//	SELECT * FROM COLLECTION tasks WHERE NOT (isSafeForEviction == true) AND userId == "Henry"
func (f Filter) Text() string {
	var b strings.Builder
	b.WriteString("SELECT * FROM COLLECTION ")
	b.WriteString(f.Collection)
	if f.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(Render(f.Where, f.Params))
	}
	return b.String()
}

// Key returns a stable hash of the rendered text and parameter values.
func (f Filter) Key() (string, error) {
	return ir.FilterKey(f.Text(), f.Params)
}

// Equal reports whether two filters have the same collection, rendered
// predicate and parameter values.
func (f Filter) Equal(other Filter) bool {
	if f.Text() != other.Text() {
		return false
	}
	a, errA := ir.MarshalCanonical(orEmpty(f.Params))
	b, errB := ir.MarshalCanonical(orEmpty(other.Params))
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// String implements fmt.Stringer.
func (f Filter) String() string {
	return f.Text()
}

func orEmpty(obj ir.IRObject) ir.IRObject {
	if obj == nil {
		return ir.IRObject{}
	}
	return obj
}

// Render formats a predicate as text. Parameters present in params are
// substituted; missing ones render as :name.
func Render(p Predicate, params ir.IRObject) string {
	switch pred := p.(type) {
	case nil:
		return "true"
	case Equals:
		return pred.Field + " == " + renderValue(pred.Value)
	case ParamEquals:
		if v, ok := params[pred.Param]; ok {
			return pred.Field + " == " + renderValue(v)
		}
		return pred.Field + " == :" + pred.Param
	case Not:
		return "NOT (" + Render(pred.Predicate, params) + ")"
	case And:
		if len(pred.Predicates) == 0 {
			return "true"
		}
		parts := make([]string, len(pred.Predicates))
		for i, sub := range pred.Predicates {
			s := Render(sub, params)
			if _, nested := sub.(And); nested {
				s = "(" + s + ")"
			}
			parts[i] = s
		}
		return strings.Join(parts, " AND ")
	default:
		return fmt.Sprintf("<unknown %T>", p)
	}
}

func renderValue(v ir.IRValue) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<invalid %T>", v)
	}
	return string(data)
}
