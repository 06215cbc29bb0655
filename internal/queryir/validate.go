package queryir

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/liveview/internal/ir"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError lists every problem found in a filter or statement.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Problems, "; ")
}

// ValidateFilter checks that a filter can be evaluated by every backend:
// identifiers are well formed, literals are scalars, and every parameter
// the predicate references is bound.
func ValidateFilter(f Filter) error {
	v := &validator{params: f.Params}
	v.collection(f.Collection)
	v.predicate(f.Where)
	return v.err()
}

// ValidateStatement checks a statement before execution. params binds
// the ParamEquals references in its predicate.
func ValidateStatement(stmt Statement, params ir.IRObject) error {
	v := &validator{params: params}
	switch s := stmt.(type) {
	case Select:
		v.collection(s.Collection)
		v.predicate(s.Where)
	case Insert:
		v.collection(s.Collection)
		if s.ID == "" {
			v.addProblem("insert requires an id")
		}
		v.fields("insert", s.Fields)
	case Update:
		v.collection(s.Collection)
		v.predicate(s.Where)
		if len(s.Patch) == 0 {
			v.addProblem("update patch is empty")
		}
		v.fields("update", s.Patch)
	case Evict:
		v.collection(s.Collection)
		v.predicate(s.Where)
	case nil:
		v.addProblem("nil statement")
	default:
		v.addProblem("unknown statement type %T", stmt)
	}
	return v.err()
}

// validator accumulates problems during traversal.
type validator struct {
	params   ir.IRObject
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

func (v *validator) collection(name string) {
	if !identPattern.MatchString(name) {
		v.addProblem("invalid collection name %q", name)
	}
}

func (v *validator) field(name string) {
	if name == ir.IDField {
		return
	}
	if !identPattern.MatchString(name) {
		v.addProblem("invalid field name %q", name)
	}
}

func (v *validator) fields(op string, obj ir.IRObject) {
	for _, k := range obj.SortedKeys() {
		if k == ir.IDField {
			v.addProblem("%s may not set %s", op, ir.IDField)
			continue
		}
		v.field(k)
		if _, err := ir.MarshalCanonical(obj[k]); err != nil {
			v.addProblem("%s field %s: %v", op, k, err)
		}
	}
}

func (v *validator) predicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Equals:
		v.field(pred.Field)
		v.scalar(pred.Field, pred.Value)
	case ParamEquals:
		v.field(pred.Field)
		if !identPattern.MatchString(pred.Param) {
			v.addProblem("invalid parameter name %q", pred.Param)
			return
		}
		val, ok := v.params[pred.Param]
		if !ok {
			v.addProblem("parameter :%s is not bound", pred.Param)
			return
		}
		v.scalar(pred.Field, val)
	case Not:
		if pred.Predicate == nil {
			v.addProblem("NOT requires an operand")
			return
		}
		v.predicate(pred.Predicate)
	case And:
		for _, sub := range pred.Predicates {
			if sub == nil {
				v.addProblem("AND operand is nil")
				continue
			}
			v.predicate(sub)
		}
	default:
		v.addProblem("unknown predicate type %T", p)
	}
}

func (v *validator) scalar(field string, val ir.IRValue) {
	switch val.(type) {
	case ir.IRString, ir.IRInt, ir.IRBool:
	case nil:
		v.addProblem("field %s compared to null", field)
	default:
		v.addProblem("field %s compared to non-scalar %T", field, val)
	}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
