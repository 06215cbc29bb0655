// Package schema loads collection schemas written in CUE and validates
// decoded documents against them.
//
// A schema file declares one or more collections:
//
//	collection: tasks: {
//		visibility: "isSafeForEviction"
//		owner:      "userId"
//		fields: {
//			body:          string
//			isCompleted:   bool
//			invitationIds: {[string]: bool}
//		}
//	}
//
// Documents are validated by unification with the fields struct: a type
// conflict is an error, a missing field is not.
package schema

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/liveview/internal/ir"
)

//go:embed tasks.cue
var defaultSchema []byte

// Registry holds compiled collection schemas. Safe for concurrent use; the
// underlying cue.Context is guarded by a mutex.
type Registry struct {
	mu          *sync.Mutex
	ctx         *cue.Context
	collections map[string]*Collection
}

// Collection is one compiled collection schema.
type Collection struct {
	Schema ir.CollectionSchema

	mu     *sync.Mutex
	ctx    *cue.Context
	fields cue.Value
}

// Default compiles the embedded tasks schema.
func Default() (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(defaultSchema, cue.Filename("tasks.cue"))
	return newRegistry(ctx, v)
}

// CompileString compiles schema source held in memory.
func CompileString(src string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("schema.cue"))
	return newRegistry(ctx, v)
}

func newRegistry(ctx *cue.Context, v cue.Value) (*Registry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	r := &Registry{
		mu:          &sync.Mutex{},
		ctx:         ctx,
		collections: map[string]*Collection{},
	}

	colls := v.LookupPath(cue.ParsePath("collection"))
	if !colls.Exists() {
		return nil, &CompileError{Field: "collection", Message: "no collections declared", Pos: v.Pos()}
	}
	iter, err := colls.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		c, err := r.compileCollection(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		r.collections[c.Schema.Name] = c
	}
	return r, nil
}

// Collection returns the named collection schema.
func (r *Registry) Collection(name string) (*Collection, bool) {
	c, ok := r.collections[name]
	return c, ok
}

// Names returns declared collection names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for n := range r.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) compileCollection(name string, v cue.Value) (*Collection, error) {
	schema := ir.CollectionSchema{
		Name:   name,
		Fields: map[string]ir.FieldKind{},
	}

	var err error
	if schema.VisibilityField, err = requiredString(v, "visibility"); err != nil {
		return nil, err
	}
	if ownerVal := v.LookupPath(cue.ParsePath("owner")); ownerVal.Exists() {
		if schema.OwnerField, err = ownerVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{Field: "fields", Message: "fields are required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		kind, err := r.fieldKind(iter.Value())
		if err != nil {
			return nil, err
		}
		schema.Fields[iter.Label()] = kind
	}

	if err := schema.Validate(); err != nil {
		return nil, &CompileError{Field: "collection." + name, Message: err.Error(), Pos: v.Pos()}
	}

	return &Collection{Schema: schema, mu: r.mu, ctx: r.ctx, fields: fieldsVal}, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// fieldKind converts a CUE field constraint to an ir.FieldKind.
// Floats are forbidden; structs must be string to bool maps.
func (r *Registry) fieldKind(v cue.Value) (ir.FieldKind, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return ir.KindString, nil
	case cue.IntKind:
		return ir.KindInt, nil
	case cue.BoolKind:
		return ir.KindBool, nil
	case cue.StructKind:
		okTag := v.Unify(r.ctx.Encode(map[string]any{"tag": true})).Validate()
		badTag := v.Unify(r.ctx.Encode(map[string]any{"tag": "x"})).Validate()
		if okTag == nil && badTag != nil {
			return ir.KindTags, nil
		}
		return "", &CompileError{
			Field:   "type",
			Message: "struct fields must be {[string]: bool} tag maps",
			Pos:     v.Pos(),
		}
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden, use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// Validate unifies fields with the collection schema. Missing fields are
// allowed; a value of the wrong type is an error.
func (c *Collection) Validate(fields ir.IRObject) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.ctx.Encode(ir.ToGo(fields))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := c.fields.Unify(doc).Validate(); err != nil {
		return fmt.Errorf("collection %s: %w", c.Schema.Name, flattenCUEError(err))
	}
	return nil
}

// CompileError represents a schema compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// flattenCUEError keeps only the first message of a CUE error list.
func flattenCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	return fmt.Errorf("%s", errs[0].Error())
}
