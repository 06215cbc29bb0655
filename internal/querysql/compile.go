package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

// Table is the document table every compiled statement reads.
const Table = "documents"

// SQLCompiler compiles queryir predicates to parameterized SQLite SQL over
// the documents table.
//
// CRITICAL: every SELECT ends in ORDER BY id ASC COLLATE BINARY so result
// order is deterministic.
// CRITICAL: values and JSON paths are always bound as parameters, never
// interpolated.
//
// Field comparisons check the JSON type as well as the value, so a bool
// never equals an integer and a missing field never equals anything. This
// matches the in-memory evaluator in queryexpr.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// CompileSelect compiles a Select to a query returning (id, body) rows.
func (c *SQLCompiler) CompileSelect(sel queryir.Select, params ir.IRObject) (string, []any, error) {
	where, args, err := c.scope(sel.Collection, sel.Where, params)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT id, body FROM " + Table + " WHERE " + where + " ORDER BY " + stableOrderKey()
	return sql, args, nil
}

// CompileIDs compiles a predicate to a query returning matching ids only.
// Used to resolve the targets of Update and Evict.
func (c *SQLCompiler) CompileIDs(collection string, where queryir.Predicate, params ir.IRObject) (string, []any, error) {
	clause, args, err := c.scope(collection, where, params)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT id FROM " + Table + " WHERE " + clause + " ORDER BY " + stableOrderKey()
	return sql, args, nil
}

func (c *SQLCompiler) scope(collection string, where queryir.Predicate, params ir.IRObject) (string, []any, error) {
	if collection == "" {
		return "", nil, fmt.Errorf("compile: collection is required")
	}
	pred, args, err := c.CompilePredicate(where, params)
	if err != nil {
		return "", nil, fmt.Errorf("compile where: %w", err)
	}
	return "collection = ? AND (" + pred + ")", append([]any{collection}, args...), nil
}

// stableOrderKey returns the ORDER BY clause body.
// COLLATE BINARY keeps text ordering identical across SQLite builds.
func stableOrderKey() string {
	return "id ASC COLLATE BINARY"
}

// CompilePredicate compiles a predicate to a WHERE fragment.
// A nil predicate compiles to an always-true fragment.
func (c *SQLCompiler) CompilePredicate(p queryir.Predicate, params ir.IRObject) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		return compileEquals(pred.Field, pred.Value)
	case queryir.ParamEquals:
		val, ok := params[pred.Param]
		if !ok {
			return "", nil, fmt.Errorf("parameter :%s is not bound", pred.Param)
		}
		return compileEquals(pred.Field, val)
	case queryir.Not:
		if pred.Predicate == nil {
			return "", nil, fmt.Errorf("NOT requires an operand")
		}
		inner, args, err := c.CompilePredicate(pred.Predicate, params)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", args, nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var args []any
		for _, sub := range pred.Predicates {
			sql, subArgs, err := c.CompilePredicate(sub, params)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "("+sql+")")
			args = append(args, subArgs...)
		}
		return strings.Join(parts, " AND "), args, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals renders a typed equality. The result is never NULL.
func compileEquals(field string, v ir.IRValue) (string, []any, error) {
	if field == ir.IDField {
		s, ok := v.(ir.IRString)
		if !ok {
			// ids are always text
			return "1 = 0", nil, nil
		}
		return "id = ?", []any{string(s)}, nil
	}

	path := JSONPath(field)
	switch val := v.(type) {
	case ir.IRString:
		return guarded("json_type(body, ?) IS 'text' AND json_extract(body, ?) IS ?"), []any{path, path, string(val)}, nil
	case ir.IRInt:
		return guarded("json_type(body, ?) IS 'integer' AND json_extract(body, ?) IS ?"), []any{path, path, int64(val)}, nil
	case ir.IRBool:
		return guarded("json_type(body, ?) IS ?"), []any{path, strconv.FormatBool(bool(val))}, nil
	case nil:
		return "", nil, fmt.Errorf("field %s compared to null", field)
	default:
		return "", nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}

// guarded evaluates a JSON test only when the body parses. A corrupt body
// fails every field comparison instead of aborting the whole query, so the
// row still reaches the decoder and is reported there.
func guarded(test string) string {
	return "(CASE WHEN json_valid(body) THEN " + test + " ELSE 0 END)"
}

// JSONPath returns the SQLite JSON path for a top-level field.
func JSONPath(field string) string {
	return `$."` + field + `"`
}
