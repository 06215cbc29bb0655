// Package queryexpr evaluates queryir predicates in memory by compiling them
// to expr-lang programs.
//
// A compiled program reads the document from the "doc" variable and every
// literal from a bound variable (v0, v1, ...), so no value text is ever
// spliced into expression source.
package queryexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

// Program is a compiled predicate.
type Program struct {
	source string
	values map[string]any
	prg    *vm.Program
}

// Compile translates p into an expr program. params binds ParamEquals
// references; unbound parameters are a compile error.
func Compile(p queryir.Predicate, params ir.IRObject) (*Program, error) {
	b := &builder{params: params, values: map[string]any{}}
	source, err := b.predicate(p)
	if err != nil {
		return nil, err
	}

	env := b.env(map[string]any{})
	prg, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	return &Program{source: source, values: b.values, prg: prg}, nil
}

// Source returns the expression text, useful in logs and test failures.
func (p *Program) Source() string {
	return p.source
}

// Match reports whether doc satisfies the predicate.
func (p *Program) Match(doc ir.Document) (bool, error) {
	fields, _ := ir.ToGo(doc.Object()).(map[string]any)
	out, err := expr.Run(p.prg, (&builder{values: p.values}).env(fields))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.source, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is %T, not bool", p.source, out)
	}
	return matched, nil
}

type builder struct {
	params ir.IRObject
	values map[string]any
}

func (b *builder) env(doc map[string]any) map[string]any {
	env := make(map[string]any, len(b.values)+1)
	for k, v := range b.values {
		env[k] = v
	}
	env["doc"] = doc
	return env
}

func (b *builder) bind(v ir.IRValue) (string, error) {
	switch v.(type) {
	case ir.IRString, ir.IRInt, ir.IRBool:
	case nil:
		return "", fmt.Errorf("comparison with null")
	default:
		return "", fmt.Errorf("comparison with non-scalar %T", v)
	}
	name := "v" + strconv.Itoa(len(b.values))
	b.values[name] = ir.ToGo(v)
	return name, nil
}

func (b *builder) predicate(p queryir.Predicate) (string, error) {
	switch pred := p.(type) {
	case nil:
		return "true", nil
	case queryir.Equals:
		return b.equals(pred.Field, pred.Value)
	case queryir.ParamEquals:
		val, ok := b.params[pred.Param]
		if !ok {
			return "", fmt.Errorf("parameter :%s is not bound", pred.Param)
		}
		return b.equals(pred.Field, val)
	case queryir.Not:
		if pred.Predicate == nil {
			return "", fmt.Errorf("NOT requires an operand")
		}
		inner, err := b.predicate(pred.Predicate)
		if err != nil {
			return "", err
		}
		return "!(" + inner + ")", nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "true", nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		for _, sub := range pred.Predicates {
			s, err := b.predicate(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+s+")")
		}
		return strings.Join(parts, " && "), nil
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (b *builder) equals(field string, v ir.IRValue) (string, error) {
	name, err := b.bind(v)
	if err != nil {
		return "", fmt.Errorf("field %s: %w", field, err)
	}
	return "doc[" + strconv.Quote(field) + "] == " + name, nil
}
