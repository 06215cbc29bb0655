package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/liveview/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	View     []Row  // Final view for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFinal view:\n")
	for i, row := range e.View {
		fmt.Fprintf(&buf, "  [%d] %s %v\n", i+1, row.ID, row.Fields)
	}
	return buf.String()
}

func findRow(view []Row, id string) (Row, bool) {
	for _, r := range view {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

func assertViewContains(view []Row, a Assertion) error {
	row, ok := findRow(view, a.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertViewContains,
			Expected: fmt.Sprintf("document %s in view", a.ID),
			Actual:   "not found",
			View:     view,
		}
	}
	if key, ok := mismatch(row.Fields, a.Expect); !ok {
		return &AssertionError{
			Type:     AssertViewContains,
			Expected: fmt.Sprintf("field %q = %v", key, a.Expect[key]),
			Actual:   fmt.Sprintf("field %q = %v", key, row.Fields[key]),
			View:     view,
		}
	}
	return nil
}

func assertViewExcludes(view []Row, a Assertion) error {
	if _, ok := findRow(view, a.ID); ok {
		return &AssertionError{
			Type:     AssertViewExcludes,
			Expected: fmt.Sprintf("document %s absent from view", a.ID),
			Actual:   "present",
			View:     view,
		}
	}
	return nil
}

func assertViewCount(view []Row, a Assertion) error {
	if len(view) != a.Count {
		return &AssertionError{
			Type:     AssertViewCount,
			Expected: fmt.Sprintf("%d documents", a.Count),
			Actual:   fmt.Sprintf("%d documents", len(view)),
			View:     view,
		}
	}
	return nil
}

func (h *Harness) assertStore(ctx context.Context, view []Row, a Assertion) error {
	raw, found, err := h.storeDocument(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("%s: query %s: %w", a.Type, a.ID, err)
	}

	if a.Type == AssertStoreExcludes {
		if found {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("document %s absent from store", a.ID),
				Actual:   fmt.Sprintf("present: %s", raw.Body),
				View:     view,
			}
		}
		return nil
	}

	if !found {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("document %s in store", a.ID),
			Actual:   "not found",
			View:     view,
		}
	}
	if len(a.Expect) == 0 {
		return nil
	}
	v, err := ir.UnmarshalIRValue(raw.Body)
	if err != nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("document %s to decode", a.ID),
			Actual:   err.Error(),
			View:     view,
		}
	}
	fields, _ := ir.ToGo(v).(map[string]any)
	if key, ok := mismatch(fields, a.Expect); !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("field %q = %v", key, a.Expect[key]),
			Actual:   fmt.Sprintf("field %q = %v", key, fields[key]),
			View:     view,
		}
	}
	return nil
}

func (h *Harness) assertSubscriptions(ctx context.Context, view []Row, a Assertion) error {
	subs, err := h.store.Subscriptions(ctx)
	if err != nil {
		return fmt.Errorf("subscriptions: %w", err)
	}
	if len(subs) != a.Count {
		texts := make([]string, len(subs))
		for i, s := range subs {
			texts[i] = s.Text
		}
		return &AssertionError{
			Type:     AssertSubscriptions,
			Expected: fmt.Sprintf("%d subscriptions", a.Count),
			Actual:   fmt.Sprintf("%d subscriptions %v", len(subs), texts),
			View:     view,
		}
	}
	return nil
}

// mismatch returns the first expected key, in sorted order, whose value
// differs from actual. Extra keys in actual are ignored.
func mismatch(actual, expected map[string]any) (string, bool) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		got, exists := actual[key]
		if !exists || !valuesEqual(got, expected[key]) {
			return key, false
		}
	}
	return "", true
}

// valuesEqual compares through the IR so YAML ints equal stored int64s.
func valuesEqual(actual, expected any) bool {
	a, errA := ir.ToIRValue(actual)
	e, errE := ir.ToIRValue(expected)
	if errA != nil || errE != nil {
		return reflect.DeepEqual(actual, expected)
	}
	return reflect.DeepEqual(a, e)
}

// evaluateAssertions returns a message per failed assertion.
func (h *Harness) evaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertViewContains:
			err = assertViewContains(result.View, a)
		case AssertViewExcludes:
			err = assertViewExcludes(result.View, a)
		case AssertViewCount:
			err = assertViewCount(result.View, a)
		case AssertStoreContains, AssertStoreExcludes:
			err = h.assertStore(ctx, result.View, a)
		case AssertSubscriptions:
			err = h.assertSubscriptions(ctx, result.View, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
