package queryexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

func visible() queryir.Predicate {
	return queryir.Not{Predicate: queryir.Equals{Field: "isSafeForEviction", Value: ir.IRBool(true)}}
}

// Same rows and expectations as the SQL semantics test in querysql.
var docs = []ir.Document{
	{ID: "a", Fields: ir.IRObject{"body": ir.IRString("x"), "isSafeForEviction": ir.IRBool(false), "userId": ir.IRString("Henry")}},
	{ID: "b", Fields: ir.IRObject{"body": ir.IRString("y"), "isSafeForEviction": ir.IRBool(true), "userId": ir.IRString("Henry")}},
	{ID: "c", Fields: ir.IRObject{"body": ir.IRString("z"), "userId": ir.IRString("Megan")}},
	{ID: "d", Fields: ir.IRObject{"body": ir.IRString("w"), "isSafeForEviction": ir.IRInt(1), "userId": ir.IRInt(1)}},
}

func TestMatchSemantics(t *testing.T) {
	tests := []struct {
		name   string
		pred   queryir.Predicate
		params ir.IRObject
		want   []string
	}{
		{"all", nil, nil, []string{"a", "b", "c", "d"}},
		{"visible includes missing flag and int flag", visible(), nil, []string{"a", "c", "d"}},
		{"owner", queryir.ParamEquals{Field: "userId", Param: "o"}, ir.IRObject{"o": ir.IRString("Henry")}, []string{"a", "b"}},
		{"int does not match string", queryir.Equals{Field: "userId", Value: ir.IRInt(1)}, nil, []string{"d"}},
		{"string does not match int", queryir.Equals{Field: "userId", Value: ir.IRString("1")}, nil, nil},
		{
			"visible and owner",
			queryir.AllOf(visible(), queryir.Equals{Field: "userId", Value: ir.IRString("Henry")}),
			nil,
			[]string{"a"},
		},
		{"by id", queryir.ByID("c"), nil, []string{"c"}},
		{"not missing field", queryir.Not{Predicate: queryir.Equals{Field: "nope", Value: ir.IRString("x")}}, nil, []string{"a", "b", "c", "d"}},
		{"empty and", queryir.And{}, nil, []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := Compile(tt.pred, tt.params)
			require.NoError(t, err)

			var got []string
			for _, d := range docs {
				ok, err := prg.Match(d)
				require.NoError(t, err, prg.Source())
				if ok {
					got = append(got, d.ID)
				}
			}
			assert.Equal(t, tt.want, got, prg.Source())
		})
	}
}

func TestSourceBindsValues(t *testing.T) {
	prg, err := Compile(
		queryir.AllOf(visible(), queryir.ParamEquals{Field: "userId", Param: "ownerId"}),
		ir.IRObject{"ownerId": ir.IRString(`Henry" || true`)},
	)
	require.NoError(t, err)

	assert.Equal(t, `(!(doc["isSafeForEviction"] == v0)) && (doc["userId"] == v1)`, prg.Source())
	assert.NotContains(t, prg.Source(), "Henry")

	ok, err := prg.Match(ir.Document{ID: "x", Fields: ir.IRObject{"userId": ir.IRString("Henry")}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		pred queryir.Predicate
		want string
	}{
		{"unbound", queryir.ParamEquals{Field: "userId", Param: "ownerId"}, "not bound"},
		{"empty not", queryir.Not{}, "NOT requires"},
		{"null", queryir.Equals{Field: "x"}, "null"},
		{"object", queryir.Equals{Field: "x", Value: ir.Tags("a")}, "non-scalar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.pred, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMatchSeesNestedTags(t *testing.T) {
	prg, err := Compile(queryir.Equals{Field: "body", Value: ir.IRString("Get Milk")}, nil)
	require.NoError(t, err)

	ok, err := prg.Match(ir.Document{ID: "1", Fields: ir.IRObject{
		"body":          ir.IRString("Get Milk"),
		"invitationIds": ir.Tags("Bill", "Nancy"),
	}})
	require.NoError(t, err)
	assert.True(t, ok)
}
