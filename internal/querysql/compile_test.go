package querysql

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

func visible() queryir.Predicate {
	return queryir.Not{Predicate: queryir.Equals{Field: "isSafeForEviction", Value: ir.IRBool(true)}}
}

func TestCompileSelect_Shape(t *testing.T) {
	c := NewSQLCompiler()

	sql, args, err := c.CompileSelect(queryir.Select{
		Collection: "tasks",
		Where:      queryir.AllOf(visible(), queryir.ParamEquals{Field: "userId", Param: "ownerId"}),
	}, ir.IRObject{"ownerId": ir.IRString("Henry")})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, body FROM documents WHERE collection = ? AND ("+
			"(NOT ((CASE WHEN json_valid(body) THEN json_type(body, ?) IS ? ELSE 0 END))) AND "+
			"((CASE WHEN json_valid(body) THEN json_type(body, ?) IS 'text' AND json_extract(body, ?) IS ? ELSE 0 END))"+
			") ORDER BY id ASC COLLATE BINARY",
		sql)
	assert.Equal(t, []any{
		"tasks",
		`$."isSafeForEviction"`, "true",
		`$."userId"`, `$."userId"`, "Henry",
	}, args)
	assert.NotContains(t, sql, "Henry", "values must be parameterized")
}

func TestCompile_OrderByMandatory(t *testing.T) {
	c := NewSQLCompiler()

	preds := []queryir.Predicate{
		nil,
		queryir.ByID("doc-1"),
		visible(),
		queryir.And{},
	}
	for _, p := range preds {
		sql, _, err := c.CompileSelect(queryir.Select{Collection: "tasks", Where: p}, nil)
		require.NoError(t, err)
		assert.Contains(t, sql, "ORDER BY id ASC COLLATE BINARY")

		sql, _, err = c.CompileIDs("tasks", p, nil)
		require.NoError(t, err)
		assert.Contains(t, sql, "ORDER BY id ASC COLLATE BINARY")
	}
}

func TestCompilePredicate_IDField(t *testing.T) {
	c := NewSQLCompiler()

	sql, args, err := c.CompilePredicate(queryir.ByID("doc-1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "id = ?", sql)
	assert.Equal(t, []any{"doc-1"}, args)

	sql, args, err = c.CompilePredicate(queryir.Equals{Field: ir.IDField, Value: ir.IRInt(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1 = 0", sql)
	assert.Empty(t, args)
}

func TestCompilePredicate_Errors(t *testing.T) {
	c := NewSQLCompiler()

	tests := []struct {
		name string
		pred queryir.Predicate
		want string
	}{
		{"unbound", queryir.ParamEquals{Field: "userId", Param: "ownerId"}, "not bound"},
		{"empty not", queryir.Not{}, "NOT requires"},
		{"null", queryir.Equals{Field: "x"}, "null"},
		{"object", queryir.Equals{Field: "x", Value: ir.Tags("a")}, "unsupported IRValue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.CompilePredicate(tt.pred, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, _, err := c.CompileSelect(queryir.Select{}, nil)
	assert.ErrorContains(t, err, "collection is required")
}

// TestCompiledSemantics runs compiled predicates against real rows to pin
// down missing-field and type behavior.
func TestCompiledSemantics(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE documents (collection TEXT, id TEXT, body TEXT, PRIMARY KEY (collection, id))`)
	require.NoError(t, err)

	rows := map[string]string{
		"a": `{"body":"x","isSafeForEviction":false,"userId":"Henry"}`,
		"b": `{"body":"y","isSafeForEviction":true,"userId":"Henry"}`,
		"c": `{"body":"z","userId":"Megan"}`,
		"d": `{"body":"w","isSafeForEviction":1,"userId":1}`,
		"e": `{"body":`,
	}
	for id, body := range rows {
		_, err := db.Exec(`INSERT INTO documents VALUES ('tasks', ?, ?)`, id, body)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO documents VALUES ('other', 'a', '{}')`)
	require.NoError(t, err)

	tests := []struct {
		name   string
		pred   queryir.Predicate
		params ir.IRObject
		want   []string
	}{
		{"all", nil, nil, []string{"a", "b", "c", "d", "e"}},
		{"visible includes missing flag, int flag and corrupt body", visible(), nil, []string{"a", "c", "d", "e"}},
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
		{"by id on corrupt body", queryir.ByID("e"), nil, []string{"e"}},
		{"not missing field", queryir.Not{Predicate: queryir.Equals{Field: "nope", Value: ir.IRString("x")}}, nil, []string{"a", "b", "c", "d", "e"}},
	}

	c := NewSQLCompiler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := c.CompileIDs("tasks", tt.pred, tt.params)
			require.NoError(t, err)

			rs, err := db.Query(query, args...)
			require.NoError(t, err)
			defer rs.Close()

			var got []string
			for rs.Next() {
				var id string
				require.NoError(t, rs.Scan(&id))
				got = append(got, id)
			}
			require.NoError(t, rs.Err())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONPath(t *testing.T) {
	assert.Equal(t, `$."invitationIds"`, JSONPath("invitationIds"))
}
