package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{
		"userId":            IRString(""),
		"body":              IRString("x"),
		"_id":               IRString("doc-1"),
		"isSafeForEviction": IRBool(false),
		"A":                 IRInt(1),
	}

	assert.Equal(t, []string{"A", "_id", "body", "isSafeForEviction", "userId"}, obj.SortedKeys())
	assert.Empty(t, IRObject{}.SortedKeys())
}

func TestCompareKeysRFC8785(t *testing.T) {
	tests := []struct {
		a, b string
		sign int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"aa", "a", 1},
		{"", "a", -1},
		{"\U00010000", "\uE000", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			got := compareKeysRFC8785(tt.a, tt.b)
			switch {
			case tt.sign < 0:
				assert.Less(t, got, 0)
			case tt.sign > 0:
				assert.Greater(t, got, 0)
			default:
				assert.Equal(t, 0, got)
			}
		})
	}
}

func TestFieldAccessors(t *testing.T) {
	obj := NewIRObject(
		O("body", IRString("Get Milk")),
		O("isCompleted", IRBool(true)),
		O("invitationIds", Tags("Jamie")),
		O("count", IRInt(3)),
	)

	assert.Equal(t, "Get Milk", obj.StringField("body"))
	assert.Equal(t, "", obj.StringField("count"), "wrong type reads as zero value")
	assert.Equal(t, "", obj.StringField("missing"))
	assert.True(t, obj.BoolField("isCompleted"))
	assert.False(t, obj.BoolField("body"))
	assert.Equal(t, IRObject{"Jamie": IRBool(true)}, obj.ObjectField("invitationIds"))
	assert.Nil(t, obj.ObjectField("body"))
}

func TestCloneIsDeep(t *testing.T) {
	orig := IRObject{
		"invitationIds": Tags("Henry"),
		"list":          IRArray{IRObject{"a": IRInt(1)}},
	}
	clone := orig.Clone()

	clone["invitationIds"].(IRObject)["Megan"] = IRBool(true)
	clone["list"].(IRArray)[0].(IRObject)["a"] = IRInt(2)

	assert.Equal(t, Tags("Henry"), orig["invitationIds"])
	assert.Equal(t, IRInt(1), orig["list"].(IRArray)[0].(IRObject)["a"])
	assert.Nil(t, IRObject(nil).Clone())
}

func TestUnmarshalRejectsFloatsAndNull(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"float", `3.14`, "float"},
		{"exponent", `1e5`, "float"},
		{"float in object", `{"n":1.5}`, "float"},
		{"float in array", `[1,2.0]`, "float"},
		{"null", `null`, "null"},
		{"null field", `{"userId":null}`, "null"},
		{"too large", `92233720368547758070`, "range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalIRValue([]byte(tt.json))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIRObjectUnmarshalJSON(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`{"body":"x","isCompleted":true,"invitationIds":{"Bill":true},"n":2}`), &obj)
	require.NoError(t, err)

	assert.Equal(t, IRObject{
		"body":          IRString("x"),
		"isCompleted":   IRBool(true),
		"invitationIds": IRObject{"Bill": IRBool(true)},
		"n":             IRInt(2),
	}, obj)

	err = json.Unmarshal([]byte(`[1,2]`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON object")
}

func TestMarshalIRValueRoundTrip(t *testing.T) {
	values := []IRValue{
		IRString("hello"),
		IRInt(-7),
		IRBool(false),
		IRArray{IRString("a"), IRArray{IRInt(1)}},
		IRObject{"z": IRInt(1), "a": IRObject{"b": IRBool(true)}},
	}

	for _, v := range values {
		data, err := MarshalIRValue(v)
		require.NoError(t, err)
		back, err := UnmarshalIRValue(data)
		require.NoError(t, err)
		assert.Equal(t, v, back)
	}
}

func TestMarshalJSONKeyOrder(t *testing.T) {
	data, err := json.Marshal(IRObject{"zebra": IRInt(1), "alpha": IRInt(2)})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"zebra":1}`, string(data))
}

func TestToIRValueAndToGo(t *testing.T) {
	native := map[string]any{
		"body":          "Get Milk",
		"n":             int64(4),
		"isCompleted":   true,
		"invitationIds": map[string]bool{"Leticia": true},
		"list":          []any{"a", 1},
	}

	v, err := ToIRValue(native)
	require.NoError(t, err)

	obj := v.(IRObject)
	assert.Equal(t, IRString("Get Milk"), obj["body"])
	assert.Equal(t, IRObject{"Leticia": IRBool(true)}, obj["invitationIds"])
	assert.Equal(t, IRArray{IRString("a"), IRInt(1)}, obj["list"])

	back := ToGo(obj).(map[string]any)
	assert.Equal(t, "Get Milk", back["body"])
	assert.Equal(t, int64(4), back["n"])
	assert.Equal(t, map[string]any{"Leticia": true}, back["invitationIds"])
	assert.Equal(t, []any{"a", int64(1)}, back["list"])
	assert.Nil(t, ToGo(nil))
}
