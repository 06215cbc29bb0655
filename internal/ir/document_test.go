package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tasksSchema() CollectionSchema {
	return CollectionSchema{
		Name:            "tasks",
		VisibilityField: "isSafeForEviction",
		OwnerField:      "userId",
		Fields: map[string]FieldKind{
			"body":              KindString,
			"userId":            KindString,
			"isCompleted":       KindBool,
			"isSafeForEviction": KindBool,
			"invitationIds":     KindTags,
		},
	}
}

func TestDocumentObjectAddsID(t *testing.T) {
	doc := Document{ID: "doc-1", Fields: IRObject{"body": IRString("Get Milk")}}

	obj := doc.Object()
	assert.Equal(t, IRString("doc-1"), obj[IDField])
	assert.NotContains(t, doc.Fields, IDField, "Object must not mutate Fields")

	empty := Document{ID: "doc-2"}
	assert.Equal(t, IRObject{IDField: IRString("doc-2")}, empty.Object())
}

func TestDocumentHidden(t *testing.T) {
	doc := Document{ID: "a", Fields: IRObject{"isSafeForEviction": IRBool(true)}}
	assert.True(t, doc.Hidden("isSafeForEviction"))
	assert.False(t, Document{ID: "b"}.Hidden("isSafeForEviction"))
}

func TestNewRawDocument(t *testing.T) {
	raw, err := NewRawDocument("doc-1", IRObject{"userId": IRString(""), "body": IRString("x")})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", raw.ID)
	assert.Equal(t, `{"body":"x","userId":""}`, string(raw.Body))

	_, err = NewRawDocument("doc-1", IRObject{IDField: IRString("other")})
	assert.ErrorContains(t, err, "reserved")

	raw, err = NewRawDocument("doc-3", nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw.Body))
}

func TestChangeBatchIDs(t *testing.T) {
	b := ChangeBatch{Seq: 4, Changes: []Change{
		{ID: "c", Kind: ChangeUpdate},
		{ID: "a", Kind: ChangeInsert},
		{ID: "c", Kind: ChangeEvict},
	}}
	assert.Equal(t, []string{"a", "c"}, b.IDs())
	assert.Empty(t, ChangeBatch{}.IDs())
}

func TestCollectionSchemaValidate(t *testing.T) {
	require.NoError(t, tasksSchema().Validate())

	tests := []struct {
		name   string
		mutate func(*CollectionSchema)
		want   string
	}{
		{"no name", func(s *CollectionSchema) { s.Name = "" }, "name is required"},
		{"reserved id", func(s *CollectionSchema) { s.Fields[IDField] = KindString }, "reserved"},
		{"visibility not bool", func(s *CollectionSchema) { s.VisibilityField = "body" }, "visibility field"},
		{"visibility undeclared", func(s *CollectionSchema) { s.VisibilityField = "deleted" }, "visibility field"},
		{"owner not string", func(s *CollectionSchema) { s.OwnerField = "isCompleted" }, "owner field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tasksSchema()
			tt.mutate(&s)
			assert.ErrorContains(t, s.Validate(), tt.want)
		})
	}

	noOwner := tasksSchema()
	noOwner.OwnerField = ""
	assert.NoError(t, noOwner.Validate())
}

func TestFieldNamesSorted(t *testing.T) {
	assert.Equal(t,
		[]string{"body", "invitationIds", "isCompleted", "isSafeForEviction", "userId"},
		tasksSchema().FieldNames())
}
