// Package tasks is the to-do domain built on the live view engine: the
// task document shape and the edits a task list screen makes.
package tasks

import (
	"sort"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/liveview"
)

// Collection is the collection tasks are stored in.
const Collection = "tasks"

// Field names of a task document.
const (
	FieldBody        = "body"
	FieldUserID      = "userId"
	FieldIsCompleted = "isCompleted"
	FieldEvictable   = "isSafeForEviction"
	FieldInvitations = "invitationIds"
)

// Task is one to-do item.
type Task struct {
	ID                string          `json:"id"`
	Body              string          `json:"body"`
	UserID            string          `json:"userId"`
	IsCompleted       bool            `json:"isCompleted"`
	IsSafeForEviction bool            `json:"isSafeForEviction"`
	InvitationIDs     map[string]bool `json:"invitationIds"`
}

// FromDocument reads a task from a decoded document. Missing or mistyped
// fields take their zero value.
func FromDocument(doc ir.Document) Task {
	t := Task{
		ID:                doc.ID,
		Body:              doc.Fields.StringField(FieldBody),
		UserID:            doc.Fields.StringField(FieldUserID),
		IsCompleted:       doc.Fields.BoolField(FieldIsCompleted),
		IsSafeForEviction: doc.Fields.BoolField(FieldEvictable),
		InvitationIDs:     map[string]bool{},
	}
	for name, v := range doc.Fields.ObjectField(FieldInvitations) {
		if b, ok := v.(ir.IRBool); ok {
			t.InvitationIDs[name] = bool(b)
		}
	}
	return t
}

// FromDocuments converts a result set, keeping its order.
func FromDocuments(docs []ir.Document) []Task {
	out := make([]Task, len(docs))
	for i, d := range docs {
		out[i] = FromDocument(d)
	}
	return out
}

// FromSnapshot converts the documents of a view snapshot.
func FromSnapshot(snap liveview.Snapshot) []Task {
	return FromDocuments(snap.Documents)
}

// Fields encodes the task without its id.
func (t Task) Fields() ir.IRObject {
	inv := ir.IRObject{}
	for name, on := range t.InvitationIDs {
		inv[name] = ir.IRBool(on)
	}
	return ir.IRObject{
		FieldBody:        ir.IRString(t.Body),
		FieldUserID:      ir.IRString(t.UserID),
		FieldIsCompleted: ir.IRBool(t.IsCompleted),
		FieldEvictable:   ir.IRBool(t.IsSafeForEviction),
		FieldInvitations: inv,
	}
}

// Invitees returns the names invited to the task, sorted.
func (t Task) Invitees() []string {
	names := make([]string, 0, len(t.InvitationIDs))
	for name, on := range t.InvitationIDs {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
