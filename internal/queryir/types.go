package queryir

import "github.com/roach88/liveview/internal/ir"

// Statement is a sealed interface over the operations a document store
// executes.
type Statement interface {
	statementNode()
	// CollectionName returns the collection the statement targets.
	CollectionName() string
}

// Predicate is a sealed interface over boolean filter expressions.
// A nil Predicate matches every document.
type Predicate interface {
	predicateNode()
}

// Select returns the documents matching Where, ordered by id.
type Select struct {
	Collection string
	Where      Predicate
}

func (Select) statementNode()           {}
func (s Select) CollectionName() string { return s.Collection }

// Insert adds one document. Inserting an id that already exists is a no-op,
// which makes create retries idempotent.
type Insert struct {
	Collection string
	ID         string
	Fields     ir.IRObject
}

func (Insert) statementNode()           {}
func (s Insert) CollectionName() string { return s.Collection }

// Update applies Patch to every document matching Where.
//
// Patch has JSON merge patch semantics: nested objects merge key by key,
// so {"invitationIds": {"Megan": true}} adds a tag without dropping others.
type Update struct {
	Collection string
	Where      Predicate
	Patch      ir.IRObject
}

func (Update) statementNode()           {}
func (s Update) CollectionName() string { return s.Collection }

// Evict physically removes every document matching Where.
type Evict struct {
	Collection string
	Where      Predicate
}

func (Evict) statementNode()           {}
func (s Evict) CollectionName() string { return s.Collection }

// Equals holds when Field equals the literal Value.
// A missing field never equals anything.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// ParamEquals holds when Field equals the named parameter supplied at
// execution time.
type ParamEquals struct {
	Field string
	Param string
}

func (ParamEquals) predicateNode() {}

// Not inverts its operand.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// And holds when every operand holds. Empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// ByID is shorthand for Equals{Field: ir.IDField, Value: id}.
func ByID(id string) Equals {
	return Equals{Field: ir.IDField, Value: ir.IRString(id)}
}

// AllOf builds an And, flattening nested Ands and dropping nil operands.
// A single remaining operand is returned unwrapped.
func AllOf(preds ...Predicate) Predicate {
	var flat []Predicate
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
			continue
		case And:
			flat = append(flat, v.Predicates...)
		default:
			flat = append(flat, p)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return And{Predicates: flat}
}
