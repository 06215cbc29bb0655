// Package queryir provides the statement and predicate intermediate
// representation shared by every document store backend.
//
// Statements and predicates are sealed interfaces using the marker method
// pattern: only types in this package implement them, so backends can use
// exhaustive type switches.
//
//	switch s := stmt.(type) {
//	case Select:
//	case Insert:
//	case Update:
//	case Evict:
//	}
//
// Backends:
//
//	[Filter / Statement] -> [querysql]  -> SQLite
//	                     -> [queryexpr] -> in-memory evaluation
//
// Both backends must agree on predicate semantics:
//   - Equals on a missing field is false, never an error
//   - Not inverts, so Not(Equals(f, true)) holds for documents lacking f
//   - And with no operands is true
//   - The reserved field ir.IDField addresses the document identifier
//
// All literal values are ir.IRValue scalars (string, int, bool). Floats and
// null cannot be expressed.
package queryir
