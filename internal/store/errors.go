package store

import (
	"errors"
	"fmt"
)

// StoreError reports a failed store operation: a statement that could not
// be compiled or executed, or a commit that failed.
type StoreError struct {
	// Op names the operation, e.g. "insert", "update", "evict", "select".
	Op string

	// Collection is the target collection, when known.
	Collection string

	Err error
}

func (e *StoreError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// RegistrationKind says what was being registered.
type RegistrationKind string

const (
	KindSubscription RegistrationKind = "subscription"
	KindObserver     RegistrationKind = "observer"
)

// RegistrationError reports a filter the store refused to register, either
// because it is malformed or because the store is closed.
type RegistrationError struct {
	Kind   RegistrationKind
	Filter string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s for %q: %v", e.Kind, e.Filter, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// NotFoundError reports that no live document matched an id.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %s/%s not found", e.Collection, e.ID)
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// IsStoreError returns true if err wraps a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsRegistrationError returns true if err wraps a *RegistrationError.
func IsRegistrationError(err error) bool {
	var re *RegistrationError
	return errors.As(err, &re)
}

// IsNotFound returns true if err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
