// Package vaulterr defines the error taxonomy shared by the promptvault
// storage packages.
//
// Every failure surfaced by the record store, catalog, sync engine, version
// store and retention engine is an *Error carrying a Kind. Callers that need
// to tell "not found" apart from "I/O failure" match on the kind:
//
//	if errors.Is(err, vaulterr.ErrRecordNotFound) {
//	    // the id or name does not exist
//	}
package vaulterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is the zero value and never produced by this module.
	KindUnknown Kind = iota
	// KindStorage covers file I/O failures and malformed record files.
	KindStorage
	// KindSQL covers catalog query, statement and transaction failures.
	KindSQL
	// KindRecordNotFound is a lookup miss for a record id or name.
	KindRecordNotFound
	// KindVersionNotFound is a lookup miss for a record version.
	KindVersionNotFound
	// KindDuplicateName is a uniqueness violation on record name.
	KindDuplicateName
	// KindValidation is an input rejected before it reached storage.
	KindValidation
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindSQL:
		return "sql"
	case KindRecordNotFound:
		return "record not found"
	case KindVersionNotFound:
		return "version not found"
	case KindDuplicateName:
		return "duplicate name"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrStorage         = &Error{Kind: KindStorage}
	ErrSQL             = &Error{Kind: KindSQL}
	ErrRecordNotFound  = &Error{Kind: KindRecordNotFound}
	ErrVersionNotFound = &Error{Kind: KindVersionNotFound}
	ErrDuplicateName   = &Error{Kind: KindDuplicateName}
	ErrValidation      = &Error{Kind: KindValidation}
)

// Error is the concrete error type of the module.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "record.read".
	Op string
	// Key identifies the subject (path, id, name, "id@branch:v3").
	Key string
	// Statement is the failing SQL statement for KindSQL errors.
	Statement string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != "" {
		msg += " (" + e.Key + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel (or *Error) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Storage wraps a file-level failure for path.
func Storage(op, path string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Key: path, Err: err}
}

// SQL wraps a catalog failure together with the statement that caused it.
func SQL(op, stmt string, err error) *Error {
	return &Error{Kind: KindSQL, Op: op, Statement: stmt, Err: err}
}

// RecordNotFound reports a missing record id or name.
func RecordNotFound(op, key string) *Error {
	return &Error{Kind: KindRecordNotFound, Op: op, Key: key}
}

// VersionNotFound reports a missing (record, branch, version).
func VersionNotFound(op, recordID, branch string, version int) *Error {
	key := recordID
	if branch != "" {
		key += "@" + branch
	}
	if version > 0 {
		key = fmt.Sprintf("%s:v%d", key, version)
	}
	return &Error{Kind: KindVersionNotFound, Op: op, Key: key}
}

// DuplicateName reports a record name already in use.
func DuplicateName(op, name string) *Error {
	return &Error{Kind: KindDuplicateName, Op: op, Key: name}
}

// Validation reports an input rejected by a validator.
func Validation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a record or version lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrVersionNotFound)
}
