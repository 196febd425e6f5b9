// Package ferr defines the structured error taxonomy shared by every forge
// component, matching the error-handling idiom the rest of the engine uses:
// typed errors wrapped with fmt.Errorf("...: %w", err) and compared with
// errors.Is/errors.As, never a third-party error-wrapping library.
package ferr

import (
	"errors"
	"fmt"
)

// Kind names one entry in the error taxonomy. Every user-visible failure
// names a Kind; there is no silent fallback path.
type Kind string

const (
	// Input errors.
	BadPath          Kind = "BadPath"
	BadArguments     Kind = "BadArguments"
	UnknownTool      Kind = "UnknownTool"
	ApprovalRequired Kind = "ApprovalRequired"

	// VFS errors.
	NotFound        Kind = "NotFound"
	ReadOnly        Kind = "ReadOnly"
	Binary          Kind = "Binary"
	OverlayPoisoned Kind = "OverlayPoisoned"

	// Git errors.
	RefRaced     Kind = "RefRaced"
	MergeConflict Kind = "MergeConflict"
	WorkdirDirty Kind = "WorkdirDirty"
	CorruptObject Kind = "CorruptObject"

	// Model/transport errors.
	ModelUnavailable  Kind = "ModelUnavailable"
	ModelProtocolError Kind = "ModelProtocolError"
	QuotaExhausted    Kind = "QuotaExhausted"
	AuthFailure       Kind = "AuthFailure"

	// Execution errors.
	ToolTimeout Kind = "ToolTimeout"
	ToolFailed  Kind = "ToolFailed"
	Cancelled   Kind = "Cancelled"

	// State errors.
	IllegalTransition Kind = "IllegalTransition"
)

// Error is a structured error carrying a taxonomy Kind plus enough detail
// to surface diagnosis.
type Error struct {
	Kind   Kind
	Detail string
	// Data carries structured extras, e.g. {"count": 3} for an AmbiguousMatch.
	Data map[string]any
	Err  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a *Error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds a *Error that wraps an underlying error.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// WithData attaches structured data to an Error and returns it for chaining.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Retriable reports whether a Kind is worth retrying within the turn
// executor's retry budget. Non-retriable kinds fail the turn immediately.
func Retriable(kind Kind) bool {
	switch kind {
	case AuthFailure, QuotaExhausted, ModelProtocolError:
		return false
	default:
		return true
	}
}
