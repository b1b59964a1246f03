// Package cerrors defines the small typed error taxonomy the engine,
// registry, and transport layers agree on, so the HTTP server can map a
// failure to a status code and the CLI can map one to an exit code without
// string-matching error messages.
package cerrors

import (
	"fmt"

	"github.com/boz/contiman/types"
	"github.com/pkg/errors"
)

// Kind discriminates the error taxonomy from §7 of the specification.
type Kind string

const (
	KindInvalidConfig    Kind = "InvalidConfig"
	KindConflict         Kind = "Conflict"
	KindNotFound         Kind = "NotFound"
	KindInvalidArgument  Kind = "InvalidArgument"
	KindTransitionFailed Kind = "TransitionFailed"
	KindInteriorError    Kind = "InteriorError"
)

// Error is the concrete type every taxonomy member is constructed as.
// Additional structured fields live on TransitionFailure for the one kind
// that carries them.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// baseError aliases Error so TransitionFailure can embed it anonymously
// without the embedded field name colliding with the promoted Error()
// method (both would otherwise be named "Error", which the compiler
// rejects).
type baseError = Error

// TransitionFailure is a KindTransitionFailed error carrying the divergence
// detail §4.2 requires the engine to surface.
type TransitionFailure struct {
	*baseError
	Expectation types.State
	Actual      types.State
	Accepts     []types.State
}

// Unwrap shadows the promoted *Error.Unwrap, which only ever returns Cause
// (always nil here) and would otherwise stop errors.As short of *Error.
func (t *TransitionFailure) Unwrap() error { return t.baseError }

func NewInvalidConfig(id types.ID, cause error) error {
	return &Error{Kind: KindInvalidConfig, Message: fmt.Sprintf("container %q: invalid config", id), Cause: cause}
}

func NewConflict(id types.ID) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf("container %q already exists", id)}
}

func NewNotFound(id types.ID) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("container %q not found", id)}
}

func NewInvalidArgument(msg string) error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

func NewTransitionFailed(id types.ID, expectation, actual types.State, accepts []types.State) error {
	return &TransitionFailure{
		baseError: &Error{
			Kind:    KindTransitionFailed,
			Message: fmt.Sprintf("container %q: interior reported %q, outside accepted path to %q", id, actual, expectation),
		},
		Expectation: expectation,
		Actual:      actual,
		Accepts:     accepts,
	}
}

func NewInteriorError(id types.ID, cause error) error {
	return &Error{Kind: KindInteriorError, Message: fmt.Sprintf("container %q: interior error", id), Cause: errors.WithStack(cause)}
}

// KindOf extracts the Kind from err, walking the cause chain. It returns
// ("", false) for an error that isn't part of the taxonomy.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind matches k.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

// FromWire reconstructs a taxonomy error from a kind and message decoded off
// an HTTP error body, so a client-side caller can use KindOf/Is on a failure
// that crossed the wire the same way it would on one raised locally.
func FromWire(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}
