// Package core provides the execution engine for the bijux CLI: the global
// option resolver, the dependency-injection kernel, the command dispatch loop,
// and the error taxonomy shared by every command and service.
package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for exit-code mapping and retry logic.
type ErrorKind string

const (
	// KindUsage indicates invalid invocation input. Maps to exit code 2.
	KindUsage ErrorKind = "usage"

	// KindInternal indicates an unexpected internal failure. Maps to exit code 1.
	KindInternal ErrorKind = "internal"

	// KindEncoding indicates a serialization or output-hygiene failure.
	// Maps to exit code 3.
	KindEncoding ErrorKind = "encoding"

	// KindNotFound indicates a missing resource (key, plugin, file).
	KindNotFound ErrorKind = "not_found"

	// KindAlreadyExists indicates a conflicting resource that already exists.
	KindAlreadyExists ErrorKind = "already_exists"

	// KindValidation indicates input that failed schema or semantic checks.
	KindValidation ErrorKind = "validation"

	// KindPluginHook indicates a failure raised inside a plugin hook.
	KindPluginHook ErrorKind = "plugin_hook"

	// KindTimeout indicates a bounded wait that elapsed.
	// Timeouts are the only kind retried by default.
	KindTimeout ErrorKind = "timeout"

	// KindCancelled indicates the invocation was cancelled by its context.
	KindCancelled ErrorKind = "cancelled"
)

// Exit codes for the CLI surface. Command-specific codes must not collide
// with these.
const (
	ExitOK       = 0
	ExitInternal = 1
	ExitUsage    = 2
	ExitEncoding = 3
)

// Canonical failure strings carried in error envelopes. The upstream
// documentation wavers between not_found and not_installed for missing
// plugins; not_installed is the canonical string for that condition and
// not_found stays generic.
const (
	FailInvalidFormat  = "invalid_format"
	FailNotFound       = "not_found"
	FailNotInstalled   = "not_installed"
	FailAlreadyExists  = "already_exists"
	FailNoTemplate     = "no_template"
	FailHistoryLocked  = "history_locked"
	FailRetryExhausted = "retry_exhausted"
	FailCancelled      = "cancelled"
	FailPluginHook     = "plugin_hook"
	FailValidation     = "validation"
	FailUnexpected     = "unexpected"
	FailKeyNotFound    = "key_not_found"
	FailSourceNotFound = "source_not_found"
	FailInvalidName    = "invalid_name"
	FailPolicyDenied   = "policy_denied"
)

// Error is a classified error with enough context to build an envelope.
type Error struct {
	// Kind is the taxonomy classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Failure is the stable machine-readable failure string.
	Failure string `json:"failure,omitempty"`

	// Command is the command path that produced the error, if known.
	Command string `json:"command,omitempty"`

	// Transient marks the error as safe to retry.
	Transient bool `json:"transient,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Failure == "" || e.Failure == t.Failure)
}

// WithCommand attaches the originating command path.
func (e *Error) WithCommand(command string) *Error {
	e.Command = command
	return e
}

// WithFailure overrides the failure string.
func (e *Error) WithFailure(failure string) *Error {
	e.Failure = failure
	return e
}

// AsTransient marks the error as retryable.
func (e *Error) AsTransient() *Error {
	e.Transient = true
	return e
}

// ExitCode maps the error kind to the process exit code.
func (e *Error) ExitCode() int {
	switch e.Kind {
	case KindUsage:
		return ExitUsage
	case KindEncoding:
		return ExitEncoding
	default:
		return ExitInternal
	}
}

func newError(kind ErrorKind, failure, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Failure: failure, Err: err}
}

// NewUsageError creates a usage error (exit code 2).
func NewUsageError(message string, err error) *Error {
	return newError(KindUsage, FailValidation, message, err)
}

// NewInternalError creates an internal error (exit code 1).
func NewInternalError(message string, err error) *Error {
	return newError(KindInternal, FailUnexpected, message, err)
}

// NewEncodingError creates an output-hygiene error (exit code 3).
func NewEncodingError(message string, err error) *Error {
	return newError(KindEncoding, "serialize", message, err)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *Error {
	return newError(KindNotFound, FailNotFound, message, err)
}

// NewAlreadyExistsError creates an already-exists error.
func NewAlreadyExistsError(message string, err error) *Error {
	return newError(KindAlreadyExists, FailAlreadyExists, message, err)
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return newError(KindValidation, FailValidation, message, err)
}

// NewPluginHookError creates a plugin hook error.
func NewPluginHookError(message string, err error) *Error {
	return newError(KindPluginHook, FailPluginHook, message, err)
}

// NewTimeoutError creates a timeout error. Timeouts are transient.
func NewTimeoutError(message string, err error) *Error {
	return newError(KindTimeout, "timeout", message, err).AsTransient()
}

// NewCancelledError creates a cancellation error.
func NewCancelledError(message string, err error) *Error {
	return newError(KindCancelled, FailCancelled, message, err)
}

// KindOf returns the taxonomy kind of err, or KindInternal when err is not
// a classified error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is classified as not found.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsAlreadyExists reports whether err is classified as already exists.
func IsAlreadyExists(err error) bool {
	return KindOf(err) == KindAlreadyExists
}

// IsCancelled reports whether err is classified as cancelled.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindCancelled
}

// IsRetryable reports whether err can be retried. Timeouts and errors
// explicitly marked transient are retryable; validation and usage errors
// never are.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindUsage, KindValidation, KindCancelled:
		return false
	}
	return e.Transient || e.Kind == KindTimeout
}

// ExitCodeFor maps an arbitrary error to the process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return ExitInternal
}
