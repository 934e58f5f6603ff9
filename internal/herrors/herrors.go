// Package herrors provides typed error handling for the Hermes simulation
// orchestration engine.
//
// It defines the error kinds from the core's error-handling design: every
// fatal condition the backplane, barrier, process manager, and scheduler can
// raise is tagged with a Kind so callers can branch on category rather than
// string-match messages. All errors support errors.Is/errors.As.
package herrors

import (
	"errors"
	"fmt"
)

// Kind represents the category of an error.
type Kind int

const (
	// Config indicates a configuration validation error (unique-name
	// violations, unknown wire endpoints, invalid schedule, bad rate).
	Config Kind = iota
	// SharedMemory indicates a shared memory create/attach/unlink failure.
	SharedMemory
	// Semaphore indicates a semaphore create/attach/unlink failure.
	Semaphore
	// ModuleSpawn indicates a fork/exec failure for a module process.
	ModuleSpawn
	// ModuleCrashed indicates a module exited non-zero or via signal.
	ModuleCrashed
	// BarrierTimeout indicates a timeout waiting on the frame barrier.
	BarrierTimeout
	// UnknownSignal indicates a signal access by an unregistered name.
	UnknownSignal
	// NotWritable indicates a write to a non-writable signal.
	NotWritable
	// WrongType indicates a typed accessor used against a slot of a
	// different declared type.
	WrongType
	// Protocol indicates a telemetry/scripting boundary protocol error.
	Protocol
	// Internal indicates a bug or unexpected internal condition.
	Internal
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case Config:
		return "config error"
	case SharedMemory:
		return "shared memory error"
	case Semaphore:
		return "semaphore error"
	case ModuleSpawn:
		return "module spawn error"
	case ModuleCrashed:
		return "module crashed"
	case BarrierTimeout:
		return "barrier timeout"
	case UnknownSignal:
		return "unknown signal"
	case NotWritable:
		return "signal not writable"
	case WrongType:
		return "wrong signal type"
	case Protocol:
		return "protocol error"
	case Internal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// HermesError represents an error that occurred during a core operation.
type HermesError struct {
	// Op is the operation that failed (e.g. "attach", "spawn", "wait_done").
	Op string
	// Module is the module name, if applicable.
	Module string
	// Err is the underlying error.
	Err error
	// Kind is the error classification.
	Kind Kind
	// Detail provides additional human-readable context.
	Detail string
}

// Error returns the error message.
func (e *HermesError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var msg string
	if e.Module != "" {
		msg = fmt.Sprintf("module %s: ", e.Module)
	}
	if e.Op != "" {
		msg += fmt.Sprintf("%s: ", e.Op)
	}
	if e.Detail != "" {
		msg += e.Detail
	} else {
		msg += e.Kind.String()
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *HermesError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the error matches the target. It matches if the
// target is a *HermesError with the same Kind, or if the underlying
// error matches.
func (e *HermesError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if t, ok := target.(*HermesError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new HermesError with the given kind.
func New(kind Kind, op string, detail string) *HermesError {
	return &HermesError{Op: op, Kind: kind, Detail: detail}
}

// Wrap wraps an error with operation context.
func Wrap(err error, kind Kind, op string) *HermesError {
	return &HermesError{Op: op, Err: err, Kind: kind}
}

// WrapWithModule wraps an error with operation and module context.
func WrapWithModule(err error, kind Kind, op string, module string) *HermesError {
	return &HermesError{Op: op, Module: module, Err: err, Kind: kind}
}

// WrapWithDetail wraps an error with additional detail.
func WrapWithDetail(err error, kind Kind, op string, detail string) *HermesError {
	return &HermesError{Op: op, Err: err, Kind: kind, Detail: detail}
}

// IsKind checks whether an error is of a specific kind.
func IsKind(err error, kind Kind) bool {
	var herr *HermesError
	if errors.As(err, &herr) {
		return herr.Kind == kind
	}
	return false
}

// GetKind returns the error kind if the error is a HermesError.
func GetKind(err error) (Kind, bool) {
	var herr *HermesError
	if errors.As(err, &herr) {
		return herr.Kind, true
	}
	return 0, false
}

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
