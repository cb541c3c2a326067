package errs

import (
	"errors"
	"fmt"
)

// Kind tells the caller how to recover from an error.
type Kind int

const (
	Unknown Kind = iota
	// UserInput: bad number, empty selection. Re-prompt, state unchanged.
	UserInput
	// Precondition: wrong state for the command, no open WorkDay.
	Precondition
	// ResourceNotFound: unknown vehicle, catalog id or project.
	ResourceNotFound
	// ExternalService: catalog, notification or webhook unreachable.
	ExternalService
	// DataIntegrity: ledger conflicts, negative amounts, empty split pools.
	DataIntegrity
)

func (k Kind) String() string {
	switch k {
	case UserInput:
		return "user_input"
	case Precondition:
		return "precondition"
	case ResourceNotFound:
		return "resource_not_found"
	case ExternalService:
		return "external_service"
	case DataIntegrity:
		return "data_integrity"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, errs.E(errs.UserInput)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// E returns a bare kind marker, usable as an errors.Is target.
func E(kind Kind) error {
	return &Error{Kind: kind}
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func UserInputf(op, format string, args ...any) error {
	return newf(UserInput, op, format, args...)
}

func Preconditionf(op, format string, args ...any) error {
	return newf(Precondition, op, format, args...)
}

func NotFoundf(op, format string, args ...any) error {
	return newf(ResourceNotFound, op, format, args...)
}

func Integrityf(op, format string, args ...any) error {
	return newf(DataIntegrity, op, format, args...)
}

// External wraps a failure of a remote collaborator.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ExternalService, Op: op, Err: err}
}

// Wrap attaches kind and op to err, keeping the chain intact.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Message returns the user facing part of err without the op prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
