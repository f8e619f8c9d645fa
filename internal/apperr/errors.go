// Package apperr defines the pipeline error taxonomy. Every fatal failure
// surfaced by the controller carries one of the kinds below so callers (and
// the CLI exit code) can branch on errors.Is without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindConnection
	KindTemplate
	KindUnsupportedType
	KindMerge
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindConnection:
		return "connection"
	case KindTemplate:
		return "template"
	case KindUnsupportedType:
		return "unsupported type"
	case KindMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrConfig          = &Error{Kind: KindConfig}
	ErrConnection      = &Error{Kind: KindConnection}
	ErrTemplate        = &Error{Kind: KindTemplate}
	ErrUnsupportedType = &Error{Kind: KindUnsupportedType}
	ErrMerge           = &Error{Kind: KindMerge}
)

// Error is a classified failure. Op names the operation that failed, e.g.
// "source.extract" or "merge.upsert".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind. Op and Err are
// ignored so the package sentinels match any instance.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(k Kind, op, format string, args ...any) error {
	return &Error{Kind: k, Op: op, Err: fmt.Errorf(format, args...)}
}

// Config reports a malformed or missing configuration key.
func Config(op, format string, args ...any) error {
	return newf(KindConfig, op, format, args...)
}

// Connection reports an unreachable backend.
func Connection(op string, err error) error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

// Template reports a query or path template that references an undefined
// parameter or is otherwise malformed.
func Template(op, format string, args ...any) error {
	return newf(KindTemplate, op, format, args...)
}

// UnsupportedType reports a column type with no mapping in the target dialect.
func UnsupportedType(op, format string, args ...any) error {
	return newf(KindUnsupportedType, op, format, args...)
}

// Merge reports a failed write to the target. The underlying driver error is
// preserved for errors.As.
func Merge(op string, err error) error {
	return &Error{Kind: KindMerge, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
