package errors

import (
	// Go Internal Packages
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies an error so callers can decide whether to retry, surface or drop it.
type Kind uint8

const (
	Other Kind = iota
	Invalid
	NotFound
	Conflict
	TransientLedger
	PermanentLedger
	ConcurrencyConflict
	ExhaustedRetries
	Internal
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "validation error"
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	case TransientLedger:
		return "transient ledger error"
	case PermanentLedger:
		return "permanent ledger error"
	case ConcurrencyConflict:
		return "concurrency conflict"
	case ExhaustedRetries:
		return "exhausted retries"
	case Internal:
		return "internal error"
	}
	return "error"
}

// Error is the pipeline's error value. Kind drives handling, Msg is for humans.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// E builds an *Error. err may be nil.
func E(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Is, As, Join and New mirror the standard library so callers only import one errors package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// Wrapf wraps err with a formatted message, keeping it in the chain.
func Wrapf(err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
