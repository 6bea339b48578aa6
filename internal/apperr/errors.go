package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so the dispatcher can map them onto wire codes
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindUnauthenticated
	KindForbidden
	KindConflict
	KindNotFound
	KindInsufficientStock
	KindInvalidState
)

// Wire codes carried by failure responses
const (
	CodeInvalidJSON       = 1001
	CodeUnknownType       = 1002
	CodeInvalidArgument   = 2001
	CodeUnauthenticated   = 2002
	CodeForbidden         = 2003
	CodeConflict          = 2004
	CodeNotFound          = 3001
	CodeInsufficientStock = 4001
	CodeInvalidState      = 4002
	CodeInternal          = 5001
)

// Sentinels for errors.Is comparisons against a kind
var (
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error is a classified failure
type Error struct {
	Kind    Kind
	Message string
	// ProductID names the offending product of an InsufficientStock failure
	ProductID uint
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindUnauthenticated:
		return "not authenticated"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindInsufficientStock:
		return "insufficient stock"
	case KindInvalidState:
		return "invalid state"
	default:
		return "internal error"
	}
}

// Code maps the kind onto its wire code
func (k Kind) Code() int {
	switch k {
	case KindInvalidArgument:
		return CodeInvalidArgument
	case KindUnauthenticated:
		return CodeUnauthenticated
	case KindForbidden:
		return CodeForbidden
	case KindConflict:
		return CodeConflict
	case KindNotFound:
		return CodeNotFound
	case KindInsufficientStock:
		return CodeInsufficientStock
	case KindInvalidState:
		return CodeInvalidState
	default:
		return CodeInternal
	}
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a missing or malformed request field
func InvalidArgument(format string, args ...any) *Error {
	return newf(KindInvalidArgument, format, args...)
}

// Unauthenticated reports a request that needs a logged in connection
func Unauthenticated(format string, args ...any) *Error {
	return newf(KindUnauthenticated, format, args...)
}

// Forbidden reports a request the caller is not allowed to make
func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, format, args...)
}

// Conflict reports a uniqueness violation such as a taken username
func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

// NotFound reports an unknown client, product or order
func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

// InvalidState reports an operation not allowed from the current order status
func InvalidState(format string, args ...any) *Error {
	return newf(KindInvalidState, format, args...)
}

// InsufficientStock reports that productID cannot cover the requested quantity
func InsufficientStock(productID uint, name string, have, want int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for product %d (%s): have %d, need %d", productID, name, have, want),
		ProductID: productID,
	}
}

// Internal wraps an unexpected failure, typically from the persistence gateway
func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: op, Cause: cause}
}

// KindOf classifies err; unclassified errors are internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the wire code for err
func CodeOf(err error) int {
	return KindOf(err).Code()
}

// ProductOf returns the offending product of an InsufficientStock error, if any
func ProductOf(err error) (uint, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindInsufficientStock {
		return e.ProductID, true
	}
	return 0, false
}
