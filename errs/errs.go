// Package errs defines the error taxonomy raised across the client core:
// generic (server-side failure such as an invalid parameter), rpc
// (structured server-side rejection of a call, carrying the reply),
// connectivity (transport failure), no-history (backfill budget
// exceeded), cancellation (shutdown in progress) and programming errors
// (caller misuse).
package errs

import (
	"errors"
	"fmt"
)

// Kind distinguishes the error taxonomy members. Callers should branch
// on Kind via errors.As, not on error string content.
type Kind int

const (
	KindGeneric Kind = iota
	KindConnectivity
	KindNoHistory
	KindCancelled
	KindProgramming
	KindRPC
)

func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindConnectivity:
		return "connectivity"
	case KindNoHistory:
		return "no_history"
	case KindCancelled:
		return "cancelled"
	case KindProgramming:
		return "programming"
	case KindRPC:
		return "rpc"
	default:
		return "unknown"
	}
}

// Error is the single concrete error type for the core. Op names the
// call or subsystem that raised it; Reply carries the raw decoded
// server reply for KindRPC errors so callers can inspect it.
type Error struct {
	Kind  Kind
	Op    string
	Err   error
	Reply map[string]interface{}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quikgo: %s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("quikgo: %s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, errs.Connectivity("", nil)) match on Kind alone,
// ignoring Op/Err/Reply — used by callers that only care which branch
// of the taxonomy fired.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func Generic(op string, err error) *Error      { return &Error{Kind: KindGeneric, Op: op, Err: err} }
func Connectivity(op string, err error) *Error { return &Error{Kind: KindConnectivity, Op: op, Err: err} }
func NoHistory(op string, err error) *Error    { return &Error{Kind: KindNoHistory, Op: op, Err: err} }
func Programming(op string, err error) *Error  { return &Error{Kind: KindProgramming, Op: op, Err: err} }

func Cancelled(op string) *Error {
	return &Error{Kind: KindCancelled, Op: op, Err: errors.New("shutting down")}
}

// RPC wraps a structured server-side rejection: result.is_error was
// true, or the reply carried no result at all. Never retried by the
// socket pool.
func RPC(method string, reply map[string]interface{}) *Error {
	return &Error{Kind: KindRPC, Op: method, Reply: reply, Err: fmt.Errorf("server rejected %q", method)}
}

func Genericf(op, format string, a ...interface{}) *Error {
	return Generic(op, fmt.Errorf(format, a...))
}

func Connectivityf(op, format string, a ...interface{}) *Error {
	return Connectivity(op, fmt.Errorf(format, a...))
}

func Programmingf(op, format string, a ...interface{}) *Error {
	return Programming(op, fmt.Errorf(format, a...))
}

// KindOf reports the taxonomy bucket of err, or KindGeneric if err is not
// one of this package's errors (callers typically guard with IsKind
// instead, but this is useful for logging).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// IsKind reports whether err (or anything it wraps) is a *Error of the
// given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
