package dhterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way spec.md §7 does.
type Kind int

const (
	// Aborted means the operation's cancellation signal fired. Never
	// retried; propagates to the operation root.
	Aborted Kind = iota
	// Timeout means a single RPC exceeded its adaptive deadline.
	Timeout
	// NetworkUnreachable means no usable peer produced a reply.
	NetworkUnreachable
	// BadMessage means a peer sent a malformed reply, a signature failed
	// to verify, or a block's hash chain broke.
	BadMessage
	// NotFound means no peer had the key, or it is absent locally.
	NotFound
	// InvalidArgument means the caller supplied something unparseable,
	// oversized, or out of range.
	InvalidArgument
	// Responsibility means an inbound announce/put came from a node not
	// in our responsible set (BEP-5 error 201).
	Responsibility
)

func (k Kind) String() string {
	switch k {
	case Aborted:
		return "aborted"
	case Timeout:
		return "timeout"
	case NetworkUnreachable:
		return "network_unreachable"
	case BadMessage:
		return "bad_message"
	case NotFound:
		return "not_found"
	case InvalidArgument:
		return "invalid_argument"
	case Responsibility:
		return "responsibility"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error wrapping an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind, so that
// errors.Is(err, dhterr.ErrNotFound) works against a wrapped *Error.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && errors.Is(target, sentinel)
}

// New builds an *Error of the given kind, wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinels usable directly with errors.Is, and as the target of
// errors.Is checks against a wrapped *Error (see Error.Is).
var (
	ErrAborted            = errors.New("operation aborted")
	ErrTimeout            = errors.New("rpc timeout")
	ErrNetworkUnreachable = errors.New("network_down")
	ErrBadMessage         = errors.New("bad message")
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrResponsibility     = errors.New("not responsible")
)

var kindSentinels = map[Kind]error{
	Aborted:            ErrAborted,
	Timeout:            ErrTimeout,
	NetworkUnreachable: ErrNetworkUnreachable,
	BadMessage:         ErrBadMessage,
	NotFound:           ErrNotFound,
	InvalidArgument:    ErrInvalidArgument,
	Responsibility:     ErrResponsibility,
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// KindIs reports whether err's Kind, if any, equals kind.
func KindIs(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
