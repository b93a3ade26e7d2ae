// Package bus abstracts the WAMP session ari talks through. The rest of
// the code depends on Session only; the nexus-backed implementation lives
// in nexus.go and tests use fakes.
package bus

import (
	"context"
	"fmt"
)

// WAMP error URIs used on the RPC error channel.
const (
	URIInvalidArgument = "wamp.error.invalid_argument"
	URIRuntimeError    = "wamp.error.runtime_error"
)

// Invocation carries the payload of an incoming call or event.
type Invocation struct {
	Args   []any
	Kwargs map[string]any
}

// Arg returns the positional argument at i, or nil when absent.
func (inv Invocation) Arg(i int) any {
	if i < 0 || i >= len(inv.Args) {
		return nil
	}
	return inv.Args[i]
}

// Result carries the payload of a call response.
type Result struct {
	Args   []any
	Kwargs map[string]any
}

// InvocationHandler serves a registered procedure. Returning an *Error
// reports it to the caller under its URI; any other error maps to
// URIRuntimeError.
type InvocationHandler func(ctx context.Context, inv Invocation) (Result, error)

// EventHandler consumes a subscribed topic.
type EventHandler func(ctx context.Context, ev Invocation)

// Session is the bus surface ari needs.
type Session interface {
	Register(procedure string, h InvocationHandler) error
	Subscribe(topic string, h EventHandler) error
	Publish(topic string, args []any, kwargs map[string]any) error
	Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (Result, error)
	Close() error
	// Done is closed when the session ends, by Close or by the router.
	Done() <-chan struct{}
}

// Error is a caller-facing WAMP error.
type Error struct {
	URI     string
	Message string
	Kwargs  map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.URI
	}
	return fmt.Sprintf("%s: %s", e.URI, e.Message)
}

// InvalidArgument builds a caller-facing invalid-argument error.
func InvalidArgument(format string, a ...any) *Error {
	return &Error{URI: URIInvalidArgument, Message: fmt.Sprintf(format, a...)}
}
