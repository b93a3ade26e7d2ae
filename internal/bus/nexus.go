package bus

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/rs/zerolog"
)

// NexusSession is the production Session over a nexus WAMP client.
type NexusSession struct {
	c   *client.Client
	log zerolog.Logger
}

var _ Session = (*NexusSession)(nil)

// Connect joins the realm via the first reachable transport URL.
func Connect(ctx context.Context, realm string, urls []string, logger zerolog.Logger) (*NexusSession, error) {
	cfg := client.Config{
		Realm:         realm,
		Serialization: client.JSON,
		Logger:        stdlog.New(routerLogWriter{logger}, "", 0),
	}

	var lastErr error
	for _, u := range urls {
		c, err := client.ConnectNet(ctx, u, cfg)
		if err != nil {
			logger.Warn().Err(err).
				Str("event", "bus.connect_failed").
				Str("url", u).
				Msg("transport unreachable, trying next")
			lastErr = err
			continue
		}
		logger.Info().
			Str("event", "bus.connected").
			Str("url", u).
			Str("realm", realm).
			Msg("joined realm")
		return &NexusSession{c: c, log: logger}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no transports configured")
	}
	return nil, fmt.Errorf("connect to realm %s: %w", realm, lastErr)
}

// Register registers a procedure. Handler errors surface on the WAMP error
// channel; *Error keeps its URI and kwargs, everything else becomes a
// runtime error with the message in the logs only.
func (s *NexusSession) Register(procedure string, h InvocationHandler) error {
	wrapped := func(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
		res, err := h(ctx, Invocation{
			Args:   inv.Arguments,
			Kwargs: inv.ArgumentsKw,
		})
		if err != nil {
			var busErr *Error
			if errors.As(err, &busErr) {
				return client.InvokeResult{
					Err:    wamp.URI(busErr.URI),
					Args:   wamp.List{busErr.Message},
					Kwargs: busErr.Kwargs,
				}
			}
			s.log.Error().Err(err).
				Str("event", "bus.invocation_failed").
				Str("procedure", procedure).
				Msg("procedure failed")
			return client.InvokeResult{Err: wamp.URI(URIRuntimeError)}
		}
		return client.InvokeResult{Args: res.Args, Kwargs: res.Kwargs}
	}
	if err := s.c.Register(procedure, wrapped, nil); err != nil {
		return fmt.Errorf("register %s: %w", procedure, err)
	}
	return nil
}

// Subscribe subscribes a topic handler.
func (s *NexusSession) Subscribe(topic string, h EventHandler) error {
	wrapped := func(ev *wamp.Event) {
		h(context.Background(), Invocation{
			Args:   ev.Arguments,
			Kwargs: ev.ArgumentsKw,
		})
	}
	if err := s.c.Subscribe(topic, wrapped, nil); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish publishes with acknowledgement.
func (s *NexusSession) Publish(topic string, args []any, kwargs map[string]any) error {
	opts := wamp.Dict{wamp.OptAcknowledge: true}
	if err := s.c.Publish(topic, opts, args, kwargs); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Call invokes a remote procedure.
func (s *NexusSession) Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (Result, error) {
	res, err := s.c.Call(ctx, procedure, nil, args, kwargs, nil)
	if err != nil {
		var rpcErr client.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Err != nil {
			return Result{}, &Error{
				URI:     string(rpcErr.Err.Error),
				Message: messageOf(rpcErr.Err.Arguments),
				Kwargs:  rpcErr.Err.ArgumentsKw,
			}
		}
		return Result{}, fmt.Errorf("call %s: %w", procedure, err)
	}
	return Result{Args: res.Arguments, Kwargs: res.ArgumentsKw}, nil
}

// Close leaves the realm.
func (s *NexusSession) Close() error {
	return s.c.Close()
}

// Done is closed when the session ends.
func (s *NexusSession) Done() <-chan struct{} {
	return s.c.Done()
}

func messageOf(args wamp.List) string {
	if len(args) == 0 {
		return ""
	}
	msg, _ := args[0].(string)
	return msg
}

// routerLogWriter feeds nexus' internal log lines into zerolog at debug.
type routerLogWriter struct {
	log zerolog.Logger
}

func (w routerLogWriter) Write(p []byte) (int, error) {
	w.log.Debug().Str("event", "bus.client_log").Msg(string(p))
	return len(p), nil
}
