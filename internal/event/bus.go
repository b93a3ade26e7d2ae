package event

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/gieseladev/ari/internal/metrics"
)

// Handler consumes an emitted event. Errors are logged and swallowed; they
// never reach the emitting command.
type Handler func(ev Emitted) error

// Bus is a synchronous in-process fan-out. Handlers run sequentially on the
// emitter's goroutine, in subscription order, per-kind handlers before
// catch-alls. Emission order from a single player is the order handlers
// observe.
type Bus struct {
	mu     sync.RWMutex
	byKind map[string][]Handler
	any    []Handler
	log    zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		byKind: make(map[string][]Handler),
		log:    logger,
	}
}

// On subscribes a handler to events with the given URI suffix.
func (b *Bus) On(suffix string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byKind[suffix] = append(b.byKind[suffix], h)
}

// OnAny subscribes a handler to every event.
func (b *Bus) OnAny(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.any = append(b.any, h)
}

// Emit delivers the event to all matching handlers. A failing or panicking
// handler does not stop delivery to the remaining ones.
func (b *Bus) Emit(ev Emitted) {
	suffix := ev.Event.URISuffix()

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byKind[suffix])+len(b.any))
	handlers = append(handlers, b.byKind[suffix]...)
	handlers = append(handlers, b.any...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(suffix, ev, h)
	}
}

func (b *Bus) deliver(suffix string, ev Emitted, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncEventHandlerFailure(suffix, "panic")
			b.log.Error().
				Str("event", "bus.handler_panic").
				Str("kind", suffix).
				Stringer("guild_id", ev.GuildID).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()

	if err := h(ev); err != nil {
		metrics.IncEventHandlerFailure(suffix, "error")
		b.log.Error().Err(err).
			Str("event", "bus.handler_failed").
			Str("kind", suffix).
			Stringer("guild_id", ev.GuildID).
			Msg("event handler failed")
	}
}
