// Package metrics exposes ari's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ari_commands_total",
		Help: "Total number of RPC commands handled, by procedure and outcome",
	}, []string{"command", "outcome"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ari_events_published_total",
		Help: "Total number of player events published on the bus",
	}, []string{"event"})

	EventHandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ari_event_handler_failures_total",
		Help: "Total number of in-process event handler errors and panics",
	}, []string{"event", "reason"})

	StoreScriptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ari_store_scripts_total",
		Help: "Total number of entry store script executions",
	}, []string{"script"})

	RecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ari_player_recoveries_total",
		Help: "Total number of player state recoveries, by result",
	}, []string{"result"})

	NodeConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ari_andesite_connected",
		Help: "Whether the andesite node connection is up (1) or down (0)",
	})

	NodeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ari_andesite_events_total",
		Help: "Total number of inbound andesite frames, by op",
	}, []string{"op"})

	PlayersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ari_players_live",
		Help: "Number of player instances currently held in memory",
	})
)

// IncCommand records a handled RPC command.
func IncCommand(command, outcome string) {
	if command == "" {
		command = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	CommandsTotal.WithLabelValues(command, outcome).Inc()
}

// IncEventPublished records a player event published on the bus.
func IncEventPublished(event string) {
	EventsPublishedTotal.WithLabelValues(event).Inc()
}

// IncEventHandlerFailure records a swallowed event handler error or panic.
func IncEventHandlerFailure(event, reason string) {
	if reason == "" {
		reason = "error"
	}
	EventHandlerFailures.WithLabelValues(event, reason).Inc()
}

// IncStoreScript records an entry store script execution.
func IncStoreScript(script string) {
	StoreScriptsTotal.WithLabelValues(script).Inc()
}

// IncRecovery records a player recovery attempt result.
func IncRecovery(result string) {
	RecoveriesTotal.WithLabelValues(result).Inc()
}
