package telemetry

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/gieseladev/ari/internal/types"
)

// Attribute keys shared by ari's spans.
const (
	GuildIDKey = "ari.guild_id"
	CommandKey = "ari.command"
	EventKey   = "ari.event"
	TopicKey   = "wamp.topic"
	EntryIDKey = "ari.eid"
	AidKey     = "ari.aid"

	NodeOpKey      = "andesite.op"
	TrackEndKey    = "andesite.track_end_reason"
	StoreScriptKey = "store.script"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// GuildAttribute tags a span with the guild it operates on.
func GuildAttribute(guildID types.GuildID) attribute.KeyValue {
	return attribute.String(GuildIDKey, guildID.String())
}

// CommandAttributes tags a span as serving a player command.
func CommandAttributes(guildID types.GuildID, command string) []attribute.KeyValue {
	return []attribute.KeyValue{
		GuildAttribute(guildID),
		attribute.String(CommandKey, command),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
