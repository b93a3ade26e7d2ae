package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldGuildID = "guild_id"
	FieldAid     = "aid"
	FieldEid     = "eid"
	FieldNode    = "node"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldCommand   = "command"
	FieldTopic     = "topic"
	FieldProcedure = "procedure"

	// State fields
	FieldChannelID = "channel_id"
	FieldPosition  = "position"
	FieldPaused    = "paused"
	FieldVolume    = "volume"
)
