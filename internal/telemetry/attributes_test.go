package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gieseladev/ari/internal/types"
)

func TestCommandAttributes(t *testing.T) {
	attrs := CommandAttributes(types.GuildID(190862624127942657), "enqueue")
	require.Len(t, attrs, 2)

	require.Equal(t, GuildIDKey, string(attrs[0].Key))
	require.Equal(t, "190862624127942657", attrs[0].Value.AsString())
	require.Equal(t, CommandKey, string(attrs[1].Key))
	require.Equal(t, "enqueue", attrs[1].Value.AsString())
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("boom"), "node_error")
	require.Len(t, attrs, 2)
	require.True(t, attrs[0].Value.AsBool())
	require.Equal(t, "node_error", attrs[1].Value.AsString())
}
