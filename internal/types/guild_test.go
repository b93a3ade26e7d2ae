package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuildIDRoundTrip(t *testing.T) {
	// Snowflakes exceed 2^53 and must survive the string form.
	const raw = "190862624127942657"

	id, err := ParseGuildID(raw)
	require.NoError(t, err)
	require.Equal(t, raw, id.String())
}

func TestParseGuildIDRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "-1", "1.5"} {
		_, err := ParseGuildID(s)
		require.Error(t, err, "input %q", s)
	}
}
