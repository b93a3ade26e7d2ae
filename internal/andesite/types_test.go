package andesite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want frame
	}{
		{
			name: "player update",
			raw: `{"op":"player-update","guildId":"7",
				"state":{"time":1700000000000,"position":42500.0,"paused":false,"volume":100}}`,
			want: frame{
				Op:      "player-update",
				GuildID: "7",
				State: &PlayerState{
					Time:     1700000000000,
					Position: ptr(42500.0),
					Volume:   100,
				},
			},
		},
		{
			name: "player update without position",
			raw:  `{"op":"player-update","guildId":"7","state":{"time":1700000000000,"paused":true,"volume":50}}`,
			want: frame{
				Op:      "player-update",
				GuildID: "7",
				State:   &PlayerState{Time: 1700000000000, Paused: true, Volume: 50},
			},
		},
		{
			name: "track end",
			raw:  `{"op":"event","type":"TrackEndEvent","guildId":"7","track":"blob","reason":"FINISHED","mayStartNext":true}`,
			want: frame{
				Op:           "event",
				GuildID:      "7",
				Type:         "TrackEndEvent",
				Track:        "blob",
				Reason:       ReasonFinished,
				MayStartNext: ptr(true),
			},
		},
		{
			name: "connection id",
			raw:  `{"op":"connection-id","id":"abc"}`,
			want: frame{Op: "connection-id", ID: "abc"},
		},
		{
			name: "websocket closed",
			raw:  `{"op":"event","type":"WebSocketClosedEvent","guildId":"7","code":4006,"byRemote":true}`,
			want: frame{
				Op:       "event",
				GuildID:  "7",
				Type:     "WebSocketClosedEvent",
				Code:     4006,
				ByRemote: true,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeFrame([]byte(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := decodeFrame([]byte(`not json`))
	require.Error(t, err)

	_, err = decodeFrame([]byte(`{"guildId":"7"}`))
	require.Error(t, err, "frames without an op are invalid")
}

func TestUnitConversions(t *testing.T) {
	require.Equal(t, int64(42500), secondsToMs(42.5))
	require.Equal(t, 100, percent(1.0))
	require.Equal(t, 50, percent(0.5))
	require.Equal(t, 250, percent(2.5))
}

func ptr[T any](v T) *T { return &v }
