// Package types holds small shared domain types.
package types

import (
	"fmt"
	"strconv"
)

// GuildID identifies a guild (tenant). Discord snowflakes are 64-bit
// unsigned integers; bus transports that cannot carry them losslessly
// (JSON) use the decimal string form.
type GuildID uint64

// String returns the decimal form used on the bus and in Redis keys.
func (g GuildID) String() string {
	return strconv.FormatUint(uint64(g), 10)
}

// ParseGuildID parses the decimal form.
func ParseGuildID(s string) (GuildID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse guild id %q: %w", s, err)
	}
	return GuildID(v), nil
}
