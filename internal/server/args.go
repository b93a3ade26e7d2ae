package server

import (
	"math"
	"strconv"

	"github.com/gieseladev/ari/internal/bus"
	"github.com/gieseladev/ari/internal/types"
)

// Callers send snowflakes as decimal strings; some serializers hand small
// ids through as numbers, so both are accepted.
func snowflakeArg(inv bus.Invocation, i int, name string) (uint64, error) {
	switch v := inv.Arg(i).(type) {
	case string:
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, bus.InvalidArgument("%s: not a snowflake: %q", name, v)
		}
		return id, nil
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, bus.InvalidArgument("%s: not a snowflake: %v", name, v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, bus.InvalidArgument("%s: not a snowflake: %d", name, v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case nil:
		return 0, bus.InvalidArgument("%s: missing", name)
	default:
		return 0, bus.InvalidArgument("%s: expected snowflake, got %T", name, v)
	}
}

func guildArg(inv bus.Invocation, i int) (types.GuildID, error) {
	id, err := snowflakeArg(inv, i, "guild_id")
	return types.GuildID(id), err
}

func stringArg(inv bus.Invocation, i int, name string) (string, error) {
	switch v := inv.Arg(i).(type) {
	case string:
		return v, nil
	case nil:
		return "", bus.InvalidArgument("%s: missing", name)
	default:
		return "", bus.InvalidArgument("%s: expected string, got %T", name, v)
	}
}

func intArg(inv bus.Invocation, i int, name string) (int64, error) {
	switch v := inv.Arg(i).(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, bus.InvalidArgument("%s: expected integer, got %v", name, v)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case nil:
		return 0, bus.InvalidArgument("%s: missing", name)
	default:
		return 0, bus.InvalidArgument("%s: expected integer, got %T", name, v)
	}
}

func floatArg(inv bus.Invocation, i int, name string) (float64, error) {
	switch v := inv.Arg(i).(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case nil:
		return 0, bus.InvalidArgument("%s: missing", name)
	default:
		return 0, bus.InvalidArgument("%s: expected number, got %T", name, v)
	}
}

func boolArg(inv bus.Invocation, i int, name string) (bool, error) {
	switch v := inv.Arg(i).(type) {
	case bool:
		return v, nil
	case nil:
		return false, bus.InvalidArgument("%s: missing", name)
	default:
		return false, bus.InvalidArgument("%s: expected bool, got %T", name, v)
	}
}

// pageArgs reads the optional page and entries_per_page arguments.
func pageArgs(inv bus.Invocation) (page, perPage int64, err error) {
	page = 0
	perPage = defaultEntriesPerPage
	if inv.Arg(1) != nil {
		if page, err = intArg(inv, 1, "page"); err != nil {
			return 0, 0, err
		}
		if page < 0 {
			return 0, 0, bus.InvalidArgument("page: must not be negative")
		}
	}
	if inv.Arg(2) != nil {
		if perPage, err = intArg(inv, 2, "entries_per_page"); err != nil {
			return 0, 0, err
		}
		if perPage <= 0 {
			return 0, 0, bus.InvalidArgument("entries_per_page: must be positive")
		}
	}
	return page, perPage, nil
}
