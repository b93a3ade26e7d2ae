package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gieseladev/ari/internal/config"
	"github.com/gieseladev/ari/internal/log"
)

// PerformStartupChecks validates the environment before the service starts
// serving. Config syntax is already validated by config.Validate; this
// covers what only the running host can answer.
func PerformStartupChecks(ctx context.Context, cfg config.Config, rdb *redis.Client) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkListenAddr(logger, cfg.Ops.Listen); err != nil {
		return fmt.Errorf("ops listen address check failed: %w", err)
	}
	if err := checkCacheDir(logger, cfg.Cache.Dir); err != nil {
		return fmt.Errorf("cache directory check failed: %w", err)
	}
	if err := checkRedis(ctx, logger, rdb); err != nil {
		return fmt.Errorf("redis check failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("ops listen address is valid")
	return nil
}

// checkCacheDir verifies the badger directory is writable. An empty dir
// means the in-memory cache, which needs nothing from the host.
func checkCacheDir(logger zerolog.Logger, dir string) error {
	if dir == "" {
		logger.Info().Msg("metadata cache is in-memory")
		return nil
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("cannot create cache directory %s: %w", dir, err)
	}
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("cache directory is not writable: %s: %w", dir, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", dir).Msg("cache directory is writable")
	return nil
}

func checkRedis(ctx context.Context, logger zerolog.Logger, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	logger.Info().Msg("redis is reachable")
	return nil
}
