// Command ari runs the music player control service: it joins the WAMP
// realm, connects to the audio node and serves the player RPC surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/gieseladev/ari/internal/andesite"
	"github.com/gieseladev/ari/internal/api"
	"github.com/gieseladev/ari/internal/bus"
	"github.com/gieseladev/ari/internal/config"
	"github.com/gieseladev/ari/internal/event"
	"github.com/gieseladev/ari/internal/health"
	"github.com/gieseladev/ari/internal/log"
	"github.com/gieseladev/ari/internal/meta"
	"github.com/gieseladev/ari/internal/player"
	"github.com/gieseladev/ari/internal/server"
	"github.com/gieseladev/ari/internal/telemetry"
	"github.com/gieseladev/ari/internal/types"
	"github.com/gieseladev/ari/internal/voice"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// nodeHandler forwards node messages to the manager. The client is built
// before the manager, so the target binds late; Run starts only after the
// manager is set.
type nodeHandler struct {
	manager *player.Manager
}

func (h *nodeHandler) HandlePlayerUpdate(ctx context.Context, guildID types.GuildID, state andesite.PlayerState) {
	h.manager.HandlePlayerUpdate(ctx, guildID, state)
}

func (h *nodeHandler) HandleTrackEnd(ctx context.Context, guildID types.GuildID, evt andesite.TrackEndEvent) {
	h.manager.HandleTrackEnd(ctx, guildID, evt)
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ari %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{
		Level:   "info",
		Service: "ari",
		Version: version,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).
			Str("event", "config.invalid").
			Msg("configuration is invalid")
	}

	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Service: cfg.Log.Service,
		Version: version,
	})

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("realm", cfg.Realm).
		Msg("starting ari")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "ari",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise tracing")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Address,
		DB:   cfg.Redis.Database,
	})
	defer func() { _ = rdb.Close() }()

	if err := health.PerformStartupChecks(ctx, cfg, rdb); err != nil {
		logger.Fatal().Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed")
	}

	urls := make([]string, 0, len(cfg.Transports))
	for _, tr := range cfg.Transports {
		urls = append(urls, tr.URL)
	}
	session, err := bus.Connect(ctx, cfg.Realm, urls, log.WithComponent("bus"))
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "bus.connect_failed").
			Msg("failed to join the WAMP realm")
	}
	defer func() { _ = session.Close() }()

	resolver := meta.NewBusResolver(session, cfg.Elakshi.URIPrefix)
	cache, err := meta.NewCache(resolver, cfg.Cache.Dir, cfg.Cache.TTL, log.WithComponent("meta"))
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "cache.open_failed").
			Msg("failed to open the metadata cache")
	}
	defer func() { _ = cache.Close() }()

	// First configured node carries the traffic; the list keeps the config
	// shape ready for a pool.
	nodeCfg := cfg.Andesite.Nodes[0]
	handler := &nodeHandler{}
	var manager *player.Manager
	node := andesite.NewClient(andesite.Options{
		URL:      nodeCfg.URL,
		Password: nodeCfg.Password,
		UserID:   cfg.Andesite.UserID,
		Handler:  handler,
		OnConnected: func(ctx context.Context) {
			// Replay persisted state on every (re)connect.
			if err := manager.RecoverAll(ctx); err != nil {
				logger.Error().Err(err).
					Str("event", "recovery.failed").
					Msg("player recovery after node connect failed")
			}
		},
		Logger: log.WithComponent("andesite"),
	})

	manager = player.NewManager(player.ManagerOptions{
		Redis:    rdb,
		Prefix:   cfg.Redis.KeyPrefix(),
		Node:     node,
		Resolver: cache,
		Events:   event.NewBus(log.WithComponent("events")),
		MaxIdle:  cfg.Players.MaxIdle,
		IdleTTL:  cfg.Players.IdleTTL,
		Logger:   log.WithComponent("player"),
	})
	handler.manager = manager

	correlator := voice.NewCorrelator(cfg.Andesite.UserID, manager, log.WithComponent("voice"))

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewRedisChecker(rdb))
	hm.RegisterChecker(health.NewSessionChecker(session.Done()))
	hm.RegisterChecker(health.NewNodeChecker(node.Connected))

	ops := api.NewOpsServer(api.Options{
		Listen: cfg.Ops.Listen,
		Health: hm,
		Logger: log.WithComponent("ops"),
	})

	srv := server.New(server.Options{
		Session:    session,
		Manager:    manager,
		Correlator: correlator,
		Prefix:     "io.giesela.ari.",
		Logger:     log.WithComponent("server"),
	})

	// Recover before registering so callers never reach half-rehydrated
	// players. Node ops fail softly while the link is still down; the
	// OnConnected hook replays again once it is up.
	if err := manager.RecoverAll(ctx); err != nil {
		logger.Fatal().Err(err).
			Str("event", "recovery.failed").
			Msg("initial player recovery failed")
	}
	if err := srv.Start(ctx); err != nil {
		logger.Fatal().Err(err).
			Str("event", "server.start_failed").
			Msg("failed to register the bus surface")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return node.Run(gctx) })
	g.Go(func() error { return ops.Run(gctx) })
	g.Go(func() error {
		select {
		case <-session.Done():
			return fmt.Errorf("WAMP session ended")
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).
			Str("event", "runtime.failed").
			Msg("service failed")
	}

	logger.Info().Str("event", "shutdown").Msg("ari exiting")
}
