// Package config loads ari's configuration with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults used when neither environment nor file provide a value.
const (
	DefaultRealm          = "giesela"
	DefaultRedisAddress   = "localhost:6379"
	DefaultRedisNamespace = "ari"
	DefaultElakshiPrefix  = "io.giesela.elakshi."
	DefaultCacheTTL       = time.Hour
	DefaultPlayersMaxIdle = 1024
	DefaultPlayersIdleTTL = 30 * time.Minute
	DefaultOpsListen      = ":8317"
)

// Config is the fully resolved application configuration.
type Config struct {
	// Realm is the WAMP realm to join.
	Realm string
	// Transports lists WAMP router endpoints; the first reachable one is used.
	Transports []Transport

	Redis     Redis
	Andesite  Andesite
	Elakshi   Elakshi
	Cache     Cache
	Players   Players
	Ops       Ops
	Log       Log
	Telemetry Telemetry
}

// Transport is a single WAMP router endpoint.
type Transport struct {
	URL string
}

// Redis holds connection and keyspace settings.
type Redis struct {
	Address   string
	Database  int
	Namespace string
}

// Andesite holds audio node settings.
type Andesite struct {
	// UserID is the bot user id the nodes expect in the User-Id header.
	UserID uint64
	Nodes  []AndesiteNode
}

// AndesiteNode is a single audio node endpoint.
type AndesiteNode struct {
	URL      string
	Password string
}

// Elakshi configures the metadata service client.
type Elakshi struct {
	// URIPrefix prefixes the metadata procedures called on the bus.
	URIPrefix string
}

// Cache configures the metadata resolver cache.
type Cache struct {
	// Dir is the badger directory; empty means in-memory.
	Dir string
	TTL time.Duration
}

// Players configures the in-memory player registry.
type Players struct {
	MaxIdle int
	IdleTTL time.Duration
}

// Ops configures the operational HTTP endpoint (health, metrics).
type Ops struct {
	Listen string
}

// Log configures logging.
type Log struct {
	Level   string
	Service string
}

// Telemetry configures OpenTelemetry tracing.
type Telemetry struct {
	Enabled      bool
	Exporter     string // "grpc" or "http"
	Endpoint     string
	SamplingRate float64
	Environment  string
}

// KeyPrefix returns the Redis key prefix (namespace) without a trailing colon.
func (r Redis) KeyPrefix() string {
	return strings.TrimSuffix(r.Namespace, ":")
}

// Validate reports configuration errors that make the service unable to run.
func (c *Config) Validate() error {
	if c.Realm == "" {
		return fmt.Errorf("realm must not be empty")
	}
	if len(c.Transports) == 0 {
		return fmt.Errorf("at least one transport is required")
	}
	for i, tr := range c.Transports {
		u, err := url.Parse(tr.URL)
		if err != nil {
			return fmt.Errorf("transports[%d]: %w", i, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "tcp" {
			return fmt.Errorf("transports[%d]: unsupported scheme %q", i, u.Scheme)
		}
	}
	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty")
	}
	if c.Redis.Namespace == "" {
		return fmt.Errorf("redis.namespace must not be empty")
	}
	if c.Andesite.UserID == 0 {
		return fmt.Errorf("andesite.user_id is required")
	}
	if len(c.Andesite.Nodes) == 0 {
		return fmt.Errorf("at least one andesite node is required")
	}
	for i, n := range c.Andesite.Nodes {
		if n.URL == "" {
			return fmt.Errorf("andesite.nodes[%d]: url must not be empty", i)
		}
		if _, err := url.Parse(n.URL); err != nil {
			return fmt.Errorf("andesite.nodes[%d]: %w", i, err)
		}
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Players.MaxIdle <= 0 {
		return fmt.Errorf("players.max_idle must be positive")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Exporter != "grpc" && c.Telemetry.Exporter != "http" {
			return fmt.Errorf("telemetry.exporter must be grpc or http")
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry.sampling_rate must be within [0, 1]")
		}
	}
	return nil
}
