package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves the configuration with precedence: ENV > File > Defaults.
type Loader struct {
	configPath string

	// ConsumedEnvKeys records every environment key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader for the given config file path (may be empty).
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Wrapper methods for mechanical consumption tracking

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envUint64(key string, defaultVal uint64) uint64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseUint64(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envLookup(key string) (string, bool) {
	l.ConsumedEnvKeys[key] = struct{}{}
	return os.LookupEnv(key)
}

// Load resolves the configuration: defaults, then file, then environment,
// then validation.
func (l *Loader) Load() (Config, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	l.mergeEnvConfig(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Realm: DefaultRealm,
		Redis: Redis{
			Address:   DefaultRedisAddress,
			Namespace: DefaultRedisNamespace,
		},
		Elakshi: Elakshi{URIPrefix: DefaultElakshiPrefix},
		Cache:   Cache{TTL: DefaultCacheTTL},
		Players: Players{
			MaxIdle: DefaultPlayersMaxIdle,
			IdleTTL: DefaultPlayersIdleTTL,
		},
		Ops: Ops{Listen: DefaultOpsListen},
		Log: Log{Level: "info", Service: "ari"},
		Telemetry: Telemetry{
			Exporter:     "grpc",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}

// FileConfig is the YAML configuration structure.
type FileConfig struct {
	Realm      string           `yaml:"realm,omitempty"`
	Transports []FileTransport  `yaml:"transports,omitempty"`
	Redis      *FileRedis       `yaml:"redis,omitempty"`
	Andesite   *FileAndesite    `yaml:"andesite,omitempty"`
	Elakshi    *FileElakshi     `yaml:"elakshi,omitempty"`
	Cache      *FileCache       `yaml:"cache,omitempty"`
	Players    *FilePlayers     `yaml:"players,omitempty"`
	Ops        *FileOps         `yaml:"ops,omitempty"`
	Log        *FileLog         `yaml:"log,omitempty"`
	Telemetry  *FileTelemetry   `yaml:"telemetry,omitempty"`
}

// FileTransport accepts either a bare URL string or a {url: ...} mapping.
type FileTransport struct {
	URL string `yaml:"url"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *FileTransport) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&t.URL)
	}
	type plain FileTransport
	return value.Decode((*plain)(t))
}

// FileRedis mirrors Redis in YAML.
type FileRedis struct {
	Address   string `yaml:"address,omitempty"`
	Database  *int   `yaml:"database,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// FileAndesite mirrors Andesite in YAML.
type FileAndesite struct {
	UserID uint64             `yaml:"user_id,omitempty"`
	Nodes  []FileAndesiteNode `yaml:"nodes,omitempty"`
}

// FileAndesiteNode mirrors AndesiteNode in YAML.
type FileAndesiteNode struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password,omitempty"`
}

// FileElakshi mirrors Elakshi in YAML.
type FileElakshi struct {
	URIPrefix string `yaml:"uri_prefix,omitempty"`
}

// FileCache mirrors Cache in YAML.
type FileCache struct {
	Dir string         `yaml:"dir,omitempty"`
	TTL *time.Duration `yaml:"ttl,omitempty"`
}

// FilePlayers mirrors Players in YAML.
type FilePlayers struct {
	MaxIdle *int           `yaml:"max_idle,omitempty"`
	IdleTTL *time.Duration `yaml:"idle_ttl,omitempty"`
}

// FileOps mirrors Ops in YAML.
type FileOps struct {
	Listen string `yaml:"listen,omitempty"`
}

// FileLog mirrors Log in YAML.
type FileLog struct {
	Level   string `yaml:"level,omitempty"`
	Service string `yaml:"service,omitempty"`
}

// FileTelemetry mirrors Telemetry in YAML.
type FileTelemetry struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"sampling_rate,omitempty"`
	Environment  string   `yaml:"environment,omitempty"`
}

// loadFile reads and strictly decodes the YAML config file. Unknown keys are
// errors so typos fail fast instead of being silently ignored.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the -config flag
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fileCfg FileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &fileCfg, nil
}

func mergeFileConfig(cfg *Config, file *FileConfig) {
	if file.Realm != "" {
		cfg.Realm = file.Realm
	}
	for _, tr := range file.Transports {
		cfg.Transports = append(cfg.Transports, Transport{URL: tr.URL})
	}
	if file.Redis != nil {
		if file.Redis.Address != "" {
			cfg.Redis.Address = file.Redis.Address
		}
		if file.Redis.Database != nil {
			cfg.Redis.Database = *file.Redis.Database
		}
		if file.Redis.Namespace != "" {
			cfg.Redis.Namespace = file.Redis.Namespace
		}
	}
	if file.Andesite != nil {
		if file.Andesite.UserID != 0 {
			cfg.Andesite.UserID = file.Andesite.UserID
		}
		for _, n := range file.Andesite.Nodes {
			cfg.Andesite.Nodes = append(cfg.Andesite.Nodes, AndesiteNode{
				URL:      n.URL,
				Password: n.Password,
			})
		}
	}
	if file.Elakshi != nil && file.Elakshi.URIPrefix != "" {
		cfg.Elakshi.URIPrefix = file.Elakshi.URIPrefix
	}
	if file.Cache != nil {
		if file.Cache.Dir != "" {
			cfg.Cache.Dir = file.Cache.Dir
		}
		if file.Cache.TTL != nil {
			cfg.Cache.TTL = *file.Cache.TTL
		}
	}
	if file.Players != nil {
		if file.Players.MaxIdle != nil {
			cfg.Players.MaxIdle = *file.Players.MaxIdle
		}
		if file.Players.IdleTTL != nil {
			cfg.Players.IdleTTL = *file.Players.IdleTTL
		}
	}
	if file.Ops != nil && file.Ops.Listen != "" {
		cfg.Ops.Listen = file.Ops.Listen
	}
	if file.Log != nil {
		if file.Log.Level != "" {
			cfg.Log.Level = file.Log.Level
		}
		if file.Log.Service != "" {
			cfg.Log.Service = file.Log.Service
		}
	}
	if file.Telemetry != nil {
		if file.Telemetry.Enabled != nil {
			cfg.Telemetry.Enabled = *file.Telemetry.Enabled
		}
		if file.Telemetry.Exporter != "" {
			cfg.Telemetry.Exporter = file.Telemetry.Exporter
		}
		if file.Telemetry.Endpoint != "" {
			cfg.Telemetry.Endpoint = file.Telemetry.Endpoint
		}
		if file.Telemetry.SamplingRate != nil {
			cfg.Telemetry.SamplingRate = *file.Telemetry.SamplingRate
		}
		if file.Telemetry.Environment != "" {
			cfg.Telemetry.Environment = file.Telemetry.Environment
		}
	}
}

// mergeEnvConfig overrides values from ARI_* environment variables.
func (l *Loader) mergeEnvConfig(cfg *Config) {
	cfg.Realm = l.envString("ARI_REALM", cfg.Realm)

	if raw, ok := l.envLookup("ARI_TRANSPORTS"); ok && strings.TrimSpace(raw) != "" {
		cfg.Transports = nil
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				cfg.Transports = append(cfg.Transports, Transport{URL: part})
			}
		}
	}

	cfg.Redis.Address = l.envString("ARI_REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Database = l.envInt("ARI_REDIS_DATABASE", cfg.Redis.Database)
	cfg.Redis.Namespace = l.envString("ARI_REDIS_NAMESPACE", cfg.Redis.Namespace)

	cfg.Andesite.UserID = l.envUint64("ARI_ANDESITE_USER_ID", cfg.Andesite.UserID)
	if raw, ok := l.envLookup("ARI_ANDESITE_NODES"); ok && strings.TrimSpace(raw) != "" {
		if nodes, err := parseNodeList(raw); err == nil {
			cfg.Andesite.Nodes = nodes
		}
	}

	cfg.Elakshi.URIPrefix = l.envString("ARI_ELAKSHI_URI_PREFIX", cfg.Elakshi.URIPrefix)

	cfg.Cache.Dir = l.envString("ARI_CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.TTL = l.envDuration("ARI_CACHE_TTL", cfg.Cache.TTL)

	cfg.Players.MaxIdle = l.envInt("ARI_PLAYERS_MAX_IDLE", cfg.Players.MaxIdle)
	cfg.Players.IdleTTL = l.envDuration("ARI_PLAYERS_IDLE_TTL", cfg.Players.IdleTTL)

	cfg.Ops.Listen = l.envString("ARI_OPS_LISTEN", cfg.Ops.Listen)

	cfg.Log.Level = l.envString("ARI_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = l.envString("ARI_LOG_SERVICE", cfg.Log.Service)

	cfg.Telemetry.Enabled = l.envBool("ARI_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("ARI_TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("ARI_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("ARI_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = l.envString("ARI_TELEMETRY_ENVIRONMENT", cfg.Telemetry.Environment)
}

// parseNodeList parses "url|password,url|password" into node configs.
func parseNodeList(raw string) ([]AndesiteNode, error) {
	var nodes []AndesiteNode
	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, "|", 2)
		node := AndesiteNode{URL: fields[0]}
		if len(fields) == 2 {
			node.Password = fields[1]
		}
		if node.URL == "" {
			return nil, fmt.Errorf("node %d: empty url", i)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
