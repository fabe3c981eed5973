package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
	"github.com/mmuslimabdulj/goat-space/internal/persistence"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port string

	// Security
	AllowedOrigins []string

	// Rate Limiting
	RateLimitWS rate.Limit
	FrameRate   rate.Limit
	FrameBurst  int

	// Logging
	LogLevel      string
	RelayLogLevel string
	LogFile       string
	LogPretty     bool

	// WebSocket
	MaxMessageSize int
	SendBufferSize int

	// Hub timers
	HeartbeatInterval time.Duration
	SaveInterval      time.Duration

	// Persistence
	SnapshotBackend    string
	SnapshotPath       string
	RestoreSnapshot    bool
	RestoredTTL        time.Duration
	PruneDanglingEdges bool

	// Observability
	MetricsEnabled bool
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Port:               "8080",
		AllowedOrigins:     []string{"http://localhost:8080", "http://localhost:3000"},
		RateLimitWS:        domain.DefaultRateLimitWS,
		FrameRate:          domain.DefaultFrameRate,
		FrameBurst:         domain.DefaultFrameBurst,
		LogLevel:           "info", // Options: debug, info, warn, error, silent
		RelayLogLevel:      "info",
		LogFile:            "logs/errors.log",
		MaxMessageSize:     domain.MaxMessageSize,
		SendBufferSize:     domain.SendBufferSize,
		HeartbeatInterval:  domain.HeartbeatInterval,
		SaveInterval:       domain.SaveInterval,
		SnapshotBackend:    persistence.BackendCSV,
		SnapshotPath:       "data/users.csv",
		RestoreSnapshot:    true,
		RestoredTTL:        domain.RestoredTTL,
		PruneDanglingEdges: false,
		MetricsEnabled:     true,
	}
}

// TOMLConfig is the layout of the optional config file
type TOMLConfig struct {
	Server      ServerSection      `toml:"server"`
	Logging     LoggingSection     `toml:"logging"`
	Limits      LimitsSection      `toml:"limits"`
	Hub         HubSection         `toml:"hub"`
	Persistence PersistenceSection `toml:"persistence"`
}

type ServerSection struct {
	Port           string   `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
	Metrics        *bool    `toml:"metrics"`
}

type LoggingSection struct {
	Level      string `toml:"level"`
	RelayLevel string `toml:"relay_level"`
	File       string `toml:"file"`
	Pretty     *bool  `toml:"pretty"`
}

type LimitsSection struct {
	MaxMessageSize int `toml:"max_message_size"`
	SendBufferSize int `toml:"send_buffer_size"`
	RateLimitWS    int `toml:"rate_limit_ws"`
	FrameRate      int `toml:"frame_rate"`
	FrameBurst     int `toml:"frame_burst"`
}

type HubSection struct {
	HeartbeatInterval  string `toml:"heartbeat_interval"`
	SaveInterval       string `toml:"save_interval"`
	PruneDanglingEdges *bool  `toml:"prune_dangling_edges"`
}

type PersistenceSection struct {
	Backend     string `toml:"backend"`
	Path        string `toml:"path"`
	Restore     *bool  `toml:"restore_snapshot"`
	RestoredTTL string `toml:"restored_ttl"`
}

// Load builds the configuration: defaults, then the TOML file at path (if
// non-empty), then the env file (if present), then process environment.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		var file TOMLConfig
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if err := file.apply(cfg); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		// Variables already set in the process environment win over the file
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables on top of defaults
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	applyEnv(cfg)
	return cfg
}

// Validate reports settings the server cannot run with
func (c *Config) Validate() error {
	switch c.SnapshotBackend {
	case persistence.BackendCSV, persistence.BackendSQLite:
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.SnapshotBackend)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.SaveInterval <= 0 {
		return fmt.Errorf("save interval must be positive")
	}
	if c.MaxMessageSize <= 0 || c.SendBufferSize <= 0 {
		return fmt.Errorf("message size and send buffer must be positive")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return ":" + c.Port
}

func (t *TOMLConfig) apply(cfg *Config) error {
	if t.Server.Port != "" {
		cfg.Port = t.Server.Port
	}
	if len(t.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = t.Server.AllowedOrigins
	}
	if t.Server.Metrics != nil {
		cfg.MetricsEnabled = *t.Server.Metrics
	}

	if t.Logging.Level != "" {
		cfg.LogLevel = t.Logging.Level
	}
	if t.Logging.RelayLevel != "" {
		cfg.RelayLogLevel = t.Logging.RelayLevel
	}
	if t.Logging.File != "" {
		cfg.LogFile = t.Logging.File
	}
	if t.Logging.Pretty != nil {
		cfg.LogPretty = *t.Logging.Pretty
	}

	if t.Limits.MaxMessageSize > 0 {
		cfg.MaxMessageSize = t.Limits.MaxMessageSize
	}
	if t.Limits.SendBufferSize > 0 {
		cfg.SendBufferSize = t.Limits.SendBufferSize
	}
	if t.Limits.RateLimitWS > 0 {
		cfg.RateLimitWS = rate.Limit(t.Limits.RateLimitWS)
	}
	if t.Limits.FrameRate > 0 {
		cfg.FrameRate = rate.Limit(t.Limits.FrameRate)
	}
	if t.Limits.FrameBurst > 0 {
		cfg.FrameBurst = t.Limits.FrameBurst
	}

	var err error
	if cfg.HeartbeatInterval, err = parseDuration("hub.heartbeat_interval", t.Hub.HeartbeatInterval, cfg.HeartbeatInterval); err != nil {
		return err
	}
	if cfg.SaveInterval, err = parseDuration("hub.save_interval", t.Hub.SaveInterval, cfg.SaveInterval); err != nil {
		return err
	}
	if t.Hub.PruneDanglingEdges != nil {
		cfg.PruneDanglingEdges = *t.Hub.PruneDanglingEdges
	}

	if t.Persistence.Backend != "" {
		cfg.SnapshotBackend = strings.ToLower(t.Persistence.Backend)
	}
	if t.Persistence.Path != "" {
		cfg.SnapshotPath = t.Persistence.Path
	}
	if t.Persistence.Restore != nil {
		cfg.RestoreSnapshot = *t.Persistence.Restore
	}
	if cfg.RestoredTTL, err = parseDuration("persistence.restored_ttl", t.Persistence.RestoredTTL, cfg.RestoredTTL); err != nil {
		return err
	}
	return nil
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func applyEnv(cfg *Config) {
	// Server
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Security
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	// Rate Limiting
	if val, ok := envInt("RATE_LIMIT_WS"); ok {
		cfg.RateLimitWS = rate.Limit(val)
	}
	if val, ok := envInt("FRAME_RATE_LIMIT"); ok {
		cfg.FrameRate = rate.Limit(val)
	}
	if val, ok := envInt("FRAME_BURST"); ok {
		cfg.FrameBurst = val
	}

	// Logging
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if level := os.Getenv("RELAY_LOG_LEVEL"); level != "" {
		cfg.RelayLogLevel = level
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.LogFile = file
	}
	if val, ok := envBool("LOG_PRETTY"); ok {
		cfg.LogPretty = val
	}

	// WebSocket
	if val, ok := envInt("MAX_MESSAGE_SIZE"); ok {
		cfg.MaxMessageSize = val
	}
	if val, ok := envInt("SEND_BUFFER_SIZE"); ok {
		cfg.SendBufferSize = val
	}

	// Hub timers
	if d, ok := envDuration("HEARTBEAT_INTERVAL"); ok {
		cfg.HeartbeatInterval = d
	}
	if d, ok := envDuration("SAVE_INTERVAL"); ok {
		cfg.SaveInterval = d
	}

	// Persistence
	if backend := os.Getenv("SNAPSHOT_BACKEND"); backend != "" {
		cfg.SnapshotBackend = strings.ToLower(backend)
	}
	if path := os.Getenv("SNAPSHOT_PATH"); path != "" {
		cfg.SnapshotPath = path
	}
	if val, ok := envBool("RESTORE_SNAPSHOT"); ok {
		cfg.RestoreSnapshot = val
	}
	if d, ok := envDuration("RESTORED_TTL"); ok {
		cfg.RestoredTTL = d
	}
	if val, ok := envBool("PRUNE_DANGLING_EDGES"); ok {
		cfg.PruneDanglingEdges = val
	}

	// Observability
	if val, ok := envBool("METRICS_ENABLED"); ok {
		cfg.MetricsEnabled = val
	}
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, false
	}
	return val, true
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return val, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// parseOrigins parses comma-separated origins
func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
