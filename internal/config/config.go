// Package config loads and validates the supervisor configuration.
//
// Configuration is loaded from a YAML file with the following main sections:
//
//   - server: HTTP control-plane settings
//   - redis: connection settings for the persistence store
//   - gateway: which chat platform the supervisor logs bots into
//   - manager: lifecycle tuning (command prefix, timeouts, presence)
//   - logging: log configuration
//
// # Example Configuration
//
//	server:
//	  port: 8080
//	redis:
//	  addr: "localhost:6379"
//	gateway:
//	  type: "discord"
//	manager:
//	  prefix: "!"
//	  login_timeout: "60s"
//	logging:
//	  level: "info"
//	  file: "logs/botfleet.log"
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/botfleet/botfleet/pkg/constants"
)

const (
	DefaultServerPort      = 8080
	DefaultRedisAddr       = "localhost:6379"
	DefaultCommandPrefix   = "!"
	DefaultLogLevel        = "info"
	DefaultLogMaxBackups   = 5
	DefaultLogCompress     = true
	DefaultLogEnableStdout = true

	// Default lifecycle timeouts, as duration strings
	DefaultLoginTimeout     = "60s"
	DefaultLogoutTimeout    = "15s"
	DefaultSettleDelay      = "500ms"
	DefaultPresenceInterval = "20m"
)

// GatewayTypes that the supervisor can log bots into.
const (
	GatewayDiscord  = "discord"
	GatewayTelegram = "telegram"
)

// Config is the top-level configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Gateway GatewayConfig `yaml:"gateway"`
	Manager ManagerConfig `yaml:"manager"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP control-plane settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig holds the store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GatewayConfig selects and tunes the chat platform.
type GatewayConfig struct {
	Type       string `yaml:"type"`
	SelfListen bool   `yaml:"self_listen"`
}

// ManagerConfig tunes the lifecycle core. Durations are strings in Go
// duration syntax ("60s", "500ms").
type ManagerConfig struct {
	Prefix           string `yaml:"prefix"`
	LoginTimeout     string `yaml:"login_timeout"`
	LogoutTimeout    string `yaml:"logout_timeout"`
	SettleDelay      string `yaml:"settle_delay"`
	PresenceInterval string `yaml:"presence_interval"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	File         string `yaml:"file"`
	MaxSize      int    `yaml:"max_size"`
	MaxBackups   int    `yaml:"max_backups"`
	MaxAge       int    `yaml:"max_age"`
	Compress     bool   `yaml:"compress"`
	EnableStdout bool   `yaml:"enable_stdout"`
}

// LoadConfig loads configuration from file and expands environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expandedData, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	// Parse YAML
	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// expandEnv replaces ${VAR_NAME} patterns with environment variable values
func expandEnv(input string) (string, error) {
	var missingVars []string

	result := os.Expand(input, func(key string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		missingVars = append(missingVars, key)
		return "" // Return empty string to let config parsing fail
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s",
			strings.Join(missingVars, ", "))
	}

	return result, nil
}

// validateConfig applies defaults and performs basic validation
func validateConfig(config *Config) error {
	if config.Server.Port == 0 {
		config.Server.Port = DefaultServerPort
	}
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", config.Server.Port)
	}

	if config.Redis.Addr == "" {
		config.Redis.Addr = DefaultRedisAddr
	}

	switch config.Gateway.Type {
	case GatewayDiscord, GatewayTelegram:
	case "":
		return fmt.Errorf("gateway.type must be set (one of: %s, %s)", GatewayDiscord, GatewayTelegram)
	default:
		return fmt.Errorf("unsupported gateway.type %q (one of: %s, %s)", config.Gateway.Type, GatewayDiscord, GatewayTelegram)
	}

	if config.Manager.Prefix == "" {
		config.Manager.Prefix = DefaultCommandPrefix
	}
	if config.Manager.LoginTimeout == "" {
		config.Manager.LoginTimeout = DefaultLoginTimeout
	}
	if config.Manager.LogoutTimeout == "" {
		config.Manager.LogoutTimeout = DefaultLogoutTimeout
	}
	if config.Manager.SettleDelay == "" {
		config.Manager.SettleDelay = DefaultSettleDelay
	}
	if config.Manager.PresenceInterval == "" {
		config.Manager.PresenceInterval = DefaultPresenceInterval
	}
	for name, value := range map[string]string{
		"manager.login_timeout":     config.Manager.LoginTimeout,
		"manager.logout_timeout":    config.Manager.LogoutTimeout,
		"manager.settle_delay":      config.Manager.SettleDelay,
		"manager.presence_interval": config.Manager.PresenceInterval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative (got %v)", name, d)
		}
	}

	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = constants.DefaultLogMaxSize
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = constants.DefaultLogMaxAge
	}
	if !config.Logging.Compress {
		config.Logging.Compress = DefaultLogCompress
	}
	if !config.Logging.EnableStdout {
		config.Logging.EnableStdout = DefaultLogEnableStdout
	}

	return nil
}

// Duration parses a validated duration field. Call only after LoadConfig has
// validated the value; a malformed string falls back to the given default.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
