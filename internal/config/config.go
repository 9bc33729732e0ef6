package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for relaybot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Transport TransportConfig           `json:"transport"`
	Relay     RelayConfig               `json:"relay"`
	Store     StoreConfig               `json:"store"`
	API       APIConfig                 `json:"api"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel        string   `json:"logLevel"`
	LogFormat       string   `json:"logFormat"`         // "text" | "json"
	LogFile         string   `json:"logFile,omitempty"` // optional log file path
	DefaultProvider string   `json:"defaultProvider"`
	FailoverChain   []string `json:"failoverChain,omitempty"` // provider failover order
}

type ProviderConfig struct {
	Enabled         bool    `json:"enabled"`
	APIBase         string  `json:"apiBase,omitempty"`
	APIKey          string  `json:"apiKey,omitempty"`
	DefaultModel    string  `json:"defaultModel,omitempty"`
	MaxTokens       int     `json:"maxTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	RateLimitPerMin int     `json:"rateLimitPerMinute,omitempty"`

	// Ark (Volcengine) credentials; APIKey or AccessKey+SecretKey.
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
}

// Transport kinds.
const (
	TransportSignalCLI = "signal-cli"
	TransportTelegram  = "telegram"
	TransportWebhook   = "webhook"
)

type TransportConfig struct {
	Kind     string         `json:"kind"`
	Signal   SignalConfig   `json:"signal"`
	Telegram TelegramConfig `json:"telegram"`
	Webhook  WebhookConfig  `json:"webhook"`
}

type SignalConfig struct {
	Account               string `json:"account"` // E.164 number the relay speaks as
	Binary                string `json:"binary"`
	ReceiveTimeoutSeconds int    `json:"receiveTimeoutSeconds"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type WebhookConfig struct {
	Path        string `json:"path"`
	Secret      string `json:"secret,omitempty"`
	OutboundURL string `json:"outboundUrl,omitempty"`
	BufferSize  int    `json:"bufferSize"`
}

type RelayConfig struct {
	Enabled             bool           `json:"enabled"`
	PollIntervalSeconds int            `json:"pollIntervalSeconds"`
	PersonaFile         string         `json:"personaFile,omitempty"`
	AllowFrom           FlexStringList `json:"allowFrom,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type StoreConfig struct {
	DBPath       string `json:"dbPath"`
	MaxOpenConns int    `json:"maxOpenConns"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Enabled          bool   `json:"enabled"`
	Host             string `json:"host"`
	Port             int    `json:"port"`
	MaxMessageLength int    `json:"maxMessageLength"`
	MaxSendLength    int    `json:"maxSendLength"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ApplyEnv(cfg)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Relay.PersonaFile = ExpandPath(cfg.Relay.PersonaFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults loads path when it exists and falls back to Defaults
// (with environment overrides) otherwise.
func LoadOrDefaults(path string) (*Config, bool, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		ApplyEnv(cfg)
		cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
		if err := Validate(cfg); err != nil {
			return nil, false, fmt.Errorf("config validation: %w", err)
		}
		return cfg, false, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, true, err
	}
	return cfg, true, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// ApplyEnv overrides selected values from well-known environment variables.
// Unset or empty variables leave the config untouched.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("SIGNAL_PHONE_NUMBER"); v != "" {
		cfg.Transport.Signal.Account = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Transport.Telegram.Token = v
	}
	if v := os.Getenv("RELAYBOT_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	setProviderKey(cfg, "claude", os.Getenv("ANTHROPIC_API_KEY"))
	setProviderKey(cfg, "openai", os.Getenv("OPENAI_API_KEY"))
	setProviderKey(cfg, "ark", os.Getenv("ARK_API_KEY"))
}

func setProviderKey(cfg *Config, name, key string) {
	if key == "" {
		return
	}
	pc, ok := cfg.Providers[name]
	if !ok {
		return
	}
	pc.APIKey = key
	cfg.Providers[name] = pc
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}
	for name, pc := range cfg.Providers {
		if pc.MaxTokens < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: maxTokens must be >= 0", name))
		}
		if pc.RateLimitPerMin < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: rateLimitPerMinute must be >= 0", name))
		}
	}

	switch cfg.Transport.Kind {
	case TransportSignalCLI:
		if cfg.Transport.Signal.ReceiveTimeoutSeconds < 1 {
			errs = append(errs, "transport.signal.receiveTimeoutSeconds must be >= 1")
		}
	case TransportTelegram:
	case TransportWebhook:
		if !strings.HasPrefix(cfg.Transport.Webhook.Path, "/") {
			errs = append(errs, "transport.webhook.path must start with /")
		}
		if cfg.Transport.Webhook.BufferSize < 1 {
			errs = append(errs, "transport.webhook.bufferSize must be >= 1")
		}
	default:
		errs = append(errs, "transport.kind must be one of: signal-cli, telegram, webhook")
	}

	if cfg.Relay.PollIntervalSeconds < 1 || cfg.Relay.PollIntervalSeconds > 3600 {
		errs = append(errs, "relay.pollIntervalSeconds must be between 1 and 3600")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}
	if cfg.Store.MaxOpenConns < 1 || cfg.Store.MaxOpenConns > 100 {
		errs = append(errs, "store.maxOpenConns must be between 1 and 100")
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if cfg.API.MaxMessageLength < 1 {
		errs = append(errs, "api.maxMessageLength must be >= 1")
	}
	if cfg.API.MaxSendLength < 1 {
		errs = append(errs, "api.maxSendLength must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
