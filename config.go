package nanika

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/furin-lab/nanika/default"
)

// Config represents the user's nanika configuration.
type Config struct {
	Ghost  GhostConfig  `toml:"ghost"`
	Shiori ShioriConfig `toml:"shiori"`
	SSTP   SSTPConfig   `toml:"sstp"`
	FMO    FMOConfig    `toml:"fmo"`
	State  StateConfig  `toml:"state"`
	AI     AIConfig     `toml:"ai"`
	Bridge BridgeConfig `toml:"bridge"`
	Log    LogConfig    `toml:"log"`
}

// GhostConfig describes the ghost session.
type GhostConfig struct {
	Name string `toml:"name"`
	// Dir is the ghost's resource root; the personality runs with it as working directory.
	Dir          string         `toml:"dir"`
	HostName     string         `toml:"host_name"`
	HostVersion  string         `toml:"host_version"`
	Platform     string         `toml:"platform,omitempty"`
	TickInterval Duration       `toml:"tick_interval"`
	CloseGrace   Duration       `toml:"close_grace"`
	Regions      []RegionConfig `toml:"regions,omitempty"`
}

// RegionConfig is an extra click region rule, [X0,X1) x [Y0,Y1) on one surface.
type RegionConfig struct {
	Surface int    `toml:"surface"`
	Name    string `toml:"name"`
	X0      int    `toml:"x0"`
	Y0      int    `toml:"y0"`
	X1      int    `toml:"x1"`
	Y1      int    `toml:"y1"`
}

// ShioriConfig selects and tunes the personality backend.
type ShioriConfig struct {
	// Backend is "process" (external SHIORI subprocess) or "builtin".
	Backend   string           `toml:"backend"`
	Path      string           `toml:"path"`
	Protocol  string           `toml:"protocol"`
	Timeout   Duration         `toml:"timeout"`
	Settle    Duration         `toml:"settle"`
	Launchers []LauncherConfig `toml:"launchers,omitempty"`
	Watch     *bool            `toml:"watch,omitempty"`
}

// LauncherConfig maps a file name pattern to a launch command template.
type LauncherConfig struct {
	Pattern string `toml:"pattern"`
	Command string `toml:"command"`
}

// SSTPConfig holds the SSTP listener settings.
type SSTPConfig struct {
	Enabled     *bool    `toml:"enabled,omitempty"`
	Address     string   `toml:"address"`
	Port        int      `toml:"port"`
	TLSPort     int      `toml:"tls_port"`
	TLSCert     string   `toml:"tls_cert,omitempty"`
	TLSKey      string   `toml:"tls_key,omitempty"`
	IdleTimeout Duration `toml:"idle_timeout"`
	MaxConns    int      `toml:"max_conns"`
	// Rate is the sustained requests per second allowed for one sender.
	Rate        float64 `toml:"rate"`
	Burst       int     `toml:"burst"`
	TrustToken  string  `toml:"trust_token,omitempty"`
	Sender      string  `toml:"sender"`
	AllowRemote bool    `toml:"allow_remote"`
}

// FMOConfig holds the shared-memory mailbox settings.
type FMOConfig struct {
	Enabled  *bool    `toml:"enabled,omitempty"`
	Path     string   `toml:"path,omitempty"`
	Size     int      `toml:"size"`
	Interval Duration `toml:"interval"`
}

// StateConfig selects the character state store.
type StateConfig struct {
	// Backend is one of "file", "redis", "sqlite" or "memory".
	Backend  string `toml:"backend"`
	Path     string `toml:"path,omitempty"`
	RedisURL string `toml:"redis_url,omitempty"`
	Key      string `toml:"key"`
}

// AIConfig holds settings for the response generator.
type AIConfig struct {
	// Backend is one of "none", "openai" or "gemini".
	Backend     string   `toml:"backend"`
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key,omitempty"`
	APIType     string   `toml:"api_type"`
	Model       string   `toml:"model"`
	MaxTokens   int      `toml:"max_tokens"`
	Temperature float64  `toml:"temperature"`
	Timeout     Duration `toml:"timeout"`
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerCooldown Duration `toml:"breaker_cooldown"`
}

// BridgeConfig holds the presentation bridge HTTP settings.
type BridgeConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// ConfigDir returns the config directory path.
// Resolution order: $NANIKA_CONFIG_DIR > $XDG_CONFIG_HOME/nanika > ~/.config/nanika
func ConfigDir() string {
	if dir := os.Getenv("NANIKA_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "nanika")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "nanika-config")
	}
	return filepath.Join(home, ".config", "nanika")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// PromptPath returns the path of the custom talk prompt template.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.md")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("nanika: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads the config at path, filling unset fields from defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parse %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(&cfg, DefaultConfig())
	return &cfg, nil
}

func applyDefaults(cfg, d *Config) {
	setString(&cfg.Ghost.Name, d.Ghost.Name)
	setString(&cfg.Ghost.HostName, d.Ghost.HostName)
	setString(&cfg.Ghost.HostVersion, d.Ghost.HostVersion)
	setDuration(&cfg.Ghost.TickInterval, d.Ghost.TickInterval)
	setDuration(&cfg.Ghost.CloseGrace, d.Ghost.CloseGrace)

	setString(&cfg.Shiori.Backend, d.Shiori.Backend)
	setString(&cfg.Shiori.Protocol, d.Shiori.Protocol)
	setDuration(&cfg.Shiori.Timeout, d.Shiori.Timeout)
	setDuration(&cfg.Shiori.Settle, d.Shiori.Settle)
	if cfg.Shiori.Watch == nil {
		cfg.Shiori.Watch = d.Shiori.Watch
	}

	if cfg.SSTP.Enabled == nil {
		cfg.SSTP.Enabled = d.SSTP.Enabled
	}
	setString(&cfg.SSTP.Address, d.SSTP.Address)
	setInt(&cfg.SSTP.Port, d.SSTP.Port)
	setInt(&cfg.SSTP.TLSPort, d.SSTP.TLSPort)
	setDuration(&cfg.SSTP.IdleTimeout, d.SSTP.IdleTimeout)
	setInt(&cfg.SSTP.MaxConns, d.SSTP.MaxConns)
	if cfg.SSTP.Rate == 0 {
		cfg.SSTP.Rate = d.SSTP.Rate
	}
	setInt(&cfg.SSTP.Burst, d.SSTP.Burst)
	setString(&cfg.SSTP.Sender, d.SSTP.Sender)

	if cfg.FMO.Enabled == nil {
		cfg.FMO.Enabled = d.FMO.Enabled
	}
	setInt(&cfg.FMO.Size, d.FMO.Size)
	setDuration(&cfg.FMO.Interval, d.FMO.Interval)

	setString(&cfg.State.Backend, d.State.Backend)
	setString(&cfg.State.Key, d.State.Key)

	setString(&cfg.AI.Backend, d.AI.Backend)
	setString(&cfg.AI.BaseURL, d.AI.BaseURL)
	setString(&cfg.AI.APIType, d.AI.APIType)
	setString(&cfg.AI.Model, d.AI.Model)
	setInt(&cfg.AI.MaxTokens, d.AI.MaxTokens)
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = d.AI.Temperature
	}
	setDuration(&cfg.AI.Timeout, d.AI.Timeout)
	setInt(&cfg.AI.BreakerFailures, d.AI.BreakerFailures)
	setDuration(&cfg.AI.BreakerCooldown, d.AI.BreakerCooldown)

	setString(&cfg.Bridge.Address, d.Bridge.Address)
	setString(&cfg.Log.Level, d.Log.Level)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *Duration, def Duration) {
	if dst.Duration == 0 {
		*dst = def
	}
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	switch cfg.Shiori.Backend {
	case "process":
		if ResolveShioriPath(cfg) == "" {
			warnings = append(warnings, "shiori.backend is \"process\" but no shiori.path is configured; set NANIKA_SHIORI or shiori.path")
		}
	case "builtin":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown shiori.backend %q", cfg.Shiori.Backend))
	}
	switch cfg.State.Backend {
	case "file", "sqlite", "memory":
	case "redis":
		if ResolveRedisURL(cfg) == "" {
			warnings = append(warnings, "state.backend is \"redis\" but redis_url is not configured")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown state.backend %q", cfg.State.Backend))
	}
	switch cfg.AI.Backend {
	case "none":
	case "openai", "gemini":
		if ResolveAIAPIKey(cfg) == "" {
			warnings = append(warnings, fmt.Sprintf("ai.backend is %q but no API key is configured; talk will use fallback lines", cfg.AI.Backend))
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown ai.backend %q", cfg.AI.Backend))
	}
	if (cfg.SSTP.TLSCert == "") != (cfg.SSTP.TLSKey == "") {
		warnings = append(warnings, "sstp.tls_cert and sstp.tls_key must be set together; TLS listener disabled")
	}
	if cfg.SSTP.AllowRemote && cfg.SSTP.TrustToken == "" {
		warnings = append(warnings, "sstp.allow_remote is enabled without a trust_token; every remote sender is treated as external")
	}
	if cfg.FMO.Size < 1024 {
		warnings = append(warnings, fmt.Sprintf("fmo.size %d is too small to hold a record set", cfg.FMO.Size))
	}
	return warnings
}

// ResolveGhostDir returns the ghost resource directory.
// Priority: $NANIKA_GHOST_DIR env > config value > directory of the personality file.
func ResolveGhostDir(cfg *Config) string {
	if dir := os.Getenv("NANIKA_GHOST_DIR"); dir != "" {
		return dir
	}
	if cfg != nil && cfg.Ghost.Dir != "" {
		return cfg.Ghost.Dir
	}
	if path := ResolveShioriPath(cfg); path != "" && filepath.IsAbs(path) {
		return filepath.Dir(path)
	}
	return ""
}

// ResolveShioriPath returns the personality file path.
// Priority: $NANIKA_SHIORI env > config value.
func ResolveShioriPath(cfg *Config) string {
	if path := os.Getenv("NANIKA_SHIORI"); path != "" {
		return path
	}
	if cfg != nil {
		return cfg.Shiori.Path
	}
	return ""
}

// ResolveAIAPIKey returns the AI API key.
// Priority: $NANIKA_AI_API_KEY env > config value.
func ResolveAIAPIKey(cfg *Config) string {
	if key := os.Getenv("NANIKA_AI_API_KEY"); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.AI.APIKey
	}
	return ""
}

// ResolveAIBaseURL returns the AI API base URL.
// Priority: $NANIKA_AI_BASE_URL env > config value.
func ResolveAIBaseURL(cfg *Config) string {
	if url := os.Getenv("NANIKA_AI_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.AI.BaseURL
	}
	return ""
}

// ResolveAIModel returns the AI model name.
// Priority: $NANIKA_AI_MODEL env > config value.
func ResolveAIModel(cfg *Config) string {
	if model := os.Getenv("NANIKA_AI_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.AI.Model
	}
	return ""
}

// ResolveRedisURL returns the Redis URL for the state store.
// Priority: $NANIKA_REDIS_URL env > config value.
func ResolveRedisURL(cfg *Config) string {
	if url := os.Getenv("NANIKA_REDIS_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.State.RedisURL
	}
	return ""
}

// ResolveFMOPath returns the shared-memory file path. An empty result means the
// platform default.
// Priority: $NANIKA_FMO_PATH env > config value.
func ResolveFMOPath(cfg *Config) string {
	if path := os.Getenv("NANIKA_FMO_PATH"); path != "" {
		return path
	}
	if cfg != nil {
		return cfg.FMO.Path
	}
	return ""
}

// ResolveStatePath returns the state file or database path.
// Defaults to state.json or state.db in the config directory.
func ResolveStatePath(cfg *Config) string {
	if cfg != nil && cfg.State.Path != "" {
		return cfg.State.Path
	}
	name := "state.json"
	if cfg != nil && cfg.State.Backend == "sqlite" {
		name = "state.db"
	}
	return filepath.Join(ConfigDir(), name)
}

// ResolvePlatform returns the platform reference sent with OnBoot.
func ResolvePlatform(cfg *Config) string {
	if cfg != nil && cfg.Ghost.Platform != "" {
		return cfg.Ghost.Platform
	}
	return Platform()
}

// Enabled reports whether an optional boolean is set and true, or unset with def.
func Enabled(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
