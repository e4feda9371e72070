package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/petervdpas/parley/internal/util"
)

type Config struct {
	Relay       Relay       `json:"relay" envPrefix:"RELAY_"`
	Translation Translation `json:"translation" envPrefix:"TRANSLATION_"`
	Client      Client      `json:"client" envPrefix:"CLIENT_"`
	Log         Log         `json:"log" envPrefix:"LOG_"`
}

type Relay struct {
	// Bind address. Default "127.0.0.1" (localhost only); "0.0.0.0" to
	// accept participants from other machines.
	Bind string `json:"bind" env:"BIND"`
	Port int    `json:"port" env:"PORT"`

	// Admin endpoints (/sessions.json, /logs.json, /calls.json, /admin/kick)
	// are disabled while this is empty.
	AdminPassword string `json:"admin_password" env:"ADMIN_PASSWORD"`

	// Public URL for relays behind NAT or a reverse proxy.
	ExternalURL string `json:"external_url" env:"EXTERNAL_URL"`

	// SQLite call-event log, relative to the working directory. Empty
	// disables it.
	CallLogPath          string `json:"call_log_path" env:"CALL_LOG_PATH"`
	CallLogRetentionDays int    `json:"call_log_retention_days"`

	MaxClients      int `json:"max_clients"`
	MaxClientsPerIP int `json:"max_clients_per_ip"`

	// Frames queued per participant before it counts as a slow consumer
	// and is disconnected.
	OutboundBuffer int `json:"outbound_buffer"`
}

type Engine struct {
	// "libre", "mymemory", "stub" or "" (none).
	Kind   string `json:"kind" env:"KIND"`
	URL    string `json:"url" env:"URL"`
	APIKey string `json:"api_key" env:"API_KEY"`
}

type Translation struct {
	Primary   Engine `json:"primary" envPrefix:"PRIMARY_"`
	Fallback  Engine `json:"fallback" envPrefix:"FALLBACK_"`
	TimeoutMs int    `json:"timeout_ms" env:"TIMEOUT_MS"`

	// Entries in the per-engine LRU of recent translations; 0 disables it.
	CacheSize int `json:"cache_size" env:"CACHE_SIZE"`
}

type Client struct {
	RelayURL string `json:"relay_url" env:"RELAY_URL"`
	Name     string `json:"name" env:"NAME"`

	// Language spoken locally and language wanted from the partner.
	FromLang string `json:"from_lang" env:"FROM_LANG"`
	ToLang   string `json:"to_lang" env:"TO_LANG"`

	Video      bool `json:"video"`
	AutoAnswer bool `json:"auto_answer"`

	HeartbeatSec         int      `json:"heartbeat_seconds"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts"`
	ReconnectBaseMs      int      `json:"reconnect_base_ms"`
	ICEServers           []string `json:"ice_servers"`
}

type Log struct {
	// Level for pion's internal loggers: debug, info, warn, error.
	PionLevel   string `json:"pion_level" env:"PION_LEVEL"`
	BufferLines int    `json:"buffer_lines"`
}

func Default() Config {
	return Config{
		Relay: Relay{
			Bind:                 "127.0.0.1",
			Port:                 8787,
			CallLogPath:          "data/calls.db",
			CallLogRetentionDays: 30,
			MaxClients:           1024,
			MaxClientsPerIP:      10,
			OutboundBuffer:       256,
		},
		Translation: Translation{
			Primary:   Engine{Kind: "mymemory", URL: "https://api.mymemory.translated.net"},
			TimeoutMs: 5000,
			CacheSize: 1024,
		},
		Client: Client{
			RelayURL:             "ws://127.0.0.1:8787/ws",
			FromLang:             "en",
			ToLang:               "en",
			HeartbeatSec:         5,
			MaxReconnectAttempts: util.DefaultMaxReconnectAttempts,
			ReconnectBaseMs:      500,
			ICEServers:           []string{"stun:stun.l.google.com:19302"},
		},
		Log: Log{
			PionLevel:   "warn",
			BufferLines: 500,
		},
	}
}

func (c *Config) Validate() error {
	// Relay
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return errors.New("relay.port must be 1..65535")
	}
	if b := c.Relay.Bind; b != "" && net.ParseIP(b) == nil {
		return errors.New("relay.bind must be a valid IP address")
	}
	if eu := strings.TrimSpace(c.Relay.ExternalURL); eu != "" {
		if err := validateURL(eu, "http", "https"); err != nil {
			return fmt.Errorf("relay.external_url: %w", err)
		}
	}
	if c.Relay.CallLogRetentionDays < 0 {
		return errors.New("relay.call_log_retention_days must be >= 0")
	}
	if c.Relay.MaxClients <= 0 {
		return errors.New("relay.max_clients must be > 0")
	}
	if c.Relay.MaxClientsPerIP <= 0 || c.Relay.MaxClientsPerIP > c.Relay.MaxClients {
		return errors.New("relay.max_clients_per_ip must be 1..max_clients")
	}
	if c.Relay.OutboundBuffer < 8 {
		return errors.New("relay.outbound_buffer must be >= 8")
	}

	// Translation
	if err := validateEngine(c.Translation.Primary); err != nil {
		return fmt.Errorf("translation.primary: %w", err)
	}
	if err := validateEngine(c.Translation.Fallback); err != nil {
		return fmt.Errorf("translation.fallback: %w", err)
	}
	if c.Translation.TimeoutMs < 100 || c.Translation.TimeoutMs > 60000 {
		return errors.New("translation.timeout_ms must be 100..60000")
	}
	if c.Translation.CacheSize < 0 {
		return errors.New("translation.cache_size must be >= 0")
	}

	// Client
	if err := validateURL(c.Client.RelayURL, "ws", "wss"); err != nil {
		return fmt.Errorf("client.relay_url: %w", err)
	}
	if _, err := util.ValidateDisplayName(c.Client.Name); err != nil {
		return fmt.Errorf("client.name: %w", err)
	}
	if strings.TrimSpace(c.Client.FromLang) == "" || strings.TrimSpace(c.Client.ToLang) == "" {
		return errors.New("client.from_lang and client.to_lang are required")
	}
	if c.Client.HeartbeatSec <= 0 {
		return errors.New("client.heartbeat_seconds must be > 0")
	}
	if c.Client.MaxReconnectAttempts < 1 || c.Client.MaxReconnectAttempts > 20 {
		return errors.New("client.max_reconnect_attempts must be 1..20")
	}
	if c.Client.ReconnectBaseMs < 50 {
		return errors.New("client.reconnect_base_ms must be >= 50")
	}
	for _, s := range c.Client.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return fmt.Errorf("client.ice_servers: %q must start with stun:, turn: or turns:", s)
		}
	}

	// Log
	switch strings.ToLower(c.Log.PionLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log.pion_level must be debug, info, warn or error")
	}
	if c.Log.BufferLines < 0 {
		return errors.New("log.buffer_lines must be >= 0")
	}

	return nil
}

func validateEngine(e Engine) error {
	switch strings.ToLower(strings.TrimSpace(e.Kind)) {
	case "", "stub":
		return nil
	case "libre":
		if strings.TrimSpace(e.URL) == "" {
			return errors.New("libre requires url")
		}
	case "mymemory":
		if strings.TrimSpace(e.URL) == "" {
			return nil
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return validateURL(e.URL, "http", "https")
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
	}
	if u.Hostname() == "" {
		return errors.New("missing host")
	}
	if u.Hostname() == "0.0.0.0" {
		return errors.New("host must not be 0.0.0.0")
	}
	return nil
}

// Load reads, applies PARLEY_* environment overrides and validates.
func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation. Missing fields keep
// their defaults.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PARLEY_* variables, for example
// PARLEY_RELAY_PORT or PARLEY_TRANSLATION_PRIMARY_API_KEY. Container
// deployments keep secrets out of parley.json this way.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "PARLEY_"}); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	return nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, true, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}
