package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Gateway     GatewayConfig             `json:"gateway"`
	Chat        ChatConfig                `json:"chat"`
	Voice       VoiceConfig               `json:"voice"`
	Payment     PaymentConfig             `json:"payment"`
	Providers   map[string]ProviderConfig `json:"providers"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// StateStore selects where client state (identity, guest quota) lives:
	// sqlite3, mysql, redis, or memory.
	StateStore string `json:"state_store"`
	// ServeBackend mounts the interpretation backend on the same router.
	ServeBackend bool `json:"serve_backend"`
	// Provider selects the LLM provider for the embedded backend.
	Provider string `json:"provider"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type GatewayConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type ChatConfig struct {
	// StatusIntervalSeconds is the cadence of the "still thinking" rotation
	// while an interpretation is pending.
	StatusIntervalSeconds int `json:"status_interval_seconds"`
}

type VoiceConfig struct {
	// Helper commands for speech recognition and synthesis. Empty means the
	// capability is absent on this host.
	RecognizeCommand []string `json:"recognize_command"`
	SpeakCommand     []string `json:"speak_command"`
}

type PaymentConfig struct {
	MerchantLogin string  `json:"merchant_login"`
	Password1     string  `json:"password_1"`
	DefaultAmount float64 `json:"default_amount"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Gateway.BaseURL == "" && !cfg.BasicConfig.ServeBackend {
		return nil, fmt.Errorf("gateway base_url must be configured")
	}

	// Relative sqlite paths resolve against the config file.
	for name, db := range cfg.Databases {
		if db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}

// StatusInterval returns the configured rotation cadence in seconds,
// defaulting to 2.
func (c *Config) StatusInterval() int {
	if c.Chat.StatusIntervalSeconds <= 0 {
		return 2
	}
	return c.Chat.StatusIntervalSeconds
}
