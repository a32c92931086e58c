package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Global represents the base ~/.autochat/config.toml.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// Settings represents a profile's config.toml: which marketplace account the
// daemon speaks for and where.
type Settings struct {
	// ChatURL is the WebSocket chat endpoint (ws:// or wss://).
	ChatURL string `toml:"chat_url"`
	// APIBaseURL is the marketplace REST base URL.
	APIBaseURL string `toml:"api_base_url"`
	// Token is the bearer token, overridable via AUTOCHAT_TOKEN.
	Token string `toml:"token"`
	// UserID is the authenticated user's id.
	UserID int64 `toml:"user_id"`
}

// LoadGlobal reads the global config. Returns an error if the file is
// missing.
func LoadGlobal(path string) (*Global, error) {
	var cfg Global
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSettings reads a profile's settings and applies environment overrides.
// A .env file in the working directory is honored before the environment is
// read; secrets don't have to live in the TOML file.
func LoadSettings(path string) (*Settings, error) {
	_ = godotenv.Load()

	var cfg Settings
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Settings) {
	if v := os.Getenv("AUTOCHAT_CHAT_URL"); v != "" {
		cfg.ChatURL = v
	}
	if v := os.Getenv("AUTOCHAT_API_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("AUTOCHAT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("AUTOCHAT_USER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.UserID = id
		}
	}
}

// Validate checks that every field required to run the daemon is present.
func (cfg *Settings) Validate() error {
	if cfg.ChatURL == "" {
		return fmt.Errorf("config: chat_url is required")
	}
	if cfg.APIBaseURL == "" {
		return fmt.Errorf("config: api_base_url is required")
	}
	if cfg.Token == "" {
		return fmt.Errorf("config: token is required (config file or AUTOCHAT_TOKEN)")
	}
	if cfg.UserID == 0 {
		return fmt.Errorf("config: user_id is required")
	}
	return nil
}

// SaveGlobal writes the global config, creating parent dirs as needed.
func SaveGlobal(path string, cfg *Global) error {
	return save(path, cfg)
}

// SaveSettings writes a profile's settings with 0600 permissions.
func SaveSettings(path string, cfg *Settings) error {
	return save(path, cfg)
}

func save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
