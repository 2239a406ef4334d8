package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the daemon configuration, read from the profile's config.toml
// with environment overrides applied on top. Secrets (store key, JWT
// secret) normally arrive via the environment, not the file.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Store  StoreConfig  `toml:"store"`
	Agency AgencyConfig `toml:"agency"`
	Server ServerConfig `toml:"server"`
	Media  MediaConfig  `toml:"media"`
}

// StoreConfig points at the backing relational store's REST and realtime
// endpoints.
type StoreConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// AgencyConfig points at the agency service that fronts the messaging
// provider.
type AgencyConfig struct {
	BaseURL string `toml:"base_url"`
}

// ServerConfig configures the UI-facing HTTP server.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	JWTSecret  string `toml:"jwt_secret"`
}

// MediaConfig configures the upload collaborator.
type MediaConfig struct {
	Bucket string `toml:"bucket"`
}

// Load reads config from path. A missing file yields defaults, not an
// error, because every field can be supplied via the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{ListenAddr: "127.0.0.1:8090"},
		Media:  MediaConfig{Bucket: "whatsapp-media"},
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Save writes cfg to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadDotenv loads a .env file from the working directory if present.
// Missing files are fine; explicit environment always wins.
func LoadDotenv() {
	_ = godotenv.Load()
}

func (c *Config) applyEnv() {
	setString(&c.Store.URL, "AGENTDESK_STORE_URL")
	setString(&c.Store.APIKey, "AGENTDESK_STORE_API_KEY")
	setString(&c.Agency.BaseURL, "AGENTDESK_AGENCY_URL")
	setString(&c.Server.ListenAddr, "AGENTDESK_LISTEN_ADDR")
	setString(&c.Server.JWTSecret, "AGENTDESK_JWT_SECRET")
	setString(&c.Media.Bucket, "AGENTDESK_MEDIA_BUCKET")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Store.URL == "" {
		return fmt.Errorf("store.url is required (or AGENTDESK_STORE_URL)")
	}
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret is required (or AGENTDESK_JWT_SECRET)")
	}
	if _, _, err := splitHostPort(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("server.listen_addr %q: %w", c.Server.ListenAddr, err)
	}
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port, err := strconv.Atoi(addr[i+1:])
			if err != nil || port <= 0 || port > 65535 {
				return "", 0, fmt.Errorf("invalid port")
			}
			return addr[:i], port, nil
		}
	}
	return "", 0, fmt.Errorf("missing port")
}
