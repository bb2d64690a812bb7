// Package config loads mze settings from a TOML file and MZE_* environment
// variables. The CLI reads the client section; the server bootstrap reads the
// server section.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/medvied/mze/internal/models"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid is returned for settings that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

const (
	AppDir     = "mze"
	ConfigFile = "config.toml"
)

// Server modes.
const (
	ModeBlob   = "blob"
	ModeRecord = "record"
)

// Config is the content of the config file.
type Config struct {
	Client ClientConfig `toml:"client"`
	Server ServerConfig `toml:"server"`
}

// ClientConfig holds defaults for the mze CLI.
type ClientConfig struct {
	ServerURL string `toml:"server_url"`
	InitCfg   string `toml:"init_cfg"`   // JSON, comments allowed
	CreateCfg string `toml:"create_cfg"` // JSON, comments allowed
}

// ServerConfig holds the settings of mze-server.
type ServerConfig struct {
	Listen            string   `toml:"listen"`
	WebLocation       string   `toml:"web_location"`
	StorageDir        string   `toml:"storage_dir"`
	StorageURL        string   `toml:"storage_url"` // flat mode engine, defaults to file:<storage_dir>
	Mode              string   `toml:"mode"`
	InstanceID        string   `toml:"instance_id"`
	ClientURL         string   `toml:"client_url"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	Workers           int      `toml:"workers"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	MaxBlobSize       int64    `toml:"max_blob_size"`
	WebhookURLs       []string `toml:"webhook_urls,omitempty"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:     "0.0.0.0:80",
			StorageDir: "/var/lib/mze",
			Mode:       ModeBlob,
			LogLevel:   "info",
			LogFormat:  "json",
			Workers:    64,
		},
	}
}

// DefaultPath returns where the config file lives when --config is not given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppDir, ConfigFile)
}

// Load reads the config file at path over the defaults. An empty path
// searches the XDG config directories and falls back to the defaults when no
// file exists there.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		found, err := xdg.SearchConfigFile(filepath.Join(AppDir, ConfigFile))
		if err != nil {
			return cfg, nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides settings with the MZE_* variables that getenv reports
// as set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
		}
		*dst = n
		return nil
	}

	str(&c.Client.ServerURL, "MZE_SERVER_URL")
	str(&c.Client.InitCfg, "MZE_INIT_CFG")
	str(&c.Client.CreateCfg, "MZE_CREATE_CFG")

	s := &c.Server
	str(&s.Listen, "MZE_LISTEN")
	str(&s.WebLocation, "MZE_WEB_LOCATION")
	str(&s.StorageDir, "MZE_STORAGE_DIR")
	str(&s.StorageURL, "MZE_STORAGE_URL")
	str(&s.Mode, "MZE_SERVER_MODE")
	str(&s.InstanceID, "MZE_INSTANCE_ID", "MZE_INSTANCE_UUID")
	str(&s.ClientURL, "MZE_CLIENT_URL")
	str(&s.LogLevel, "MZE_LOG_LEVEL")
	str(&s.LogFormat, "MZE_LOG_FORMAT")
	if err := num(&s.Workers, "MZE_WORKERS"); err != nil {
		return err
	}
	if err := num(&s.RequestsPerMinute, "MZE_REQUESTS_PER_MINUTE"); err != nil {
		return err
	}
	if v := getenv("MZE_WEBHOOK_URLS"); v != "" {
		s.WebhookURLs = SplitList(v)
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// InstanceUUID parses the configured instance id, which must be a canonical
// UUID.
func (s *ServerConfig) InstanceUUID() (uuid.UUID, error) {
	if s.InstanceID == "" {
		return uuid.Nil, fmt.Errorf("%w: MZE_INSTANCE_ID is not set", ErrInvalid)
	}
	id, err := models.ParseUUID(s.InstanceID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: MZE_INSTANCE_ID: %v", ErrInvalid, err)
	}
	return id, nil
}

// EngineURL returns the storage URL of the flat server engine.
func (s *ServerConfig) EngineURL() string {
	if s.StorageURL != "" {
		return s.StorageURL
	}
	return "file:" + s.StorageDir
}

// Validate checks the settings the server cannot start without.
func (s *ServerConfig) Validate() error {
	if _, err := s.InstanceUUID(); err != nil {
		return err
	}
	switch s.Mode {
	case ModeBlob, ModeRecord:
	default:
		return fmt.Errorf("%w: server mode %q is not %q or %q", ErrInvalid, s.Mode, ModeBlob, ModeRecord)
	}
	if s.StorageDir == "" {
		return fmt.Errorf("%w: storage directory is not set", ErrInvalid)
	}
	if s.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalid)
	}
	return nil
}
