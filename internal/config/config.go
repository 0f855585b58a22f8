// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/geminichat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config holds the complete application configuration.
type Config struct {
	API     APIConfig     `toml:"api" json:"api"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Uploads UploadsConfig `toml:"uploads" json:"uploads"`
	UI      UIConfig      `toml:"ui" json:"ui"`
}

// APIConfig configures the backend connection.
type APIConfig struct {
	// BaseURL is the backend API root, including the /api prefix.
	BaseURL string `toml:"base_url" json:"base_url"`

	// TimeoutSecs is the per-request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`

	// MaxRetries is the number of retry attempts for transient failures.
	MaxRetries int `toml:"max_retries" json:"max_retries"`

	// RateLimitRPS caps outgoing requests per second. 0 disables shaping.
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`

	// RateLimitBurst is the burst allowance when shaping is active.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
}

// StorageConfig configures local persistence.
type StorageConfig struct {
	// Dir is the directory holding the state database. Empty means the
	// config directory.
	Dir string `toml:"dir" json:"dir"`

	// Namespace prefixes every persisted key.
	Namespace string `toml:"namespace" json:"namespace"`
}

// UploadsConfig overrides the attachment size ceilings, in bytes.
// Zero values keep the built-in limits.
type UploadsConfig struct {
	ImageMaxBytes int64 `toml:"image_max_bytes" json:"image_max_bytes"`
	AudioMaxBytes int64 `toml:"audio_max_bytes" json:"audio_max_bytes"`
	PDFMaxBytes   int64 `toml:"pdf_max_bytes" json:"pdf_max_bytes"`
}

// UIConfig configures the interactive prompt.
type UIConfig struct {
	// Theme is the persisted display theme name.
	Theme string `toml:"theme" json:"theme"`

	// HistoryFile stores prompt history. Empty means the config directory.
	HistoryFile string `toml:"history_file" json:"history_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:5000/api",
			TimeoutSecs:    30,
			MaxRetries:     0,
			RateLimitRPS:   0,
			RateLimitBurst: 1,
		},
		Storage: StorageConfig{
			Namespace: "geminichat",
		},
		UI: UIConfig{
			Theme: "dark",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the configuration directory (~/.geminichat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".geminichat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON fallback config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions fixes config file permissions. The file may
// carry a persisted token, so it must be owner read/write only.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file, applies environment overrides and validates
// the result. TOML is tried first, then a JSON fallback; a missing file
// is not an error and defaults are used.
func Load() (*Config, error) {
	tomlPath, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(tomlPath); statErr == nil {
		return LoadFromPath(tomlPath)
	}

	jsonPath, err := ConfigPathJSON()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(jsonPath); statErr == nil {
		return LoadFromPath(jsonPath)
	}

	return LoadFromPath(tomlPath)
}

// LoadFromPath loads configuration from a specific file path. The format
// is chosen by extension: .json decodes as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if strings.HasSuffix(path, ".json") {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		} else if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to the default path with secure permissions.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the config as TOML to the given path atomically.
func SaveToPath(cfg *Config, path string) error {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(sb.String()), 0600)
}

// =============================================================================
// OVERRIDES AND VALIDATION
// =============================================================================

// ApplyEnvOverrides applies GEMINICHAT_* environment variables on top of
// the loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GEMINICHAT_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("GEMINICHAT_API_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.API.TimeoutSecs = n
		}
	}
	if v := os.Getenv("GEMINICHAT_API_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.API.MaxRetries = n
		}
	}
	if v := os.Getenv("GEMINICHAT_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("GEMINICHAT_THEME"); v != "" {
		c.UI.Theme = v
	}
}

// fillDefaults replaces zero values that have no meaningful zero with the
// built-in defaults.
func (c *Config) fillDefaults() {
	def := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = def.API.TimeoutSecs
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = def.API.RateLimitBurst
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = def.Storage.Namespace
	}
	if c.UI.Theme == "" {
		c.UI.Theme = def.UI.Theme
	}
	if c.Storage.Dir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.Dir = dir
		}
	}
	if c.UI.HistoryFile == "" {
		if dir, err := ConfigDir(); err == nil {
			c.UI.HistoryFile = filepath.Join(dir, "history")
		}
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must start with http:// or https://, got %q", c.API.BaseURL)
	}
	if c.API.TimeoutSecs < 1 {
		return fmt.Errorf("api.timeout_secs must be at least 1, got %d", c.API.TimeoutSecs)
	}
	if c.API.MaxRetries < 0 || c.API.MaxRetries > 10 {
		return fmt.Errorf("api.max_retries must be between 0 and 10, got %d", c.API.MaxRetries)
	}
	if c.API.RateLimitRPS < 0 {
		return fmt.Errorf("api.rate_limit_rps must not be negative, got %g", c.API.RateLimitRPS)
	}
	if c.Uploads.ImageMaxBytes < 0 || c.Uploads.AudioMaxBytes < 0 || c.Uploads.PDFMaxBytes < 0 {
		return fmt.Errorf("upload size limits must not be negative")
	}
	return nil
}
