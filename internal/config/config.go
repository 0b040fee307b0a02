// Package config loads application settings from an optional YAML file
// and environment variables. Environment variables always win, so a
// deployment can override any file setting without editing it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds everything the commands need to run.
type Config struct {
	Library  LibraryConfig  `yaml:"library"`
	Database DatabaseConfig `yaml:"database"`
	Detector DetectorConfig `yaml:"detector"`
	Server   ServerConfig   `yaml:"server"`
}

type LibraryConfig struct {
	Dir      string `yaml:"dir"`       // photo library root
	CacheDir string `yaml:"cache_dir"` // face thumbnails and bounds renderings
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

type DetectorConfig struct {
	URL         string `yaml:"url"`         // face-detection service base URL
	Concurrency int    `yaml:"concurrency"` // parallel detection calls (default 4)
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// envInt reads an environment variable and parses it as a positive
// integer. Returns the default value if the env var is unset, empty, or
// invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Load builds the configuration. The optional YAML file named by
// PHOTO_FACES_CONFIG (default ~/.config/photo-faces/config.yaml) supplies
// the base values; environment variables override it field by field.
func Load() (*Config, error) {
	cfg := &Config{
		Detector: DetectorConfig{Concurrency: 4},
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
	}

	if path := configFilePath(); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.Library.Dir = envString("PHOTO_FACES_LIBRARY_DIR", cfg.Library.Dir)
	cfg.Library.CacheDir = envString("PHOTO_FACES_CACHE_DIR", cfg.Library.CacheDir)
	cfg.Database.Path = envString("PHOTO_FACES_DB", cfg.Database.Path)
	cfg.Detector.URL = envString("PHOTO_FACES_DETECTOR_URL", cfg.Detector.URL)
	cfg.Detector.Concurrency = envInt("PHOTO_FACES_CONCURRENCY", cfg.Detector.Concurrency)
	cfg.Server.Host = envString("PHOTO_FACES_HOST", cfg.Server.Host)
	cfg.Server.Port = envInt("PHOTO_FACES_PORT", cfg.Server.Port)

	if cfg.Database.Path == "" && cfg.Library.CacheDir != "" {
		cfg.Database.Path = filepath.Join(cfg.Library.CacheDir, "photo-faces.db")
	}

	return cfg, nil
}

// configFilePath returns the config file to read, or "" when none exists.
func configFilePath() string {
	if path := os.Getenv("PHOTO_FACES_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".config", "photo-faces", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings the repository cannot start without.
func (c *Config) Validate() error {
	if c.Library.Dir == "" {
		return fmt.Errorf("library directory is required (PHOTO_FACES_LIBRARY_DIR)")
	}
	if c.Library.CacheDir == "" {
		return fmt.Errorf("cache directory is required (PHOTO_FACES_CACHE_DIR)")
	}
	return nil
}
