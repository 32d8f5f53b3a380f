package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a file path and applies environment variable overrides
// Validation is deferred to allow CLI flag overrides to be applied first
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)

	// Call cfg.Validate() after applying CLI overrides in the caller
	return cfg, nil
}

// LoadFromEnvironment creates a configuration using only environment variables
// Validation is deferred to allow CLI flag overrides to be applied first
func LoadFromEnvironment() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// loadFromFile decodes a JSON or YAML file over the defaults in cfg
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrConfigFileNotFound
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
		}
	}

	// Relative design paths resolve against the config file
	dir := filepath.Dir(path)
	for i, design := range cfg.Install.Designs {
		if !filepath.IsAbs(design) {
			cfg.Install.Designs[i] = filepath.Join(dir, design)
		}
	}
	return nil
}

// applyEnvironmentOverrides applies configuration from environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if host := os.Getenv("COUCH_HOST"); host != "" {
		cfg.Couch.Host = host
	}

	if port := os.Getenv("COUCH_PORT"); port != "" {
		cfg.Couch.Port = port
	}

	if secure := os.Getenv("COUCH_SECURE"); secure == "true" || secure == "1" {
		cfg.Couch.Secure = true
	}

	if db := os.Getenv("COUCH_DB"); db != "" {
		cfg.Couch.Database = db
	}

	if user := os.Getenv("COUCH_USER"); user != "" {
		cfg.Couch.Username = user
	}

	if password := os.Getenv("COUCH_PASSWORD"); password != "" {
		cfg.Couch.Password = password
	}

	if secret := os.Getenv("COUCH_JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}

	if subject := os.Getenv("COUCH_JWT_SUBJECT"); subject != "" {
		cfg.JWT.Subject = subject
	}

	if logLevel := os.Getenv("COUCH_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if debug := os.Getenv("COUCH_DEBUG"); debug == "true" || debug == "1" {
		cfg.Debug = true
	}

	if policy := os.Getenv("COUCH_UPDATE_POLICY"); policy != "" {
		cfg.Sync.UpdatePolicy = policy
	}
}
