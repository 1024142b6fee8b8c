package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultDataDir = ".agentgrid"
	ConfigFileName = "agentgrid.json"
)

// LoadFromFile loads configuration from a specific file, applying defaults
// and environment overrides.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Load loads configuration from the default location in the data directory.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	configPath := filepath.Join(homeDir, DefaultDataDir, ConfigFileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = ""
	}
	return LoadFromFile(configPath)
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnvOverrides lets AGENTGRID_* environment variables override the
// file-provided values for deployment-sensitive settings.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("AGENTGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if listen := v.GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	if provisioner := v.GetString("provisioner_url"); provisioner != "" {
		cfg.ProvisionerURL = provisioner
	}
	if secret := v.GetString("jwt_secret"); secret != "" {
		cfg.JWTSecret = secret
	}
	if dataDir := v.GetString("data_dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
}
