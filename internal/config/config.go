package config

import (
	"fmt"
	"time"
)

// Config is the daemon configuration.
type Config struct {
	Listen         string `json:"listen" mapstructure:"listen"`
	DataDir        string `json:"data_dir" mapstructure:"data-dir"`
	ProvisionerURL string `json:"provisioner_url" mapstructure:"provisioner-url"`

	// Realtime and polling intervals
	StatusPollInterval  time.Duration `json:"status_poll_interval" mapstructure:"status-poll-interval"`
	MetricsPollInterval time.Duration `json:"metrics_poll_interval" mapstructure:"metrics-poll-interval"`

	// Auth settings
	APIKeys   map[string]*APIKey `json:"api_keys,omitempty" mapstructure:"api-keys"`
	JWTSecret string             `json:"jwt_secret,omitempty" mapstructure:"jwt-secret"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// APIKey grants realtime access to a principal identified by the key value.
type APIKey struct {
	PrincipalID string   `json:"principal_id" mapstructure:"principal-id"`
	TeamIDs     []string `json:"team_ids,omitempty" mapstructure:"team-ids"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`       // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"` // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              "127.0.0.1:8390",
		ProvisionerURL:      "http://127.0.0.1:8391",
		StatusPollInterval:  10 * time.Second,
		MetricsPollInterval: 30 * time.Second,
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
			JSONFormat:    false,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.ProvisionerURL == "" {
		return fmt.Errorf("provisioner URL cannot be empty")
	}
	if c.StatusPollInterval <= 0 {
		return fmt.Errorf("status poll interval must be positive, got %s", c.StatusPollInterval)
	}
	if c.MetricsPollInterval <= 0 {
		return fmt.Errorf("metrics poll interval must be positive, got %s", c.MetricsPollInterval)
	}
	for key, ak := range c.APIKeys {
		if key == "" {
			return fmt.Errorf("API key value cannot be empty")
		}
		if ak == nil || ak.PrincipalID == "" {
			return fmt.Errorf("API key %q must name a principal", key)
		}
	}
	return nil
}
