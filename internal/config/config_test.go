package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8390", cfg.Listen)
	assert.Equal(t, 10*time.Second, cfg.StatusPollInterval)
	assert.Equal(t, 30*time.Second, cfg.MetricsPollInterval)
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"empty provisioner", func(c *Config) { c.ProvisionerURL = "" }},
		{"zero status interval", func(c *Config) { c.StatusPollInterval = 0 }},
		{"negative metrics interval", func(c *Config) { c.MetricsPollInterval = -time.Second }},
		{"api key without principal", func(c *Config) {
			c.APIKeys = map[string]*APIKey{"k1": {}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "agentgrid.json")

	raw := map[string]interface{}{
		"listen":   "127.0.0.1:9999",
		"data_dir": dir,
		"api_keys": map[string]interface{}{
			"secret-key": map[string]interface{}{
				"principal_id": "user-1",
				"team_ids":     []string{"team-9"},
			},
		},
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o644))

	cfg, err := LoadFromFile(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.Equal(t, dir, cfg.DataDir)
	require.Contains(t, cfg.APIKeys, "secret-key")
	assert.Equal(t, "user-1", cfg.APIKeys["secret-key"].PrincipalID)
	// Intervals fall back to defaults when the file omits them.
	assert.Equal(t, 10*time.Second, cfg.StatusPollInterval)
}

func TestServerSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ServerSpec
		wantErr bool
	}{
		{
			name: "valid local",
			spec: ServerSpec{
				Name:       "slack-mcp",
				ServerType: "local",
				Command:    "npx",
				Args:       []string{"-y", "slack-mcp"},
				Env: []EnvVarSpec{
					{Key: "TOKEN", Type: EnvTypeSecret, PromptOnInstall: true, Required: true},
				},
			},
		},
		{
			name: "valid remote",
			spec: ServerSpec{
				Name:       "linear",
				ServerType: "remote",
				UserConfig: map[string]UserConfigField{
					"workspace": {Type: "string", Required: true},
				},
			},
		},
		{
			name: "valid builtin",
			spec: ServerSpec{Name: "filesystem", ServerType: "builtin"},
		},
		{
			name:    "missing name",
			spec:    ServerSpec{ServerType: "local", Command: "npx"},
			wantErr: true,
		},
		{
			name:    "local without command",
			spec:    ServerSpec{Name: "x", ServerType: "local"},
			wantErr: true,
		},
		{
			name: "local with remote fields",
			spec: ServerSpec{
				Name: "x", ServerType: "local", Command: "npx",
				UserConfig: map[string]UserConfigField{"a": {}},
			},
			wantErr: true,
		},
		{
			name: "remote with local fields",
			spec: ServerSpec{
				Name: "x", ServerType: "remote", Command: "npx",
			},
			wantErr: true,
		},
		{
			name: "env var with bad type",
			spec: ServerSpec{
				Name: "x", ServerType: "local", Command: "npx",
				Env: []EnvVarSpec{{Key: "A", Type: "number"}},
			},
			wantErr: true,
		},
		{
			name:    "unknown server type",
			spec:    ServerSpec{Name: "x", ServerType: "cloud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
