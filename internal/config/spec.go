package config

import (
	"fmt"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

// Env var value types accepted in local server specs.
const (
	EnvTypePlainText = "plain_text"
	EnvTypeSecret    = "secret"
)

// EnvVarSpec declares one environment variable of a local MCP server.
// PromptOnInstall marks variables the operator must supply at install time.
type EnvVarSpec struct {
	Key             string `json:"key" mapstructure:"key"`
	Type            string `json:"type" mapstructure:"type"` // plain_text or secret
	PromptOnInstall bool   `json:"prompt_on_installation" mapstructure:"prompt-on-installation"`
	Required        bool   `json:"required" mapstructure:"required"`
}

// UserConfigField declares one user-supplied field of a remote MCP server.
type UserConfigField struct {
	Type     string `json:"type" mapstructure:"type"`
	Required bool   `json:"required" mapstructure:"required"`
}

// OAuthSpec is the OAuth configuration of a remote server. For reinstall
// decisions only its presence matters, not its contents.
type OAuthSpec struct {
	AuthorizeURL string   `json:"authorize_url,omitempty" mapstructure:"authorize-url"`
	TokenURL     string   `json:"token_url,omitempty" mapstructure:"token-url"`
	Scopes       []string `json:"scopes,omitempty" mapstructure:"scopes"`
}

// ServerSpec is the catalog-side definition of an MCP server. Exactly one
// variant's fields are populated; ServerType discriminates.
type ServerSpec struct {
	Name       string `json:"name" mapstructure:"name"`
	ServerType string `json:"server_type" mapstructure:"server-type"` // local, remote, builtin

	// Local variant
	Command string       `json:"command,omitempty" mapstructure:"command"`
	Args    []string     `json:"args,omitempty" mapstructure:"args"`
	Env     []EnvVarSpec `json:"environment,omitempty" mapstructure:"environment"`

	// Remote variant
	UserConfig map[string]UserConfigField `json:"user_config,omitempty" mapstructure:"user-config"`
	OAuth      *OAuthSpec                 `json:"oauth_config,omitempty" mapstructure:"oauth-config"`

	// Remote MCP endpoint for tool listing (deployment-time, not part of
	// the reinstall decision surface)
	URL string `json:"url,omitempty" mapstructure:"url"`
}

// IsLocal reports whether the spec describes a local server.
func (s *ServerSpec) IsLocal() bool { return s.ServerType == contracts.ServerTypeLocal }

// IsRemote reports whether the spec describes a remote server.
func (s *ServerSpec) IsRemote() bool { return s.ServerType == contracts.ServerTypeRemote }

// IsBuiltin reports whether the spec describes a builtin server.
func (s *ServerSpec) IsBuiltin() bool { return s.ServerType == contracts.ServerTypeBuiltin }

// Validate checks the spec's variant invariant.
func (s *ServerSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("server spec must have a name")
	}
	switch s.ServerType {
	case contracts.ServerTypeLocal:
		if s.Command == "" {
			return fmt.Errorf("local server %q must have a command", s.Name)
		}
		if s.UserConfig != nil || s.OAuth != nil {
			return fmt.Errorf("local server %q cannot carry remote fields", s.Name)
		}
		for i := range s.Env {
			ev := &s.Env[i]
			if ev.Key == "" {
				return fmt.Errorf("local server %q has an env var with no key", s.Name)
			}
			if ev.Type != EnvTypePlainText && ev.Type != EnvTypeSecret {
				return fmt.Errorf("env var %q has unknown type %q", ev.Key, ev.Type)
			}
		}
	case contracts.ServerTypeRemote:
		if s.Command != "" || len(s.Args) > 0 || len(s.Env) > 0 {
			return fmt.Errorf("remote server %q cannot carry local fields", s.Name)
		}
	case contracts.ServerTypeBuiltin:
		// Builtin servers carry no installable configuration.
	default:
		return fmt.Errorf("unknown server type %q", s.ServerType)
	}
	return nil
}
