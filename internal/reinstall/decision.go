// Package reinstall decides whether a catalog change can be applied to a
// deployed server silently or needs the operator to re-confirm its
// installation input.
package reinstall

import (
	"github.com/agentgrid-io/agentgrid/internal/config"
)

// promptedEnvKey is the identity of a prompted env var for diffing purposes.
type promptedEnvKey struct {
	Type     string
	Required bool
}

// requiredFieldKey is the identity of a required user-config field.
type requiredFieldKey struct {
	Type string
}

// rule is one ordered predicate in the decision chain. The first rule that
// fires wins; evaluation never has side effects.
type rule struct {
	name    string
	applies func(oldSpec, newSpec *config.ServerSpec) bool
}

var rules = []rule{
	{name: "name_changed", applies: nameChanged},
	{name: "prompted_env_changed", applies: promptedEnvChanged},
	{name: "required_user_config_changed", applies: requiredUserConfigChanged},
	{name: "oauth_presence_toggled", applies: oauthPresenceToggled},
}

// RequiresNewUserInput reports whether applying newSpec over oldSpec needs
// fresh operator input before the server can be reinstalled. Pure and total:
// nil env lists and user-config maps are treated as empty.
func RequiresNewUserInput(oldSpec, newSpec *config.ServerSpec) bool {
	if newSpec.IsBuiltin() {
		return false
	}
	for _, r := range rules {
		if r.applies(oldSpec, newSpec) {
			return true
		}
	}
	return false
}

// nameChanged: a renamed server always requires re-confirmation, even with
// zero prompted fields.
func nameChanged(oldSpec, newSpec *config.ServerSpec) bool {
	return oldSpec.Name != newSpec.Name
}

// promptedEnvChanged diffs the prompted environment declarations of local
// specs. Variables with PromptOnInstall false are ignored entirely.
func promptedEnvChanged(oldSpec, newSpec *config.ServerSpec) bool {
	oldPrompted := promptedEnv(oldSpec.Env)
	newPrompted := promptedEnv(newSpec.Env)

	if len(oldPrompted) != len(newPrompted) {
		return true
	}
	for key, oldID := range oldPrompted {
		newID, ok := newPrompted[key]
		if !ok || newID != oldID {
			return true
		}
	}
	return false
}

func promptedEnv(env []config.EnvVarSpec) map[string]promptedEnvKey {
	out := make(map[string]promptedEnvKey, len(env))
	for i := range env {
		ev := &env[i]
		if !ev.PromptOnInstall {
			continue
		}
		out[ev.Key] = promptedEnvKey{Type: ev.Type, Required: ev.Required}
	}
	return out
}

// requiredUserConfigChanged diffs the required user-config fields of remote
// specs. Optional field additions and removals never fire.
func requiredUserConfigChanged(oldSpec, newSpec *config.ServerSpec) bool {
	oldRequired := requiredFields(oldSpec.UserConfig)
	newRequired := requiredFields(newSpec.UserConfig)

	if len(oldRequired) != len(newRequired) {
		return true
	}
	for name, oldID := range oldRequired {
		newID, ok := newRequired[name]
		if !ok || newID != oldID {
			return true
		}
	}
	return false
}

func requiredFields(fields map[string]config.UserConfigField) map[string]requiredFieldKey {
	out := make(map[string]requiredFieldKey, len(fields))
	for name, f := range fields {
		if !f.Required {
			continue
		}
		out[name] = requiredFieldKey{Type: f.Type}
	}
	return out
}

// oauthPresenceToggled fires when OAuth configuration is added or removed.
// Value changes while present in both specs are ignored.
func oauthPresenceToggled(oldSpec, newSpec *config.ServerSpec) bool {
	return (oldSpec.OAuth == nil) != (newSpec.OAuth == nil)
}
