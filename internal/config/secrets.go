package config

import (
	"fmt"
	"strings"
)

const keyringPrefix = "keyring:"

// SecretResolver looks up a keyring entry by key.
type SecretResolver func(key string) (string, error)

// ResolveSecrets replaces "keyring:<key>" references in the secret fields.
func ResolveSecrets(cfg *Config, resolve SecretResolver) error {
	if cfg == nil {
		return nil
	}
	for _, f := range []struct {
		path string
		val  *string
	}{
		{"fieldwire.api_token", &cfg.Fieldwire.APIToken},
		{"teams.webhook_url", &cfg.Teams.WebhookURL},
	} {
		raw := strings.TrimSpace(*f.val)
		if !strings.HasPrefix(strings.ToLower(raw), keyringPrefix) {
			continue
		}
		key := strings.TrimSpace(raw[len(keyringPrefix):])
		if key == "" {
			return fmt.Errorf("%s: empty keyring reference", f.path)
		}
		if resolve == nil {
			return fmt.Errorf("%s: keyring reference but no resolver", f.path)
		}
		v, err := resolve(key)
		if err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
		*f.val = strings.TrimSpace(v)
	}
	return nil
}
