package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that override file values.
const (
	EnvAPIToken   = "FIELDWIRE_API_TOKEN"
	EnvRegion     = "FIELDWIRE_REGION"
	EnvProjectIDs = "FIELDWIRE_PROJECT_IDS"
	EnvWebhookURL = "TEAMS_WEBHOOK_URL"
	EnvPollMins   = "POLL_MINUTES"
	EnvLogLevel   = "LOG_LEVEL"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment values onto cfg. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvAPIToken); ok {
		cfg.Fieldwire.APIToken = v
	}
	if v, ok := get(EnvRegion); ok {
		cfg.Fieldwire.Region = v
	}
	if v, ok := get(EnvProjectIDs); ok {
		cfg.Fieldwire.ProjectIDs = v
	}
	if v, ok := get(EnvWebhookURL); ok {
		cfg.Teams.WebhookURL = v
	}
	if v, ok := get(EnvPollMins); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvPollMins, v)
		}
		cfg.Poll.Minutes = n
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	return nil
}

// ProjectFilter splits the project id list. It returns nil for "ALL" or an empty list.
func ProjectFilter(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, AllProjects) {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.EqualFold(p, AllProjects) {
			return nil
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
