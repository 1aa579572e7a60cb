package app

import (
	"strings"
	"time"

	"fieldbridge/internal/config"
	"fieldbridge/internal/httpx"
	"fieldbridge/internal/pipeline"
	"fieldbridge/internal/storage"
	"fieldbridge/internal/task/scheduler"
	logx "fieldbridge/pkg/logx"
)

const defaultRetryMax = 3

func mapRequestTimeout(cfg *config.Config) (time.Duration, error) {
	return cfg.HTTP.Timeout()
}

func mapRetryPolicy(cfg *config.Config) (httpx.RetryPolicy, error) {
	backoff, err := cfg.Teams.Backoff()
	if err != nil {
		return httpx.RetryPolicy{}, err
	}
	retries := defaultRetryMax
	if cfg.Teams.RetryMax != nil {
		retries = max0(*cfg.Teams.RetryMax)
	}
	return httpx.RetryPolicy{Max: retries, Backoff: backoff}, nil
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func mapRateLimit(cfg *config.Config) (time.Duration, error) {
	return cfg.Teams.Pace()
}

func mapPipelineOptions(cfg *config.Config) pipeline.Options {
	resolve := true
	if cfg.Card.ResolveAttachmentURLs != nil {
		resolve = *cfg.Card.ResolveAttachmentURLs
	}
	return pipeline.Options{
		ProjectFilter: config.ProjectFilter(cfg.Fieldwire.ProjectIDs),
		Window:        cfg.PollWindow(),
		Mode:          cfg.NormalizedMode(),
		ResolveURLs:   resolve,
	}
}

func mapSchedule(cfg *config.Config) scheduler.Config {
	spec := strings.TrimSpace(cfg.Poll.Schedule)
	if spec == "" {
		spec = scheduler.DefaultSpec(int(cfg.PollWindow() / time.Minute))
	}
	return scheduler.Config{Spec: spec, Timezone: cfg.Poll.Timezone, RunOnStart: cfg.Poll.RunOnStart}
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Webhook: logx.WebhookConfig{
			Enabled:    cfg.Logging.Webhook.Enabled,
			MinLevel:   cfg.Logging.Webhook.MinLevel,
			RatePerSec: cfg.Logging.Webhook.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := sc.Busy()
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

// restartOnly lists changed settings that only take effect after a restart.
func restartOnly(prev, next *config.Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	check := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	check("fieldwire.api_token", prev.Fieldwire.APIToken != next.Fieldwire.APIToken)
	check("fieldwire.region", prev.Fieldwire.Region != next.Fieldwire.Region)
	check("fieldwire.auth_url", prev.Fieldwire.AuthURL != next.Fieldwire.AuthURL)
	check("fieldwire.api_url", prev.Fieldwire.APIURL != next.Fieldwire.APIURL)
	check("teams.webhook_url", prev.Teams.WebhookURL != next.Teams.WebhookURL)
	check("teams.retry", prev.Teams.RetryBackoff != next.Teams.RetryBackoff || !sameIntPtr(prev.Teams.RetryMax, next.Teams.RetryMax))
	check("http", prev.HTTP != next.HTTP)
	check("card.template_path", prev.Card.TemplatePath != next.Card.TemplatePath)
	check("storage", !sameStorage(prev.Storage, next.Storage))
	return out
}

func sameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameStorage(a, b *config.StorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
