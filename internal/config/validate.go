package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	logx "fieldbridge/pkg/logx"
)

var (
	ErrMissingAPIToken = errors.New("missing required fieldwire.api_token (or " + EnvAPIToken + ")")
	ErrMissingWebhook  = errors.New("missing required teams.webhook_url (or " + EnvWebhookURL + ")")
)

// Validate checks required fields and value ranges. It joins every problem it
// finds so operators can fix the file in one pass.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Fieldwire.APIToken) == "" {
		errs = append(errs, ErrMissingAPIToken)
	}
	if strings.TrimSpace(cfg.Teams.WebhookURL) == "" {
		errs = append(errs, ErrMissingWebhook)
	} else if u, err := url.Parse(strings.TrimSpace(cfg.Teams.WebhookURL)); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("teams.webhook_url: not an absolute URL"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Fieldwire.Region)) {
	case "", "us", "eu":
	default:
		errs = append(errs, fmt.Errorf("fieldwire.region: must be us or eu, got %q", cfg.Fieldwire.Region))
	}

	if cfg.Poll.Minutes <= 0 {
		errs = append(errs, fmt.Errorf("poll.minutes: must be > 0"))
	}
	if tz := strings.TrimSpace(cfg.Poll.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("poll.timezone: %w", err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Delivery.Mode)) {
	case "", DeliveryCards, DeliverySummary, DeliveryBoth:
	default:
		errs = append(errs, fmt.Errorf("delivery.mode: unknown mode %q", cfg.Delivery.Mode))
	}

	for _, parse := range []func() (time.Duration, error){
		cfg.Teams.Pace,
		cfg.Teams.Backoff,
		cfg.HTTP.Timeout,
	} {
		if _, err := parse(); err != nil {
			errs = append(errs, err)
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if sc := cfg.Storage; sc != nil {
		switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(sc.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required when storage.driver=sqlite"))
			}
			if _, err := sc.Busy(); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", sc.Driver))
		}
	}

	return errors.Join(errs...)
}

// NormalizedMode returns the delivery mode with defaults applied.
func (c *Config) NormalizedMode() string {
	m := strings.ToLower(strings.TrimSpace(c.Delivery.Mode))
	if m == "" {
		return DeliveryCards
	}
	return m
}

// PollWindow is the trailing window used when listing updated tasks.
func (c *Config) PollWindow() time.Duration {
	if c.Poll.Minutes <= 0 {
		return DefaultPollMinutes * time.Minute
	}
	return time.Duration(c.Poll.Minutes) * time.Minute
}
