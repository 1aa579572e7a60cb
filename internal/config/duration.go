package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-valued keys, as written in fieldbridge.yaml.
const (
	KeyRequestTimeout = "http.request_timeout"
	KeyRateLimit      = "teams.rate_limit"
	KeyRetryBackoff   = "teams.retry_backoff"
	KeyBusyTimeout    = "storage.busy_timeout"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultRateLimit      = 250 * time.Millisecond
	DefaultRetryBackoff   = time.Second
	DefaultBusyTimeout    = 5 * time.Second
)

// DurationError names the config key holding a bad duration.
type DurationError struct {
	Key string
	Raw string
	Err error
}

func (e *DurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid duration %q (want e.g. \"250ms\", \"10s\"): %v", e.Key, e.Raw, e.Err)
	}
	return fmt.Sprintf("%s: duration %q must not be negative", e.Key, e.Raw)
}

func (e *DurationError) Unwrap() error { return e.Err }

// durationOr parses raw under key. Empty or zero yields def.
func durationOr(key, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &DurationError{Key: key, Raw: raw, Err: err}
	}
	if d < 0 {
		return 0, &DurationError{Key: key, Raw: raw}
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// Timeout bounds each outbound request.
func (h HTTPConfig) Timeout() (time.Duration, error) {
	return durationOr(KeyRequestTimeout, h.RequestTimeout, DefaultRequestTimeout)
}

// Pace is the minimum gap between two webhook posts.
func (t TeamsConfig) Pace() (time.Duration, error) {
	return durationOr(KeyRateLimit, t.RateLimit, DefaultRateLimit)
}

// Backoff is the retry factor: attempt n waits Backoff * 2^(n-1).
func (t TeamsConfig) Backoff() (time.Duration, error) {
	return durationOr(KeyRetryBackoff, t.RetryBackoff, DefaultRetryBackoff)
}

func (s StorageConfig) Busy() (time.Duration, error) {
	return durationOr(KeyBusyTimeout, s.BusyTimeout, DefaultBusyTimeout)
}
