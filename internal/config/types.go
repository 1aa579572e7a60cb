package config

// Config is the on-disk (JSON or YAML) configuration.
//
// Secret values (fieldwire.api_token, teams.webhook_url) may be given as
// "keyring:<key>" and are resolved at load time. Environment variables
// override file values; see ApplyEnv.
type Config struct {
	Fieldwire FieldwireConfig `json:"fieldwire"`
	Teams     TeamsConfig     `json:"teams"`
	Poll      PollConfig      `json:"poll"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
	Card      CardConfig      `json:"card,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type FieldwireConfig struct {
	APIToken string `json:"api_token"`
	// Region is "us" or "eu".
	Region string `json:"region,omitempty"`
	// ProjectIDs is a comma-separated id list or "ALL".
	ProjectIDs string `json:"project_ids,omitempty"`

	// Endpoint overrides (tests, proxies). Empty means the regional default.
	AuthURL string `json:"auth_url,omitempty"`
	APIURL  string `json:"api_url,omitempty"`
}

// TeamsConfig controls webhook delivery.
//
// All durations are Go duration strings (e.g. "250ms", "1s").
type TeamsConfig struct {
	WebhookURL string `json:"webhook_url"`
	// RateLimit is the minimum delay between two sends (default "250ms").
	RateLimit string `json:"rate_limit,omitempty"`
	// RetryMax is the transport retry budget (default 3). Negative disables retries.
	RetryMax *int `json:"retry_max,omitempty"`
	// RetryBackoff is the exponential backoff factor (default "1s").
	RetryBackoff string `json:"retry_backoff,omitempty"`
}

type PollConfig struct {
	// Minutes is both the trigger interval and the trailing window (default 60).
	Minutes int `json:"minutes,omitempty"`
	// Schedule optionally overrides the trigger (cron, "@every 15m", "55m", "01:30").
	// The trailing window stays Minutes.
	Schedule   string `json:"schedule,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
	// Timezone is an IANA zone for cron schedules (default local).
	Timezone string `json:"timezone,omitempty"`
}

type HTTPConfig struct {
	// RequestTimeout bounds each outbound request (default "10s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type CardConfig struct {
	// TemplatePath replaces the built-in card template.
	TemplatePath string `json:"template_path,omitempty"`
	// ResolveAttachmentURLs looks up media URLs for attachments that arrive without one.
	// Pointer so an omitted value can default to true.
	ResolveAttachmentURLs *bool `json:"resolve_attachment_urls,omitempty"`
}

type DeliveryConfig struct {
	// Mode is "cards" (default), "summary" or "both".
	Mode string `json:"mode,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Webhook LoggingWebhook `json:"webhook"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingWebhook forwards high-severity log lines to the Teams webhook.
type LoggingWebhook struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional delivery audit store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./fieldbridge.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	DeliveryCards   = "cards"
	DeliverySummary = "summary"
	DeliveryBoth    = "both"

	DefaultPollMinutes = 60
	DefaultRegion      = "us"
	AllProjects        = "ALL"
)

// Default returns a config with logging on the console and every other
// field left to its documented default.
func Default() *Config {
	return &Config{
		Fieldwire: FieldwireConfig{Region: DefaultRegion, ProjectIDs: AllProjects},
		Poll:      PollConfig{Minutes: DefaultPollMinutes},
		Delivery:  DeliveryConfig{Mode: DeliveryCards},
		Logging:   LoggingConfig{Level: "INFO", Console: true},
	}
}
