package config

// Config is the top-level YAML structure.
type Config struct {
	Server   ServerConf   `yaml:"server"`
	Stripe   StripeConf   `yaml:"stripe"`
	TikTok   TikTokConf   `yaml:"tiktok"`
	Database DatabaseConf `yaml:"database"`
}

// ServerConf holds HTTP listener settings.
type ServerConf struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

// StripeConf controls webhook verification and normalization.
type StripeConf struct {
	// WebhookSecret is the shared signing secret. Empty disables
	// signature verification entirely (non-production use only).
	WebhookSecret string `yaml:"webhook_secret"`
	// DefaultManagerID attributes events whose metadata carries no
	// manager id. Empty means such events are rejected instead.
	DefaultManagerID string `yaml:"default_manager_id"`
}

// TikTokConf holds the outbound Events API settings.
type TikTokConf struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// DatabaseConf selects the credential/event-log backend. An empty URL with
// CredentialsFile set runs the relay on file-backed credentials with no
// persistent event log.
type DatabaseConf struct {
	URL             string `yaml:"url"`
	MigrationsDir   string `yaml:"migrations_dir"`
	CredentialsFile string `yaml:"credentials_file"`
}
