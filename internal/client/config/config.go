package config

import "time"

// Config holds runtime settings for the coachkeeper client.
//
// Durations are time.Duration values; sizes are in bytes, where zero means
// unlimited.
type Config struct {
	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration
	RemoteTimeout       time.Duration
	AccessToken         string

	PreferredBackend string
	FallbackEnabled  bool

	DatabasePath    string
	LocalQuotaBytes int64

	CachePath        string
	CacheTTL         time.Duration
	CacheBudgetBytes int64

	SyncInterval   time.Duration
	SyncBatchSize  int
	SyncBatchPause time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	LogFormat   string
	MetricsAddr string

	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string

	// BackupPassphrase enables encrypted backups when non-empty.
	BackupPassphrase string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.RemoteTimeout = 5 * time.Second

	c.PreferredBackend = "remote"
	c.FallbackEnabled = true

	c.DatabasePath = "coachkeeper.db"
	c.CachePath = ""
	c.CacheTTL = 5 * time.Minute
	c.CacheBudgetBytes = 4 << 20

	c.SyncInterval = time.Minute
	c.SyncBatchSize = 10
	c.SyncBatchPause = 200 * time.Millisecond
	c.MaxRetries = 5
	c.RetryBaseDelay = 2 * time.Second
	c.RetryMaxDelay = 5 * time.Minute

	c.LogFormat = "text"
	c.S3Region = "us-east-1"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
