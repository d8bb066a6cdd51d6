package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/coachkeeper/internal/flagx"
	"github.com/dmitrijs2005/coachkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals use
// timex.Duration so they may be strings like "3s" or integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	RemoteTimeout       timex.Duration `json:"remote_timeout"`
	AccessToken         string         `json:"access_token"`
	PreferredBackend    string         `json:"preferred_backend"`
	FallbackEnabled     bool           `json:"fallback_enabled"`
	DatabasePath        string         `json:"database_path"`
	LocalQuotaBytes     int64          `json:"local_quota_bytes"`
	CachePath           string         `json:"cache_path"`
	CacheTTL            timex.Duration `json:"cache_ttl"`
	CacheBudgetBytes    int64          `json:"cache_budget_bytes"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	SyncBatchSize       int            `json:"sync_batch_size"`
	SyncBatchPause      timex.Duration `json:"sync_batch_pause"`
	MaxRetries          int            `json:"max_retries"`
	RetryBaseDelay      timex.Duration `json:"retry_base_delay"`
	RetryMaxDelay       timex.Duration `json:"retry_max_delay"`
	LogFormat           string         `json:"log_format"`
	MetricsAddr         string         `json:"metrics_addr"`
	S3Bucket            string         `json:"s3_bucket"`
	S3Region            string         `json:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint"`
	S3AccessKey         string         `json:"s3_access_key"`
	S3SecretKey         string         `json:"s3_secret_key"`
	BackupPassphrase    string         `json:"backup_passphrase"`
}

func toJson(c *Config) JsonConfig {
	return JsonConfig{
		ServerEndpointAddr:  c.ServerEndpointAddr,
		OnlineCheckInterval: timex.Duration{Duration: c.OnlineCheckInterval},
		RemoteTimeout:       timex.Duration{Duration: c.RemoteTimeout},
		AccessToken:         c.AccessToken,
		PreferredBackend:    c.PreferredBackend,
		FallbackEnabled:     c.FallbackEnabled,
		DatabasePath:        c.DatabasePath,
		LocalQuotaBytes:     c.LocalQuotaBytes,
		CachePath:           c.CachePath,
		CacheTTL:            timex.Duration{Duration: c.CacheTTL},
		CacheBudgetBytes:    c.CacheBudgetBytes,
		SyncInterval:        timex.Duration{Duration: c.SyncInterval},
		SyncBatchSize:       c.SyncBatchSize,
		SyncBatchPause:      timex.Duration{Duration: c.SyncBatchPause},
		MaxRetries:          c.MaxRetries,
		RetryBaseDelay:      timex.Duration{Duration: c.RetryBaseDelay},
		RetryMaxDelay:       timex.Duration{Duration: c.RetryMaxDelay},
		LogFormat:           c.LogFormat,
		MetricsAddr:         c.MetricsAddr,
		S3Bucket:            c.S3Bucket,
		S3Region:            c.S3Region,
		S3BaseEndpoint:      c.S3BaseEndpoint,
		S3AccessKey:         c.S3AccessKey,
		S3SecretKey:         c.S3SecretKey,
		BackupPassphrase:    c.BackupPassphrase,
	}
}

func (jc JsonConfig) apply(c *Config) {
	c.ServerEndpointAddr = jc.ServerEndpointAddr
	c.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	c.RemoteTimeout = jc.RemoteTimeout.Duration
	c.AccessToken = jc.AccessToken
	c.PreferredBackend = jc.PreferredBackend
	c.FallbackEnabled = jc.FallbackEnabled
	c.DatabasePath = jc.DatabasePath
	c.LocalQuotaBytes = jc.LocalQuotaBytes
	c.CachePath = jc.CachePath
	c.CacheTTL = jc.CacheTTL.Duration
	c.CacheBudgetBytes = jc.CacheBudgetBytes
	c.SyncInterval = jc.SyncInterval.Duration
	c.SyncBatchSize = jc.SyncBatchSize
	c.SyncBatchPause = jc.SyncBatchPause.Duration
	c.MaxRetries = jc.MaxRetries
	c.RetryBaseDelay = jc.RetryBaseDelay.Duration
	c.RetryMaxDelay = jc.RetryMaxDelay.Duration
	c.LogFormat = jc.LogFormat
	c.MetricsAddr = jc.MetricsAddr
	c.S3Bucket = jc.S3Bucket
	c.S3Region = jc.S3Region
	c.S3BaseEndpoint = jc.S3BaseEndpoint
	c.S3AccessKey = jc.S3AccessKey
	c.S3SecretKey = jc.S3SecretKey
	c.BackupPassphrase = jc.BackupPassphrase
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Keys missing from the file keep their current values.
// Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	jc := toJson(cfg)
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}
	jc.apply(cfg)
}
