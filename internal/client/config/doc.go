// Package config loads runtime configuration for the coachkeeper client.
//
// Sources, later ones winning:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags.
//
// The JSON keys are snake_case versions of the Config fields; intervals may
// be written as "3s" or as integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "preferred_backend": "local",
//	  "sync_interval": "1m",
//	  "retry_base_delay": "2s",
//	  "s3_bucket": "coachkeeper-backups",
//	  "backup_passphrase": "correct horse"
//	}
//
// A non-empty backup_passphrase seals uploaded snapshots. The -f flag
// toggles fallback to the other backend when the preferred one fails.
//
// Environment variables are not read; the AWS SDK still picks up its own
// credentials chain when no S3 keys are configured.
package config
