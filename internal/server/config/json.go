package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/coachkeeper/internal/flagx"
	"github.com/dmitrijs2005/coachkeeper/internal/timex"
)

// JsonConfig is the JSON shape of Config. Durations use timex.Duration so
// they may be written as "720h" or as integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC      string         `json:"endpoint_addr_grpc"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	LogFormat             string         `json:"log_format"`
}

// parseJson overlays Config with the JSON file named by -c or -config.
// Keys missing from the file keep their current values. Panics on read or
// unmarshal errors.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{
		EndpointAddrGRPC:      config.EndpointAddrGRPC,
		DatabaseDSN:           config.DatabaseDSN,
		SecretKey:             config.SecretKey,
		TokenValidityDuration: timex.Duration{Duration: config.TokenValidityDuration},
		LogFormat:             config.LogFormat,
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrGRPC = c.EndpointAddrGRPC
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.TokenValidityDuration = c.TokenValidityDuration.Duration
	config.LogFormat = c.LogFormat
}
