package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "address and interval", args: []string{"cmd", "-a", "127.0.0.1:9090", "-i", "10"},
			expected: &Config{ServerEndpointAddr: "127.0.0.1:9090", OnlineCheckInterval: 10 * time.Second}},
		{name: "storage and logging", args: []string{"cmd", "-b", "local", "-d", "/tmp/c.db", "-l", "json", "-m", ":9100", "-t", "tok"},
			expected: &Config{PreferredBackend: "local", DatabasePath: "/tmp/c.db", LogFormat: "json", MetricsAddr: ":9100", AccessToken: "tok"}},
		{name: "fallback bool flag", args: []string{"cmd", "-f", "-b", "local"},
			expected: &Config{FallbackEnabled: true, PreferredBackend: "local"}},
		{name: "fallback disabled", args: []string{"cmd", "-f=false"},
			expected: &Config{}},
		{name: "unknown flags ignored", args: []string{"cmd", "-x", "1", "-c", "cfg.json"},
			expected: &Config{}},
		{name: "incorrect check interval", args: []string{"cmd", "-a", "127.0.0.1:9090", "-i", "abc"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			config := &Config{}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config) })
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}
