package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   address and port of the record service
//	-i int      online check interval in seconds
//	-b string   preferred backend: local or remote
//	-d string   local database path
//	-t string   access token
//	-l string   log format: text, json or zerolog
//	-m string   address for the /metrics endpoint, empty to disable
//	-f bool     fall back to the other backend on failure (-f=false disables)
//
// Only these flags are picked out of os.Args (flagx.FilterArgs), so -c and
// unrelated arguments do not interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-i", "-b", "-d", "-t", "-l", "-m"}, "-f")

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.PreferredBackend, "b", cfg.PreferredBackend, "preferred backend (local|remote)")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database path")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token")
	fs.StringVar(&cfg.LogFormat, "l", cfg.LogFormat, "log format (text|json|zerolog)")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.BoolVar(&cfg.FallbackEnabled, "f", cfg.FallbackEnabled, "fall back to the other backend on failure")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
