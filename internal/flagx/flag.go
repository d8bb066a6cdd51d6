// Package flagx picks a binary's own flags out of os.Args so the config
// file flag and the regular flags can be parsed by separate flag sets.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// canonical strips the leading dashes, so -c and --c name the same flag
// the way the flag package treats them.
func canonical(name string) string {
	return strings.TrimLeft(name, "-")
}

// FilterArgs returns the arguments of args that belong to allowedFlags,
// in their original order, together with their values.
//
// Accepted forms are "-f value", "-f=value" and the same with two dashes.
// Flags named in boolFlags never consume the next argument; they may still
// be written as "-f=false". A bare "--" ends flag parsing.
//
// The result is never nil.
func FilterArgs(args []string, allowedFlags []string, boolFlags ...string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[canonical(f)] = false
	}
	for _, f := range boolFlags {
		allowed[canonical(f)] = true
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, _, hasValue := strings.Cut(arg, "=")
		isBool, ok := allowed[canonical(name)]
		if !ok {
			continue
		}
		filtered = append(filtered, arg)
		if hasValue || isBool {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}
	return filtered
}

// JsonConfigFlags returns the config file path given with -c or -config,
// or "" when neither is present. Other arguments are ignored.
func JsonConfigFlags() string {
	return jsonConfigPath(os.Args[1:])
}

func jsonConfigPath(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "path to config file")
	fs.StringVar(&config, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return config
}
