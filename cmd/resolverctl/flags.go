package main

import (
	"fmt"

	flag "github.com/spf13/pflag"
)

// globalFlags holds the subset of flags every subcommand accepts, parsed
// ahead of the subcommand name (interspersed parsing is disabled, matching
// the teacher's own global-flags-then-subcommand convention).
type globalFlags struct {
	dataDir    string
	configPath string
	scope      string
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	fs := flag.NewFlagSet("resolverctl", flag.ContinueOnError)
	fs.SetInterspersed(false)

	dataDir := fs.StringP("data", "d", "", "pebble data directory")
	configPath := fs.StringP("config", "c", "", "config file (JSONC)")
	scope := fs.String("scope", "", "scope name to operate on")

	if err := fs.Parse(args); err != nil {
		return globalFlags{}, nil, fmt.Errorf("parse flags: %w", err)
	}

	return globalFlags{dataDir: *dataDir, configPath: *configPath, scope: *scope}, fs.Args(), nil
}
