package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the default config file name, checked in the current
// directory when -c/--config is not given.
const ConfigFileName = ".resolverctl.json"

// fileConfig is the JSONC-tolerant on-disk shape; CLI flags always win over
// the value here when both are set.
type fileConfig struct {
	DataDir       string `json:"data_dir,omitempty"`
	Scope         string `json:"scope,omitempty"`
	RefreshMillis int    `json:"refresh_millis,omitempty"`
}

var (
	errConfigEmptyDataDir = errors.New("resolverctl: config data_dir must not be empty")
	errConfigEmptyScope   = errors.New("resolverctl: scope must be set via --scope or config scope")
)

// loadConfig resolves the effective configuration by merging an optional
// on-disk JSONC config file with CLI overrides, CLI values taking
// precedence. A missing default config file is not an error; an explicitly
// named one that does not exist is.
func loadConfig(workDir string, flags globalFlags) (fileConfig, error) {
	path := flags.configPath
	mustExist := path != ""

	if path == "" {
		path = filepath.Join(workDir, ConfigFileName)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	cfg, loaded, err := readConfigFile(path, mustExist)
	if err != nil {
		return fileConfig{}, err
	}

	if !loaded {
		cfg = fileConfig{}
	}

	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}

	if flags.scope != "" {
		cfg.Scope = flags.scope
	}

	if cfg.DataDir == "" {
		return fileConfig{}, errConfigEmptyDataDir
	}

	if cfg.Scope == "" {
		return fileConfig{}, errConfigEmptyScope
	}

	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(workDir, cfg.DataDir)
	}

	return cfg, nil
}

func readConfigFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return fileConfig{}, false, nil
		}

		return fileConfig{}, false, fmt.Errorf("resolverctl: read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("resolverctl: invalid JSONC in %s: %w", path, err)
	}

	var cfg fileConfig

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return fileConfig{}, false, fmt.Errorf("resolverctl: invalid JSON in %s: %w", path, err)
	}

	return cfg, true, nil
}
