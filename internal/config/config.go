// Package config loads the daemon's TOML configuration file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the daemon's persistent configuration, loaded from
// DLESS_CONFIG (or ./dockless.toml) with defaults filled from
// DLESS_DATA_PATH / DLESS_PORT when the file is absent.
type Config struct {
	ListenPort int    `toml:"listen_port"`
	DataDir    string `toml:"data_dir"`
	NodeID     string `toml:"node_id"`
}

const (
	defaultConfigPath = "dockless.toml"
	defaultDataDir    = "./dle_data"
	defaultNodeIDPath = "./node_id"
	defaultPort       = 8000
)

// Load reads the TOML config file at the path named by DLESS_CONFIG (or
// ./dockless.toml if unset). A missing file is not an error: defaults are
// filled from DLESS_DATA_PATH / DLESS_PORT and a sensible node_id path.
func Load() (*Config, error) {
	path := os.Getenv("DLESS_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{
		NodeID:     defaultNodeIDPath,
		DataDir:    defaultDataDir,
		ListenPort: defaultPort,
	}

	if dir := os.Getenv("DLESS_DATA_PATH"); dir != "" {
		cfg.DataDir = dir
	}

	if p := os.Getenv("DLESS_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			cfg.ListenPort = parsed
		}
	}

	return cfg
}
