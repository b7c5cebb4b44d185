// Package config loads the tool configuration from a yaml or toml file,
// picked by extension.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/naviserver-project/nsdbilite/pkg/lite"
)

// Config is the file-level configuration for the cli tools.
type Config struct {
	Datasource  string `yaml:"datasource" toml:"datasource"`     // database file or :memory:
	BusyRetries int    `yaml:"busy_retries" toml:"busy_retries"` // step attempts under contention
	StoreKey    string `yaml:"store_key" toml:"store_key"`       // encryption key for the kv store
}

// Load reads and parses the config file. Missing keys keep the driver
// defaults; an explicit busy_retries of 0 is honored.
func Load(fname string) (*Config, error) {
	data, err := os.ReadFile(fname) // nolint gosec // config file location is the user's choice
	if err != nil {
		return nil, fmt.Errorf("can't read config %s: %w", fname, err)
	}

	res := &Config{
		Datasource:  lite.DefaultDatasource,
		BusyRetries: lite.DefaultBusyRetries,
	}

	switch strings.ToLower(filepath.Ext(fname)) {
	case ".toml":
		if err := toml.Unmarshal(data, res); err != nil {
			return nil, fmt.Errorf("can't parse toml config %s: %w", fname, err)
		}
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, res); err != nil {
			return nil, fmt.Errorf("can't parse yaml config %s: %w", fname, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(fname))
	}

	if res.BusyRetries < 0 {
		return nil, fmt.Errorf("busy_retries can't be negative, got %d", res.BusyRetries)
	}

	log.Printf("[DEBUG] loaded config from %s: datasource=%q, busy_retries=%d",
		fname, res.Datasource, res.BusyRetries)
	return res, nil
}

// Driver makes the driver configuration from the file values. An explicit
// busy_retries of 0 in the file maps to the driver's no-retry form, as the
// driver reserves 0 for "use the default".
func (c *Config) Driver() lite.Config {
	cfg := lite.Config{Datasource: c.Datasource, BusyRetries: c.BusyRetries}
	if c.BusyRetries == 0 {
		cfg.BusyRetries = -1
	}
	return cfg
}
