package app

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/flowbot/core/config"
	coredatabase "github.com/m3rciful/flowbot/core/database"
)

// Config is the full configuration file: the core sections at the top level
// plus the database section.
type Config struct {
	Core     *coreconfig.Config  `yaml:"-"`
	Database coredatabase.Config `yaml:"database"`
}

// CoreConfig exposes the core sections.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return c.Core
}

// LoadConfig reads path once for the core sections and once for the
// database section; environment variables override both.
func LoadConfig(path string) (*Config, error) {
	core, err := coreconfig.Load(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{Core: core}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to process database env: %w", err)
	}
	if core.Dialog.Storage == coreconfig.StoragePostgres && (cfg.Database.Host == "" || cfg.Database.Name == "") {
		return nil, fmt.Errorf("database host and name are required for %s storage", coreconfig.StoragePostgres)
	}
	return cfg, nil
}
