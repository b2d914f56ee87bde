package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models switchboard.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		SignupsEnabled bool `yaml:"signups_enabled"`
		BcryptCost     int  `yaml:"bcrypt_cost"`
		TokenTTLHours  int  `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
	Resources struct {
		// DefaultInService decides whether a newly created resource starts
		// in service. It must be stated in the config file; there is no
		// implicit fallback.
		DefaultInService *bool `yaml:"default_in_service"`
	} `yaml:"resources"`
	Stream struct {
		Backlog int `yaml:"backlog"`
	} `yaml:"stream"`
}

const fileName = "switchboard.yml"

// Path returns the config path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads and validates config from the workspace. A missing file yields
// the defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present. New
// resources start in service.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	inService := true
	cfg.Resources.DefaultInService = &inService
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = 12
	}
	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = 7 * 24
	}
	if c.Stream.Backlog == 0 {
		c.Stream.Backlog = 64
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Resources.DefaultInService == nil {
		return fmt.Errorf("config.resources.default_in_service must be set (true or false)")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("config.auth.bcrypt_cost %d out of range", c.Auth.BcryptCost)
	}
	if c.Auth.TokenTTLHours <= 0 {
		return fmt.Errorf("config.auth.token_ttl_hours must be positive")
	}
	if c.Stream.Backlog <= 0 {
		return fmt.Errorf("config.stream.backlog must be positive")
	}
	return nil
}

// NewResourceInService reports the deployment policy for resource creation.
func (c *Config) NewResourceInService() bool {
	if c.Resources.DefaultInService == nil {
		return false
	}
	return *c.Resources.DefaultInService
}
