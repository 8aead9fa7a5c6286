package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file. Fields missing from the file
// keep the values from Default.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable overrides
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	if dbPath := os.Getenv("BREAKGLASS_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if passphrase := os.Getenv("BREAKGLASS_SIGNING_PASSPHRASE"); passphrase != "" {
		cfg.Signing.Passphrase = passphrase
	}

	if adminToken := os.Getenv("BREAKGLASS_ADMIN_TOKEN"); adminToken != "" {
		cfg.Admin.Token = adminToken
	}

	if listenAddr := os.Getenv("BREAKGLASS_LISTEN_ADDR"); listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	if redisAddr := os.Getenv("BREAKGLASS_REDIS_ADDR"); redisAddr != "" {
		cfg.Nonce.RedisAddr = redisAddr
	}

	// Validate after env overrides, since secrets usually come from the environment
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}
