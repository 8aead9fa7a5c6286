package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Signing   SigningConfig   `yaml:"signing"`
	Token     TokenConfig     `yaml:"token"`
	Requests  RequestsConfig  `yaml:"requests"`
	Approvers ApproversConfig `yaml:"approvers"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Nonce     NonceConfig     `yaml:"nonce"`
	Vault     VaultConfig     `yaml:"vault"`
	Notify    NotifyConfig    `yaml:"notify"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SigningConfig contains the token signing key configuration
type SigningConfig struct {
	PrivateKeyPath   string `yaml:"private_key_path"`
	PublicKeyPath    string `yaml:"public_key_path"`
	Passphrase       string `yaml:"passphrase"`
	ScryptWorkFactor int    `yaml:"scrypt_work_factor"`
}

// TokenConfig contains single-use token configuration
type TokenConfig struct {
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
	DefaultTTL string `yaml:"default_ttl"`
	MinTTL     string `yaml:"min_ttl"`
	MaxTTL     string `yaml:"max_ttl"`
}

// RequestsConfig contains credential request lifetimes
type RequestsConfig struct {
	EmergencyExpiry string `yaml:"emergency_expiry"`
	StandardExpiry  string `yaml:"standard_expiry"`
	SweepInterval   string `yaml:"sweep_interval"`
}

// ApproversConfig locates approver public keys
type ApproversConfig struct {
	KeysDir string `yaml:"keys_dir"`
}

// LedgerConfig contains audit ledger storage configuration
type LedgerConfig struct {
	Backend string `yaml:"backend"` // sqlite or file
	Path    string `yaml:"path"`    // JSONL file for the file backend
}

// NonceConfig contains nonce store configuration
type NonceConfig struct {
	Backend     string `yaml:"backend"` // sqlite, memory or redis
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// VaultConfig locates the encrypted secret blobs
type VaultConfig struct {
	RootDir string `yaml:"root_dir"`
}

// NotifyConfig maps vaults to the owners notified of emergency requests
type NotifyConfig struct {
	DefaultOwner string            `yaml:"default_owner"`
	Owners       map[string]string `yaml:"owners"`
}

// AdminConfig contains admin configuration
type AdminConfig struct {
	Token string `yaml:"token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every optional field filled in
func Default() *Config {
	return &Config{
		Server:   ServerConfig{ListenAddr: ":8443"},
		Database: DatabaseConfig{Path: "/var/lib/breakglass/breakglass.db"},
		Signing: SigningConfig{
			PrivateKeyPath: "/var/lib/breakglass/signing.key",
			PublicKeyPath:  "/var/lib/breakglass/signing.pub",
		},
		Token: TokenConfig{
			DefaultTTL: "5m",
			MinTTL:     "60s",
			MaxTTL:     "1h",
		},
		Requests: RequestsConfig{
			EmergencyExpiry: "5m",
			StandardExpiry:  "60m",
			SweepInterval:   "1m",
		},
		Approvers: ApproversConfig{KeysDir: "/etc/breakglass/approvers"},
		Ledger:    LedgerConfig{Backend: "sqlite"},
		Nonce:     NonceConfig{Backend: "sqlite"},
		Vault:     VaultConfig{RootDir: "/var/lib/breakglass/vault"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Signing key validation
	if c.Signing.PrivateKeyPath == "" {
		return fmt.Errorf("signing.private_key_path is required")
	}
	if c.Signing.PublicKeyPath == "" {
		return fmt.Errorf("signing.public_key_path is required")
	}
	if c.Signing.Passphrase == "" {
		return fmt.Errorf("signing.passphrase is required (set BREAKGLASS_SIGNING_PASSPHRASE)")
	}
	if c.Signing.ScryptWorkFactor < 0 || c.Signing.ScryptWorkFactor > 30 {
		return fmt.Errorf("signing.scrypt_work_factor must be between 0 and 30")
	}

	// Token validation
	minTTL, err := parseDuration(c.Token.MinTTL)
	if err != nil {
		return fmt.Errorf("token.min_ttl is invalid: %w", err)
	}
	maxTTL, err := parseDuration(c.Token.MaxTTL)
	if err != nil {
		return fmt.Errorf("token.max_ttl is invalid: %w", err)
	}
	defaultTTL, err := parseDuration(c.Token.DefaultTTL)
	if err != nil {
		return fmt.Errorf("token.default_ttl is invalid: %w", err)
	}
	if minTTL < time.Second || minTTL > maxTTL {
		return fmt.Errorf("token.min_ttl must be at least 1s and not exceed token.max_ttl")
	}
	if defaultTTL < minTTL || defaultTTL > maxTTL {
		return fmt.Errorf("token.default_ttl must be between token.min_ttl and token.max_ttl")
	}

	// Request lifetime validation
	for name, value := range map[string]string{
		"requests.emergency_expiry": c.Requests.EmergencyExpiry,
		"requests.standard_expiry":  c.Requests.StandardExpiry,
		"requests.sweep_interval":   c.Requests.SweepInterval,
	} {
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("%s is invalid: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	// Approvers validation
	if c.Approvers.KeysDir == "" {
		return fmt.Errorf("approvers.keys_dir is required")
	}

	// Ledger validation
	switch c.Ledger.Backend {
	case "sqlite":
	case "file":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the file backend")
		}
	default:
		return fmt.Errorf("ledger.backend must be 'sqlite' or 'file'")
	}

	// Nonce validation
	switch c.Nonce.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Nonce.RedisAddr == "" {
			return fmt.Errorf("nonce.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("nonce.backend must be 'sqlite', 'memory' or 'redis'")
	}

	// Vault validation
	if c.Vault.RootDir == "" {
		return fmt.Errorf("vault.root_dir is required")
	}

	// Admin validation
	if c.Admin.Token == "" {
		return fmt.Errorf("admin.token is required")
	}
	if c.Admin.Token == "change-me" {
		fmt.Fprintf(os.Stderr, "WARNING: Using default admin token. Please change it in production!\n")
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	// Metrics validation
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		return fmt.Errorf("metrics.path must start with '/'")
	}

	return nil
}

// GetDefaultTTL returns the default token lifetime
func (c *Config) GetDefaultTTL() time.Duration {
	d, _ := parseDuration(c.Token.DefaultTTL)
	return d
}

// GetMinTTL returns the minimum token lifetime
func (c *Config) GetMinTTL() time.Duration {
	d, _ := parseDuration(c.Token.MinTTL)
	return d
}

// GetMaxTTL returns the maximum token lifetime
func (c *Config) GetMaxTTL() time.Duration {
	d, _ := parseDuration(c.Token.MaxTTL)
	return d
}

// GetEmergencyExpiry returns how long an emergency request stays pending
func (c *Config) GetEmergencyExpiry() time.Duration {
	d, _ := parseDuration(c.Requests.EmergencyExpiry)
	return d
}

// GetStandardExpiry returns how long a standard request stays pending
func (c *Config) GetStandardExpiry() time.Duration {
	d, _ := parseDuration(c.Requests.StandardExpiry)
	return d
}

// GetSweepInterval returns the expiry sweep period
func (c *Config) GetSweepInterval() time.Duration {
	d, _ := parseDuration(c.Requests.SweepInterval)
	return d
}

// OwnerFor returns the owner to notify about requests against vaultID
func (c *Config) OwnerFor(vaultID string) string {
	if owner, ok := c.Notify.Owners[vaultID]; ok {
		return owner
	}
	return c.Notify.DefaultOwner
}

// parseDuration parses duration with support for days (e.g., "90d")
func parseDuration(s string) (time.Duration, error) {
	// Handle "d" suffix for days
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days := s[:len(s)-1]
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, err
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
