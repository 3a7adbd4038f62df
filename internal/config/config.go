package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabasesConfig `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Claims    ClaimsConfig    `mapstructure:"claims"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Identity  IdentityConfig  `mapstructure:"identity_proofing"`
	Advisory  AdvisoryConfig  `mapstructure:"advisory"`
	Sweeps    SweepsConfig    `mapstructure:"sweeps"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Hostname     string        `mapstructure:"hostname"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabasesConfig holds all database configurations
type DatabasesConfig struct {
	Vault DatabaseConfig `mapstructure:"vault"`
}

// DatabaseConfig holds individual database configuration
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"`
	Hostname        string        `mapstructure:"hostname"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// GetDSN builds the MySQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=false",
		c.User, c.Password, c.Hostname, c.Port, c.Database)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClaimsConfig holds settlement policy configuration. Threshold and windows
// are operator-tunable; they are business policy, not engine logic.
type ClaimsConfig struct {
	// AutoApprovalThreshold is in minor currency units. Claims at or above
	// the threshold always go to manual review.
	AutoApprovalThreshold int64         `mapstructure:"auto_approval_threshold"`
	DuplicateCooldown     time.Duration `mapstructure:"duplicate_cooldown"`
	AppealWindow          time.Duration `mapstructure:"appeal_window"`
}

// BridgeConfig holds cross-ledger attestation configuration
type BridgeConfig struct {
	Issuer         string        `mapstructure:"issuer"`
	SigningKey     string        `mapstructure:"signing_key"`
	AttestationTTL time.Duration `mapstructure:"attestation_ttl"`
	VerifyTimeout  time.Duration `mapstructure:"verify_timeout"`
}

// IdentityConfig holds the identity-proofing collaborator configuration
type IdentityConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AdvisoryConfig holds the NLP code-suggestion collaborator configuration
type AdvisoryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SweepsConfig holds intervals for the internal maintenance jobs
type SweepsConfig struct {
	EmergencyExpiryInterval time.Duration `mapstructure:"emergency_expiry_interval"`
	AppealCloseInterval     time.Duration `mapstructure:"appeal_close_interval"`
}

var globalConfig *Config

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("deployment")
		v.SetConfigType("yaml")
		v.AddConfigPath("./repository/conf")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("HEALTH_VAULT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	globalConfig = &config
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.hostname", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("claims.auto_approval_threshold", int64(100000))
	v.SetDefault("claims.duplicate_cooldown", 72*time.Hour)
	v.SetDefault("claims.appeal_window", 30*24*time.Hour)
	v.SetDefault("bridge.issuer", "consent-ledger")
	v.SetDefault("bridge.attestation_ttl", 5*time.Minute)
	v.SetDefault("bridge.verify_timeout", 3*time.Second)
	v.SetDefault("identity_proofing.timeout", 5*time.Second)
	v.SetDefault("advisory.timeout", 10*time.Second)
	v.SetDefault("sweeps.emergency_expiry_interval", time.Minute)
	v.SetDefault("sweeps.appeal_close_interval", 10*time.Minute)
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Vault.Hostname == "" {
		return fmt.Errorf("database hostname is required")
	}

	if config.Database.Vault.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if config.Claims.AutoApprovalThreshold <= 0 {
		return fmt.Errorf("claims auto approval threshold must be positive")
	}

	if config.Claims.AppealWindow <= 0 {
		return fmt.Errorf("claims appeal window must be positive")
	}

	if config.Bridge.SigningKey == "" {
		return fmt.Errorf("bridge signing key is required")
	}

	if config.Bridge.AttestationTTL <= 0 {
		return fmt.Errorf("bridge attestation TTL must be positive")
	}

	if config.Advisory.Enabled && config.Advisory.BaseURL == "" {
		return fmt.Errorf("advisory base URL is required when advisory is enabled")
	}

	return nil
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}
