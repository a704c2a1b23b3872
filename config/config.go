package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for a ledger node
type Config struct {
	// Server Configuration
	HTTPPort string

	// Database Configuration
	DatabaseHost string
	DatabasePort string
	DatabaseUser string
	DatabasePass string
	DatabaseName string

	// Genesis Identities
	RegistryOwner  string
	StoreAuthority string
	GameServer     string
	TradeOperator  string

	// Store Configuration
	PackPrice uint64
}

// LoadConfig loads configuration from an optional config.toml in configDir,
// with environment variables (LEDGER_ prefix) overriding file values and
// built-in defaults filling the rest.
func LoadConfig(configDir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", "5000")

	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_pass", "postgrespassword")
	v.SetDefault("db_name", "ledger_audit")

	v.SetDefault("registry_owner", "registry-owner")
	v.SetDefault("store_authority", "store-authority")
	v.SetDefault("game_server", "game-server")
	v.SetDefault("trade_operator", "trade-operator")

	v.SetDefault("pack_price", uint64(100))

	v.SetEnvPrefix("LEDGER")
	v.AutomaticEnv()

	if configDir != "" {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine, a malformed one is not.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return &Config{
		HTTPPort: v.GetString("http_port"),

		DatabaseHost: v.GetString("db_host"),
		DatabasePort: v.GetString("db_port"),
		DatabaseUser: v.GetString("db_user"),
		DatabasePass: v.GetString("db_pass"),
		DatabaseName: v.GetString("db_name"),

		RegistryOwner:  v.GetString("registry_owner"),
		StoreAuthority: v.GetString("store_authority"),
		GameServer:     v.GetString("game_server"),
		TradeOperator:  v.GetString("trade_operator"),

		PackPrice: v.GetUint64("pack_price"),
	}, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePass,
		c.DatabaseName,
	)
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("http_port is required")
	}
	if c.RegistryOwner == "" {
		return fmt.Errorf("registry_owner is required")
	}
	if c.StoreAuthority == "" {
		return fmt.Errorf("store_authority is required")
	}
	if c.GameServer == "" {
		return fmt.Errorf("game_server is required")
	}
	if c.TradeOperator == "" {
		return fmt.Errorf("trade_operator is required")
	}
	return nil
}
