// Package config loads server configuration from flags, a YAML file, and
// LAIR_CHAT_* environment variables via viper, mirroring §6's startup
// surface.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/berrym/lair-chat/internal/lcerr"
)

// Config is the fully-resolved server configuration for one process.
type Config struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	HTTPPort          int           `mapstructure:"http_port"`
	TLSCert           string        `mapstructure:"tls_cert"`
	TLSKey            string        `mapstructure:"tls_key"`
	MaxConnections    int           `mapstructure:"max_connections"`
	DisableEncryption bool          `mapstructure:"disable_encryption"`
	TokenSecret       string        `mapstructure:"token_secret"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	Dev               bool          `mapstructure:"dev"`
}

// Defaults are applied before flags, file, and env are layered on top.
func Defaults() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              7000,
		HTTPPort:          8080,
		MaxConnections:    10000,
		DisableEncryption: false,
		SessionTTL:        24 * time.Hour,
	}
}

// Load builds a viper instance from defaults, an optional YAML file at
// configPath, and LAIR_CHAT_-prefixed environment variables, in that
// increasing order of precedence; flags are expected to already have been
// bound onto v by the caller (the cobra command) before Load runs.
func Load(v *viper.Viper, configPath string) (Config, error) {
	d := Defaults()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("http_port", d.HTTPPort)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("disable_encryption", d.DisableEncryption)
	v.SetDefault("session_ttl", d.SessionTTL)
	v.SetDefault("dev", d.Dev)

	v.SetEnvPrefix("LAIR_CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, lcerr.Wrap(lcerr.InvalidState, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, lcerr.Wrap(lcerr.InvalidState, "failed to parse configuration", err)
	}
	return cfg, nil
}

// Validate rejects contradictory configuration combinations (§6): TLS
// requires both a cert and a key, and the TCP and HTTP listeners cannot
// share a port.
func (c Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return lcerr.ValidationFailedErr("tls_cert and tls_key must both be set or both be empty")
	}
	if c.Port == c.HTTPPort {
		return lcerr.ValidationFailedErr("port and http_port must differ")
	}
	if c.MaxConnections <= 0 {
		return lcerr.ValidationFailedErr("max_connections must be positive")
	}
	if c.TokenSecret == "" {
		return lcerr.ValidationFailedErr("token_secret must be set")
	}
	return nil
}

func (c Config) TLSEnabled() bool { return c.TLSCert != "" && c.TLSKey != "" }
