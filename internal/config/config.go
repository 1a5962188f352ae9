// Package config loads the agent configuration from an HCL file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the configuration for the slashauth agent
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	ListenAddress string `hcl:"listen_address,optional"`
	AgentToken    string `hcl:"agent_token,optional"`

	Client  ClientBlock   `hcl:"client,block"`
	Storage *StorageBlock `hcl:"storage,block"`
	Events  *EventsBlock  `hcl:"events,block"`
	Wallet  *WalletBlock  `hcl:"wallet,block"`
}

// ClientBlock describes the client application and its auth domain
type ClientBlock struct {
	ClientID    string `hcl:"client_id"`
	AuthDomain  string `hcl:"auth_domain"`
	Issuer      string `hcl:"issuer,optional"`
	Audience    string `hcl:"audience,optional"`
	Scope       string `hcl:"scope,optional"`
	RedirectURI string `hcl:"redirect_uri,optional"`
	HostOrigin  string `hcl:"host_origin,optional"`

	// Durations use time.ParseDuration syntax
	Leeway           string `hcl:"leeway,optional"`
	MaxAge           string `hcl:"max_age,optional"`
	HandshakeTimeout string `hcl:"handshake_timeout,optional"`
	SessionDays      int    `hcl:"session_days,optional"`
}

// StorageBlock selects the token storage backend
type StorageBlock struct {
	Type string `hcl:"type,label"` // "memory", "redis" or "postgres"

	RedisURL      string `hcl:"redis_url,optional"`
	ConnectionURL string `hcl:"connection_url,optional"`
	Table         string `hcl:"table,optional"`
}

// EventsBlock selects how session and wallet events are shared
type EventsBlock struct {
	Type string `hcl:"type,label"` // "memory" or "redis"

	RedisURL      string `hcl:"redis_url,optional"`
	ConsumerGroup string `hcl:"consumer_group,optional"`
}

// WalletBlock configures the local key wallet
type WalletBlock struct {
	// PrivateKeyEnv names the environment variable holding the hex key
	PrivateKeyEnv string `hcl:"private_key_env,optional"`
}

// Durations are the parsed duration settings of the client block
type Durations struct {
	Leeway           time.Duration
	MaxAge           time.Duration
	HandshakeTimeout time.Duration
}

func LoadConfig(configFile string) (*Config, error) {
	var config Config

	if err := hclsimple.DecodeFile(configFile, nil, &config); err != nil {
		return nil, err
	}

	config.applyEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv lets the environment override secrets and connection strings
func (c *Config) applyEnv() {
	if v := os.Getenv("SLASHAUTH_CLIENT_ID"); v != "" {
		c.Client.ClientID = v
	}
	if v := os.Getenv("SLASHAUTH_AGENT_TOKEN"); v != "" {
		c.AgentToken = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		if c.Storage != nil && c.Storage.Type == "redis" {
			c.Storage.RedisURL = v
		}
		if c.Events != nil && c.Events.Type == "redis" {
			c.Events.RedisURL = v
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && c.Storage != nil && c.Storage.Type == "postgres" {
		c.Storage.ConnectionURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.ListenAddress == "" {
		c.ListenAddress = "127.0.0.1:9000"
	}
	if c.Storage == nil {
		c.Storage = &StorageBlock{Type: "memory"}
	}
	if c.Storage.Type == "redis" && c.Storage.RedisURL == "" {
		c.Storage.RedisURL = "redis://localhost:6379/0"
	}
	if c.Events == nil {
		c.Events = &EventsBlock{Type: "memory"}
	}
	if c.Events.Type == "redis" {
		if c.Events.RedisURL == "" {
			c.Events.RedisURL = "redis://localhost:6379/0"
		}
		if c.Events.ConsumerGroup == "" {
			c.Events.ConsumerGroup = "slashauth-agent"
		}
	}
	if c.Wallet == nil {
		c.Wallet = &WalletBlock{}
	}
	if c.Wallet.PrivateKeyEnv == "" {
		c.Wallet.PrivateKeyEnv = "SLASHAUTH_WALLET_KEY"
	}
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.Client.ClientID == "" {
		return errors.New("client.client_id is required")
	}
	if c.Client.AuthDomain == "" {
		return errors.New("client.auth_domain is required")
	}

	switch c.Storage.Type {
	case "memory", "redis":
	case "postgres":
		if c.Storage.ConnectionURL == "" {
			return errors.New("storage \"postgres\" requires connection_url")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	switch c.Events.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown events type %q", c.Events.Type)
	}

	if _, err := c.Client.Durations(); err != nil {
		return err
	}
	return nil
}

// Durations parses the duration settings; unset values are zero
func (b ClientBlock) Durations() (Durations, error) {
	var d Durations
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"leeway", b.Leeway, &d.Leeway},
		{"max_age", b.MaxAge, &d.MaxAge},
		{"handshake_timeout", b.HandshakeTimeout, &d.HandshakeTimeout},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return Durations{}, fmt.Errorf("client.%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return d, nil
}
