package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/db3-network/db3-go/internal/logging"
	"github.com/spf13/viper"
)

const (
	envPrefix                    = "DB3"
	defaultNodeURL               = "http://127.0.0.1:26619"
	defaultRequestTimeoutSeconds = 30
	defaultLogLevel              = "info"
	defaultJournalPath           = "db3-journal.db"
	defaultDevnodeAddress        = "127.0.0.1:26619"
	defaultDevnodeDatabasePath   = "db3-devnode.db"
	defaultHeartbeatSeconds      = 15
)

// AppConfig captures runtime configuration for db3ctl.
type AppConfig struct {
	NodeURL              string
	PrivateKey           string
	RequestTimeout       time.Duration
	LogLevel             string
	JournalPath          string
	DevnodeAddress       string
	DevnodeDatabasePath  string
	DevnodeAllowUnsigned bool
	DevnodeHeartbeat     time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. DB3_NODE_URL overrides node.url and so on.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("node.url", defaultNodeURL)
	configViper.SetDefault("request.timeout_seconds", defaultRequestTimeoutSeconds)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("journal.path", defaultJournalPath)
	configViper.SetDefault("devnode.address", defaultDevnodeAddress)
	configViper.SetDefault("devnode.database_path", defaultDevnodeDatabasePath)
	configViper.SetDefault("devnode.allow_unsigned", false)
	configViper.SetDefault("devnode.heartbeat_seconds", defaultHeartbeatSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		NodeURL:              strings.TrimSpace(configViper.GetString("node.url")),
		PrivateKey:           strings.TrimSpace(configViper.GetString("account.private_key")),
		RequestTimeout:       time.Duration(configViper.GetInt("request.timeout_seconds")) * time.Second,
		LogLevel:             configViper.GetString("log.level"),
		JournalPath:          strings.TrimSpace(configViper.GetString("journal.path")),
		DevnodeAddress:       strings.TrimSpace(configViper.GetString("devnode.address")),
		DevnodeDatabasePath:  strings.TrimSpace(configViper.GetString("devnode.database_path")),
		DevnodeAllowUnsigned: configViper.GetBool("devnode.allow_unsigned"),
		DevnodeHeartbeat:     time.Duration(configViper.GetInt("devnode.heartbeat_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.NodeURL == "" {
		return fmt.Errorf("node.url is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request.timeout_seconds must be positive")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.DevnodeHeartbeat <= 0 {
		return fmt.Errorf("devnode.heartbeat_seconds must be positive")
	}
	return nil
}

// RequireAccount reports whether a signing key is configured.
func (c AppConfig) RequireAccount() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("account.private_key is required (set DB3_ACCOUNT_PRIVATE_KEY or --private-key)")
	}
	return nil
}

// JournalEnabled reports whether submissions should be journaled.
func (c AppConfig) JournalEnabled() bool {
	return c.JournalPath != ""
}
