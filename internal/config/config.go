package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "DRIVERHELPER"
	defaultDatabasePath        = "driverhelper.db"
	defaultSyncEndpoint        = "http://127.0.0.1:8080/api/sync"
	defaultSyncInterval        = 20 * time.Second
	defaultSyncTimeout         = 30 * time.Second
	defaultConnectivityPeriod  = 5 * time.Second
	defaultLogLevel            = "info"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultRelayDatabasePath   = "driverhelper-relay.db"
	defaultDeviceTokenLifetime = 720 * time.Hour
)

// AppConfig captures runtime configuration for the device client and the relay.
type AppConfig struct {
	DatabasePath         string
	SyncEndpoint         string
	SyncAPIKey           string
	SyncInterval         time.Duration
	SyncTimeout          time.Duration
	StrictAcknowledgment bool
	ProbeURL             string
	ProbeInterval        time.Duration
	LogLevel             string
	LogFile              string
	HTTPAddress          string
	RelayDatabasePath    string
	UpstreamURL          string
	UpstreamAPIKey       string
	SigningSecret        string
	TokenTTL             time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("sync.endpoint", defaultSyncEndpoint)
	configViper.SetDefault("sync.api_key", "")
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.timeout", defaultSyncTimeout)
	configViper.SetDefault("sync.strict_ack", false)
	configViper.SetDefault("connectivity.probe_url", "")
	configViper.SetDefault("connectivity.interval", defaultConnectivityPeriod)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("relay.database_path", defaultRelayDatabasePath)
	configViper.SetDefault("relay.upstream_url", "")
	configViper.SetDefault("relay.upstream_api_key", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.token_ttl", defaultDeviceTokenLifetime)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabasePath:         configViper.GetString("database.path"),
		SyncEndpoint:         strings.TrimSpace(configViper.GetString("sync.endpoint")),
		SyncAPIKey:           configViper.GetString("sync.api_key"),
		SyncInterval:         configViper.GetDuration("sync.interval"),
		SyncTimeout:          configViper.GetDuration("sync.timeout"),
		StrictAcknowledgment: configViper.GetBool("sync.strict_ack"),
		ProbeURL:             strings.TrimSpace(configViper.GetString("connectivity.probe_url")),
		ProbeInterval:        configViper.GetDuration("connectivity.interval"),
		LogLevel:             configViper.GetString("log.level"),
		LogFile:              configViper.GetString("log.file"),
		HTTPAddress:          configViper.GetString("http.address"),
		RelayDatabasePath:    configViper.GetString("relay.database_path"),
		UpstreamURL:          strings.TrimSpace(configViper.GetString("relay.upstream_url")),
		UpstreamAPIKey:       configViper.GetString("relay.upstream_api_key"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		TokenTTL:             configViper.GetDuration("auth.token_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	if cfg.ProbeURL == "" {
		cfg.ProbeURL = deriveProbeURL(cfg.SyncEndpoint)
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RelayDatabasePath) == "" {
		return fmt.Errorf("relay.database_path is required")
	}
	if err := validateHTTPURL("sync.endpoint", c.SyncEndpoint); err != nil {
		return err
	}
	if c.UpstreamURL != "" {
		if err := validateHTTPURL("relay.upstream_url", c.UpstreamURL); err != nil {
			return err
		}
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("connectivity.interval must be positive")
	}
	if c.SyncTimeout < 0 {
		return fmt.Errorf("sync.timeout must not be negative")
	}
	return nil
}

func validateHTTPURL(key, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", key)
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}

// deriveProbeURL points the connectivity probe at the relay health route next to the sync endpoint.
func deriveProbeURL(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return (&url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/healthz"}).String()
}
