// Package config provides bridge configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/webshell-bridge/pkg/loader"
	"github.com/morezero/webshell-bridge/pkg/store"
)

const logPrefix = "config:LoadConfig"

// Envelope delivery modes (BRIDGE_SINK).
const (
	DeliveryComms  = "comms"
	DeliveryScript = "script"
)

// Config holds webshell-bridge configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"webshell-bridge"`
	// NATSClientURL is the NATS URL returned to shells via GET /connection.
	NATSClientURL string `envconfig:"NATS_CLIENT_URL"`

	// Bridge subjects
	InboundSubject     string `envconfig:"BRIDGE_INBOUND_SUBJECT" default:"webshell.bridge.native"`
	OutboundSubject    string `envconfig:"BRIDGE_OUTBOUND_SUBJECT" default:"webshell.bridge.content"`
	ChangeEventSubject string `envconfig:"BRIDGE_CHANGE_EVENT_SUBJECT" default:"webshell.endpoint.changed"`
	ProtocolConstraint string `envconfig:"BRIDGE_PROTOCOL_CONSTRAINT" default:"^1.0.0"`
	// Delivery is how envelopes reach content: "comms" publishes the JSON
	// envelope, "script" publishes the script a webview host evaluates.
	Delivery string `envconfig:"BRIDGE_SINK" default:"comms"`

	// Built-in endpoint defaults
	DefaultServerURL     string `envconfig:"DEFAULT_SERVER_URL" default:"https://apps.ilass.com/swiftHTMLWebviewApp/"`
	DefaultSecurityToken string `envconfig:"DEFAULT_SECURITY_TOKEN" default:"CHANGEmeASAP!"`

	// Endpoint settings storage
	StoreBackend  string `envconfig:"STORE_BACKEND" default:"memory"`
	StorePath     string `envconfig:"STORE_PATH" default:"data/settings"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// Content loading
	MaxLoadAttempts     int           `envconfig:"MAX_LOAD_ATTEMPTS" default:"5"`
	LoadTimeout         time.Duration `envconfig:"LOAD_TIMEOUT" default:"60s"`
	RetryDelay          time.Duration `envconfig:"RETRY_DELAY" default:"1s"`
	SwitchFallbackDelay time.Duration `envconfig:"SWITCH_FALLBACK_DELAY" default:"3s"`
	ReloadSettleDelay   time.Duration `envconfig:"RELOAD_SETTLE_DELAY" default:"100ms"`

	// Remote shell
	ProviderTimeout   time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"5s"`
	ProviderHeartbeat time.Duration `envconfig:"PROVIDER_HEARTBEAT" default:"10s"`
	InspectTimeout    time.Duration `envconfig:"VIEW_INSPECT_TIMEOUT" default:"2s"`

	// Encoding
	JPEGQuality int `envconfig:"JPEG_QUALITY" default:"80"`

	// HTTP health endpoint (BRIDGE_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"BRIDGE_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the bridge server.
func (c *Config) ValidateForServe() error {
	if err := c.ValidateForStore(); err != nil {
		return err
	}
	if !loader.ValidEndpoint(c.DefaultServerURL) {
		return fmt.Errorf("%s - DEFAULT_SERVER_URL %q is not a valid address", logPrefix, c.DefaultServerURL)
	}
	if c.MaxLoadAttempts <= 0 {
		return fmt.Errorf("%s - MAX_LOAD_ATTEMPTS must be positive", logPrefix)
	}
	durations := map[string]time.Duration{
		"LOAD_TIMEOUT":          c.LoadTimeout,
		"RETRY_DELAY":           c.RetryDelay,
		"SWITCH_FALLBACK_DELAY": c.SwitchFallbackDelay,
		"RELOAD_SETTLE_DELAY":   c.ReloadSettleDelay,
		"PROVIDER_TIMEOUT":      c.ProviderTimeout,
		"PROVIDER_HEARTBEAT":    c.ProviderHeartbeat,
		"VIEW_INSPECT_TIMEOUT":  c.InspectTimeout,
		"HEALTH_CHECK_TIMEOUT":  c.HealthCheckTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s - %s must be positive", logPrefix, name)
		}
	}
	switch c.DeliveryMode() {
	case DeliveryComms, DeliveryScript:
	default:
		return fmt.Errorf("%s - unknown BRIDGE_SINK %q (want comms or script)", logPrefix, c.Delivery)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("%s - JPEG_QUALITY must be between 1 and 100", logPrefix)
	}
	return nil
}

// ValidateForStore checks the settings storage config (serve and config commands).
func (c *Config) ValidateForStore() error {
	switch strings.ToLower(c.StoreBackend) {
	case store.BackendMemory:
	case store.BackendBadger:
		if c.StorePath == "" {
			return fmt.Errorf("%s - STORE_PATH is required for the badger backend", logPrefix)
		}
	case store.BackendPostgres:
		return c.ValidateForDB()
	default:
		return fmt.Errorf("%s - unknown STORE_BACKEND %q (want memory, badger or postgres)", logPrefix, c.StoreBackend)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, ensure-db).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// DeliveryMode returns the normalized BRIDGE_SINK value.
func (c *Config) DeliveryMode() string {
	return strings.ToLower(strings.TrimSpace(c.Delivery))
}

// Defaults returns the built-in endpoint configuration.
func (c *Config) Defaults() store.EndpointConfig {
	return store.EndpointConfig{ServerURL: c.DefaultServerURL, SecurityToken: c.DefaultSecurityToken}
}

// StoreOptions returns the settings backend options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:       strings.ToLower(c.StoreBackend),
		Path:          c.StorePath,
		DatabaseURL:   c.DatabaseURL,
		RunMigrations: c.RunMigrations,
		MigrationPath: c.MigrationPath,
	}
}

// LoaderConfig returns the content load limits.
func (c *Config) LoaderConfig() loader.Config {
	return loader.Config{
		DefaultURL:          c.DefaultServerURL,
		MaxAttempts:         c.MaxLoadAttempts,
		LoadTimeout:         c.LoadTimeout,
		RetryDelay:          c.RetryDelay,
		SwitchFallbackDelay: c.SwitchFallbackDelay,
		SettleDelay:         c.ReloadSettleDelay,
	}
}
