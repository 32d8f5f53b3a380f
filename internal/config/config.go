package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cutting-room-floor/backbone-couch/internal/auth"
	"github.com/cutting-room-floor/backbone-couch/internal/backbone"
	"github.com/cutting-room-floor/backbone-couch/internal/couch"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the couchsync tool
type Config struct {
	Couch    CouchConfig   `json:"couch" yaml:"couch"`
	JWT      JWTConfig     `json:"jwt" yaml:"jwt"`
	Sync     SyncConfig    `json:"sync" yaml:"sync"`
	Install  InstallConfig `json:"install" yaml:"install"`
	Debug    bool          `json:"debug" yaml:"debug"`
	LogLevel string        `json:"logLevel" yaml:"logLevel"`
}

// CouchConfig locates the document store and database
type CouchConfig struct {
	Host     string   `json:"host" yaml:"host"`
	Port     string   `json:"port,omitempty" yaml:"port,omitempty"` // defaults by scheme
	Secure   bool     `json:"secure" yaml:"secure"`
	Database string   `json:"database" yaml:"database"`
	Username string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// JWTConfig enables bearer token authentication when Secret is set
type JWTConfig struct {
	Secret  string   `json:"secret,omitempty" yaml:"secret,omitempty"`
	Subject string   `json:"subject,omitempty" yaml:"subject,omitempty"`
	Roles   []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	TTL     Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// SyncConfig selects adapter behavior
type SyncConfig struct {
	UpdatePolicy  string `json:"updatePolicy" yaml:"updatePolicy"` // propagate | create
	CreateMode    string `json:"createMode" yaml:"createMode"`     // put | post
	RewritePrefix string `json:"rewritePrefix,omitempty" yaml:"rewritePrefix,omitempty"`
	ViewPath      string `json:"viewPath,omitempty" yaml:"viewPath,omitempty"`
}

// InstallConfig configures database installation
type InstallConfig struct {
	Designs []string      `json:"designs,omitempty" yaml:"designs,omitempty"`
	Drop    bool          `json:"drop" yaml:"drop"`
	Backoff BackoffConfig `json:"backoff" yaml:"backoff"`
}

// BackoffConfig bounds the create-database retry loop
type BackoffConfig struct {
	InitialInterval Duration `json:"initialInterval" yaml:"initialInterval"`
	MaxInterval     Duration `json:"maxInterval" yaml:"maxInterval"`
	MaxElapsedTime  Duration `json:"maxElapsedTime" yaml:"maxElapsedTime"`
}

// Duration is a time.Duration written as "250ms" or "5s" in config files.
// Plain numbers are read as seconds.
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return fmt.Errorf("invalid duration %s", data)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	def := backbone.DefaultBackoffConfig()
	return &Config{
		Couch: CouchConfig{
			Host:    couch.DefaultHost,
			Timeout: Duration(couch.DefaultTimeout),
		},
		Sync: SyncConfig{
			UpdatePolicy: "propagate",
			CreateMode:   "put",
		},
		Install: InstallConfig{
			Backoff: BackoffConfig{
				InitialInterval: Duration(def.InitialInterval),
				MaxInterval:     Duration(def.MaxInterval),
				MaxElapsedTime:  Duration(def.MaxElapsedTime),
			},
		},
		Debug:    false,
		LogLevel: "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Couch.Database == "" {
		return ErrMissingDatabase
	}

	if c.Couch.Port != "" {
		port, err := strconv.Atoi(c.Couch.Port)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%w: got %q", ErrInvalidPort, c.Couch.Port)
		}
	}

	if c.JWT.Secret != "" && c.JWT.Subject == "" {
		return ErrMissingJWTSubject
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidLogLevel, c.LogLevel)
	}

	if _, err := backbone.ParseUpdatePolicy(c.Sync.UpdatePolicy); err != nil {
		return err
	}
	if _, err := backbone.ParseCreateMode(c.Sync.CreateMode); err != nil {
		return err
	}

	return nil
}

// ClientConfig returns the document store client settings.
func (c *Config) ClientConfig() couch.Config {
	return couch.Config{
		Host:     c.Couch.Host,
		Port:     c.Couch.Port,
		Secure:   c.Couch.Secure,
		Name:     c.Couch.Database,
		Username: c.Couch.Username,
		Password: c.Couch.Password,
		Timeout:  c.Couch.Timeout.Std(),
	}
}

// NewClient builds a document store client, with a JWT token source when a
// secret is configured.
func (c *Config) NewClient() (*couch.Client, error) {
	var opts []couch.ClientOption
	if c.JWT.Secret != "" {
		tokens, err := auth.NewTokenSource(auth.JWTCfg{
			HS256Secret: c.JWT.Secret,
			Subject:     c.JWT.Subject,
			Roles:       c.JWT.Roles,
			TTL:         c.JWT.TTL.Std(),
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, couch.WithTokenSource(tokens))
	}
	return couch.NewClient(c.ClientConfig(), opts...)
}

// AdapterOptions converts the sync section into adapter options.
func (c *Config) AdapterOptions() ([]backbone.Option, error) {
	policy, err := backbone.ParseUpdatePolicy(c.Sync.UpdatePolicy)
	if err != nil {
		return nil, err
	}
	mode, err := backbone.ParseCreateMode(c.Sync.CreateMode)
	if err != nil {
		return nil, err
	}

	opts := []backbone.Option{
		backbone.WithUpdatePolicy(policy),
		backbone.WithCreateMode(mode),
	}
	if c.Sync.RewritePrefix != "" {
		opts = append(opts, backbone.WithRewritePrefix(c.Sync.RewritePrefix))
	}
	if c.Sync.ViewPath != "" {
		opts = append(opts, backbone.WithViewPath(c.Sync.ViewPath))
	}
	return opts, nil
}

// InstallOptions converts the install section into adapter install options.
func (c *Config) InstallOptions() backbone.InstallOptions {
	opts := backbone.InstallOptions{
		DropExisting: c.Install.Drop,
		Backoff: backbone.BackoffConfig{
			InitialInterval: c.Install.Backoff.InitialInterval.Std(),
			MaxInterval:     c.Install.Backoff.MaxInterval.Std(),
			MaxElapsedTime:  c.Install.Backoff.MaxElapsedTime.Std(),
		},
	}
	for _, path := range c.Install.Designs {
		opts.Designs = append(opts.Designs, couch.DesignFile(path))
	}
	return opts
}
