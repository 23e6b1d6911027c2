// Package config provides the configuration model of mailsetup.
// It handles loading and saving the YAML configuration file that records each mail
// account, its SMTP and IMAP servers, and where the secrets of those servers live.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/router-for-me/mailsetup/internal/auth/authcode"
	"github.com/router-for-me/mailsetup/internal/secret"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultRedirectHost is the loopback host the OAuth 2.0 redirect is captured on.
	DefaultRedirectHost = "localhost"
	// DefaultRedirectPort is the port of the redirect listener.
	DefaultRedirectPort = 49152
	// DefaultConfigName is the file name used when no path is given.
	DefaultConfigName = "config.yaml"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile writes logs to rotating files instead of stderr.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogsMaxTotalSizeMB limits the total size of the log directory. <= 0 disables the limit.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb,omitempty"`

	// ProxyURL is the URL of an optional proxy server used for the token exchange.
	ProxyURL string `yaml:"proxy-url,omitempty"`

	// RedirectHost and RedirectPort are the defaults offered for new OAuth 2.0 setups.
	RedirectHost string `yaml:"redirect-host,omitempty"`
	RedirectPort int    `yaml:"redirect-port,omitempty"`

	// Keyring selects the OS credential vault.
	Keyring KeyringConfig `yaml:"keyring,omitempty"`

	// Accounts maps account names to their settings.
	Accounts map[string]*AccountConfig `yaml:"accounts,omitempty"`
}

// KeyringConfig configures the OS credential vault backend.
type KeyringConfig struct {
	// ServiceName groups the entries in the vault. Defaults to "mailsetup".
	ServiceName string `yaml:"service-name,omitempty"`

	// Backends restricts the vault implementations tried, e.g. ["secret-service", "pass"].
	Backends []string `yaml:"backends,omitempty,flow"`
}

// AccountConfig holds one mail account.
type AccountConfig struct {
	Email   string        `yaml:"email"`
	Default bool          `yaml:"default,omitempty"`
	SMTP    *ServerConfig `yaml:"smtp,omitempty"`
	IMAP    *ServerConfig `yaml:"imap,omitempty"`
}

// ServerConfig describes how to reach and authenticate against a mail server.
// At most one of SSL and StartTLS is set.
type ServerConfig struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	SSL      *bool      `yaml:"ssl,omitempty"`
	StartTLS *bool      `yaml:"starttls,omitempty"`
	Login    string     `yaml:"login"`
	Auth     AuthConfig `yaml:"auth"`
}

// AuthConfig holds exactly one authentication mechanism.
type AuthConfig struct {
	Passwd *secret.Descriptor `yaml:"passwd,omitempty"`
	OAuth2 *OAuth2Config      `yaml:"oauth2,omitempty"`
}

// OAuth2Config is the persisted form of an OAuth 2.0 setup. Secrets are stored as
// descriptors, never inline unless the raw backend was chosen.
type OAuth2Config struct {
	Method       authcode.Method   `yaml:"method"`
	ClientID     string            `yaml:"client-id"`
	ClientSecret secret.Descriptor `yaml:"client-secret"`
	AuthURL      string            `yaml:"auth-url"`
	TokenURL     string            `yaml:"token-url"`
	RedirectHost string            `yaml:"redirect-host,omitempty"`
	RedirectPort int               `yaml:"redirect-port,omitempty"`
	Scopes       []string          `yaml:"scopes,flow"`
	PKCE         bool              `yaml:"pkce"`
	AccessToken  secret.Descriptor `yaml:"access-token"`
	RefreshToken secret.Descriptor `yaml:"refresh-token,omitempty"`
}

// Endpoint returns the flow endpoint for this setup. The client secret is
// resolved by the caller and passed in.
func (o *OAuth2Config) Endpoint(clientSecret string) authcode.Endpoint {
	return authcode.Endpoint{
		ClientID:     o.ClientID,
		ClientSecret: clientSecret,
		AuthURL:      o.AuthURL,
		TokenURL:     o.TokenURL,
		RedirectHost: o.RedirectHost,
		RedirectPort: o.RedirectPort,
		Scopes:       append([]string(nil), o.Scopes...),
		PKCE:         o.PKCE,
		Method:       o.Method,
	}
}

// Secrets lists every secret descriptor referenced by the server, keyed by purpose.
func (s *ServerConfig) Secrets() map[string]secret.Descriptor {
	out := make(map[string]secret.Descriptor)
	if s == nil {
		return out
	}
	if s.Auth.Passwd != nil {
		out["passwd"] = *s.Auth.Passwd
	}
	if o := s.Auth.OAuth2; o != nil {
		out["oauth2-client-secret"] = o.ClientSecret
		out["oauth2-access-token"] = o.AccessToken
		if !o.RefreshToken.IsZero() {
			out["oauth2-refresh-token"] = o.RefreshToken
		}
	}
	return out
}

func (s *ServerConfig) validate(where string) error {
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("%s: host is required", where)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%s: port %d out of range", where, s.Port)
	}
	if s.SSL != nil && *s.SSL && s.StartTLS != nil && *s.StartTLS {
		return fmt.Errorf("%s: ssl and starttls are mutually exclusive", where)
	}
	switch {
	case s.Auth.Passwd != nil && s.Auth.OAuth2 != nil:
		return fmt.Errorf("%s: auth must be either passwd or oauth2, not both", where)
	case s.Auth.Passwd != nil:
		if s.Auth.Passwd.IsZero() {
			return fmt.Errorf("%s: passwd secret is empty", where)
		}
	case s.Auth.OAuth2 != nil:
		o := s.Auth.OAuth2
		if o.ClientID == "" || o.AuthURL == "" || o.TokenURL == "" {
			return fmt.Errorf("%s: oauth2 requires client-id, auth-url and token-url", where)
		}
		if o.AccessToken.IsZero() {
			return fmt.Errorf("%s: oauth2 access-token is missing", where)
		}
	default:
		return fmt.Errorf("%s: auth is missing", where)
	}
	return nil
}

// Validate checks the structural invariants of every account.
func (cfg *Config) Validate() error {
	for _, name := range cfg.AccountNames() {
		account := cfg.Accounts[name]
		if account == nil {
			return fmt.Errorf("account %q is empty", name)
		}
		if account.SMTP != nil {
			if err := account.SMTP.validate("account " + name + " smtp"); err != nil {
				return err
			}
		}
		if account.IMAP != nil {
			if err := account.IMAP.validate("account " + name + " imap"); err != nil {
				return err
			}
		}
	}
	return nil
}

// AccountNames returns the configured account names in sorted order.
func (cfg *Config) AccountNames() []string {
	names := make([]string, 0, len(cfg.Accounts))
	for name := range cfg.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Account returns the named account, creating it when absent.
func (cfg *Config) Account(name string) *AccountConfig {
	if cfg.Accounts == nil {
		cfg.Accounts = make(map[string]*AccountConfig)
	}
	account, ok := cfg.Accounts[name]
	if !ok || account == nil {
		account = &AccountConfig{Default: len(cfg.Accounts) == 0}
		cfg.Accounts[name] = account
	}
	return account
}

// DefaultAccount returns the name of the account flagged as default, or the only
// account when there is exactly one.
func (cfg *Config) DefaultAccount() (string, bool) {
	for _, name := range cfg.AccountNames() {
		if a := cfg.Accounts[name]; a != nil && a.Default {
			return name, true
		}
	}
	if len(cfg.Accounts) == 1 {
		for name := range cfg.Accounts {
			return name, true
		}
	}
	return "", false
}

func (cfg *Config) applyDefaults() {
	if cfg.RedirectHost == "" {
		cfg.RedirectHost = DefaultRedirectHost
	}
	if cfg.RedirectPort == 0 {
		cfg.RedirectPort = DefaultRedirectPort
	}
	if cfg.Keyring.ServiceName == "" {
		cfg.Keyring.ServiceName = secret.DefaultServiceName
	}
}

// DefaultConfig returns an empty configuration with defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads and validates the YAML configuration at configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the configuration like LoadConfig. When optional is true
// a missing or empty file yields the default configuration.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if len(strings.TrimSpace(string(data))) == 0 {
		if optional {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("config file %s is empty", configFile)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to configFile atomically. The file is created with mode
// 0600 because raw secrets may be stored inline.
func SaveConfig(configFile string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(configFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mailsetup-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err = enc.Encode(cfg); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err = enc.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err = os.Rename(tmpName, configFile); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// ResolveConfigPath returns explicit when set, then $MAILSETUP_CONFIG, then
// config.yaml under the user configuration directory.
func ResolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("MAILSETUP_CONFIG")); p != "" {
		return p
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mailsetup", DefaultConfigName)
	}
	return DefaultConfigName
}
