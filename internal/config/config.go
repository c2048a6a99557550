// Package config provides configuration management for the Softcodes auth bridge.
// It handles loading and parsing YAML configuration files, applying environment
// variable overrides, and validating the redirect URI against the allowed
// extension-handler scheme and production web app domain.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default endpoint configuration for the Softcodes backend.
const (
	// DefaultBackendBaseURL is the production Softcodes backend.
	DefaultBackendBaseURL = "https://softcodes.ai"

	// DefaultRedirectURI is the custom-scheme handler the host environment
	// registers to route the OAuth redirect back into the extension.
	DefaultRedirectURI = "vscode://softcodes.softcodes-ai/auth/callback"

	// DefaultRequestTimeout bounds every backend request so a hung network
	// call cannot stall the auth flow indefinitely.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultCallbackPort is the loopback port used when the custom-scheme
	// handler is unavailable and a local callback server stands in for it.
	DefaultCallbackPort = 54546
)

// webAppDomain is the production web app domain accepted as a redirect target
// alongside the vscode:// handler scheme.
const webAppDomain = "softcodes.ai"

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// BackendBaseURL is the base URL of the Softcodes backend that issues
	// tickets and exchanges authorization codes for tokens.
	BackendBaseURL string `yaml:"backend-base-url" json:"backend-base-url"`

	// IdentityBaseURL optionally overrides the identity provider base URL.
	// When empty, the provider URL returned by the initiation endpoint is
	// used as-is.
	IdentityBaseURL string `yaml:"identity-base-url" json:"identity-base-url"`

	// RedirectURI is the OAuth redirect target. Only the vscode:// handler
	// scheme, the production web app domain, or a loopback address (CLI
	// callback server) are accepted.
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`

	// AuthDir is the directory holding the durable credential store.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// ProxyURL is the URL of an optional proxy server for outbound requests.
	// SOCKS5, HTTP, and HTTPS proxies are supported.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestTimeoutSeconds bounds each backend request. Zero applies the
	// default of ten seconds.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds" json:"request-timeout-seconds"`

	// CallbackPort is the port for the loopback callback server. Zero applies
	// the default port.
	CallbackPort int `yaml:"callback-port" json:"callback-port"`

	// LoggingToFile switches log output from stdout to a rotating file under
	// the auth directory.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// RequestLog enables per-request debug logging in the API client.
	RequestLog bool `yaml:"request-log" json:"request-log"`
}

// LoadConfig reads the configuration file at the given path, applies defaults
// and environment overrides, and validates the result. A missing file is not
// an error; defaults and environment variables alone produce a usable config.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s failed: %w", configFile, err)
			}
		} else if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s failed: %w", configFile, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides on top of the
// file-provided values. Environment always wins over the file.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("SOFTCODES_BACKEND_URL")); v != "" {
		c.BackendBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SOFTCODES_IDENTITY_URL")); v != "" {
		c.IdentityBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SOFTCODES_REDIRECT_URI")); v != "" {
		c.RedirectURI = v
	}
	if v := strings.TrimSpace(os.Getenv("SOFTCODES_AUTH_DIR")); v != "" {
		c.AuthDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SOFTCODES_PROXY_URL")); v != "" {
		c.ProxyURL = v
	}
}

// applyDefaults fills unset fields with production defaults.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.BackendBaseURL) == "" {
		c.BackendBaseURL = DefaultBackendBaseURL
	}
	c.BackendBaseURL = strings.TrimRight(c.BackendBaseURL, "/")
	if c.IdentityBaseURL != "" {
		c.IdentityBaseURL = strings.TrimRight(c.IdentityBaseURL, "/")
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	if c.CallbackPort <= 0 {
		c.CallbackPort = DefaultCallbackPort
	}
	if strings.TrimSpace(c.AuthDir) == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.AuthDir = filepath.Join(home, ".softcodes")
		} else {
			c.AuthDir = ".softcodes"
		}
	}
}

// Validate checks the configuration for fatal errors. Configuration errors are
// fatal to the attempted operation and are never retried automatically.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.BackendBaseURL); err != nil {
		return fmt.Errorf("config: invalid backend base URL %q: %w", c.BackendBaseURL, err)
	}
	if err := ValidateRedirectURI(c.RedirectURI); err != nil {
		return err
	}
	return nil
}

// RequestTimeout returns the bounded per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds > 0 {
		return time.Duration(c.RequestTimeoutSeconds) * time.Second
	}
	return DefaultRequestTimeout
}

// ValidateRedirectURI rejects any redirect target that is not the vscode://
// handler scheme, the production web app domain, or a loopback address. Any
// other target is rejected before use.
func ValidateRedirectURI(redirectURI string) error {
	parsed, err := url.Parse(strings.TrimSpace(redirectURI))
	if err != nil {
		return fmt.Errorf("config: invalid redirect URI %q: %w", redirectURI, err)
	}
	switch parsed.Scheme {
	case "vscode", "vscode-insiders":
		return nil
	case "https":
		host := parsed.Hostname()
		if host == webAppDomain || strings.HasSuffix(host, "."+webAppDomain) {
			return nil
		}
	case "http":
		host := parsed.Hostname()
		if host == "localhost" || host == "127.0.0.1" {
			return nil
		}
	}
	return fmt.Errorf("config: redirect URI %q is not an allowed target", redirectURI)
}
