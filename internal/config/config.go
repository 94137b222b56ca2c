// Package config loads the server settings once at process start.
//
// Every key resolves in the same order: command-line flag, environment
// variable, YAML config file, built-in default. A .env file in the working
// directory is loaded into the environment before anything else is read.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRedirectURI           = "http://localhost:3000/callback"
	DefaultAuthURL               = "https://www.linkedin.com/oauth/v2/authorization"
	DefaultTokenURL              = "https://www.linkedin.com/oauth/v2/accessToken"
	DefaultUserInfoURL           = "https://api.linkedin.com/v2/userinfo"
	DefaultPostURL               = "https://api.linkedin.com/v2/ugcPosts"
	DefaultAssetsURL             = "https://api.linkedin.com/v2/assets"
	DefaultLinkedInVersion       = "202210"
	DefaultRestliProtocolVersion = "2.0.0"
	DefaultScopes                = "openid profile email w_member_social"
	DefaultAuthTimeout           = 120 * time.Second
	DefaultLogLevel              = "info"
)

// Config holds the resolved settings.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`

	AuthURL     string `yaml:"auth_url"`
	TokenURL    string `yaml:"token_url"`
	UserInfoURL string `yaml:"userinfo_url"`
	PostURL     string `yaml:"post_url"`
	AssetsURL   string `yaml:"assets_url"`

	LinkedInVersion       string `yaml:"linkedin_version"`
	RestliProtocolVersion string `yaml:"restli_protocol_version"`

	Scopes      string        `yaml:"scopes"`
	TokenFile   string        `yaml:"token_file"`
	AuthTimeout time.Duration `yaml:"auth_timeout"`
	NoBrowser   bool          `yaml:"no_browser"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Flags carries command-line overrides. Empty values fall through to the
// environment.
type Flags struct {
	ConfigFile   string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
	TokenFile    string
	AuthTimeout  string
	LogLevel     string
	LogFile      string
	NoBrowser    bool
}

// Load resolves and validates the configuration.
func Load(flags Flags) (*Config, error) {
	_ = godotenv.Load()

	file := &Config{}
	if path := getConfig(flags.ConfigFile, "LINKEDIN_MCP_CONFIG", ""); path != "" {
		var err error
		if file, err = readFile(path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		ClientID:     getConfig(flags.ClientID, "LINKEDIN_CLIENT_ID", file.ClientID),
		ClientSecret: getConfig(flags.ClientSecret, "LINKEDIN_CLIENT_SECRET", file.ClientSecret),
		RedirectURI: getConfig(
			flags.RedirectURI,
			"LINKEDIN_REDIRECT_URI",
			orDefault(file.RedirectURI, DefaultRedirectURI),
		),
		AuthURL:     getEnv("LINKEDIN_AUTH_URL", orDefault(file.AuthURL, DefaultAuthURL)),
		TokenURL:    getEnv("LINKEDIN_TOKEN_URL", orDefault(file.TokenURL, DefaultTokenURL)),
		UserInfoURL: getEnv("LINKEDIN_USERINFO_URL", orDefault(file.UserInfoURL, DefaultUserInfoURL)),
		PostURL:     getEnv("LINKEDIN_POST_URL", orDefault(file.PostURL, DefaultPostURL)),
		AssetsURL:   getEnv("LINKEDIN_ASSETS_URL", orDefault(file.AssetsURL, DefaultAssetsURL)),
		LinkedInVersion: getEnv(
			"LINKEDIN_VERSION",
			orDefault(file.LinkedInVersion, DefaultLinkedInVersion),
		),
		RestliProtocolVersion: getEnv(
			"RESTLI_PROTOCOL_VERSION",
			orDefault(file.RestliProtocolVersion, DefaultRestliProtocolVersion),
		),
		Scopes:    getConfig(flags.Scope, "LINKEDIN_SCOPES", orDefault(file.Scopes, DefaultScopes)),
		TokenFile: getConfig(flags.TokenFile, "TOKEN_FILE", orDefault(file.TokenFile, defaultTokenFile())),
		LogLevel:  getConfig(flags.LogLevel, "LOG_LEVEL", orDefault(file.LogLevel, DefaultLogLevel)),
		LogFile:   getConfig(flags.LogFile, "LOG_FILE", file.LogFile),
	}

	fileTimeout := ""
	if file.AuthTimeout > 0 {
		fileTimeout = file.AuthTimeout.String()
	}
	timeoutStr := getConfig(
		flags.AuthTimeout,
		"AUTH_TIMEOUT",
		orDefault(fileTimeout, DefaultAuthTimeout.String()),
	)
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_TIMEOUT %q: %w", timeoutStr, err)
	}
	cfg.AuthTimeout = timeout

	cfg.NoBrowser = flags.NoBrowser || file.NoBrowser
	if v := os.Getenv("NO_BROWSER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			cfg.NoBrowser = true
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.warnInsecure()
	return cfg, nil
}

// Validate checks that the configuration can drive an authorization attempt.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("LINKEDIN_CLIENT_ID not set (flag --client-id, environment, or .env file)")
	}
	if c.ClientSecret == "" {
		return errors.New("LINKEDIN_CLIENT_SECRET not set (flag --client-secret, environment, or .env file)")
	}
	for name, raw := range map[string]string{
		"LINKEDIN_AUTH_URL":     c.AuthURL,
		"LINKEDIN_TOKEN_URL":    c.TokenURL,
		"LINKEDIN_USERINFO_URL": c.UserInfoURL,
		"LINKEDIN_POST_URL":     c.PostURL,
		"LINKEDIN_ASSETS_URL":   c.AssetsURL,
	} {
		if err := ValidateServerURL(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if err := ValidateRedirectURI(c.RedirectURI); err != nil {
		return fmt.Errorf("invalid LINKEDIN_REDIRECT_URI: %w", err)
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT must be positive, got: %s", c.AuthTimeout)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// CallbackAddr is the loopback address the callback listener binds, taken
// from the redirect URI.
func (c *Config) CallbackAddr() string {
	u, err := url.Parse(c.RedirectURI)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "localhost" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, u.Port())
}

// CallbackPath is the redirect URI's path.
func (c *Config) CallbackPath() string {
	u, err := url.Parse(c.RedirectURI)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// ScopeList splits the space-delimited scope string.
func (c *Config) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

func (c *Config) warnInsecure() {
	for _, raw := range []string{c.AuthURL, c.TokenURL, c.UserInfoURL, c.PostURL, c.AssetsURL} {
		if strings.HasPrefix(strings.ToLower(raw), "http://") {
			log.Warnf("Using HTTP instead of HTTPS for %s. Tokens will be transmitted in plaintext!", raw)
		}
	}
}

// ValidateServerURL requires an absolute http(s) URL with a host.
func ValidateServerURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// ValidateRedirectURI requires a plain-http loopback URL with an explicit
// port, since the callback listener has to bind it.
func ValidateRedirectURI(rawURL string) error {
	if err := ValidateServerURL(rawURL); err != nil {
		return err
	}
	u, _ := url.Parse(rawURL)
	if u.Scheme != "http" {
		return fmt.Errorf("redirect URI must use http for the local listener, got: %s", u.Scheme)
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
	default:
		return fmt.Errorf("redirect URI host must be a loopback address, got: %s", u.Hostname())
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("redirect URI must include a valid port, got: %q", u.Port())
	}
	return nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".linkedin-mcp-tokens.json"
	}
	return filepath.Join(home, ".linkedin-mcp", "tokens.json")
}

func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func orDefault(value, defaultValue string) string {
	if value != "" {
		return value
	}
	return defaultValue
}
