// Package config loads the settings of the helix command from an optional
// TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Sternrassler/helix-client/pkg/auth"
	"github.com/Sternrassler/helix-client/pkg/client"
	"github.com/Sternrassler/helix-client/pkg/credentials"
	"github.com/Sternrassler/helix-client/pkg/logging"
	"github.com/redis/go-redis/v9"
)

// DefaultUserAgent is used when none is configured.
const DefaultUserAgent = "helix-client/0.1.0"

// Config holds every setting of the helix command.
type Config struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Token        string   `toml:"token"`
	Scopes       []string `toml:"scopes"`
	UserAgent    string   `toml:"user_agent"`

	BaseURL  string `toml:"base_url"`
	TokenURL string `toml:"token_url"`

	// RedisURL is either a redis:// URL or a host:port address. Empty keeps
	// rate limit state in process.
	RedisURL string `toml:"redis_url"`

	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	MaxRetries        int           `toml:"max_retries"`
	RetryBackoff      time.Duration `toml:"retry_backoff"`
	MaxRetryBackoff   time.Duration `toml:"max_retry_backoff"`
	Timeout           time.Duration `toml:"timeout"`

	LogLevel  string `toml:"log_level"`
	LogPretty bool   `toml:"log_pretty"`

	Proxy ProxyConfig `toml:"proxy"`
}

// ProxyConfig holds the settings of the proxy subcommand.
type ProxyConfig struct {
	Port string `toml:"port"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		UserAgent:       DefaultUserAgent,
		BaseURL:         client.DefaultBaseURL,
		TokenURL:        auth.DefaultTokenURL,
		RetryBackoff:    0,
		MaxRetryBackoff: 30 * time.Second,
		Timeout:         30 * time.Second,
		LogLevel:        string(logging.LevelInfo),
		Proxy:           ProxyConfig{Port: "8080"},
	}
}

// Load reads path, if not empty, over the defaults and then applies
// environment overrides. Unknown keys in the file are an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("read config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.ClientID = getEnv("HELIX_CLIENT_ID", c.ClientID)
	c.ClientSecret = getEnv("HELIX_CLIENT_SECRET", c.ClientSecret)
	c.Token = getEnv("HELIX_TOKEN", c.Token)
	c.UserAgent = getEnv("HELIX_USER_AGENT", c.UserAgent)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Proxy.Port = getEnv("PORT", c.Proxy.Port)

	if scopes := os.Getenv("HELIX_SCOPES"); scopes != "" {
		c.Scopes = splitScopes(scopes)
	}

	if v := os.Getenv("HELIX_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HELIX_MAX_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}
	return nil
}

// splitScopes accepts scopes separated by commas or whitespace.
func splitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// ErrNoCredentials is returned when neither a client secret nor a token is set.
var ErrNoCredentials = errors.New("no credentials configured: set HELIX_CLIENT_SECRET and/or HELIX_TOKEN")

// Credentials picks the credential variant matching what is configured.
func (c *Config) Credentials() (credentials.Credentials, error) {
	switch {
	case c.ClientSecret != "" && c.Token != "":
		return credentials.FromClientSecretAndToken(c.ClientSecret, c.Token, c.Scopes...), nil
	case c.ClientSecret != "":
		return credentials.FromClientSecret(c.ClientSecret, c.Scopes...), nil
	case c.Token != "":
		return credentials.FromToken(c.Token), nil
	default:
		return nil, ErrNoCredentials
	}
}

// Redis returns a client for RedisURL, or nil if none is configured.
func (c *Config) Redis() (*redis.Client, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	if !strings.Contains(c.RedisURL, "://") {
		return redis.NewClient(&redis.Options{Addr: c.RedisURL}), nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// ClientConfig maps the settings onto a client configuration. rdb may be nil.
func (c *Config) ClientConfig(rdb *redis.Client) (client.Config, error) {
	creds, err := c.Credentials()
	if err != nil {
		return client.Config{}, err
	}

	cfg := client.DefaultConfig(c.UserAgent, c.ClientID, creds)
	cfg.BaseURL = c.BaseURL
	cfg.TokenURL = c.TokenURL
	cfg.Redis = rdb
	cfg.RequestsPerSecond = c.RequestsPerSecond
	cfg.Burst = c.Burst
	cfg.MaxRetries = c.MaxRetries
	cfg.RetryBackoff = c.RetryBackoff
	cfg.MaxRetryBackoff = c.MaxRetryBackoff
	cfg.Timeout = c.Timeout
	return cfg, nil
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
