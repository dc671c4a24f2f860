// Package config provides YAML and environment based configuration loading
// for the bridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // containers often ship without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultWikiBaseURL     = "https://cosense.io"
	defaultLinkText        = "Click this link to create a page"
	defaultMaxBlockChars   = 3000
	defaultSlackAPIURL     = "https://slack.com/api"
	defaultTimezone        = "Asia/Tokyo"
	defaultShareCallbackID = "share"
	defaultHTTPAddr        = ":3000"
	defaultBodyReadTimeout = 5 * time.Second
	defaultRequestMaxAge   = 5 * time.Minute
	defaultResponseTimeout = 10 * time.Second
	defaultCacheTTL        = 24 * time.Hour
	defaultCacheCapacity   = 10000
	defaultCachePurge      = "@every 1h"
)

// Config is the top-level bridge configuration. It is loaded once at startup
// and treated as read-only afterwards.
type Config struct {
	Slack   SlackConfig   `yaml:"slack"`
	Cosense CosenseConfig `yaml:"cosense"`
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`

	// Timezone is the IANA zone used for message and page-title timestamps.
	Timezone string `yaml:"timezone"`
}

// SlackConfig holds credentials and endpoints for the Slack side.
type SlackConfig struct {
	SigningSecret   string `yaml:"signing_secret"`
	BotToken        string `yaml:"bot_token"`  // xoxb-..., used for users.info
	UserToken       string `yaml:"user_token"` // xoxp-..., used for conversations.replies
	APIURL          string `yaml:"api_url"`
	ShareCallbackID string `yaml:"share_callback_id"`
}

// CosenseConfig describes the wiki the generated links point at.
type CosenseConfig struct {
	BaseURL       string `yaml:"base_url"`
	Project       string `yaml:"project"`
	LinkText      string `yaml:"link_text"`
	MaxBlockChars int    `yaml:"max_block_chars"`
}

// ServerConfig holds inbound HTTP settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BodyReadTimeout time.Duration `yaml:"body_read_timeout"`
	RequestMaxAge   time.Duration `yaml:"request_max_age"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// CacheConfig bounds the author name cache.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	Capacity      uint64        `yaml:"capacity"`
	PurgeSchedule string        `yaml:"purge_schedule"`
}

// Error reports every configuration problem found during validation.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "config: validation failed: " + strings.Join(e.Problems, "; ")
}

// envBindings maps environment variables onto config fields. Environment
// values win over the YAML file.
var envBindings = []struct {
	name string
	set  func(*Config, string)
}{
	{"SLACK_SIGNING_SECRET", func(c *Config, v string) { c.Slack.SigningSecret = v }},
	{"SLACK_BOT_TOKEN", func(c *Config, v string) { c.Slack.BotToken = v }},
	{"SLACK_USER_TOKEN", func(c *Config, v string) { c.Slack.UserToken = v }},
	{"SLACK_API_URL", func(c *Config, v string) { c.Slack.APIURL = v }},
	{"COSENSE_PROJECT_NAME", func(c *Config, v string) { c.Cosense.Project = v }},
	{"COSENSE_BASE_URL", func(c *Config, v string) { c.Cosense.BaseURL = v }},
	{"CBRIDGE_HTTP_ADDR", func(c *Config, v string) { c.Server.Addr = v }},
	{"CBRIDGE_TIMEZONE", func(c *Config, v string) { c.Timezone = v }},
}

// Load builds a validated Config. If path is non-empty the YAML file is read
// first; a .env file in the working directory is loaded if present, and
// environment variables override file values.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !(errors.Is(err, os.ErrNotExist) && path == DefaultPath) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	// Existing environment variables are never overwritten by .env.
	_ = godotenv.Load()
	return parse(data, os.LookupEnv)
}

// DefaultPath is the config file used when none is given. It is optional.
const DefaultPath = "cbridge.yaml"

// Parse unmarshals YAML bytes into a validated Config without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) (string, bool) { return "", false })
}

func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	for _, b := range envBindings {
		if v, ok := lookup(b.name); ok && v != "" {
			b.set(&cfg, v)
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Slack.APIURL == "" {
		c.Slack.APIURL = defaultSlackAPIURL
	}
	if c.Slack.ShareCallbackID == "" {
		c.Slack.ShareCallbackID = defaultShareCallbackID
	}
	if c.Cosense.BaseURL == "" {
		c.Cosense.BaseURL = defaultWikiBaseURL
	}
	c.Cosense.BaseURL = strings.TrimSuffix(c.Cosense.BaseURL, "/")
	if c.Cosense.LinkText == "" {
		c.Cosense.LinkText = defaultLinkText
	}
	if c.Cosense.MaxBlockChars == 0 {
		c.Cosense.MaxBlockChars = defaultMaxBlockChars
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.BodyReadTimeout == 0 {
		c.Server.BodyReadTimeout = defaultBodyReadTimeout
	}
	if c.Server.RequestMaxAge == 0 {
		c.Server.RequestMaxAge = defaultRequestMaxAge
	}
	if c.Server.ResponseTimeout == 0 {
		c.Server.ResponseTimeout = defaultResponseTimeout
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = defaultCacheTTL
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = defaultCacheCapacity
	}
	if c.Cache.PurgeSchedule == "" {
		c.Cache.PurgeSchedule = defaultCachePurge
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Slack.SigningSecret == "" {
		errs = append(errs, "SLACK_SIGNING_SECRET is required")
	}
	if c.Slack.BotToken == "" {
		errs = append(errs, "SLACK_BOT_TOKEN is required")
	}
	if c.Slack.UserToken == "" {
		errs = append(errs, "SLACK_USER_TOKEN is required")
	}
	if c.Cosense.Project == "" {
		errs = append(errs, "COSENSE_PROJECT_NAME is required")
	}
	if c.Cosense.MaxBlockChars < 0 {
		errs = append(errs, "cosense.max_block_chars must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}
	if len(errs) > 0 {
		return &Error{Problems: errs}
	}
	return nil
}

// Location returns the configured time zone. validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
