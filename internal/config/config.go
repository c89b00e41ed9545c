// Package config provides YAML-based configuration loading for aichorus.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Slack inbound transport modes.
const (
	SlackModeEvents = "events"
	SlackModeSocket = "socket"
)

// History store drivers.
const (
	HistorySQLite = "sqlite"
	HistoryMySQL  = "mysql"
)

// referenceServices are the services configured when the file lists none,
// with their default remote-debugging ports.
var referenceServices = []ServiceConfig{
	{Name: "chatgpt", URL: "https://chat.openai.com/", Endpoint: "http://localhost:9222"},
	{Name: "claude", URL: "https://claude.ai/chats", Endpoint: "http://localhost:9223"},
	{Name: "gemini", URL: "https://gemini.google.com/app", Endpoint: "http://localhost:9224"},
}

// getenv is swapped in tests.
var getenv = os.Getenv

// Config is the top-level aichorus configuration, loaded from chorus.yaml.
type Config struct {
	Services      []ServiceConfig     `yaml:"services"`
	Retry         RetryConfig         `yaml:"retry"`
	Submission    SubmissionConfig    `yaml:"submission"`
	Screenshots   ScreenshotConfig    `yaml:"screenshots"`
	Slack         SlackConfig         `yaml:"slack"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	HTTP          HTTPConfig          `yaml:"http"`
	History       HistoryConfig       `yaml:"history"`
	Log           LogConfig           `yaml:"log"`
}

// ServiceConfig defines one AI chat front-end driven over a remote-debugging
// connection.
type ServiceConfig struct {
	Name      string            `yaml:"name"`
	Endpoint  string            `yaml:"endpoint"`
	URL       string            `yaml:"url"`
	Enabled   *bool             `yaml:"enabled"`
	Options   OptionsConfig     `yaml:"options"`
	Selectors map[string]string `yaml:"selectors"`
}

// IsEnabled reports whether the service participates in submissions.
// Services are enabled unless explicitly disabled.
func (s ServiceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// OptionsConfig carries per-service driver options. Nil booleans mean
// "leave the UI toggle as it is".
type OptionsConfig struct {
	Model            string `yaml:"model"`
	Search           *bool  `yaml:"search"`
	DeepResearch     *bool  `yaml:"deep_research"`
	ExtendedThinking *bool  `yaml:"extended_thinking"`
}

// RetryConfig bounds per-service submission attempts.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// SubmissionConfig controls how services are scheduled for one message.
type SubmissionConfig struct {
	Parallel *bool `yaml:"parallel"`
}

// IsParallel reports whether services run concurrently (the default).
func (s SubmissionConfig) IsParallel() bool {
	return s.Parallel == nil || *s.Parallel
}

// ScreenshotConfig holds evidence-capture settings.
type ScreenshotConfig struct {
	Enabled   *bool         `yaml:"enabled"`
	Dir       string        `yaml:"dir"`
	Timeout   time.Duration `yaml:"timeout"`
	FullPage  *bool         `yaml:"full_page"`
	SweepCron string        `yaml:"sweep_cron"`
	MaxAge    time.Duration `yaml:"max_age"`
}

// IsEnabled reports whether screenshots are captured after each submission.
func (s ScreenshotConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IsFullPage reports whether captures cover the full scrollable page.
func (s ScreenshotConfig) IsFullPage() bool {
	return s.FullPage == nil || *s.FullPage
}

// SlackConfig holds Slack credentials and the inbound transport mode.
type SlackConfig struct {
	Mode          string `yaml:"mode"`
	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token"`
	SigningSecret string `yaml:"signing_secret"`
}

// TranscriptionConfig holds speech-to-text settings.
type TranscriptionConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPConfig holds the Front Door listener settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// HistoryConfig selects the optional submission history store.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Enabled reports whether a history store is configured.
func (h HistoryConfig) Enabled() bool {
	return h.Driver != ""
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadDotEnv loads variables from a .env file in the working directory, if
// one exists. Variables already set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

// Load reads a YAML config file from path and returns a validated Config.
// When allowMissing is set and the file does not exist, defaults are used.
func Load(path string, allowMissing bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, os.ErrNotExist) {
			return Parse(nil)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Service returns the configured service with the given name.
func (c *Config) Service(name string) (ServiceConfig, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceConfig{}, false
}

// EnabledServices returns the services that participate in submissions,
// in configuration order.
func (c *Config) EnabledServices() []ServiceConfig {
	var out []ServiceConfig
	for _, s := range c.Services {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if len(c.Services) == 0 {
		c.Services = append([]ServiceConfig(nil), referenceServices...)
	}
	for i := range c.Services {
		s := &c.Services[i]
		s.Name = strings.ToLower(strings.TrimSpace(s.Name))
		for _, ref := range referenceServices {
			if ref.Name != s.Name {
				continue
			}
			if s.Endpoint == "" {
				s.Endpoint = ref.Endpoint
			}
			if s.URL == "" {
				s.URL = ref.URL
			}
		}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = 2 * time.Second
	}
	if c.Screenshots.Dir == "" {
		c.Screenshots.Dir = filepath.Join(os.TempDir(), "aichorus-screenshots")
	}
	if c.Screenshots.Timeout == 0 {
		c.Screenshots.Timeout = 30 * time.Second
	}
	if c.Screenshots.SweepCron == "" {
		c.Screenshots.SweepCron = "0 * * * *"
	}
	if c.Screenshots.MaxAge == 0 {
		c.Screenshots.MaxAge = 24 * time.Hour
	}
	if c.Slack.Mode == "" {
		c.Slack.Mode = SlackModeEvents
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = "whisper-1"
	}
	if c.Transcription.Timeout == 0 {
		c.Transcription.Timeout = 60 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8000"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// applyEnv overlays secrets and debug ports from the environment.
func (c *Config) applyEnv() error {
	overlay := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	overlay(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	overlay(&c.Slack.AppToken, "SLACK_APP_TOKEN")
	overlay(&c.Slack.SigningSecret, "SLACK_SIGNING_SECRET")
	overlay(&c.Transcription.APIKey, "OPENAI_API_KEY")

	for i := range c.Services {
		s := &c.Services[i]
		key := "CHROME_DEBUG_PORT_" + strings.ToUpper(s.Name)
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("config: %s: invalid port %q", key, v)
		}
		s.Endpoint = fmt.Sprintf("http://localhost:%d", port)
	}
	return nil
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	seen := make(map[string]bool)
	for i, s := range c.Services {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("services[%d].name is required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("services[%d].name %q is duplicated", i, s.Name))
		}
		seen[s.Name] = true
		if s.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("services[%d].endpoint is required", i))
		}
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, "retry.delay must not be negative")
	}
	switch c.Slack.Mode {
	case SlackModeEvents:
	case SlackModeSocket:
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required for socket mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("slack.mode %q is not one of events, socket", c.Slack.Mode))
	}
	switch c.History.Driver {
	case "", HistorySQLite, HistoryMySQL:
	default:
		errs = append(errs, fmt.Sprintf("history.driver %q is not one of sqlite, mysql", c.History.Driver))
	}
	if c.History.Driver != "" && c.History.DSN == "" {
		errs = append(errs, "history.dsn is required when history.driver is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
