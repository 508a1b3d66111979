package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "config/config.yaml"

	ModeWebhook = "webhook"
	ModePolling = "polling"

	ProviderGrok      = "grok"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderCustom    = "custom"

	DefaultMaxHistory = 10
	DefaultListenPort = 3000
)

var (
	ErrMissingBotToken    = errors.New("bot.token is required")
	ErrMissingPersonality = errors.New("personality section is required")
	ErrMissingProvider    = errors.New("llm.provider is required")
	ErrMissingAPIKey      = errors.New("llm.apiKey is required")
	ErrIncompleteWebhook  = errors.New("bot.webhook.url and bot.webhook.port are required when webhook is enabled")
	ErrNegativeDelay      = errors.New("settings.responseDelay must be >= 0")
)

// Config is the read-only settings snapshot built once at startup.
type Config struct {
	Bot         BotConfig          `yaml:"bot"`
	Personality *PersonalityConfig `yaml:"personality"`
	Channels    []ChannelConfig    `yaml:"channels"`
	LLM         LLMConfig          `yaml:"llm"`
	Settings    SettingsConfig     `yaml:"settings"`
	Redis       RedisConfig        `yaml:"redis"`
	Storage     StorageConfig      `yaml:"storage"`
	Server      ServerConfig       `yaml:"server"`

	// Warnings collects non-fatal adjustments made while loading.
	Warnings []string `yaml:"-"`
}

type BotConfig struct {
	Token   string        `yaml:"token"`
	Webhook WebhookConfig `yaml:"webhook"`
	Polling PollingConfig `yaml:"polling"`
}

type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Port    int    `yaml:"port"`
}

type PollingConfig struct {
	Enabled bool `yaml:"enabled"`
	Timeout int  `yaml:"timeout"`
}

type PersonalityConfig struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Traits        []string `yaml:"traits"`
	Tone          string   `yaml:"tone"`
	ResponseStyle string   `yaml:"responseStyle"`
}

type ChannelConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	AutoJoin bool   `yaml:"autoJoin"`
}

type LLMConfig struct {
	Provider     string            `yaml:"provider"`
	APIKey       string            `yaml:"apiKey"`
	Model        string            `yaml:"model"`
	Endpoint     string            `yaml:"endpoint"`
	MaxTokens    int               `yaml:"maxTokens"`
	Temperature  *float64          `yaml:"temperature"`
	SystemPrompt string            `yaml:"systemPrompt"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxRetries   int               `yaml:"maxRetries"`
}

type SettingsConfig struct {
	LogLevel         string `yaml:"logLevel"`
	LogFormat        string `yaml:"logFormat"`
	AllowedUsers     IDList `yaml:"allowedUsers"`
	BlacklistedUsers IDList `yaml:"blacklistedUsers"`
	CommandPrefix    string `yaml:"commandPrefix"`
	ResponseDelay    int    `yaml:"responseDelay"`
	MaxHistory       int    `yaml:"maxHistory"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	UpdateTTL time.Duration `yaml:"updateTTL"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"autoMigrate"`
}

type ServerConfig struct {
	WebhookPath string `yaml:"webhookPath"`
	HealthPath  string `yaml:"healthPath"`
	MetricsPath string `yaml:"metricsPath"`
	Lanes       int    `yaml:"lanes"`
}

// IDList accepts user ids written either as YAML numbers or strings.
type IDList []string

func (l *IDList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list of ids", value.Line)
	}
	out := make(IDList, 0, len(value.Content))
	for _, n := range value.Content {
		if n.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: id must be a scalar", n.Line)
		}
		if id := strings.TrimSpace(n.Value); id != "" {
			out = append(out, id)
		}
	}
	*l = out
	return nil
}

// Path returns the config file location, honouring CONFIG_PATH.
func Path() string {
	return envOr("CONFIG_PATH", DefaultPath)
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes, defaults and validates a YAML document in a single pass.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Bot.Token = envOr("BOT_TOKEN", cfg.Bot.Token)
	cfg.LLM.APIKey = envOr("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.Settings.LogLevel = envOr("LOG_LEVEL", cfg.Settings.LogLevel)

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Settings.LogLevel = strings.ToLower(strings.TrimSpace(c.Settings.LogLevel))
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = "info"
	}
	if c.Settings.MaxHistory <= 0 {
		c.Settings.MaxHistory = DefaultMaxHistory
	}
	if c.Bot.Polling.Timeout <= 0 {
		c.Bot.Polling.Timeout = 50
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
	if c.Redis.UpdateTTL <= 0 {
		c.Redis.UpdateTTL = 6 * time.Hour
	}
	if c.Server.WebhookPath == "" {
		c.Server.WebhookPath = "/webhook"
	}
	if c.Server.HealthPath == "" {
		c.Server.HealthPath = "/health"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Server.Lanes <= 0 {
		c.Server.Lanes = 8
	}

	if c.Bot.Webhook.Enabled && c.Bot.Polling.Enabled {
		c.Bot.Polling.Enabled = false
		c.Warnings = append(c.Warnings, "both webhook and polling are enabled; polling has been disabled")
	}
	if !c.Bot.Webhook.Enabled {
		c.Bot.Polling.Enabled = true
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Bot.Token) == "" {
		return ErrMissingBotToken
	}
	if c.Personality == nil {
		return ErrMissingPersonality
	}
	if c.LLM.Provider == "" {
		return ErrMissingProvider
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.Bot.Webhook.Enabled && (strings.TrimSpace(c.Bot.Webhook.URL) == "" || c.Bot.Webhook.Port <= 0) {
		return ErrIncompleteWebhook
	}
	if c.Settings.ResponseDelay < 0 {
		return ErrNegativeDelay
	}
	return nil
}

// Mode reports which transport delivers updates.
func (c *Config) Mode() string {
	if c.Bot.Webhook.Enabled {
		return ModeWebhook
	}
	return ModePolling
}

// ListenAddr resolves the HTTP listener: PORT env, then the webhook port, then the default.
func (c *Config) ListenAddr() string {
	port := mustInt("PORT", 0)
	if port <= 0 {
		port = c.Bot.Webhook.Port
	}
	if port <= 0 {
		port = DefaultListenPort
	}
	return ":" + strconv.Itoa(port)
}

func (c *Config) ResponseDelay() time.Duration {
	return time.Duration(c.Settings.ResponseDelay) * time.Millisecond
}

func envOr(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := envOr(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
