package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"

	configPathEnv       = "DEAL_SCANNER_CONFIG"
	telegramTokenEnv    = "TG_TOKEN"
	telegramChannelEnv  = "TELEGRAM_CHANNEL_ID"
	telegramSecretEnv   = "TELEGRAM_SECRET"
	telegraphTokenEnv   = "TELEGRAPH_TOKEN"
	geminiAPIKeyEnv     = "GEMINI_API_KEY"
	perplexityAPIKeyEnv = "PERPLEXITY_API_KEY"
	bucketNameEnv       = "BUCKET_NAME"
	stateObjectEnv      = "SENT_LINKS_FILE"
	dedupTTLEnv         = "DEDUP_TTL_HOURS"
	deleteAfterEnv      = "DELETE_AFTER_HOURS"
	maxPostsEnv         = "MAX_POSTS_PER_RUN"
	maxPerDomainEnv     = "MAX_PER_DOMAIN"
	hostConcurrencyEnv  = "PER_HOST_CONCURRENCY"
	httpTimeoutEnv      = "HTTP_TIMEOUT"
	portEnv             = "PORT"
)

// Config holds high-level settings required across the application.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
	State      StateConfig      `yaml:"state"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Feeds      FeedsConfig      `yaml:"feeds"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Perplexity PerplexityConfig `yaml:"perplexity"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Telegraph  TelegraphConfig  `yaml:"telegraph"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Alerts     AlertsConfig     `yaml:"alerts"`
}

// HTTPConfig describes the trigger server.
type HTTPConfig struct {
	Port string `yaml:"port"`
}

// LoggingConfig carries the log level string.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StateConfig locates the persistent state document. When Bucket is empty
// the file backend at LocalPath is used instead.
type StateConfig struct {
	Bucket    string `yaml:"bucket"`
	Object    string `yaml:"object"`
	LocalPath string `yaml:"localPath"`
}

// SchedulerConfig defines when runs and digest flushes happen.
type SchedulerConfig struct {
	CronExpression   string         `yaml:"cronExpression"`
	Timezone         string         `yaml:"timezone"`
	MorningFlushHour int            `yaml:"morningFlushHour"`
	EveningFlushHour int            `yaml:"eveningFlushHour"`
	location         *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// FeedsConfig describes the ingestion surface.
type FeedsConfig struct {
	Sources            []string                     `yaml:"sources"`
	MaxPerDomain       int                          `yaml:"maxPerDomain"`
	PerHostConcurrency int                          `yaml:"perHostConcurrency"`
	JitterMinMs        int                          `yaml:"jitterMinMs"`
	JitterMaxMs        int                          `yaml:"jitterMaxMs"`
	HTTPTimeoutSec     float64                      `yaml:"httpTimeoutSec"`
	NoScrapeHosts      []string                     `yaml:"noScrapeHosts"`
	DomainHeaders      map[string]map[string]string `yaml:"domainHeaders"`
}

// GeminiConfig defines how to contact the tier-1 classifier API.
type GeminiConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Model         string `yaml:"model"`
	APIKey        string `yaml:"apiKey"`
	BatchSize     int    `yaml:"batchSize"`
	BatchPauseSec int    `yaml:"batchPauseSec"`
}

// PerplexityConfig defines how to contact the tier-2 auditor API.
type PerplexityConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey"`
}

// TelegramConfig wires the outbound messaging channel.
type TelegramConfig struct {
	BotToken  string `yaml:"botToken"`
	ChannelID string `yaml:"channelId"`
	Secret    string `yaml:"secret"`
}

// TelegraphConfig wires the digest artifact publisher.
type TelegraphConfig struct {
	Token      string `yaml:"token"`
	AuthorName string `yaml:"authorName"`
}

// PipelineConfig carries the routing thresholds and retention windows.
type PipelineConfig struct {
	HighThreshold    int `yaml:"highThreshold"`
	ConvictionFloor  int `yaml:"convictionFloor"`
	DedupTTLHours    int `yaml:"dedupTtlHours"`
	DeleteAfterHours int `yaml:"deleteAfterHours"`
	MaxPostsPerRun   int `yaml:"maxPostsPerRun"`
}

// AlertsConfig selects which verified offers qualify for immediate alerts.
type AlertsConfig struct {
	PriorityContinents []string `yaml:"priorityContinents"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChannelEnv); v != "" {
		c.Telegram.ChannelID = v
	}
	if v := os.Getenv(telegramSecretEnv); v != "" {
		c.Telegram.Secret = v
	}
	if v := os.Getenv(telegraphTokenEnv); v != "" {
		c.Telegraph.Token = v
	}
	if v := os.Getenv(geminiAPIKeyEnv); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv(perplexityAPIKeyEnv); v != "" {
		c.Perplexity.APIKey = v
	}
	if v := os.Getenv(bucketNameEnv); v != "" {
		c.State.Bucket = v
	}
	if v := os.Getenv(stateObjectEnv); v != "" {
		c.State.Object = v
	}
	if v := os.Getenv(portEnv); v != "" {
		c.HTTP.Port = v
	}
	if v, ok := envInt(dedupTTLEnv); ok {
		c.Pipeline.DedupTTLHours = v
	}
	if v, ok := envInt(deleteAfterEnv); ok {
		c.Pipeline.DeleteAfterHours = v
	}
	if v, ok := envInt(maxPostsEnv); ok {
		c.Pipeline.MaxPostsPerRun = v
	}
	if v, ok := envInt(maxPerDomainEnv); ok {
		c.Feeds.MaxPerDomain = v
	}
	if v, ok := envInt(hostConcurrencyEnv); ok {
		c.Feeds.PerHostConcurrency = v
	}
	if raw := os.Getenv(httpTimeoutEnv); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			c.Feeds.HTTPTimeoutSec = v
		}
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: ignoring non-numeric %s=%q", name, raw)
		return 0, false
	}
	return v, true
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.HTTP.Port != "" {
		base.HTTP.Port = override.HTTP.Port
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.State.Bucket != "" {
		base.State.Bucket = override.State.Bucket
	}
	if override.State.Object != "" {
		base.State.Object = override.State.Object
	}
	if override.State.LocalPath != "" {
		base.State.LocalPath = override.State.LocalPath
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if override.Scheduler.MorningFlushHour != 0 {
		base.Scheduler.MorningFlushHour = override.Scheduler.MorningFlushHour
	}
	if override.Scheduler.EveningFlushHour != 0 {
		base.Scheduler.EveningFlushHour = override.Scheduler.EveningFlushHour
	}

	if len(override.Feeds.Sources) > 0 {
		base.Feeds.Sources = override.Feeds.Sources
	}
	if override.Feeds.MaxPerDomain != 0 {
		base.Feeds.MaxPerDomain = override.Feeds.MaxPerDomain
	}
	if override.Feeds.PerHostConcurrency != 0 {
		base.Feeds.PerHostConcurrency = override.Feeds.PerHostConcurrency
	}
	if override.Feeds.JitterMinMs != 0 {
		base.Feeds.JitterMinMs = override.Feeds.JitterMinMs
	}
	if override.Feeds.JitterMaxMs != 0 {
		base.Feeds.JitterMaxMs = override.Feeds.JitterMaxMs
	}
	if override.Feeds.HTTPTimeoutSec != 0 {
		base.Feeds.HTTPTimeoutSec = override.Feeds.HTTPTimeoutSec
	}
	if len(override.Feeds.NoScrapeHosts) > 0 {
		base.Feeds.NoScrapeHosts = override.Feeds.NoScrapeHosts
	}
	if len(override.Feeds.DomainHeaders) > 0 {
		base.Feeds.DomainHeaders = override.Feeds.DomainHeaders
	}

	if override.Gemini.Endpoint != "" {
		base.Gemini.Endpoint = override.Gemini.Endpoint
	}
	if override.Gemini.Model != "" {
		base.Gemini.Model = override.Gemini.Model
	}
	if override.Gemini.APIKey != "" {
		base.Gemini.APIKey = override.Gemini.APIKey
	}
	if override.Gemini.BatchSize != 0 {
		base.Gemini.BatchSize = override.Gemini.BatchSize
	}
	if override.Gemini.BatchPauseSec != 0 {
		base.Gemini.BatchPauseSec = override.Gemini.BatchPauseSec
	}

	if override.Perplexity.Endpoint != "" {
		base.Perplexity.Endpoint = override.Perplexity.Endpoint
	}
	if override.Perplexity.Model != "" {
		base.Perplexity.Model = override.Perplexity.Model
	}
	if override.Perplexity.APIKey != "" {
		base.Perplexity.APIKey = override.Perplexity.APIKey
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.ChannelID != "" {
		base.Telegram.ChannelID = override.Telegram.ChannelID
	}
	if override.Telegram.Secret != "" {
		base.Telegram.Secret = override.Telegram.Secret
	}
	if override.Telegraph.Token != "" {
		base.Telegraph.Token = override.Telegraph.Token
	}
	if override.Telegraph.AuthorName != "" {
		base.Telegraph.AuthorName = override.Telegraph.AuthorName
	}

	if override.Pipeline.HighThreshold != 0 {
		base.Pipeline.HighThreshold = override.Pipeline.HighThreshold
	}
	if override.Pipeline.ConvictionFloor != 0 {
		base.Pipeline.ConvictionFloor = override.Pipeline.ConvictionFloor
	}
	if override.Pipeline.DedupTTLHours != 0 {
		base.Pipeline.DedupTTLHours = override.Pipeline.DedupTTLHours
	}
	if override.Pipeline.DeleteAfterHours != 0 {
		base.Pipeline.DeleteAfterHours = override.Pipeline.DeleteAfterHours
	}
	if override.Pipeline.MaxPostsPerRun != 0 {
		base.Pipeline.MaxPostsPerRun = override.Pipeline.MaxPostsPerRun
	}

	if len(override.Alerts.PriorityContinents) > 0 {
		base.Alerts.PriorityContinents = override.Alerts.PriorityContinents
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		HTTP:    HTTPConfig{Port: "8080"},
		Logging: LoggingConfig{Level: "info"},
		State: StateConfig{
			Object:    "sent_links.json",
			LocalPath: "state.json",
		},
		Scheduler: SchedulerConfig{
			CronExpression:   "0 * * * *",
			Timezone:         defaultTimezone,
			MorningFlushHour: 10,
			EveningFlushHour: 20,
			location:         tz,
		},
		Feeds: FeedsConfig{
			Sources: []string{
				"https://www.fly4free.pl/feed/",
				"https://www.wakacyjnipiraci.pl/feed",
				"https://www.theflightdeal.com/feed/",
				"https://www.holidaypirates.com/feed",
			},
			MaxPerDomain:       8,
			PerHostConcurrency: 2,
			JitterMinMs:        120,
			JitterMaxMs:        400,
			HTTPTimeoutSec:     15,
			NoScrapeHosts:      []string{"secretflying.com"},
		},
		Gemini: GeminiConfig{
			Endpoint:      "https://generativelanguage.googleapis.com/v1beta/models",
			Model:         "gemini-2.5-flash",
			BatchSize:     5,
			BatchPauseSec: 1,
		},
		Perplexity: PerplexityConfig{
			Endpoint: "https://api.perplexity.ai/chat/completions",
			Model:    "sonar",
		},
		Telegraph: TelegraphConfig{AuthorName: "Deal Scanner"},
		Pipeline: PipelineConfig{
			HighThreshold:    9,
			ConvictionFloor:  7,
			DedupTTLHours:    336,
			DeleteAfterHours: 48,
		},
		Alerts: AlertsConfig{PriorityContinents: []string{"Europe"}},
	}
}
