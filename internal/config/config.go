package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/leadgen-cli/internal/db"
	"github.com/sells-group/leadgen-cli/internal/extract"
)

// Config is the top-level configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Extract    extract.Config   `yaml:"extract" mapstructure:"extract"`
	Files      FilesConfig      `yaml:"files" mapstructure:"files"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Targets    TargetsConfig    `yaml:"targets" mapstructure:"targets"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig selects and configures the job/record database.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url" validate:"required_if=Driver postgres"`
	SQLitePath  string        `yaml:"sqlite_path" mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ServerConfig configures the job submission API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	EmbedWorker bool     `yaml:"embed_worker" mapstructure:"embed_worker"`
}

// WorkerConfig configures the job worker pool and recovery sweep.
type WorkerConfig struct {
	Concurrency           int    `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1"`
	FetchMaxAttempts      int    `yaml:"fetch_max_attempts" mapstructure:"fetch_max_attempts" validate:"min=1"`
	FetchInitialBackoffMs int    `yaml:"fetch_initial_backoff_ms" mapstructure:"fetch_initial_backoff_ms"`
	FetchMaxBackoffMs     int    `yaml:"fetch_max_backoff_ms" mapstructure:"fetch_max_backoff_ms"`
	RecoverCron           string `yaml:"recover_cron" mapstructure:"recover_cron"`
	StaleAfterMins        int    `yaml:"stale_after_mins" mapstructure:"stale_after_mins" validate:"min=1"`
}

// QueueConfig selects the work queue.
type QueueConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver" validate:"oneof=memory redis"`
	RedisURL        string `yaml:"redis_url" mapstructure:"redis_url" validate:"required_if=Driver redis"`
	Stream          string `yaml:"stream" mapstructure:"stream"`
	Group           string `yaml:"group" mapstructure:"group"`
	Consumer        string `yaml:"consumer" mapstructure:"consumer"`
	ReclaimIdleSecs int    `yaml:"reclaim_idle_secs" mapstructure:"reclaim_idle_secs"`
	BlockMs         int    `yaml:"block_ms" mapstructure:"block_ms"`
	DeadMaxLen      int64  `yaml:"dead_max_len" mapstructure:"dead_max_len"`
	MemorySize      int    `yaml:"memory_size" mapstructure:"memory_size"`
}

// ScrapeConfig configures page fetching.
type ScrapeConfig struct {
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RatePerSec      float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst           int      `yaml:"burst" mapstructure:"burst"`
	RespectRobots   bool     `yaml:"respect_robots" mapstructure:"respect_robots"`
	RobotsCacheMins int      `yaml:"robots_cache_mins" mapstructure:"robots_cache_mins"`
	Proxies         []string `yaml:"proxies" mapstructure:"proxies" validate:"dive,url"`
	JinaFallback    bool     `yaml:"jina_fallback" mapstructure:"jina_fallback"`
	ExcludePaths    []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// FilesConfig configures uploaded-file retrieval for file_upload jobs.
type FilesConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// JinaConfig configures the Jina Reader and Search client.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// GoogleConfig configures the Places API client.
type GoogleConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	MaxResults int    `yaml:"max_results" mapstructure:"max_results"`
}

// TargetsConfig caps target resolution.
type TargetsConfig struct {
	MaxTargets int `yaml:"max_targets" mapstructure:"max_targets" validate:"min=1"`
	MaxPages   int `yaml:"max_pages" mapstructure:"max_pages"`
}

// MonitoringConfig configures alert thresholds and the webhook.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	DeadLetterThreshold  int64   `yaml:"dead_letter_threshold" mapstructure:"dead_letter_threshold"`
	ProcessingThreshold  int     `yaml:"processing_threshold" mapstructure:"processing_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	AlertCooldownMins    int     `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// Load reads configuration from an optional .env file, config.yaml and
// LEADGEN_* environment variables, in increasing precedence.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "leadgen.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.embed_worker", false)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.fetch_max_attempts", 3)
	v.SetDefault("worker.fetch_initial_backoff_ms", 500)
	v.SetDefault("worker.fetch_max_backoff_ms", 30000)
	v.SetDefault("worker.recover_cron", "@every 5m")
	v.SetDefault("worker.stale_after_mins", 30)
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.redis_url", "redis://localhost:6379/0")
	v.SetDefault("queue.stream", "leadgen:jobs")
	v.SetDefault("queue.group", "workers")
	v.SetDefault("queue.consumer", "")
	v.SetDefault("queue.reclaim_idle_secs", 600)
	v.SetDefault("queue.block_ms", 5000)
	v.SetDefault("queue.dead_max_len", 10000)
	v.SetDefault("queue.memory_size", 1024)
	v.SetDefault("scrape.user_agent", "")
	v.SetDefault("scrape.timeout_secs", 30)
	v.SetDefault("scrape.max_body_bytes", 2<<20)
	v.SetDefault("scrape.rate_per_sec", 1.0)
	v.SetDefault("scrape.burst", 2)
	v.SetDefault("scrape.respect_robots", true)
	v.SetDefault("scrape.robots_cache_mins", 60)
	v.SetDefault("scrape.proxies", []string{})
	v.SetDefault("scrape.jina_fallback", true)
	v.SetDefault("scrape.exclude_paths", []string{})
	v.SetDefault("files.timeout_secs", 60)
	v.SetDefault("files.rate_per_sec", 5.0)
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.max_results", 20)
	v.SetDefault("targets.max_targets", 50)
	v.SetDefault("targets.max_pages", 1)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.dead_letter_threshold", 10)
	v.SetDefault("monitoring.processing_threshold", 20)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	ex := extract.DefaultConfig()
	v.SetDefault("extract.title_confidence", ex.TitleConfidence)
	v.SetDefault("extract.heading_confidence", ex.HeadingConfidence)
	v.SetDefault("extract.selector_confidence", ex.SelectorConfidence)
	v.SetDefault("extract.email_confidence", ex.EmailConfidence)
	v.SetDefault("extract.phone_parsed_confidence", ex.PhoneParsedConfidence)
	v.SetDefault("extract.phone_raw_confidence", ex.PhoneRawConfidence)
	v.SetDefault("extract.address_strict_confidence", ex.AddressStrictConfidence)
	v.SetDefault("extract.address_fallback_confidence", ex.AddressFallbackConfidence)
	v.SetDefault("extract.website_confidence", ex.WebsiteConfidence)
	v.SetDefault("extract.name_min_len", ex.NameMinLen)
	v.SetDefault("extract.name_max_len", ex.NameMaxLen)
	v.SetDefault("extract.region", ex.Region)
	v.SetDefault("extract.name_selectors", ex.NameSelectors)
}

// loadDotEnv exports the variables in path unless they are already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return eris.Wrapf(err, "config: load %s", path)
	}
	return nil
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	return nil
}

// InitLogger initializes the global zap logger based on config.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
