package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig              `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig          `yaml:"anthropic" mapstructure:"anthropic"`
	OCR        OCRConfig                `yaml:"ocr" mapstructure:"ocr"`
	ERP        ERPConfig                `yaml:"erp" mapstructure:"erp"`
	Redis      RedisConfig              `yaml:"redis" mapstructure:"redis"`
	DocStore   DocStoreConfig           `yaml:"docstore" mapstructure:"docstore"`
	Notify     NotifyConfig             `yaml:"notify" mapstructure:"notify"`
	Pipeline   PipelineConfig           `yaml:"pipeline" mapstructure:"pipeline"`
	Worker     WorkerConfig             `yaml:"worker" mapstructure:"worker"`
	Monitoring MonitoringConfig         `yaml:"monitoring" mapstructure:"monitoring"`
	Companies  map[string]CompanyConfig `yaml:"companies" mapstructure:"companies"`
	Log        LogConfig                `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the metadata store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings used by classification and extraction.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	ClassifyModel string `yaml:"classify_model" mapstructure:"classify_model"`
	ExtractModel  string `yaml:"extract_model" mapstructure:"extract_model"`
	MaxTokens     int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OCRConfig configures how document content is presented to the model.
// Mode "native" attaches PDFs and images directly; "text" extracts text first.
type OCRConfig struct {
	Mode          string `yaml:"mode" mapstructure:"mode"`
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// ERPConfig holds Odoo connection settings shared by all companies.
type ERPConfig struct {
	URL              string      `yaml:"url" mapstructure:"url"`
	Database         string      `yaml:"database" mapstructure:"database"`
	Username         string      `yaml:"username" mapstructure:"username"`
	APIKey           string      `yaml:"api_key" mapstructure:"api_key"`
	RateLimit        float64     `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs      int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry            RetryConfig `yaml:"retry" mapstructure:"retry"`
	BreakerThreshold int         `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int         `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// RetryConfig mirrors resilience.RetryConfig in config-friendly units.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// RedisConfig configures the distributed document lease. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	PoolSize int    `yaml:"pool_size" mapstructure:"pool_size"`
}

// DocStoreConfig configures raw document storage.
type DocStoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	CredentialsJSON string `yaml:"credentials_json" mapstructure:"credentials_json"`
	LocalDir        string `yaml:"local_dir" mapstructure:"local_dir"`
}

// NotifyConfig configures terminal-state notifications. Empty Topic logs instead.
type NotifyConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Topic           string `yaml:"topic" mapstructure:"topic"`
	CredentialsJSON string `yaml:"credentials_json" mapstructure:"credentials_json"`
}

// PipelineConfig configures stage behavior.
type PipelineConfig struct {
	ConfidenceThreshold float64     `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	AmountTolerance     string      `yaml:"amount_tolerance" mapstructure:"amount_tolerance"`
	MaxPastYears        int         `yaml:"max_past_years" mapstructure:"max_past_years"`
	MaxFutureYears      int         `yaml:"max_future_years" mapstructure:"max_future_years"`
	LeaseTTLSecs        int         `yaml:"lease_ttl_secs" mapstructure:"lease_ttl_secs"`
	SplitByGroup        bool        `yaml:"split_by_group" mapstructure:"split_by_group"`
	RulesPath           string      `yaml:"rules_path" mapstructure:"rules_path"`
	ClassifyRetry       RetryConfig `yaml:"classify_retry" mapstructure:"classify_retry"`
}

// WorkerConfig configures the polling worker.
type WorkerConfig struct {
	ID          string `yaml:"id" mapstructure:"id"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	PollSecs    int    `yaml:"poll_secs" mapstructure:"poll_secs"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// MonitoringConfig configures the stalled-document checker.
type MonitoringConfig struct {
	CheckIntervalSecs  int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StalledAfterMins   int    `yaml:"stalled_after_mins" mapstructure:"stalled_after_mins"`
	MaxPostingFailures int    `yaml:"max_posting_failures" mapstructure:"max_posting_failures"`
	WebhookURL         string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// CompanyConfig is the per-company context: ERP credentials, flags and
// control accounts. Empty fields fall back to the shared defaults.
type CompanyConfig struct {
	Name         string            `yaml:"name" mapstructure:"name"`
	BaseCurrency string            `yaml:"base_currency" mapstructure:"base_currency"`
	Flags        []string          `yaml:"flags" mapstructure:"flags"`
	ERPCompanyID int64             `yaml:"erp_company_id" mapstructure:"erp_company_id"`
	ERPUsername  string            `yaml:"erp_username" mapstructure:"erp_username"`
	ERPAPIKey    string            `yaml:"erp_api_key" mapstructure:"erp_api_key"`
	JournalCode  string            `yaml:"journal_code" mapstructure:"journal_code"`
	Controls     map[string]string `yaml:"controls" mapstructure:"controls"`
	RulesPath    string            `yaml:"rules_path" mapstructure:"rules_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.classify_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.extract_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("ocr.mode", "native")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "pixtral-large-latest")
	v.SetDefault("erp.rate_limit", 5.0)
	v.SetDefault("erp.timeout_secs", 30)
	v.SetDefault("erp.retry.max_attempts", 5)
	v.SetDefault("erp.retry.initial_backoff_ms", 1000)
	v.SetDefault("erp.retry.max_backoff_ms", 30000)
	v.SetDefault("erp.retry.multiplier", 2.0)
	v.SetDefault("erp.retry.jitter_fraction", 0.25)
	v.SetDefault("erp.breaker_threshold", 5)
	v.SetDefault("erp.breaker_reset_secs", 30)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("docstore.driver", "local")
	v.SetDefault("docstore.local_dir", "documents")
	v.SetDefault("pipeline.confidence_threshold", 0.6)
	v.SetDefault("pipeline.amount_tolerance", "0.01")
	v.SetDefault("pipeline.max_past_years", 10)
	v.SetDefault("pipeline.max_future_years", 1)
	v.SetDefault("pipeline.lease_ttl_secs", 300)
	v.SetDefault("pipeline.classify_retry.max_attempts", 4)
	v.SetDefault("pipeline.classify_retry.initial_backoff_ms", 500)
	v.SetDefault("pipeline.classify_retry.max_backoff_ms", 20000)
	v.SetDefault("pipeline.classify_retry.multiplier", 2.0)
	v.SetDefault("pipeline.classify_retry.jitter_fraction", 0.25)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_secs", 10)
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stalled_after_mins", 30)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.max_posting_failures", 0)

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

	return &cfg, nil
}

// Validate checks that the settings required by a command mode are present.
// Modes: "store" (metadata store only), "pipeline" (full processing).
func (c *Config) Validate(mode string) error {
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgres (LEDGER_STORE_DATABASE_URL)")
	}
	if mode == "store" {
		return nil
	}

	var missing []string
	if c.Anthropic.Key == "" {
		missing = append(missing, "anthropic.key")
	}
	if c.ERP.URL == "" {
		missing = append(missing, "erp.url")
	}
	if c.ERP.Database == "" {
		missing = append(missing, "erp.database")
	}
	if c.DocStore.Driver == "gcs" && c.DocStore.Bucket == "" {
		missing = append(missing, "docstore.bucket")
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return eris.Errorf("config: pipeline.confidence_threshold must be within [0,1], got %v", c.Pipeline.ConfidenceThreshold)
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
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
