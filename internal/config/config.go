package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/refineflow/orchestrator/internal/tracing"
)

// DefaultPath is read when no explicit config file is given.
const DefaultPath = "config/refineflow.yaml"

// EnvPrefix prefixes every environment override, e.g. REFINEFLOW_PROVIDER_NAME.
const EnvPrefix = "REFINEFLOW"

type ProviderConfig struct {
	Name         string        `mapstructure:"name"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKeyEnv    string        `mapstructure:"api_key_env"`
	DefaultModel string        `mapstructure:"default_model"`
	Temperature  float64       `mapstructure:"temperature"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// APIKey reads the key from the configured environment variable.
func (p ProviderConfig) APIKey() string {
	return os.Getenv(p.APIKeyEnv)
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RecordsConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
}

// Enabled reports whether execution records go to SQL.
func (r RecordsConfig) Enabled() bool { return r.Driver != "" }

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Settings is the full runtime configuration.
type Settings struct {
	Provider         ProviderConfig `mapstructure:"provider"`
	ModelsConfigPath string         `mapstructure:"models_config_path"`
	TemplatesDir     string         `mapstructure:"templates_dir"`
	TemplatesWatch   bool           `mapstructure:"templates_watch"`
	Store            StoreConfig    `mapstructure:"store"`
	Redis            RedisConfig    `mapstructure:"redis"`
	Lock             LockConfig     `mapstructure:"lock"`
	Records          RecordsConfig  `mapstructure:"records"`
	Logging          LoggingConfig  `mapstructure:"logging"`
	Tracing          tracing.Config `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.name", "openai")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key_env", "")
	v.SetDefault("provider.default_model", "gpt-5-mini")
	v.SetDefault("provider.temperature", 0.7)
	v.SetDefault("provider.timeout", 60*time.Second)

	v.SetDefault("models_config_path", "config/models.yaml")
	v.SetDefault("templates_dir", "")
	v.SetDefault("templates_watch", false)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "refineflow:")

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.ttl", 2*time.Minute)

	v.SetDefault("records.driver", "")
	v.SetDefault("records.dsn", "")
	v.SetDefault("records.workers", 2)
	v.SetDefault("records.queue_size", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "refineflow")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads settings from path (DefaultPath when empty), then applies
// REFINEFLOW_* environment overrides. A missing file at the default path
// is not an error; a missing explicit path is.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if s.Provider.APIKeyEnv == "" {
		s.Provider.APIKeyEnv = defaultAPIKeyEnv(s.Provider.Name)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func defaultAPIKeyEnv(provider string) string {
	if strings.EqualFold(provider, "gemini") {
		return "GEMINI_API_KEY"
	}
	return "OPENAI_API_KEY"
}

// LeaseMargin is the minimum slack between a provider call's timeout and
// the redis lease TTL, covering prompt composition, validation and the save.
const LeaseMargin = 30 * time.Second

// Validate rejects settings no component can run with.
func (s *Settings) Validate() error {
	switch s.Provider.Name {
	case "openai", "gemini":
	default:
		return fmt.Errorf("provider.name: unknown provider %q (want openai or gemini)", s.Provider.Name)
	}
	if s.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive, got %s", s.Provider.Timeout)
	}
	if strings.TrimSpace(s.Provider.DefaultModel) == "" {
		return errors.New("provider.default_model must not be empty")
	}
	if s.Provider.Temperature < 0 || s.Provider.Temperature > 2 {
		return fmt.Errorf("provider.temperature must be within [0, 2], got %g", s.Provider.Temperature)
	}
	switch s.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("store.backend: unknown backend %q (want memory or redis)", s.Store.Backend)
	}
	switch s.Lock.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("lock.backend: unknown backend %q (want local or redis)", s.Lock.Backend)
	}
	if s.Lock.Backend == "redis" && s.Lock.TTL <= s.Provider.Timeout+LeaseMargin {
		return fmt.Errorf("lock.ttl (%s) must exceed provider.timeout (%s) by more than %s for the redis backend",
			s.Lock.TTL, s.Provider.Timeout, LeaseMargin)
	}
	switch s.Records.Driver {
	case "", "postgres", "sqlite3":
	default:
		return fmt.Errorf("records.driver: unknown driver %q (want postgres or sqlite3)", s.Records.Driver)
	}
	if s.Records.Enabled() && s.Records.DSN == "" {
		return errors.New("records.dsn is required when records.driver is set")
	}
	if s.Records.Workers <= 0 || s.Records.QueueSize <= 0 {
		return errors.New("records.workers and records.queue_size must be positive")
	}
	switch s.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format: unknown format %q (want json or console)", s.Logging.Format)
	}
	return nil
}
