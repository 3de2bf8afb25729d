// Package config loads the formflow runtime settings from an optional
// formflow.yaml and FORMFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. FORMFLOW_API_BASE_URL.
const EnvPrefix = "FORMFLOW"

// Config holds all runtime configuration.
type Config struct {
	API     APIConfig
	Log     LogConfig
	Notify  NotifyConfig
	Cache   CacheConfig
	Redis   RedisConfig
	Metrics MetricsConfig
	Forms   FormsConfig
}

// APIConfig describes the backend the client talks to.
type APIConfig struct {
	BaseURL        string
	Timeout        time.Duration
	Token          string
	OrganizationID string
	// JWTKey verifies Token when set; otherwise claims are read unverified.
	JWTKey    string
	UserAgent string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// NotifyConfig tunes the notification sink.
type NotifyConfig struct {
	Duration time.Duration
	Limit    int
}

// CacheConfig tunes the query cache.
type CacheConfig struct {
	StaleTime   time.Duration
	GCRetention time.Duration
	GCInterval  time.Duration
}

// RedisConfig enables cross-process invalidation when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// MetricsConfig toggles the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// FormsConfig points at an optional OpenAPI contract used instead of, or in
// addition to, the embedded catalog.
type FormsConfig struct {
	OpenAPI string
	Locale  string
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	file  string
	paths []string
}

// WithFile reads exactly this file instead of searching for formflow.yaml.
func WithFile(path string) Option {
	return func(o *loadOptions) {
		o.file = path
	}
}

// WithSearchPath adds a directory searched for formflow.yaml.
func WithSearchPath(dir string) Option {
	return func(o *loadOptions) {
		o.paths = append(o.paths, dir)
	}
}

// Load resolves configuration. Priority, highest first:
// 1. FORMFLOW_* environment variables
// 2. formflow.yaml
// 3. built-in defaults
func Load(opts ...Option) (*Config, error) {
	o := loadOptions{paths: []string{".", "$HOME/.config/formflow"}}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	v := viper.New()
	setDefaults(v)

	if o.file != "" {
		v.SetConfigFile(o.file)
	} else {
		v.SetConfigName("formflow")
		v.SetConfigType("yaml")
		for _, dir := range o.paths {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		API: APIConfig{
			BaseURL:        v.GetString("api.base_url"),
			Timeout:        v.GetDuration("api.timeout"),
			Token:          v.GetString("api.token"),
			OrganizationID: v.GetString("api.organization_id"),
			JWTKey:         v.GetString("api.jwt_key"),
			UserAgent:      v.GetString("api.user_agent"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Notify: NotifyConfig{
			Duration: v.GetDuration("notify.duration"),
			Limit:    v.GetInt("notify.limit"),
		},
		Cache: CacheConfig{
			StaleTime:   v.GetDuration("cache.stale_time"),
			GCRetention: v.GetDuration("cache.gc_retention"),
			GCInterval:  v.GetDuration("cache.gc_interval"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
		Metrics: MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
		},
		Forms: FormsConfig{
			OpenAPI: v.GetString("forms.openapi"),
			Locale:  v.GetString("forms.locale"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:3000")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.token", "")
	v.SetDefault("api.organization_id", "")
	v.SetDefault("api.jwt_key", "")
	v.SetDefault("api.user_agent", "formflow")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("notify.duration", 5*time.Second)
	v.SetDefault("notify.limit", 0)
	v.SetDefault("cache.stale_time", time.Duration(0))
	v.SetDefault("cache.gc_retention", 5*time.Minute)
	v.SetDefault("cache.gc_interval", time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "formflow:query:invalidate")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "formflow")
	v.SetDefault("forms.openapi", "")
	v.SetDefault("forms.locale", "pt-BR")
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var problems []string

	base, err := url.Parse(c.API.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		problems = append(problems, fmt.Sprintf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	if c.API.Timeout < 0 {
		problems = append(problems, "api.timeout must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if c.Notify.Duration < 0 {
		problems = append(problems, "notify.duration must not be negative")
	}
	if c.Notify.Limit < 0 {
		problems = append(problems, "notify.limit must not be negative")
	}
	if c.Redis.DB < 0 {
		problems = append(problems, "redis.db must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
