// Package config loads the kudos configuration from YAML, applies
// environment overrides and validates the result against an embedded CUE
// schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// ErrInvalid wraps every schema violation.
var ErrInvalid = errors.New("invalid config")

// Config is the full pipeline configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Batch     BatchConfig     `yaml:"batch"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Feed      FeedConfig      `yaml:"feed"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig selects the Redis backend. An empty Addr runs the pipeline
// on in-process state and queues.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// Enabled reports whether Redis backs the ephemeral store and queues.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// BatchConfig bounds each worker's buffer.
type BatchConfig struct {
	Size    int           `yaml:"size"`
	MaxWait time.Duration `yaml:"max_wait"`
}

// ReconcileConfig sets the sweep policy and cron schedule.
type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Policy   string `yaml:"policy"`
}

// FeedConfig tunes feed composition.
type FeedConfig struct {
	DefaultLimit    int           `yaml:"default_limit"`
	FollowingPage   int           `yaml:"following_page"`
	FollowingWindow time.Duration `yaml:"following_window"`
	SeenTTL         time.Duration `yaml:"seen_ttl"`
}

// LoggingConfig sets the logrus level and formatter.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint served by serve.
type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "kudos.db"},
		Redis:    RedisConfig{PollTimeout: time.Second},
		Batch: BatchConfig{
			Size:    50,
			MaxWait: 120 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
			Policy:   "explicit_intent",
		},
		Feed: FeedConfig{
			DefaultLimit:    20,
			FollowingPage:   10,
			FollowingWindow: 24 * time.Hour,
			SeenTTL:         24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KUDOS_"

type loadOptions struct {
	lookupEnv func(string) (string, bool)
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) { o.lookupEnv = fn }
}

// Load reads the YAML file at path over the defaults, applies KUDOS_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string, opts ...LoadOption) (Config, error) {
	o := loadOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(o.lookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"DATABASE", &c.Database.Path},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"METRICS_ADDR", &c.Metrics.Addr},
		{"LOG_LEVEL", &c.Logging.Level},
	}
	for _, o := range overrides {
		if v, ok := lookup(EnvPrefix + o.name); ok {
			*o.dst = v
		}
	}
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	schema, err := schemaValue()
	if err != nil {
		return err
	}
	if err := cueyaml.Validate(data, schema); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	return nil
}

func schemaValue() (cue.Value, error) {
	v := cuecontext.New().CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile config schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Config")), nil
}

// NewLogger builds a logrus logger from the logging section.
func (c LoggingConfig) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
