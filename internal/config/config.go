package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port               string        `yaml:"port"`
	QueueCapacity      int           `yaml:"queue_capacity"`
	QueueTTL           time.Duration `yaml:"queue_ttl"`
	QueueFullPolicy    string        `yaml:"queue_full_policy"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
}

func Default() Config {
	return Config{
		Port:               "8080",
		QueueCapacity:      100,
		QueueTTL:           time.Hour,
		QueueFullPolicy:    "evict",
		SweepInterval:      time.Minute,
		RateLimitPerMinute: 120,
		RateLimitBurst:     30,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load applies defaults, then the YAML file at path if one is given, then
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("WAITLIST_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "parse config file")
		}
	}

	cfg.Port = readString("PORT", cfg.Port)
	cfg.QueueCapacity = readInt("QUEUE_CAPACITY", cfg.QueueCapacity)
	cfg.QueueTTL = readDurationSeconds("QUEUE_TTL_SECONDS", cfg.QueueTTL)
	cfg.QueueFullPolicy = readString("QUEUE_FULL_POLICY", cfg.QueueFullPolicy)
	cfg.SweepInterval = readDurationSeconds("SWEEP_INTERVAL_SECONDS", cfg.SweepInterval)
	cfg.RateLimitPerMinute = readInt("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMinute)
	cfg.RateLimitBurst = readInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.LogLevel = readString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = readString("LOG_FORMAT", cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return errors.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.QueueTTL <= 0 {
		return errors.Errorf("queue_ttl must be positive, got %s", c.QueueTTL)
	}
	switch c.QueueFullPolicy {
	case "evict", "reject":
	default:
		return errors.Errorf("queue_full_policy must be evict or reject, got %q", c.QueueFullPolicy)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return errors.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	return nil
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
}

// readDurationSeconds keeps fallback for unset or unparsable values and
// returns 0 for non-positive ones.
func readDurationSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
