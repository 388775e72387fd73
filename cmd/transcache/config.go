package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/transcache/pkg/encoding"
	responsetransformer "github.com/always-cache/transcache/pkg/response-transformer"
)

type Config struct {
	Settings `yaml:",inline"`
	Rules    responsetransformer.Rules `yaml:"rules"`
}

// Settings are the options that can also be set from the environment.
type Settings struct {
	Port   int    `yaml:"port" env:"PORT"`
	Origin string `yaml:"origin" env:"ORIGIN"`
	Host   string `yaml:"host" env:"HOST"`

	Provider    string `yaml:"provider" env:"PROVIDER"`
	DB          string `yaml:"db" env:"DB"`
	RedisAddr   string `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPrefix string `yaml:"redisPrefix" env:"REDIS_PREFIX"`
	MaxEntries  int    `yaml:"maxEntries" env:"MAX_ENTRIES"`
	MaxWeight   int    `yaml:"maxWeight" env:"MAX_WEIGHT"`
	// PurgeInterval is how often expired rows are deleted from the sqlite db.
	PurgeInterval time.Duration `yaml:"purgeInterval" env:"PURGE_INTERVAL"`

	Encodings           []string      `yaml:"encodings" env:"ENCODINGS"`
	StoreIdentity       bool          `yaml:"storeIdentity" env:"STORE_IDENTITY"`
	MinBodySize         int64         `yaml:"minBodySize" env:"MIN_BODY_SIZE"`
	MaxBodySize         int64         `yaml:"maxBodySize" env:"MAX_BODY_SIZE"`
	MinEncodableSize    int64         `yaml:"minEncodableSize" env:"MIN_ENCODABLE_SIZE"`
	DefaultDuration     time.Duration `yaml:"defaultDuration" env:"DEFAULT_DURATION"`
	DisableInvalidation bool          `yaml:"disableInvalidation" env:"DISABLE_INVALIDATION"`
	IgnoreQuery         []string      `yaml:"ignoreQuery" env:"IGNORE_QUERY"`
	// KeyHeaders are request headers added to the cache key.
	KeyHeaders []string `yaml:"keyHeaders" env:"KEY_HEADERS"`

	TLSCert string `yaml:"tlsCert" env:"TLS_CERT"`
	TLSKey  string `yaml:"tlsKey" env:"TLS_KEY"`
}

func defaultConfig() Config {
	return Config{Settings: Settings{
		Port:          8080,
		Provider:      "memory",
		DB:            "cache.db",
		RedisAddr:     "localhost:6379",
		RedisPrefix:   "transcache:",
		PurgeInterval: time.Minute,
	}}
}

// loadConfig reads the config file, if any, over the defaults and then the
// TRANSCACHE_ environment variables over the file.
func loadConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	if err := env.ParseWithOptions(&config.Settings, env.Options{Prefix: "TRANSCACHE_"}); err != nil {
		return config, err
	}
	return config, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Origin == "" {
		errs = append(errs, errors.New("origin is required"))
	} else if u, err := url.Parse(c.Origin); err != nil {
		errs = append(errs, fmt.Errorf("origin: %w", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("origin: unsupported scheme %q", u.Scheme))
	}
	if c.Port <= 0 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	switch c.Provider {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache provider: %s", c.Provider))
	}
	if _, err := c.encodings(); err != nil {
		errs = append(errs, err)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tlsCert and tlsKey must be set together"))
	}
	return errors.Join(errs...)
}

func (c Config) encodings() ([]encoding.Encoding, error) {
	var encodings []encoding.Encoding
	for _, name := range c.Encodings {
		e, ok := encoding.Parse(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", encoding.ErrUnsupported, name)
		}
		encodings = append(encodings, e)
	}
	return encodings, nil
}
