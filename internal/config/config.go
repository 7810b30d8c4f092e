// Package config holds the report server configuration, read from CLI flags
// with environment variable fallbacks.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/bitrix-report/pkg/bitrix"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

// Flag names.
const (
	FlagWebhookURL   = "webhook-url"
	FlagEntityTypeID = "entity-type-id"
	FlagPort         = "port"
	FlagLogLevel     = "log-level"
	FlagLogPretty    = "log-pretty"
	FlagRedisURL     = "redis-url"
	FlagTimeout      = "timeout"
)

// Config is the server configuration.
type Config struct {
	WebhookURL   string        `validate:"required,url"`
	EntityTypeID int           `validate:"gt=0"`
	Port         int           `validate:"min=1,max=65535"`
	LogLevel     string        `validate:"oneof=debug info warn error"`
	LogPretty    bool
	RedisURL     string
	Timeout      time.Duration `validate:"gt=0"`
}

// Default returns the configuration without a webhook URL.
func Default() Config {
	return Config{
		EntityTypeID: bitrix.DefaultEntityTypeID,
		Port:         8080,
		LogLevel:     "info",
		Timeout:      bitrix.DefaultTimeout,
	}
}

// Flags returns the CLI flags backing Config.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagWebhookURL,
			Usage:   "Bitrix24 inbound webhook base URL",
			EnvVars: []string{"BITRIX_WEBHOOK_URL"},
		},
		&cli.IntFlag{
			Name:    FlagEntityTypeID,
			Usage:   "Smart process entity type id",
			EnvVars: []string{"BITRIX_ENTITY_TYPE_ID"},
			Value:   d.EntityTypeID,
		},
		&cli.IntFlag{
			Name:    FlagPort,
			Aliases: []string{"p"},
			Usage:   "HTTP listen port",
			EnvVars: []string{"PORT"},
			Value:   d.Port,
		},
		&cli.StringFlag{
			Name:    FlagLogLevel,
			Usage:   "Log level (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   d.LogLevel,
		},
		&cli.BoolFlag{
			Name:    FlagLogPretty,
			Usage:   "Human-readable console logs",
			EnvVars: []string{"LOG_PRETTY"},
		},
		&cli.StringFlag{
			Name:    FlagRedisURL,
			Usage:   "Redis address or URL; enables operating budget tracking",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.DurationFlag{
			Name:    FlagTimeout,
			Usage:   "Timeout per Bitrix24 call",
			EnvVars: []string{"BITRIX_TIMEOUT"},
			Value:   d.Timeout,
		},
	}
}

// FromContext reads and validates the configuration from parsed flags.
func FromContext(c *cli.Context) (Config, error) {
	cfg := Config{
		WebhookURL:   strings.TrimSpace(c.String(FlagWebhookURL)),
		EntityTypeID: c.Int(FlagEntityTypeID),
		Port:         c.Int(FlagPort),
		LogLevel:     strings.ToLower(strings.TrimSpace(c.String(FlagLogLevel))),
		LogPretty:    c.Bool(FlagLogPretty),
		RedisURL:     strings.TrimSpace(c.String(FlagRedisURL)),
		Timeout:      c.Duration(FlagTimeout),
	}
	return cfg, cfg.Validate()
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.Newf("invalid config: %s failed %q", fe.Field(), fe.Tag())
		}
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// BitrixConfig returns the client configuration. redisClient may be nil.
func (c Config) BitrixConfig(redisClient *redis.Client) bitrix.Config {
	cfg := bitrix.DefaultConfig(c.WebhookURL)
	cfg.EntityTypeID = c.EntityTypeID
	cfg.Timeout = c.Timeout
	cfg.Redis = redisClient
	return cfg
}

// RedisOptions parses RedisURL. Both "redis://host:port/db" URLs and bare
// "host:port" addresses are accepted. Returns nil when Redis is not configured.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	if !strings.Contains(c.RedisURL, "://") {
		return &redis.Options{Addr: c.RedisURL}, nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse redis url %q", c.RedisURL)
	}
	return opts, nil
}
