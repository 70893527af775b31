package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/rules"
)

// validate is shared by every config type. The "operator" tag accepts the
// rule operators understood by rules.ParseOperator.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
		_, err := rules.ParseOperator(fl.Field().String())
		return err == nil
	})
}

// Config is the service configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Store   Store   `yaml:"store"`
	Redis   Redis   `yaml:"redis"`
	Engine  Engine  `yaml:"engine"`
	Session Session `yaml:"session"`
	Log     Log     `yaml:"log"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	H2C             bool          `yaml:"h2c"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Store selects the knowledge-base repository.
type Store struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"`
}

// Redis enables the session journal when Addr is set.
type Redis struct {
	Addr     string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// Enabled reports whether a journal should be used.
func (r Redis) Enabled() bool { return r.Addr != "" }

// Engine tunes question selection.
type Engine struct {
	PriorityThreshold int `yaml:"priority_threshold" validate:"gte=0,lte=100"`
}

// Session controls in-memory session lifetime.
type Session struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	EvictInterval time.Duration `yaml:"evict_interval" validate:"gte=0"`
}

// Log configures zap.
type Log struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store:   Store{Driver: "memory"},
		Redis:   Redis{Prefix: "consult:session:", TTL: 24 * time.Hour},
		Engine:  Engine{PriorityThreshold: inference.DefaultPriorityThreshold},
		Session: Session{IdleTimeout: 30 * time.Minute, EvictInterval: time.Minute},
		Log:     Log{Level: "info"},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	return nil
}

// Build creates the zap logger described by l.
func (l Log) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
