package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         string `yaml:"port" validate:"required"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`
	Store struct {
		Driver string `yaml:"driver" validate:"oneof=memory mongo postgres"`
	} `yaml:"store"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
	} `yaml:"redis"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Courses struct {
		BaseURL string `yaml:"base_url" validate:"required,url"`
		Timeout string `yaml:"timeout"`
		Retries int    `yaml:"retries" validate:"gte=0,lte=5"`
	} `yaml:"courses"`
	Monitor struct {
		SendBuffer int    `yaml:"send_buffer" validate:"gte=0"`
		WriteWait  string `yaml:"write_wait"`
		PongWait   string `yaml:"pong_wait"`
		Shards     int    `yaml:"shards" validate:"gte=0"`
	} `yaml:"monitor"`
	Relay struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"relay"`
}

// Load reads YAML config from path, applies a .env file and environment
// overrides on top, fills defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	override(&c.Server.Port, "PORT")
	override(&c.Store.Driver, "STORE_DRIVER")
	override(&c.Mongo.URI, "MONGO_URI")
	override(&c.Postgres.URL, "POSTGRES_URL")
	override(&c.Redis.Addr, "REDIS_ADDR")
	override(&c.Courses.BaseURL, "COURSES_SERVICE_URL")
}

func override(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "quizzes_db"
	}
	if c.Monitor.SendBuffer == 0 {
		c.Monitor.SendBuffer = 64
	}
}

var validate = validator.New()

// Validate checks field tags plus the backend-specific requirements and
// reports every failing field at once.
func (c Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" {
			problems = append(problems, "mongo.uri is required for the mongo store")
		}
	case "postgres":
		if c.Postgres.URL == "" {
			problems = append(problems, "postgres.url is required for the postgres store")
		}
	}
	if c.Relay.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when relay is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
