/*
Package config loads server and CLI settings.

PURPOSE:
  One Config struct for everything the binaries need. Values are layered:

    1. Defaults (Defaults())
    2. Optional YAML file (-config / WMS_CONFIG)
    3. WMS_* environment variables, "." replaced by "_"
       e.g. WMS_STORE_DRIVER=sqlite, WMS_KAFKA_BROKERS=k1:9092,k2:9092

EXAMPLE FILE:
  server:
    port: 8080
    allowed_origins: ["http://localhost:3000"]
  store:
    driver: sqlite
    path: ./data/wms.db
  redis:
    addr: localhost:6379
  kafka:
    brokers: ["localhost:9092"]
  sla:
    interval: 1m
  policy_file: ./policies.json

SEE ALSO:
  - cmd/server/main.go, cmd/wmsctl: consumers
  - factory/policy.go: policy_file format
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/warp/wms-engine/notify"
)

const envPrefix = "WMS"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type Config struct {
	Server     ServerConfig `mapstructure:"server" yaml:"server"`
	Log        LogConfig    `mapstructure:"log" yaml:"log"`
	Store      StoreConfig  `mapstructure:"store" yaml:"store"`
	Redis      RedisConfig  `mapstructure:"redis" yaml:"redis"`
	Kafka      KafkaConfig  `mapstructure:"kafka" yaml:"kafka"`
	SLA        SLAConfig    `mapstructure:"sla" yaml:"sla"`
	PolicyFile string       `mapstructure:"policy_file" yaml:"policy_file"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development" yaml:"development"`
	Level       string `mapstructure:"level" yaml:"level"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// RedisConfig enables the redis supply source when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// KafkaConfig enables the completion notifier when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

// SLAConfig controls the approval SLA monitor. Zero interval disables it.
type SLAConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Log:   LogConfig{Level: "info"},
		Store: StoreConfig{Driver: DriverSQLite, Path: "wms.db"},
		Kafka: KafkaConfig{Topic: notify.TopicRequestCompleted},
		SLA:   SLAConfig{Interval: time.Minute},
	}
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith loads through v so callers can bind command-line flags first.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("sla.interval", d.SLA.Interval)
	v.SetDefault("policy_file", "")
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port must be 1..65535, got %d", c.Server.Port)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config.store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be %q or %q, got %q", DriverMemory, DriverSQLite, c.Store.Driver)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("config.kafka.topic is required when brokers are set")
	}
	if c.SLA.Interval < 0 {
		return fmt.Errorf("config.sla.interval must not be negative")
	}
	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
