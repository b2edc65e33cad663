package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SlotMemory   = "memory"
	SlotFile     = "file"
	SlotRedis    = "redis"
	SlotSQLite   = "sqlite"
	SlotPostgres = "postgres"
)

// Config holds the service settings. Values come from defaults, then the optional
// YAML file named by CONFIG_FILE, then environment variables (a .env file included).
type Config struct {
	ServiceName string `yaml:"service_name"`
	Env         string `yaml:"env"`
	LogLevel    string `yaml:"log_level"`
	HTTPAddr    string `yaml:"http_addr"`

	Catalog CatalogConfig `yaml:"catalog"`
	Cart    CartConfig    `yaml:"cart"`
	Slot    SlotConfig    `yaml:"slot"`
}

type CatalogConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type CartConfig struct {
	Key              string `yaml:"key"`
	NotificationFeed int    `yaml:"notification_feed"`
}

type SlotConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	RedisURL string `yaml:"redis_url"`
}

func Default() Config {
	return Config{
		ServiceName: "minishop-cart",
		Env:         "dev",
		LogLevel:    "info",
		HTTPAddr:    ":8080",
		Catalog: CatalogConfig{
			BaseURL: "http://localhost:3333",
			Timeout: 5 * time.Second,
		},
		Cart: CartConfig{
			Key:              "@RocketShoes:cart",
			NotificationFeed: 50,
		},
		Slot: SlotConfig{
			Backend: SlotFile,
			Path:    "data/cart-slots.json",
		},
	}
}

// Load reads .env (if present), the YAML file from CONFIG_FILE (if set) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.ServiceName, "SERVICE_NAME")
	setString(&c.Env, "ENV")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.Catalog.BaseURL, "CATALOG_BASE_URL")
	setString(&c.Cart.Key, "CART_KEY")
	setString(&c.Slot.Backend, "SLOT_BACKEND")
	setString(&c.Slot.Path, "SLOT_PATH")
	setString(&c.Slot.DSN, "SLOT_DSN")
	setString(&c.Slot.RedisURL, "REDIS_URL")

	if v := os.Getenv("CATALOG_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CATALOG_TIMEOUT: %w", err)
		}
		c.Catalog.Timeout = d
	}
	if v := os.Getenv("NOTIFICATION_FEED_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: NOTIFICATION_FEED_SIZE: %w", err)
		}
		c.Cart.NotificationFeed = n
	}
	return nil
}

func (c Config) Validate() error {
	if c.Catalog.BaseURL == "" {
		return errors.New("config: catalog base url is required")
	}
	if c.Catalog.Timeout < 0 {
		return errors.New("config: catalog timeout must not be negative")
	}
	if c.Cart.Key == "" {
		return errors.New("config: cart key is required")
	}
	switch c.Slot.Backend {
	case SlotMemory:
	case SlotFile:
		if c.Slot.Path == "" {
			return errors.New("config: slot path is required for the file backend")
		}
	case SlotRedis:
		if c.Slot.RedisURL == "" {
			return errors.New("config: REDIS_URL is required for the redis backend")
		}
	case SlotSQLite, SlotPostgres:
		if c.Slot.DSN == "" {
			return fmt.Errorf("config: SLOT_DSN is required for the %s backend", c.Slot.Backend)
		}
	default:
		return fmt.Errorf("config: unknown slot backend %q", c.Slot.Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
