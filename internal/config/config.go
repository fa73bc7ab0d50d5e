// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig enables the title resolution cache when Addr is set.
type RedisConfig struct {
	Addr              string `mapstructure:"addr"`
	ResolveTTLMinutes int    `mapstructure:"resolve_ttl_minutes"`
}

// PubSubConfig holds metadata for job event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// GatewayConfig configures the upstream encyclopedia API client.
type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CrawlerConfig governs worker pool and traversal behavior.
type CrawlerConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	PollIntervalMs    int    `mapstructure:"poll_interval_ms"`
	MaxInFlight       int    `mapstructure:"max_in_flight"`
	MaxDegree         int    `mapstructure:"max_degree"`
	MaxLinksPerPage   int    `mapstructure:"max_links_per_page"`
	AllowNamespaces   string `mapstructure:"allow_namespaces"`
	StuckAfterMinutes int    `mapstructure:"stuck_after_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WIKIGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("redis.resolve_ttl_minutes", 60)
	v.SetDefault("gateway.base_url", "https://en.wikipedia.org/w/api.php")
	v.SetDefault("gateway.user_agent", "wikigraph-crawler/0.1")
	v.SetDefault("gateway.timeout_seconds", 30)
	v.SetDefault("crawler.concurrency", 6)
	v.SetDefault("crawler.poll_interval_ms", 1000)
	v.SetDefault("crawler.max_in_flight", 6)
	v.SetDefault("crawler.max_degree", 6)
	v.SetDefault("crawler.max_links_per_page", 0)
	v.SetDefault("crawler.allow_namespaces", "0")
	v.SetDefault("crawler.stuck_after_minutes", 120)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxDegree <= 0 {
		return fmt.Errorf("crawler.max_degree must be > 0")
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		return fmt.Errorf("gateway.timeout_seconds must be > 0")
	}
	if _, err := c.Crawler.Namespaces(); err != nil {
		return err
	}
	return nil
}

// Namespaces parses the allow list into numeric namespace ids.
func (c CrawlerConfig) Namespaces() ([]int, error) {
	raw := strings.TrimSpace(c.AllowNamespaces)
	if raw == "" {
		return []int{0}, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("crawler.allow_namespaces: invalid namespace %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

// PollInterval converts the poll setting into a duration.
func (c CrawlerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// StuckAfter converts the stuck job threshold into a duration.
func (c CrawlerConfig) StuckAfter() time.Duration {
	return time.Duration(c.StuckAfterMinutes) * time.Minute
}

// Timeout converts the gateway timeout into a duration.
func (c GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveTTL converts the cache TTL into a duration.
func (c RedisConfig) ResolveTTL() time.Duration {
	return time.Duration(c.ResolveTTLMinutes) * time.Minute
}
