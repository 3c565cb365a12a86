// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Twitter   TwitterConfig   `mapstructure:"twitter"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Pixiv     PixivConfig     `mapstructure:"pixiv"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store, which is useful for local preview-only runs.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HTTPConfig configures the outbound image-fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ResolverConfig governs candidate admission.
type ResolverConfig struct {
	MinImageBytes int `mapstructure:"min_image_bytes"`
}

// TwitterConfig holds the platform API credential and scrape fallbacks.
type TwitterConfig struct {
	BearerToken string `mapstructure:"bearer_token"`
	Debug       bool   `mapstructure:"debug"`
	NitterBase  string `mapstructure:"nitter_base"`
}

// HeadlessConfig configures the browser-automation strategy.
type HeadlessConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	HostQPS           float64 `mapstructure:"host_qps"`
}

// PixivConfig carries credentials for the authenticated art-host session.
type PixivConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// PublisherConfig holds metadata for preview-saved notifications.
type PublisherConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig selects where winning preview bytes are archived. When a
// bucket is set the GCS backend is used, otherwise the local directory.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FANART")
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
	v.SetDefault("http.timeout_seconds", 12)
	v.SetDefault("resolver.min_image_bytes", 10*1024)
	v.SetDefault("twitter.debug", false)
	v.SetDefault("twitter.nitter_base", "")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 20)
	v.SetDefault("headless.host_qps", 0.5)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.dir", "data/previews")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Resolver.MinImageBytes < 0 {
		return fmt.Errorf("resolver.min_image_bytes must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
	}
	if c.Publisher.Topic != "" && c.Publisher.ProjectID == "" {
		return fmt.Errorf("publisher.project_id must be set when publisher.topic is set")
	}
	if c.Archive.Enabled && c.Archive.Dir == "" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.dir or archive.gcs_bucket must be set when archive is enabled")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}
