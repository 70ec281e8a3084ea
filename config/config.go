package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServiceTitle is the human-facing service name reported by health
// checks and the dashboard.
const ServiceTitle = "Telewake Relay"

// Defaults mirror the service's legacy environment contract.
const (
	DefaultPort             = 9009
	DefaultDatabaseFile     = "relay.db"
	DefaultRetentionMinutes = 5
	DefaultDevicesLimit     = 5
	DefaultPlan             = "basic"
	DefaultQueueDepth       = 512
)

// Config carries the process configuration. Retention and queue depth
// are read through accessors because a watched config file can change
// them while the server runs.
type Config struct {
	Port         int
	DatabaseFile string
	Debug        bool
	LogFile      string
	AMQPURL      string

	DefaultPlan         string
	DefaultDevicesLimit int

	retentionMinutes atomic.Int64
	queueDepth       atomic.Int64
}

// Retention is how long queued envelopes may sit before the sweeper
// removes them.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.retentionMinutes.Load()) * time.Minute
}

// QueueDepth caps each target's in-memory queue.
func (c *Config) QueueDepth() int {
	return int(c.queueDepth.Load())
}

// BaseURL is the advertised address seeded into the server_config table
// on first start.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

var settingKeys = []string{
	"cloud_port",
	"database_file",
	"message_retention_minutes",
	"default_devices_limit",
	"default_plan",
	"queue_depth",
	"debug",
	"log_file",
	"amqp_url",
}

// Flags builds the server's command-line flag set. Flag names match the
// setting keys so a bound set overrides file and environment values.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.String("config_file", "", "path to the YAML configuration file")
	fs.Int("cloud_port", DefaultPort, "HTTP listen port")
	fs.String("database_file", DefaultDatabaseFile, "SQLite database path")
	fs.Int("message_retention_minutes", DefaultRetentionMinutes, "queued envelope retention")
	fs.Int("queue_depth", DefaultQueueDepth, "per-target memory queue cap")
	fs.Bool("debug", false, "enable debug logging")
	fs.String("log_file", "", "rotated JSON log destination, empty logs to stdout")
	fs.String("amqp_url", "", "AMQP broker URL for multi-node wakeups")
	return fs
}

// LoadConfig resolves settings from defaults, the optional YAML file,
// the environment and any bound flag sets, in rising precedence. When a
// file is given it is watched and the hot-reloadable settings apply
// without restart.
func LoadConfig(file string, flagSets ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("cloud_port", DefaultPort)
	v.SetDefault("database_file", DefaultDatabaseFile)
	v.SetDefault("message_retention_minutes", DefaultRetentionMinutes)
	v.SetDefault("default_devices_limit", DefaultDevicesLimit)
	v.SetDefault("default_plan", DefaultPlan)
	v.SetDefault("queue_depth", DefaultQueueDepth)
	v.SetDefault("debug", false)
	v.SetDefault("log_file", "")
	v.SetDefault("amqp_url", "")

	// Environment variables keep their legacy uppercase names.
	for _, key := range settingKeys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	for _, fs := range flagSets {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		Port:                v.GetInt("cloud_port"),
		DatabaseFile:        v.GetString("database_file"),
		Debug:               v.GetBool("debug"),
		LogFile:             v.GetString("log_file"),
		AMQPURL:             v.GetString("amqp_url"),
		DefaultPlan:         v.GetString("default_plan"),
		DefaultDevicesLimit: v.GetInt("default_devices_limit"),
	}
	cfg.retentionMinutes.Store(v.GetInt64("message_retention_minutes"))
	cfg.queueDepth.Store(v.GetInt64("queue_depth"))

	if file != "" {
		v.OnConfigChange(func(in fsnotify.Event) {
			cfg.retentionMinutes.Store(v.GetInt64("message_retention_minutes"))
			cfg.queueDepth.Store(v.GetInt64("queue_depth"))
			slog.Info("configuration reloaded",
				"file", in.Name,
				"retention", cfg.Retention().String(),
				"queue_depth", cfg.QueueDepth(),
			)
		})
		v.WatchConfig()
	}

	return cfg, nil
}
