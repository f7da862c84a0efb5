package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP control-plane settings.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// MonitorConfig holds the observation-loop settings.
type MonitorConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// StorageConfig holds the persistence sink settings.
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DataDir string `mapstructure:"data_dir"`
}

// NotifyConfig holds the collaborator endpoints. Empty URLs disable the
// respective client.
type NotifyConfig struct {
	DiscoveryURL string `mapstructure:"discovery_url"`
	BillingURL   string `mapstructure:"billing_url"`
	RegistryURL  string `mapstructure:"registry_url"`
	InstanceID   string `mapstructure:"instance_id"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Storage StorageConfig `mapstructure:"storage"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"log"`
}

// Retention converts the configured retention days to a duration; zero or
// negative disables pruning.
func (c MonitorConfig) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Load reads the configuration. file may be empty; then only defaults and
// environment apply.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("monitor.interval", time.Minute)
	v.SetDefault("monitor.retention_days", 7)
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.data_dir", "/var/lib/orchestrator")
	v.SetDefault("notify.discovery_url", "")
	v.SetDefault("notify.billing_url", "")
	v.SetDefault("notify.registry_url", "")
	v.SetDefault("notify.instance_id", "orchestrator-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Monitor.Interval < time.Second {
		return nil, fmt.Errorf("monitor interval %s is below the 1s minimum", cfg.Monitor.Interval)
	}
	return &cfg, nil
}
