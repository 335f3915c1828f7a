package config

import (
	"github.com/spf13/viper"
)

// Config holds runtime settings for both the store server and the capture
// agent. Values come from viper: flags, TABSCOPE_* environment variables, or
// the optional YAML config file, in that order of precedence.
type Config struct {
	DatabaseURL   string
	APIPort       int
	CollectorURL  string
	CollectorKey  string
	RedisURL      string
	SignalFile    string
	UserID        string
	RetentionCron string
	Debug         bool
}

// SetDefaults registers default values with viper. Called once from the CLI
// before any command runs.
func SetDefaults() {
	viper.SetDefault("database_url", "tabscope.db")
	viper.SetDefault("api_port", 8080)
	viper.SetDefault("collector_url", "http://localhost:8080")
	viper.SetDefault("collector_key", "tabscope-dev-token")
	viper.SetDefault("redis_url", "")
	viper.SetDefault("signal_file", "signals.jsonl")
	viper.SetDefault("user_id", "anonymous")
	viper.SetDefault("retention_cron", "@hourly")
	viper.SetDefault("debug", false)
}

// Load reads the current configuration from viper.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:   viper.GetString("database_url"),
		APIPort:       viper.GetInt("api_port"),
		CollectorURL:  viper.GetString("collector_url"),
		CollectorKey:  viper.GetString("collector_key"),
		RedisURL:      viper.GetString("redis_url"),
		SignalFile:    viper.GetString("signal_file"),
		UserID:        viper.GetString("user_id"),
		RetentionCron: viper.GetString("retention_cron"),
		Debug:         viper.GetBool("debug"),
	}
	return cfg, nil
}
