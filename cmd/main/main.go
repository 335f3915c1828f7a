package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tabscope/internal/config"
	"tabscope/internal/logging"
	"tabscope/internal/version"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "tabscope",
		Short: "Tabscope - browser activity capture and context store",
		Long: `Tabscope captures coding-related browser activity from a signal stream,
classifies the page, batches events and delivers them to a context store.
The same binary serves the store API.`,
		Version: version.GetVersionString(),
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/tabscope/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)

	// Serve command flags
	serveCmd.Flags().Int("api-port", 8080, "API server port")
	serveCmd.Flags().String("database", "tabscope.db", "Database file path")
	serveCmd.Flags().String("retention-cron", "@hourly", "Retention sweep schedule")
	serveCmd.Flags().Bool("debug", false, "Enable debug logging")

	// Watch command flags
	watchCmd.Flags().String("signals", "signals.jsonl", "Signal stream file to tail")
	watchCmd.Flags().String("collector", "http://localhost:8080", "Collector base URL")
	watchCmd.Flags().String("token", "", "Collector bearer token")
	watchCmd.Flags().String("redis", "", "Redis URL for the identity cache (empty uses in-memory)")
	watchCmd.Flags().String("user", "anonymous", "User id stamped on captured sessions")
	watchCmd.Flags().Bool("debug", false, "Enable debug logging")

	// Bind flags to viper
	viper.BindPFlag("api_port", serveCmd.Flags().Lookup("api-port"))
	viper.BindPFlag("database_url", serveCmd.Flags().Lookup("database"))
	viper.BindPFlag("retention_cron", serveCmd.Flags().Lookup("retention-cron"))
	viper.BindPFlag("signal_file", watchCmd.Flags().Lookup("signals"))
	viper.BindPFlag("collector_url", watchCmd.Flags().Lookup("collector"))
	viper.BindPFlag("collector_key", watchCmd.Flags().Lookup("token"))
	viper.BindPFlag("redis_url", watchCmd.Flags().Lookup("redis"))
	viper.BindPFlag("user_id", watchCmd.Flags().Lookup("user"))
	viper.BindPFlag("debug", serveCmd.Flags().Lookup("debug"))

	config.SetDefaults()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(getConfigDir())
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TABSCOPE")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Printf("Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func initLogging() {
	cfg, err := config.Load()
	if err != nil {
		logging.Initialize(false)
		return
	}
	logging.Initialize(cfg.Debug)
}

func getConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, _ := os.UserHomeDir()
		configHome = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configHome, "tabscope")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
