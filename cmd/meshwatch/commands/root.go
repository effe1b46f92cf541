package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meshwatch/meshwatch/pkg/config"
	"github.com/meshwatch/meshwatch/pkg/store"
)

var (
	// Global flags
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "meshwatch",
	Short: "Mesh radio MQTT monitor",
	Long: `meshwatch - ingest, map and notify on mesh radio MQTT traffic.

The daemon subscribes to the configured brokers, decodes (and where
needed decrypts) the packets it hears, keeps per-device packet history
and a live node map in the store, and forwards text broadcasts to chat.

Examples:
  # Run the daemon
  meshwatch serve --config /etc/meshwatch.yaml

  # Inspect the stored devices
  meshwatch nodes list --config /etc/meshwatch.yaml
  meshwatch nodes delete !015ba416 --config /etc/meshwatch.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "meshwatch.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		if _, err := config.ParseLevel(flagLogLevel); err != nil {
			return nil, err
		}
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// openStore picks the backend from the config: Redis when an address
// is set, embedded Badger otherwise.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	opts := &store.Options{MaxListLen: cfg.MaxPortnumMessages}
	if cfg.Redis.Address != "" {
		return store.NewRedis(store.RedisOptions{
			Options:  opts,
			Addr:     cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return store.NewBadger(store.BadgerOptions{
		Options: opts,
		Dir:     cfg.BadgerDir,
		Logger:  logger,
	})
}
