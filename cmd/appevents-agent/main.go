package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"appevents/internal/broker"
	"appevents/internal/config"
	"appevents/internal/constants"
	"appevents/internal/logger"
	"appevents/pkg/logging"
	"appevents/pkg/models"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceName,
		Short: "App events agent",
		Long:  "Buffers app events, filters them against server rules and publishes flushed batches",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateConfigCmd())
	rootCmd.AddCommand(notifyRulesUpdatedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file when one is given. Without a file the
// defaults and environment apply.
func loadConfig(earlyLog *logging.EarlyLog) (*config.Config, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile == "" {
		earlyLog.Warn("No config file given, using defaults and environment")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Warn("Failed to load config: %v", err)
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	return logger.NewWithOptions(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File: logger.FileOptions{
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			Compress:   cfg.Logging.File.Compress,
		},
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			cfg, err := loadConfig(earlyLog)
			if err != nil {
				return err
			}

			log, err := newLogger(cfg)
			if err != nil {
				earlyLog.Warn("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting appevents agent", "app_id", cfg.App.AppID, "store", cfg.Store.Backend)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			log.InfowCtx(ctx, "Agent running")
			runErr := app.Run(ctx)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*constants.ShutdownTimeout)
			defer shutdownCancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.ErrorwCtx(shutdownCtx, "Shutdown finished with errors", "error", err)
			}

			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				log.ErrorwCtx(shutdownCtx, "Agent stopped with error", "error", runErr)
				return runErr
			}
			log.InfowCtx(shutdownCtx, "Agent shutdown complete")
			return nil
		},
	}
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(logging.NewEarlyLog())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (store=%s, broker=%s)\n", cfg.Store.Backend, cfg.Broker.Type)
			return nil
		},
	}
}

func notifyRulesUpdatedCmd() *cobra.Command {
	var (
		appID     string
		eventType string
		changedBy string
	)

	cmd := &cobra.Command{
		Use:   "notify-rules-updated",
		Short: "Publish a config update notice so running agents refetch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(logging.NewEarlyLog())
			if err != nil {
				return err
			}
			if eventType != models.EventTypeRulesUpdated && eventType != models.EventTypeAppEventsConfigUpdate {
				return fmt.Errorf("unknown event type %q", eventType)
			}
			if cfg.Broker.Type != broker.TypeKafka {
				return fmt.Errorf("notify-rules-updated needs broker.type %q, got %q", broker.TypeKafka, cfg.Broker.Type)
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			if appID == "" {
				appID = cfg.App.AppID
			}

			producer := broker.NewKafkaProducer(cfg.Broker.Kafka, log)
			defer producer.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), constants.KafkaWriteTimeout)
			defer cancel()

			event := models.ConfigUpdateEvent{
				EventType:   eventType,
				ServiceType: models.ServiceTypeAppEvents,
				AppID:       appID,
				Action:      models.ActionReload,
				Timestamp:   time.Now().UTC(),
				ChangedBy:   changedBy,
			}
			if err := producer.PublishConfigUpdate(ctx, event); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s for app %q\n", event.EventType, event.AppID)
			return nil
		},
	}

	cmd.Flags().StringVar(&appID, "app-id", "", "App id the notice targets (defaults to app.app_id)")
	cmd.Flags().StringVar(&eventType, "event-type", models.EventTypeRulesUpdated, "rules_updated or app_events_config_updated")
	cmd.Flags().StringVar(&changedBy, "changed-by", os.Getenv("USER"), "Operator recorded on the notice")
	return cmd
}
