package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mhutchins/hookline/internal/api"
	"github.com/mhutchins/hookline/internal/config"
	"github.com/mhutchins/hookline/internal/delivery"
	"github.com/mhutchins/hookline/internal/models"
	"github.com/mhutchins/hookline/internal/storage"
)

var version = "0.2.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookline",
		Short: "Hookline — webhook dispatch and delivery engine",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(endpointCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Hookline server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			queue := delivery.NewDeliveryQueue(cfg.Delivery.QueueSize, cfg.Delivery.Workers, log)
			transport := delivery.NewHTTPTransport(cfg.Delivery.Timeout)
			worker := delivery.NewWorker(store, transport, queue, cfg.Delivery.BaseDelay, log)
			dispatcher := delivery.NewDispatcher(store, queue, log)
			sweeper := delivery.NewSweeper(store, queue, cfg.Sweeper.BatchSize, cfg.Sweeper.PendingGrace, log)

			queue.Start(ctx, worker)

			// Recover deliveries stranded by a previous shutdown before the
			// first scheduled sweep.
			if n, err := sweeper.RetryFailed(ctx); err != nil {
				log.Error().Err(err).Msg("startup sweep failed")
			} else if n > 0 {
				log.Info().Int("requeued", n).Msg("recovered stranded deliveries")
			}

			sched := cron.New()
			sched.Schedule(cron.Every(cfg.Sweeper.Interval), cron.FuncJob(func() {
				if _, err := sweeper.RetryFailed(ctx); err != nil {
					log.Error().Err(err).Msg("retry sweep failed")
				}
			}))
			sched.Start()

			server := api.NewServer(*cfg, store, dispatcher, queue, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Dur("sweep_interval", cfg.Sweeper.Interval).
				Msg("Hookline is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			<-sched.Stop().Done()
			queue.Stop()

			log.Info().Msg("Hookline stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Println("migrations completed successfully")
			return nil
		},
	}
}

func endpointCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage subscriber endpoints",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			epURL, _ := cmd.Flags().GetString("url")
			if epURL == "" {
				return fmt.Errorf("--url is required")
			}
			name, _ := cmd.Flags().GetString("name")
			events, _ := cmd.Flags().GetString("events")
			maxRetries, _ := cmd.Flags().GetInt("max-retries")
			if maxRetries < 0 {
				return fmt.Errorf("--max-retries must be non-negative")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			var eventList []string
			for _, ev := range strings.Split(events, ",") {
				if ev = strings.TrimSpace(ev); ev != "" {
					eventList = append(eventList, ev)
				}
			}

			now := time.Now().UTC()
			ep := &models.Endpoint{
				ID:         models.NewID("ep"),
				Name:       name,
				URL:        epURL,
				Secret:     models.NewSecret(),
				Events:     eventList,
				Headers:    map[string]string{},
				MaxRetries: maxRetries,
				Active:     true,
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			if err := store.CreateEndpoint(context.Background(), ep); err != nil {
				return fmt.Errorf("failed to create endpoint: %w", err)
			}

			// The secret is shown once here and never again.
			fmt.Printf("created %s\n  url: %s\n  events: %s\n  secret: %s\n", ep.ID, ep.URL, strings.Join(ep.Events, ", "), ep.Secret)
			return nil
		},
	}
	createCmd.Flags().String("url", "", "destination URL")
	createCmd.Flags().String("name", "", "display name")
	createCmd.Flags().String("events", "", "comma-separated event names to subscribe to")
	createCmd.Flags().Int("max-retries", 3, "retry budget per delivery")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			eps, err := store.ListEndpoints(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list endpoints: %w", err)
			}

			if len(eps) == 0 {
				fmt.Println("No endpoints registered.")
				return nil
			}

			for _, ep := range eps {
				state := "active"
				if !ep.Active {
					state = "inactive"
				}
				fmt.Printf("  %s  %s  [%s]  %s\n", ep.ID, ep.URL, state, strings.Join(ep.Events, ", "))
			}
			return nil
		},
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <endpoint_id>",
		Short: "Stop new deliveries to an endpoint (history is kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: hookline endpoint deactivate <endpoint_id>")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ep, err := store.GetEndpoint(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get endpoint: %w", err)
			}
			if ep == nil {
				return fmt.Errorf("endpoint %s not found", args[0])
			}

			if err := store.SetEndpointActive(context.Background(), args[0], false); err != nil {
				return fmt.Errorf("failed to deactivate endpoint: %w", err)
			}

			fmt.Printf("deactivated %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, deactivateCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show delivery stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Hookline v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
