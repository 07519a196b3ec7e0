package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-docflow/internal/config"
	"github.com/pesio-ai/be-docflow/internal/database"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
	"github.com/pesio-ai/be-docflow/internal/seed"
	"github.com/pesio-ai/be-docflow/internal/service"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "docflow",
		Short:         "Document workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newSeedCmd(&configPath),
	)
	return root
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info().Msg("Schema applied")
			return nil
		},
	}
}

func newSeedCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load workflows and users from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.StorageDriverPostgres {
				return fmt.Errorf("seed requires the postgres driver; use serve --seed for memory storage")
			}

			f, err := seed.ParseFile(file)
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer st.close()

			return seed.Apply(cmd.Context(), f, st.workflows, st.directory, log)
		},
	}
	cmd.Flags().StringVar(&file, "file", "deploy/seed.yaml", "seed file")
	return cmd
}

// bootstrap loads configuration and builds the logger.
func bootstrap(configPath string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	return cfg, log, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	return database.New(ctx, database.Config{
		DSN:               cfg.DSN(),
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
}

type directory interface {
	service.Directory
	seed.UserWriter
}

type stores struct {
	documents repository.DocumentStore
	workflows repository.WorkflowStore
	directory directory
	close     func()
}

// openStores selects the storage driver.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		return &stores{
			documents: repository.NewMemoryDocumentStore(),
			workflows: repository.NewMemoryWorkflowStore(),
			directory: repository.NewMemoryDirectory(),
			close:     func() {},
		}, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Str("host", cfg.Database.Host).Msg("Database connection established")

	return &stores{
		documents: repository.NewDocumentRepository(db),
		workflows: repository.NewWorkflowRepository(db),
		directory: repository.NewUserRepository(db),
		close:     db.Close,
	}, nil
}
