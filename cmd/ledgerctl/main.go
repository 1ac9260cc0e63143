package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"inventory-ledger/internal/adapters/cli"
	"inventory-ledger/internal/app"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/core"
	"inventory-ledger/internal/db"
	"inventory-ledger/internal/observability"
)

// dbMigrator binds the migration helpers to one connection string.
type dbMigrator struct{ url string }

func (m dbMigrator) Up() error                    { return db.Migrate(m.url) }
func (m dbMigrator) Down() error                  { return db.MigrateDown(m.url) }
func (m dbMigrator) Version() (uint, bool, error) { return db.Version(m.url) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.RequireDatabase(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	connect := func(ctx context.Context) (app.ApplicationService, func(), error) {
		strategy, err := core.StrategyByName(cfg.AllocationStrategy, cfg.WarehousePriority)
		if err != nil {
			return nil, nil, err
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		svc := app.NewAppService(app.NewServices(pool, strategy, core.NopPublisher{}, logger), logger)
		return svc, pool.Close, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := cli.NewRootCommand(cli.Deps{
		Connect:  connect,
		Migrator: dbMigrator{url: cfg.DatabaseURL},
	})
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Debug("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
