package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/internal/migration"
)

// =============================================================================
// Checkpoint Database Migration Commands
// =============================================================================

// runMigrate applies or inspects the checkpoint table schema of the
// configured database. Flags come before the subcommand:
//
//	pipeflow migrate --config config.yaml up
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type override (postgres, mysql, sqlite)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: pipeflow migrate [--config <path>] [--db-type <type>] <subcommand> [args]")
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), migration.Usage)
	}
	_ = fs.Parse(args)

	if fs.NArg() == 0 || fs.Arg(0) == "help" {
		fs.Usage()
		if fs.NArg() == 0 {
			return errors.New("missing migrate subcommand")
		}
		return nil
	}

	// 迁移只需要数据库段，不做完整校验
	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	migrator, err := migration.NewMigratorFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Warn("failed to close migrator", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return migration.NewCLI(migrator).Run(ctx, fs.Args())
}
