package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jacksonlee411/arena-engine/internal/config"
	"github.com/jacksonlee411/arena-engine/internal/dbmigrate"
	"github.com/jacksonlee411/arena-engine/internal/server"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
	"github.com/jacksonlee411/arena-engine/modules/arena/infrastructure/persistence"
	"github.com/jacksonlee411/arena-engine/modules/arena/services"
	"github.com/jacksonlee411/arena-engine/pkg/logging"
)

type arenaRunner interface {
	Approve(ctx context.Context, req types.ApprovalRequest) (types.ApprovalResult, error)
	Backfill(ctx context.Context, opts services.BackfillOptions) (types.BackfillSummary, error)
	ClassifyLegacy(ctx context.Context, dryRun bool) (types.ClassifySummary, error)
}

// app holds what every subcommand needs. The function fields are swapped in
// tests.
type app struct {
	out io.Writer

	loadConfig func(ctx context.Context) (*config.Config, error)
	newLogger  func(cfg *config.Config) (*zap.Logger, error)
	open       func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (arenaRunner, func(), error)
	migrate    func(ctx context.Context, dsn string, logger *zap.Logger) ([]int64, error)

	cfg    *config.Config
	logger *zap.Logger
}

func newApp(out io.Writer) *app {
	return &app{
		out:        out,
		loadConfig: config.Load,
		newLogger: func(cfg *config.Config) (*zap.Logger, error) {
			return logging.New(cfg.LogLevel, cfg.LogFormat)
		},
		open:    openRunner,
		migrate: dbmigrate.UpDSN,
	}
}

func openRunner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (arenaRunner, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	svc, err := server.NewArenaService(cfg, persistence.NewArenaPGStore(pool), logger.Named("arena"), nil)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return svc, pool.Close, nil
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.loadConfig(cmd.Context())
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("load config: %w", err))
	}
	logger, err := a.newLogger(cfg)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("logger: %w", err))
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// withRunner opens the store for one command and closes it afterwards.
func (a *app) withRunner(ctx context.Context, fn func(r arenaRunner) error) error {
	r, closeFn, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("open database: %w", err))
	}
	defer closeFn()
	return fn(r)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
