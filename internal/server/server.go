package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jacksonlee411/arena-engine/internal/config"
	"github.com/jacksonlee411/arena-engine/internal/dbmigrate"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/eligibility"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/ports"
	"github.com/jacksonlee411/arena-engine/modules/arena/infrastructure/persistence"
	"github.com/jacksonlee411/arena-engine/modules/arena/services"
	"github.com/jacksonlee411/arena-engine/pkg/metrics"
)

// NewArenaService wires the reconciliation service from config. Both the
// HTTP server and arenactl build it this way.
func NewArenaService(cfg *config.Config, store ports.ArenaStore, logger *zap.Logger, m services.Metrics) (*services.ArenaService, error) {
	rulesPath := cfg.EligibilityRulesPath
	if rulesPath != "" {
		p, err := resolveConfigPath(rulesPath)
		if err != nil {
			return nil, err
		}
		rulesPath = p
	}
	gate, err := eligibility.LoadGate(rulesPath)
	if err != nil {
		return nil, err
	}
	return services.NewArenaService(store, gate,
		services.WithLogger(logger),
		services.WithMetrics(m),
		services.WithBackfillActor(cfg.BackfillActor),
		services.WithBackfillLimits(cfg.BackfillDefaultLimit, cfg.BackfillMaxLimit),
	), nil
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// cfg.ShutdownTimeout.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.MigrateOnStart {
		if _, err := dbmigrate.UpDSN(ctx, cfg.DatabaseURL, logger.Named("migrate")); err != nil {
			return err
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	recorder := metrics.New(prometheus.NewRegistry())
	svc, err := NewArenaService(cfg, persistence.NewArenaPGStore(pool), logger.Named("arena"), recorder)
	if err != nil {
		return err
	}

	h, err := NewHandler(HandlerOptions{
		Config:  cfg,
		Service: svc,
		Metrics: recorder.Handler(),
		DB:      pool,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
