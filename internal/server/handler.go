// Package server assembles the arena HTTP surface: actor headers, casbin
// authorization, the allowlisted router and the process lifecycle.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jacksonlee411/arena-engine/internal/config"
	"github.com/jacksonlee411/arena-engine/internal/routing"
	"github.com/jacksonlee411/arena-engine/modules/arena/presentation/controllers"
)

const entrypointServer = "server"

type HandlerOptions struct {
	Config     *config.Config
	Service    controllers.ArenaReconciler
	Authorizer authorizer
	Metrics    http.Handler
	DB         pinger
	Logger     *zap.Logger
}

func NewHandler(opts HandlerOptions) (http.Handler, error) {
	if opts.Service == nil {
		return nil, errors.New("server: arena service required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	allowlistPath, err := resolveConfigPath(cfg.RoutingAllowlistPath)
	if err != nil {
		return nil, err
	}
	allowlist, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(allowlist, entrypointServer)
	if err != nil {
		return nil, err
	}

	authorizer := opts.Authorizer
	if authorizer == nil {
		a, err := loadAuthorizer(cfg)
		if err != nil {
			return nil, err
		}
		authorizer = a
	}

	metricsHandler := opts.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	arenas := controllers.ArenasController{
		Actor:   ActorIDFromContext,
		Service: opts.Service,
		Logger:  logger.Named("arenas_api"),
	}

	routes := []struct {
		method  string
		path    string
		handler http.Handler
	}{
		{http.MethodGet, "/healthz", handleHealthz(opts.DB)},
		{http.MethodGet, "/metrics", metricsHandler},
		{http.MethodPost, "/api/arenas/approvals", http.HandlerFunc(arenas.HandleApprovalsAPI)},
		{http.MethodPost, "/api/arenas/backfill", http.HandlerFunc(arenas.HandleBackfillAPI)},
		{http.MethodGet, "/api/arenas/live", http.HandlerFunc(arenas.HandleLiveAPI)},
	}

	router := routing.NewRouter(classifier, logger.Named("router"))
	for _, rt := range routes {
		if !allowlist.Allows(entrypointServer, rt.method, rt.path) {
			return nil, fmt.Errorf("server: route %s %s missing from allowlist", rt.method, rt.path)
		}
		router.Handle(rt.method, rt.path, rt.handler)
	}

	return withActorHeaders(withAuthz(classifier, authorizer, logger.Named("authz"), router)), nil
}
