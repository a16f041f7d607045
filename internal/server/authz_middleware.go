package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/arena-engine/internal/config"
	"github.com/jacksonlee411/arena-engine/internal/routing"
	"github.com/jacksonlee411/arena-engine/pkg/authz"
)

func loadAuthorizer(cfg *config.Config) (*authz.Authorizer, error) {
	mode, err := authz.ParseMode(cfg.AuthzMode, cfg.AuthzUnsafeAllowDisabled)
	if err != nil {
		return nil, err
	}
	modelPath, err := resolveConfigPath(cfg.AuthzModelPath)
	if err != nil {
		return nil, err
	}
	policyPath, err := resolveConfigPath(cfg.AuthzPolicyPath)
	if err != nil {
		return nil, err
	}
	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

// resolveConfigPath finds a relative config file from the working directory
// or one of its parents, so binaries and tests run from any package dir.
func resolveConfigPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("server: config path is empty")
	}
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}
	p := path
	for range 8 {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		p = filepath.Join("..", p)
	}
	return "", errors.New("server: " + path + " not found")
}

type authorizer interface {
	Authorize(subject string, object string, action string) (allowed bool, enforced bool, err error)
}

func withAuthz(classifier *routing.Classifier, a authorizer, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if classifier.Classify(r.URL.Path) == routing.RouteClassOps {
			next.ServeHTTP(w, r)
			return
		}

		object, action, shouldCheck := authzRequirementForRoute(r.Method, r.URL.Path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		role := authz.RoleAnonymous
		actorID := ""
		if actor, ok := currentActor(r.Context()); ok {
			actorID = actor.ID
			if actor.Role != "" {
				role = actor.Role
			}
		}
		subject := authz.SubjectFromRole(role)

		allowed, enforced, err := a.Authorize(subject, object, action)
		if err != nil {
			logger.Error("authz check failed", zap.String("subject", subject), zap.String("object", object), zap.Error(err))
			routing.WriteError(w, r, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if !allowed {
			logger.Warn("authz denied",
				zap.String("actor_id", actorID),
				zap.String("subject", subject),
				zap.String("object", object),
				zap.String("action", action),
				zap.Bool("enforced", enforced),
			)
			if enforced {
				routing.WriteError(w, r, http.StatusForbidden, "forbidden", "forbidden")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	switch path {
	case "/api/arenas/approvals":
		if method == http.MethodPost {
			return authz.ObjectArenaApprovals, authz.ActionAdmin, true
		}
	case "/api/arenas/backfill":
		if method == http.MethodPost {
			return authz.ObjectArenaBackfill, authz.ActionAdmin, true
		}
	case "/api/arenas/live":
		if method == http.MethodGet {
			return authz.ObjectArenaLive, authz.ActionRead, true
		}
	}
	return "", "", false
}
