package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jacksonlee411/arena-engine/internal/routing"
)

type pinger interface {
	Ping(ctx context.Context) error
}

const healthPingTimeout = 2 * time.Second

func handleHealthz(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				routing.WriteError(w, r, http.StatusServiceUnavailable, "db_unavailable", "database unavailable")
				return
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "status": "ok"})
	}
}
