package server

import (
	"context"
	"net/http"
	"strings"
)

// The upstream gateway authenticates callers and forwards who they are.
const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

type Actor struct {
	ID   string
	Role string
}

type actorContextKey struct{}

func withActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, a)
}

func currentActor(ctx context.Context) (Actor, bool) {
	v := ctx.Value(actorContextKey{})
	if v == nil {
		return Actor{}, false
	}
	a, ok := v.(Actor)
	return a, ok
}

// ActorIDFromContext satisfies controllers.ActorGetter.
func ActorIDFromContext(ctx context.Context) (string, bool) {
	a, ok := currentActor(ctx)
	if !ok || a.ID == "" {
		return "", false
	}
	return a.ID, true
}

func withActorHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerActorID))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		a := Actor{ID: id, Role: strings.TrimSpace(r.Header.Get(headerActorRole))}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), a)))
	})
}
