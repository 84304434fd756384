package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// ActorHeader carries the authenticated user ID, set by the upstream
// authentication gateway. Token issuance and verification happen there;
// this service only consumes the resolved identity.
const ActorHeader = "X-Actor-ID"

type actorContextKey struct{}

// ContextWithActor stores the acting user ID in the context.
func ContextWithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, userID)
}

// ActorFromContext extracts the acting user ID from the context.
// The second return value is false when no actor is present.
func ActorFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorContextKey{}).(int64)
	return id, ok
}

// ActorMiddleware reads the actor header into the request context.
// Requests without the header pass through unauthenticated; permission
// middleware downstream rejects them where an actor is required.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				r = r.WithContext(ContextWithActor(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}
