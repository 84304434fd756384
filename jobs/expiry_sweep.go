package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/loanpilot/loanpilot/internal/rbac"
)

// NewExpirySweepHandler builds the handler that deletes expired role
// assignments and permission overrides. Readers already filter expired
// rows in SQL, so the sweep is hygiene; the cache entries of affected
// users are dropped so the next read reflects the cleaned state.
func NewExpirySweepHandler(assignments *rbac.AssignmentRepository, overrides *rbac.OverrideRepository,
	cache *rbac.Cache, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		now := time.Now()

		roleUsers, err := assignments.DeleteExpired(ctx, now)
		if err != nil {
			return err
		}
		overrideUsers, err := overrides.DeleteExpired(ctx, now)
		if err != nil {
			return err
		}

		affected := make(map[int64]struct{}, len(roleUsers)+len(overrideUsers))
		for _, id := range roleUsers {
			affected[id] = struct{}{}
		}
		for _, id := range overrideUsers {
			affected[id] = struct{}{}
		}
		for id := range affected {
			cache.Invalidate(ctx, id)
		}

		logger.Info("expiry sweep completed",
			"expired_assignments", len(roleUsers),
			"expired_overrides", len(overrideUsers),
			"users_invalidated", len(affected))
		return nil
	}
}
