package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/loanpilot/loanpilot/internal/audit"
)

// NewAuditRetentionHandler builds the handler that prunes audit entries
// older than the configured retention window.
func NewAuditRetentionHandler(repo *audit.Repository, retentionDays int, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RetentionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		removed, err := repo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		logger.Info("audit retention completed",
			"cutoff", cutoff.Format(time.RFC3339),
			"removed", removed)
		return nil
	}
}
