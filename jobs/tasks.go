package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpirySweep removes role assignments and permission overrides
	// past their expiry.
	TaskExpirySweep = "rbac:expiry_sweep"
	// TaskAuditRetention prunes audit entries older than the retention
	// window.
	TaskAuditRetention = "audit:retention"
)

// Cron schedules for the maintenance tasks.
const (
	CronExpirySweep    = "*/15 * * * *"
	CronAuditRetention = "30 3 * * *"
)

// SweepPayload carries scheduling metadata for an expiry sweep.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewExpirySweepTask constructs an expiry sweep task.
func NewExpirySweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, body, asynq.Queue(QueueDefault)), nil
}

// RetentionPayload carries scheduling metadata for a retention pass.
type RetentionPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewAuditRetentionTask constructs an audit retention task.
func NewAuditRetentionTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(RetentionPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, body, asynq.Queue(QueueDefault)), nil
}
