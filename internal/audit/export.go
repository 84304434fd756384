package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Exporter streams filtered audit entries as CSV or JSON. Rows are
// written as they arrive from the cursor; a canceled context aborts the
// walk and the repository closes the cursor promptly.
type Exporter struct {
	repo QueryRepository
}

// NewExporter constructs an Exporter.
func NewExporter(repo QueryRepository) *Exporter {
	return &Exporter{repo: repo}
}

// Filename returns the default export filename for the given format,
// e.g. "audit_trail_2026-08-23.csv".
func Filename(format string, now time.Time) string {
	return fmt.Sprintf("audit_trail_%s.%s", now.UTC().Format("2006-01-02"), format)
}

var csvHeader = []string{
	"id", "created_at", "action_type", "entity_type", "actor_id",
	"target_user_id", "role_id", "permission_id", "reason", "details",
}

// WriteCSV streams the filtered entries as CSV.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, f Filters) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	err := e.repo.Stream(ctx, f, func(entry Entry) error {
		details := ""
		if len(entry.Details) > 0 {
			raw, err := json.Marshal(entry.Details)
			if err != nil {
				return err
			}
			details = string(raw)
		}
		return writer.Write([]string{
			entry.ID.String(),
			entry.CreatedAt.UTC().Format(time.RFC3339),
			string(entry.ActionType),
			entry.EntityType,
			strconv.FormatInt(entry.ActorID, 10),
			formatOptionalID(entry.TargetUserID),
			formatOptionalID(entry.RoleID),
			formatOptionalID(entry.PermissionID),
			entry.Reason,
			details,
		})
	})
	if err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSON streams the filtered entries as a JSON array, one element
// encoded per row rather than buffering the result set.
func (e *Exporter) WriteJSON(ctx context.Context, w io.Writer, f Filters) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	first := true
	err := e.repo.Stream(ctx, f, func(entry Entry) error {
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false
		return enc.Encode(entry)
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "]")
	return err
}

func formatOptionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
