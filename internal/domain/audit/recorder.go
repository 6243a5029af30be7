package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Recorder persists audit entries. Record takes the caller's statement
// executor (a *sqlx.Tx in every production path) so the entry commits or
// rolls back together with the balance mutation it describes.
type Recorder interface {
	Record(ctx context.Context, ex sqlx.ExtContext, entry Entry) error
}

// SQLRecorder writes audit entries to the audit_logs table.
type SQLRecorder struct{}

func NewSQLRecorder() *SQLRecorder {
	return &SQLRecorder{}
}

func (r *SQLRecorder) Record(ctx context.Context, ex sqlx.ExtContext, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.TargetType == "" {
		entry.TargetType = TargetTypeCredit
	}

	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}

	var metadata []byte
	if entry.Metadata != nil {
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, target_type, target_id, action, changes, metadata, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, entry.ID, entry.UserID, entry.TargetType, entry.TargetID, entry.Action, changes, metadata, entry.CorrelationID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

// ListByUser returns recent audit entries for a user, newest first.
func ListByUser(ctx context.Context, db *sqlx.DB, userID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryxContext(ctx, `
		SELECT id, user_id, target_type, target_id, action, changes, metadata, correlation_id, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e        Entry
			changes  []byte
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TargetType, &e.TargetID, &e.Action, &changes, &metadata, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("decode audit changes: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
