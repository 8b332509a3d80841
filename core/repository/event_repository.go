package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"llm-endpoint-orchestrator/core/models"

	"k8s.io/klog/v2"
)

// EventRepository handles database operations for chain events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Record stores a job status transition
func (r *EventRepository) Record(ctx context.Context, event *models.ChainEvent) error {
	query := `
		INSERT INTO chain_events (execution_id, job_id, at, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var fromStatus sql.NullString
	if event.FromStatus != nil {
		fromStatus = sql.NullString{String: string(*event.FromStatus), Valid: true}
	}

	metaJSON := ""
	if len(event.MetaJSON) > 0 {
		raw, err := json.Marshal(event.MetaJSON)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
		metaJSON = string(raw)
	}

	err := r.db.QueryRowContext(ctx, query,
		event.ExecutionID,
		event.JobID,
		event.At,
		fromStatus,
		string(event.ToStatus),
		event.Reason,
		metaJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to record chain event: %w", err)
	}
	return nil
}

// ListEvents retrieves the events of an execution, newest first
func (r *EventRepository) ListEvents(ctx context.Context, executionID string, limit int) ([]models.ChainEvent, error) {
	query := `
		SELECT id, execution_id, job_id, at, from_status, to_status, reason, meta_json
		FROM chain_events
		WHERE execution_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, executionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ChainEvent
	for rows.Next() {
		var event models.ChainEvent
		var fromStatus sql.NullString
		var toStatus string
		var metaJSON string

		err := rows.Scan(
			&event.ID,
			&event.ExecutionID,
			&event.JobID,
			&event.At,
			&fromStatus,
			&toStatus,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chain event: %w", err)
		}

		event.ToStatus = models.JobStatus(toStatus)
		if fromStatus.Valid {
			status := models.JobStatus(fromStatus.String)
			event.FromStatus = &status
		}

		// Parse meta JSON
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &event.MetaJSON); err != nil {
				klog.FromContext(ctx).V(2).Info("Ignoring malformed event metadata", "event", event.ID, "err", err)
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}
