package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/helios/helios/internal/models"
)

// AuditFilter defines criteria for querying webhook audit records
type AuditFilter struct {
	Webhook   *models.Webhook
	UserID    *string
	Success   *bool
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// AuditStats holds webhook call statistics
type AuditStats struct {
	TotalRequests      int
	SuccessfulRequests int
	ErrorRate          float64
	AverageDuration    time.Duration
}

// RecordWebhookCall records one outbound workflow call
func (s *Store) RecordWebhookCall(ctx context.Context, call *models.WebhookCall) error {
	if call.Timestamp.IsZero() {
		call.Timestamp = now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_audit (
			timestamp, webhook, user_id, endpoint, status_code, duration_ms, success, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		call.Timestamp,
		call.Webhook,
		nullString(call.UserID),
		call.Endpoint,
		call.StatusCode,
		call.Duration.Milliseconds(),
		call.Success,
		nullString(call.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook call: %w", err)
	}

	call.ID, _ = res.LastInsertId()
	return nil
}

// QueryWebhookCalls retrieves audit records, newest first
func (s *Store) QueryWebhookCalls(ctx context.Context, filter *AuditFilter) ([]*models.WebhookCall, error) {
	query := "SELECT id, timestamp, webhook, user_id, endpoint, status_code, duration_ms, success, error FROM webhook_audit WHERE 1=1"
	args := []any{}

	if filter == nil {
		filter = &AuditFilter{}
	}

	if filter.Webhook != nil {
		query += " AND webhook = ?"
		args = append(args, string(*filter.Webhook))
	}

	if filter.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.StartTime)
	}

	if filter.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, *filter.EndTime)
	}

	if filter.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.UserID)
	}

	if filter.Success != nil {
		query += " AND success = ?"
		args = append(args, *filter.Success)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*models.WebhookCall
	for rows.Next() {
		var call models.WebhookCall
		var userID, callErr sql.NullString
		var durationMs int64

		err := rows.Scan(
			&call.ID,
			&call.Timestamp,
			&call.Webhook,
			&userID,
			&call.Endpoint,
			&call.StatusCode,
			&durationMs,
			&call.Success,
			&callErr,
		)
		if err != nil {
			return nil, err
		}

		call.UserID = userID.String
		call.Error = callErr.String
		call.Duration = time.Duration(durationMs) * time.Millisecond
		calls = append(calls, &call)
	}

	return calls, rows.Err()
}

// WebhookStats returns call statistics for one webhook since a point in time
func (s *Store) WebhookStats(ctx context.Context, webhook models.Webhook, since time.Time) (*AuditStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0) as successful,
			AVG(duration_ms) as avg_duration_ms
		FROM webhook_audit
		WHERE webhook = ? AND timestamp >= ?
	`

	var stats AuditStats
	var avgDuration sql.NullFloat64

	err := s.db.QueryRowContext(ctx, query, webhook, since).Scan(
		&stats.TotalRequests,
		&stats.SuccessfulRequests,
		&avgDuration,
	)
	if err != nil {
		return nil, err
	}

	if avgDuration.Valid {
		stats.AverageDuration = time.Duration(avgDuration.Float64) * time.Millisecond
	}

	if stats.TotalRequests > 0 {
		stats.ErrorRate = float64(stats.TotalRequests-stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}

	return &stats, nil
}
