package service

import (
	"context"
	"errors"
	"time"

	"github.com/helios/helios/internal/models"
	"github.com/helios/helios/internal/store"
	"github.com/helios/helios/internal/workflow"
)

// ErrForbidden is returned when a non-admin calls an admin procedure
var ErrForbidden = errors.New("admin role required")

const maxAuditPage = 500

var webhooks = []models.Webhook{models.WebhookChat, models.WebhookTask, models.WebhookKnowledge}

// RateLimited is implemented by bridges that throttle webhook calls
type RateLimited interface {
	RateLimitStatus(webhook models.Webhook) *workflow.RateLimitStatus
}

// CallQuery narrows the webhook audit log. Zero values match everything.
type CallQuery struct {
	Webhook models.Webhook
	UserID  string
	Success *bool
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// WebhookLimit is the throttle state of one webhook. Limit is -1 when unthrottled.
type WebhookLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// QueueStatus describes the background dispatch pool
type QueueStatus struct {
	Length         int           `json:"length"`
	Inflight       int           `json:"inflight"`
	Submitted      int64         `json:"submitted"`
	Succeeded      int64         `json:"succeeded"`
	Failed         int64         `json:"failed"`
	AverageLatency time.Duration `json:"averageLatency"`
}

// WorkflowStatus reports the throttle and queue state of the workflow bridge
type WorkflowStatus struct {
	RateLimits map[models.Webhook]*WebhookLimit `json:"rateLimits"`
	Queue      *QueueStatus                     `json:"queue,omitempty"`
}

func requireAdmin(caller *models.User) error {
	if caller == nil || caller.Role != models.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// Health checks the database connection
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// WebhookStats summarises workflow calls per webhook since the given time
func (s *Service) WebhookStats(ctx context.Context, caller *models.User, since time.Time) (map[models.Webhook]*store.AuditStats, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	stats := make(map[models.Webhook]*store.AuditStats, len(webhooks))
	for _, webhook := range webhooks {
		st, err := s.store.WebhookStats(ctx, webhook, since.UTC())
		if err != nil {
			return nil, err
		}
		stats[webhook] = st
	}
	return stats, nil
}

// WebhookCalls returns audit records matching query, newest first
func (s *Service) WebhookCalls(ctx context.Context, caller *models.User, query CallQuery) ([]*models.WebhookCall, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if query.Limit <= 0 || query.Limit > maxAuditPage {
		query.Limit = maxAuditPage
	}
	if query.Offset < 0 {
		return nil, invalid("offset must not be negative")
	}
	if !query.Since.IsZero() && !query.Until.IsZero() && query.Until.Before(query.Since) {
		return nil, invalid("until is before since")
	}

	filter := &store.AuditFilter{
		Success: query.Success,
		Limit:   query.Limit,
		Offset:  query.Offset,
	}
	if query.Webhook != "" {
		filter.Webhook = &query.Webhook
	}
	if query.UserID != "" {
		filter.UserID = &query.UserID
	}
	if !query.Since.IsZero() {
		since := query.Since.UTC()
		filter.StartTime = &since
	}
	if !query.Until.IsZero() {
		until := query.Until.UTC()
		filter.EndTime = &until
	}
	return s.store.QueryWebhookCalls(ctx, filter)
}

// WorkflowStatus reports per-webhook throttling and the dispatch queue
func (s *Service) WorkflowStatus(ctx context.Context, caller *models.User) (*WorkflowStatus, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	status := &WorkflowStatus{RateLimits: make(map[models.Webhook]*WebhookLimit, len(webhooks))}
	limited, ok := s.bridge.(RateLimited)
	for _, webhook := range webhooks {
		limit := &WebhookLimit{Limit: -1, Remaining: -1}
		if ok {
			st := limited.RateLimitStatus(webhook)
			limit = &WebhookLimit{Limit: st.Limit, Remaining: st.Remaining, Reset: st.Reset}
		}
		status.RateLimits[webhook] = limit
	}

	if s.pool != nil {
		metrics := s.pool.GetMetrics()
		status.Queue = &QueueStatus{
			Length:         s.pool.QueueLength(),
			Inflight:       metrics.CurrentInflight,
			Submitted:      metrics.Submitted,
			Succeeded:      metrics.CompletedOK,
			Failed:         metrics.CompletedError,
			AverageLatency: metrics.AverageLatency,
		}
	}
	return status, nil
}
