package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/helios/helios/internal/models"
	"github.com/mudler/xlog"
)

// Config holds the workflow engine webhook configuration
type Config struct {
	ChatURL      string
	TaskURL      string
	KnowledgeURL string
	Timeout      time.Duration

	// RequestsPerMinute caps calls per webhook. Zero disables throttling.
	RequestsPerMinute int
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ChatURL:           "https://n8n.the-develop.net/webhook/helios-chat",
		TaskURL:           "https://n8n.the-develop.net/webhook/helios-task",
		KnowledgeURL:      "https://n8n.the-develop.net/webhook/helios-knowledge",
		Timeout:           30 * time.Second,
		RequestsPerMinute: 120,
	}
}

// Auditor records outbound calls. *store.Store satisfies it.
type Auditor interface {
	RecordWebhookCall(ctx context.Context, call *models.WebhookCall) error
}

// Envelope is the uniform result of a webhook call. Remote failures are reported
// here, never as a Go error.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// String returns a string field of the response body. Bodies that are a JSON array
// are read from their first element.
func (e *Envelope) String(field string) (string, bool) {
	if e == nil || !e.Success || len(e.Data) == 0 {
		return "", false
	}

	var obj map[string]any
	if err := json.Unmarshal(e.Data, &obj); err != nil {
		var arr []map[string]any
		if err := json.Unmarshal(e.Data, &arr); err != nil || len(arr) == 0 {
			return "", false
		}
		obj = arr[0]
	}

	s, ok := obj[field].(string)
	return s, ok
}

// ChatRequest is the payload of the chat webhook
type ChatRequest struct {
	Message        string                `json:"message"`
	ConversationID string                `json:"conversationId"`
	UserID         string                `json:"userId"`
	History        []models.HistoryEntry `json:"history"`
}

// TaskRequest is the payload of the task webhook
type TaskRequest struct {
	TaskType string `json:"taskType"`
	Input    string `json:"input"`
	TaskID   string `json:"taskId"`
	UserID   string `json:"userId"`
}

// KnowledgeRequest is the payload of the knowledge webhook
type KnowledgeRequest struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	UserID     string `json:"userId"`
}

// Client calls the three workflow engine webhooks
type Client struct {
	config     *Config
	httpClient *http.Client
	limiter    *RateLimiter
	auditor    Auditor
}

// Option configures a Client
type Option func(*Client)

// WithAuditor records every call through a
func WithAuditor(a Auditor) Option {
	return func(c *Client) { c.auditor = a }
}

// WithHTTPClient replaces the HTTP client used for webhook calls
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a new workflow client
func NewClient(config *Config, opts ...Option) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: NewRateLimiter(),
	}

	if config.RequestsPerMinute > 0 {
		for _, w := range []models.Webhook{models.WebhookChat, models.WebhookTask, models.WebhookKnowledge} {
			c.limiter.Register(w, config.RequestsPerMinute)
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat forwards a message and its transcript to the chat workflow
func (c *Client) Chat(ctx context.Context, req *ChatRequest) *Envelope {
	return c.post(ctx, models.WebhookChat, c.config.ChatURL, req.UserID, req)
}

// Task hands a task to the task workflow
func (c *Client) Task(ctx context.Context, req *TaskRequest) *Envelope {
	return c.post(ctx, models.WebhookTask, c.config.TaskURL, req.UserID, req)
}

// Knowledge sends a document to the knowledge workflow
func (c *Client) Knowledge(ctx context.Context, req *KnowledgeRequest) *Envelope {
	return c.post(ctx, models.WebhookKnowledge, c.config.KnowledgeURL, req.UserID, req)
}

// RateLimitStatus returns the limiter state of one webhook
func (c *Client) RateLimitStatus(webhook models.Webhook) *RateLimitStatus {
	return c.limiter.Status(webhook)
}

// post makes a single attempt against url. It never retries.
func (c *Client) post(ctx context.Context, webhook models.Webhook, url, userID string, payload any) *Envelope {
	start := time.Now()
	statusCode, env := c.do(ctx, webhook, url, payload)

	if !env.Success {
		xlog.Warn("Workflow call failed", "webhook", webhook, "status", statusCode, "error", env.Error)
	} else {
		xlog.Debug("Workflow call succeeded", "webhook", webhook, "duration", time.Since(start))
	}

	if c.auditor != nil {
		call := &models.WebhookCall{
			Webhook:    webhook,
			UserID:     userID,
			Endpoint:   url,
			StatusCode: statusCode,
			Duration:   time.Since(start),
			Success:    env.Success,
			Error:      env.Error,
		}
		// record the call even when the request context was cancelled
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.auditor.RecordWebhookCall(auditCtx, call); err != nil {
			xlog.Error("Failed to record webhook call", "webhook", webhook, "error", err)
		}
		cancel()
	}

	return env
}

func (c *Client) do(ctx context.Context, webhook models.Webhook, url string, payload any) (int, *Envelope) {
	if !c.limiter.Allow(webhook) {
		return 0, &Envelope{Error: "rate limited"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, &Envelope{Error: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, &Envelope{Error: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, &Envelope{Error: fmt.Sprintf("failed to make request: %v", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &Envelope{Error: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &Envelope{Error: fmt.Sprintf("webhook failed: %s", http.StatusText(resp.StatusCode))}
	}

	if !json.Valid(data) {
		return resp.StatusCode, &Envelope{Error: "failed to decode response: invalid JSON"}
	}

	return resp.StatusCode, &Envelope{Success: true, Data: data}
}
