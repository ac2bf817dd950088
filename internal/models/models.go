package models

import "time"

// Role is the access level of a user
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the resolved caller identity as stored locally
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Email        string    `json:"email,omitempty"`
	LoginMethod  string    `json:"loginMethod,omitempty"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	LastSignedIn time.Time `json:"lastSignedIn"`
}

// Conversation is a chat session owned by one user
type Conversation struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId"`
	Title     string             `json:"title,omitempty"`
	AgentType string             `json:"agentType"`
	Status    ConversationStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// MessageRole identifies the author of a message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Valid reports whether r is a known message role
func (r MessageRole) Valid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	}
	return false
}

// Message is one immutable transcript entry. Seq is the insertion order.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Seq            int64       `json:"seq"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Metadata       string      `json:"metadata,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Task is the durable record of one unit of work delegated to the workflow engine
type Task struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"userId"`
	ConversationID      string     `json:"conversationId,omitempty"`
	TaskType            string     `json:"taskType"`
	Status              TaskStatus `json:"status"`
	Input               string     `json:"input"`
	Output              string     `json:"output,omitempty"`
	ErrorMessage        string     `json:"errorMessage,omitempty"`
	ExternalExecutionID string     `json:"externalExecutionId,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
}

// Document is a knowledge-base entry stored as raw text
type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	FileURL   string    `json:"fileUrl,omitempty"`
	MimeType  string    `json:"mimeType,omitempty"`
	Size      string    `json:"size,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Visibility controls whether an agent appears in the public catalogue
type Visibility string

const (
	VisibilityPublic  Visibility = "yes"
	VisibilityPrivate Visibility = "no"
)

// Valid reports whether v is "yes" or "no"
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Agent is a user-defined agent configuration with usage metrics
type Agent struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	AgentType          string     `json:"agentType"`
	Configuration      string     `json:"configuration,omitempty"`
	ExternalWorkflowID string     `json:"externalWorkflowId,omitempty"`
	IsPublic           Visibility `json:"isPublic"`
	RemixCount         int64      `json:"remixCount"`
	ExperienceCount    int64      `json:"experienceCount"`
	EvolvingScore      float64    `json:"evolvingScore"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// UserCredit is the per-user credit balance
type UserCredit struct {
	UserID      string    `json:"userId"`
	Credits     int64     `json:"credits"`
	TotalUsed   int64     `json:"totalUsed"`
	LastResetAt time.Time `json:"lastResetAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DefaultCredits is the starting balance of a newly materialised credit row
const DefaultCredits int64 = 1000

// HistoryEntry is the role/content pair forwarded to the chat workflow
type HistoryEntry struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Transcript formats messages as the role/content sequence sent to the workflow engine
func Transcript(messages []*Message) []HistoryEntry {
	history := make([]HistoryEntry, len(messages))
	for i, msg := range messages {
		history[i] = HistoryEntry{Role: msg.Role, Content: msg.Content}
	}
	return history
}

// Webhook names one of the workflow engine endpoints
type Webhook string

const (
	WebhookChat      Webhook = "chat"
	WebhookTask      Webhook = "task"
	WebhookKnowledge Webhook = "knowledge"
)

// WebhookCall is the audit record of one outbound workflow call
type WebhookCall struct {
	ID         int64         `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Webhook    Webhook       `json:"webhook"`
	UserID     string        `json:"userId,omitempty"`
	Endpoint   string        `json:"endpoint"`
	StatusCode int           `json:"statusCode"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
}
