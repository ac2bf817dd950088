package service

import (
	"context"
	"unicode/utf8"

	"github.com/helios/helios/internal/models"
	"github.com/helios/helios/internal/workflow"
	"github.com/mudler/xlog"
)

const (
	defaultAgentType = "general"
	titleLength      = 50
)

// SendResult is the outcome of one chat turn
type SendResult struct {
	ConversationID   string          `json:"conversationId"`
	UserMessage      *models.Message `json:"userMessage"`
	AssistantMessage *models.Message `json:"assistantMessage"`
}

// ListConversations returns the caller's conversations, newest first. An empty
// status returns all of them.
func (s *Service) ListConversations(ctx context.Context, userID string, status models.ConversationStatus) ([]*models.Conversation, error) {
	if status != "" && !status.Valid() {
		return nil, invalid("unknown conversation status %q", status)
	}
	return s.store.ListConversations(ctx, userID, status)
}

// GetConversation returns a conversation owned by the caller
func (s *Service) GetConversation(ctx context.Context, userID, id string) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrNotFound
	}
	return conv, nil
}

// CreateConversation starts an active conversation
func (s *Service) CreateConversation(ctx context.Context, userID, title, agentType string) (*models.Conversation, error) {
	if agentType == "" {
		agentType = defaultAgentType
	}

	conv := &models.Conversation{
		ID:        newID("conv"),
		UserID:    userID,
		Title:     title,
		AgentType: agentType,
		Status:    models.ConversationActive,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ArchiveConversation archives a conversation. Archiving twice is a no-op.
func (s *Service) ArchiveConversation(ctx context.Context, userID, id string) (*models.Conversation, error) {
	conv, err := s.GetConversation(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !conv.Status.CanTransition(models.ConversationArchived) {
		return nil, ErrInvalidTransition
	}
	if conv.Status == models.ConversationArchived {
		return conv, nil
	}

	if err := s.store.SetConversationStatus(ctx, id, models.ConversationArchived); err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, id)
}

// ListMessages returns the transcript of a conversation in insertion order
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string) ([]*models.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}

// SendMessage runs one chat turn. Without a conversation id a new conversation is
// started and titled after the content. The user message is persisted before the
// workflow is called; an unavailable workflow yields a fallback reply, never an error.
// Content is forwarded verbatim, so whitespace-only messages are accepted.
func (s *Service) SendMessage(ctx context.Context, userID, conversationID, content string) (*SendResult, error) {
	if content == "" {
		return nil, invalid("content is required")
	}

	var conv *models.Conversation
	var err error
	if conversationID == "" {
		conv, err = s.CreateConversation(ctx, userID, truncateRunes(content, titleLength), defaultAgentType)
	} else {
		conv, err = s.GetConversation(ctx, userID, conversationID)
	}
	if err != nil {
		return nil, err
	}
	if !conv.Status.AcceptsMessages() {
		return nil, ErrConversationArchived
	}

	userMsg := &models.Message{
		ID:             newID("msg"),
		ConversationID: conv.ID,
		Role:           models.MessageRoleUser,
		Content:        content,
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	env := s.bridge.Chat(ctx, &workflow.ChatRequest{
		Message:        content,
		ConversationID: conv.ID,
		UserID:         userID,
		History:        models.Transcript(history),
	})

	reply, ok := env.String("response")
	if !ok || reply == "" {
		reply = workflow.Fallback()
		xlog.Info("Using fallback reply", "conversation", conv.ID, "error", env.Error)
	}

	assistantMsg := &models.Message{
		ID:             newID("msg"),
		ConversationID: conv.ID,
		Role:           models.MessageRoleAssistant,
		Content:        reply,
	}
	if err := s.store.AppendMessage(ctx, assistantMsg); err != nil {
		return nil, err
	}

	return &SendResult{
		ConversationID:   conv.ID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	}, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
