package service

import (
	"context"
	"errors"
	"strings"

	"github.com/helios/helios/internal/models"
	"github.com/helios/helios/internal/store"
	"github.com/helios/helios/internal/workflow"
	"github.com/mudler/xlog"
)

// TaskReport is a status update sent back by the workflow engine
type TaskReport struct {
	Status       models.TaskStatus
	Output       string
	ErrorMessage string
	ExecutionID  string
}

// ListTasks returns the caller's tasks, newest first
func (s *Service) ListTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	return s.store.ListTasks(ctx, userID)
}

// GetTask returns a task owned by the caller
func (s *Service) GetTask(ctx context.Context, userID, id string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrNotFound
	}
	return task, nil
}

// CreateTask records a pending task. It does not contact the workflow engine.
func (s *Service) CreateTask(ctx context.Context, userID, taskType, input, conversationID string) (*models.Task, error) {
	if strings.TrimSpace(taskType) == "" {
		return nil, invalid("taskType is required")
	}
	if conversationID != "" {
		if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
			return nil, err
		}
	}

	task := &models.Task{
		ID:             newID("task"),
		UserID:         userID,
		ConversationID: conversationID,
		TaskType:       taskType,
		Status:         models.TaskPending,
		Input:          input,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// DispatchTask hands a pending task to the task webhook. The task moves to
// processing when the engine accepts it and to failed otherwise.
func (s *Service) DispatchTask(ctx context.Context, userID, id string) (*models.Task, error) {
	task, err := s.GetTask(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskPending {
		return nil, ErrInvalidTransition
	}

	env := s.bridge.Task(ctx, &workflow.TaskRequest{
		TaskType: task.TaskType,
		Input:    task.Input,
		TaskID:   task.ID,
		UserID:   userID,
	})

	update := store.TaskUpdate{Status: models.TaskProcessing}
	if env.Success {
		update.ExternalExecutionID, _ = env.String("executionId")
	} else {
		update.Status = models.TaskFailed
		update.ErrorMessage = env.Error
		xlog.Warn("Task dispatch failed", "task", task.ID, "error", env.Error)
	}

	if err := s.transition(ctx, task, update); err != nil {
		return nil, err
	}
	return s.store.GetTask(ctx, id)
}

// ReportTask applies a status update from the workflow engine. Callers other
// than the admin and the engine identity only see their own tasks. Only
// transitions allowed by the task state machine are written.
func (s *Service) ReportTask(ctx context.Context, caller *models.User, id string, report TaskReport) (*models.Task, error) {
	if !report.Status.Valid() {
		return nil, invalid("unknown task status %q", report.Status)
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayReport(caller, task) {
		return nil, ErrNotFound
	}
	if !task.Status.CanTransition(report.Status) {
		return nil, ErrInvalidTransition
	}

	err = s.transition(ctx, task, store.TaskUpdate{
		Status:              report.Status,
		Output:              report.Output,
		ErrorMessage:        report.ErrorMessage,
		ExternalExecutionID: report.ExecutionID,
	})
	if err != nil {
		return nil, err
	}

	xlog.Debug("Task status reported", "task", id, "from", task.Status, "to", report.Status)
	return s.store.GetTask(ctx, id)
}

func (s *Service) mayReport(caller *models.User, task *models.Task) bool {
	switch {
	case caller == nil:
		return false
	case caller.ID == task.UserID, caller.Role == models.RoleAdmin:
		return true
	default:
		return s.engineID != "" && caller.ID == s.engineID
	}
}

func (s *Service) transition(ctx context.Context, task *models.Task, update store.TaskUpdate) error {
	err := s.store.TransitionTask(ctx, task.ID, task.Status, update)
	if errors.Is(err, store.ErrStaleState) {
		return ErrInvalidTransition
	}
	return err
}
