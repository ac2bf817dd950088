package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/helios/helios/internal/models"
)

const taskColumns = `id, user_id, conversation_id, task_type, status, input, output, error_message,
	external_execution_id, created_at, completed_at`

// TaskUpdate carries the fields written by a status transition. Empty strings keep the stored value.
type TaskUpdate struct {
	Status              models.TaskStatus
	Output              string
	ErrorMessage        string
	ExternalExecutionID string
}

// CreateTask inserts a task
func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.UserID,
		nullString(task.ConversationID),
		task.TaskType,
		task.Status,
		task.Input,
		nullString(task.Output),
		nullString(task.ErrorMessage),
		nullString(task.ExternalExecutionID),
		task.CreatedAt,
		task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask returns the task with id or ErrNotFound
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns the user's tasks, newest first
func (s *Store) ListTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// TransitionTask applies update only if the task is still in status from.
// It returns ErrNotFound for a missing task and ErrStaleState when the status moved on.
// Entering a terminal status stamps completed_at.
func (s *Store) TransitionTask(ctx context.Context, id string, from models.TaskStatus, update TaskUpdate) error {
	var completedAt sql.NullTime
	if update.Status.Terminal() {
		completedAt = sql.NullTime{Time: now(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?,
			output = COALESCE(?, output),
			error_message = COALESCE(?, error_message),
			external_execution_id = COALESCE(?, external_execution_id),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?`,
		update.Status,
		nullString(update.Output),
		nullString(update.ErrorMessage),
		nullString(update.ExternalExecutionID),
		completedAt,
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetTask(ctx, id); err != nil {
		return err
	}
	return ErrStaleState
}

func scanTask(row scanner) (*models.Task, error) {
	var task models.Task
	var conversationID, output, errorMessage, executionID sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&conversationID,
		&task.TaskType,
		&task.Status,
		&task.Input,
		&output,
		&errorMessage,
		&executionID,
		&task.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ConversationID = conversationID.String
	task.Output = output.String
	task.ErrorMessage = errorMessage.String
	task.ExternalExecutionID = executionID.String
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	return &task, nil
}
