package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/helios/helios/internal/models"
)

const agentColumns = `id, user_id, name, description, agent_type, configuration, external_workflow_id,
	is_public, remix_count, experience_count, evolving_score, created_at, updated_at`

// CreateAgent inserts an agent
func (s *Store) CreateAgent(ctx context.Context, agent *models.Agent) error {
	return insertAgent(ctx, s.db, agent)
}

// GetAgent returns the agent with id or ErrNotFound
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	return getAgent(ctx, s.db, id)
}

// ListAgentsByUser returns the agents owned by userID, newest first
func (s *Store) ListAgentsByUser(ctx context.Context, userID string) ([]*models.Agent, error) {
	return s.listAgents(ctx, `WHERE user_id = ?`, userID)
}

// ListPublicAgents returns the public catalogue, most remixed first
func (s *Store) ListPublicAgents(ctx context.Context) ([]*models.Agent, error) {
	return s.listAgents(ctx, `WHERE is_public = ?`, models.VisibilityPublic)
}

func (s *Store) listAgents(ctx context.Context, where string, args ...any) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents `+where+` ORDER BY remix_count DESC, created_at DESC, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	agents := []*models.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// RemixAgent increments the source agent's remix counter and inserts the copy built
// from it, in one transaction. The increment is a single UPDATE so concurrent remixes
// never lose counts. It returns ErrNotFound when the source does not exist.
func (s *Store) RemixAgent(ctx context.Context, sourceID string, build func(source *models.Agent) *models.Agent) (*models.Agent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE agents SET remix_count = remix_count + 1, updated_at = ? WHERE id = ?`,
		now(), sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to increment remix count: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}

	source, err := getAgent(ctx, tx, sourceID)
	if err != nil {
		return nil, err
	}

	remix := build(source)
	if err := insertAgent(ctx, tx, remix); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit remix: %w", err)
	}
	return remix, nil
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertAgent(ctx context.Context, db execQuerier, agent *models.Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now()
	}
	agent.UpdatedAt = agent.CreatedAt

	_, err := db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID,
		agent.UserID,
		agent.Name,
		nullString(agent.Description),
		agent.AgentType,
		nullString(agent.Configuration),
		nullString(agent.ExternalWorkflowID),
		agent.IsPublic,
		agent.RemixCount,
		agent.ExperienceCount,
		agent.EvolvingScore,
		agent.CreatedAt,
		agent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func getAgent(ctx context.Context, db execQuerier, id string) (*models.Agent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)

	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

func scanAgent(row scanner) (*models.Agent, error) {
	var agent models.Agent
	var description, configuration, workflowID sql.NullString

	err := row.Scan(
		&agent.ID,
		&agent.UserID,
		&agent.Name,
		&description,
		&agent.AgentType,
		&configuration,
		&workflowID,
		&agent.IsPublic,
		&agent.RemixCount,
		&agent.ExperienceCount,
		&agent.EvolvingScore,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	agent.Description = description.String
	agent.Configuration = configuration.String
	agent.ExternalWorkflowID = workflowID.String
	return &agent, nil
}
