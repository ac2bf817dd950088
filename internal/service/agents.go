package service

import (
	"context"
	"errors"
	"strings"

	"github.com/helios/helios/internal/cache"
	"github.com/helios/helios/internal/lineage"
	"github.com/helios/helios/internal/models"
	"github.com/mudler/xlog"
)

// AgentInput holds the fields of a new agent
type AgentInput struct {
	Name          string
	Description   string
	AgentType     string
	Configuration string
	IsPublic      models.Visibility
}

// MyAgents returns the agents created by the caller
func (s *Service) MyAgents(ctx context.Context, userID string) ([]*models.Agent, error) {
	return s.store.ListAgentsByUser(ctx, userID)
}

// PublicAgents returns the public catalogue, most remixed first. Cache errors fall
// through to the store. A fill is dropped if the catalogue changed while it was
// being loaded.
func (s *Service) PublicAgents(ctx context.Context) ([]*models.Agent, error) {
	agents, version, ok, err := s.agents.PublicAgents(ctx)
	if err != nil {
		xlog.Warn("Public agent cache read failed", "error", err)
	}
	if ok {
		return agents, nil
	}

	agents, err = s.store.ListPublicAgents(ctx)
	if err != nil {
		return nil, err
	}

	switch err := s.agents.SetPublicAgents(ctx, agents, version); {
	case errors.Is(err, cache.ErrStale):
		xlog.Debug("Skipped stale public agent cache fill", "version", version)
	case err != nil:
		xlog.Warn("Public agent cache write failed", "error", err)
	}
	return agents, nil
}

// GetAgent returns an agent that is public or owned by the caller
func (s *Service) GetAgent(ctx context.Context, userID, id string) (*models.Agent, error) {
	agent, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.IsPublic != models.VisibilityPublic && agent.UserID != userID {
		return nil, ErrNotFound
	}
	return agent, nil
}

// CreateAgent stores a new agent. Visibility defaults to private.
func (s *Service) CreateAgent(ctx context.Context, userID string, in AgentInput) (*models.Agent, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name is required")
	}
	if strings.TrimSpace(in.AgentType) == "" {
		return nil, invalid("agentType is required")
	}
	if in.IsPublic == "" {
		in.IsPublic = models.VisibilityPrivate
	}
	if !in.IsPublic.Valid() {
		return nil, invalid("isPublic must be \"yes\" or \"no\"")
	}

	agent := &models.Agent{
		ID:            newID("agent"),
		UserID:        userID,
		Name:          in.Name,
		Description:   in.Description,
		AgentType:     in.AgentType,
		Configuration: in.Configuration,
		IsPublic:      in.IsPublic,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}

	if agent.IsPublic == models.VisibilityPublic {
		s.invalidatePublic(ctx)
	}
	return agent, nil
}

// RemixAgent copies an agent into the caller's private collection and bumps the
// source's remix count. The source's visibility is not checked.
func (s *Service) RemixAgent(ctx context.Context, userID, sourceID string) (*models.Agent, error) {
	var source models.Agent
	remix, err := s.store.RemixAgent(ctx, sourceID, func(src *models.Agent) *models.Agent {
		source = *src
		return &models.Agent{
			ID:            newID("agent"),
			UserID:        userID,
			Name:          src.Name + " (Remix)",
			Description:   src.Description,
			AgentType:     src.AgentType,
			Configuration: src.Configuration,
			IsPublic:      models.VisibilityPrivate,
		}
	})
	if err != nil {
		return nil, err
	}

	s.invalidatePublic(ctx)

	if err := s.lineage.RecordRemix(ctx, &source, remix); err != nil {
		xlog.Warn("Failed to record remix lineage", "source", sourceID, "remix", remix.ID, "error", err)
	}

	return remix, nil
}

// AgentLineage returns the remix ancestry of an agent visible to the caller
func (s *Service) AgentLineage(ctx context.Context, userID, id string) ([]lineage.Ancestor, error) {
	if _, err := s.GetAgent(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.lineage.Ancestry(ctx, id)
}

func (s *Service) invalidatePublic(ctx context.Context) {
	if err := s.agents.Invalidate(ctx); err != nil {
		xlog.Warn("Failed to invalidate public agent cache", "error", err)
	}
}
