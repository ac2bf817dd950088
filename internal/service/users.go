package service

import (
	"context"

	"github.com/helios/helios/internal/models"
	"github.com/mudler/xlog"
)

// SignIn records the resolved caller identity and returns the stored user
func (s *Service) SignIn(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		return nil, invalid("user id is required")
	}
	if err := s.store.UpsertUser(ctx, user, s.ownerID); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, user.ID)
}

// Me returns the stored caller
func (s *Service) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.store.GetUser(ctx, userID)
}

// Credits returns the caller's balance, creating the default balance on first read
func (s *Service) Credits(ctx context.Context, userID string) (*models.UserCredit, error) {
	credit, created, err := s.store.GetOrCreateCredits(ctx, userID)
	if err != nil {
		return nil, err
	}
	if created {
		xlog.Debug("Initialized credits", "user", userID, "credits", credit.Credits)
	}
	return credit, nil
}
