package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/helios/helios/internal/models"
)

// GetOrCreateCredits returns the user's balance, materialising the default row on
// first access. created reports whether this call inserted it.
func (s *Store) GetOrCreateCredits(ctx context.Context, userID string) (credit *models.UserCredit, created bool, err error) {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_credits (user_id, credits, total_used, last_reset_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, models.DefaultCredits, ts, ts)
	if err != nil {
		return nil, false, fmt.Errorf("failed to initialize credits: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	credit, err = s.getCredits(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return credit, n > 0, nil
}

// UpdateCredits overwrites the user's balance and usage counters
func (s *Store) UpdateCredits(ctx context.Context, userID string, credits, totalUsed int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_credits SET credits = ?, total_used = ?, updated_at = ? WHERE user_id = ?`,
		credits, totalUsed, now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update credits: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountCredits returns the number of credit rows for userID (0 or 1)
func (s *Store) CountCredits(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_credits WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (s *Store) getCredits(ctx context.Context, userID string) (*models.UserCredit, error) {
	var credit models.UserCredit
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, credits, total_used, last_reset_at, updated_at
		FROM user_credits WHERE user_id = ?`, userID).
		Scan(&credit.UserID, &credit.Credits, &credit.TotalUsed, &credit.LastResetAt, &credit.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credits: %w", err)
	}
	return &credit, nil
}
