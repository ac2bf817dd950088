package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/helios/helios/internal/models"
)

// UpsertUser inserts the user or refreshes its profile fields and sign-in time.
// Empty profile fields leave the stored value untouched. When user.Role is empty the
// role is admin iff the id matches ownerID; an explicit role always wins.
func (s *Store) UpsertUser(ctx context.Context, user *models.User, ownerID string) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required for upsert")
	}

	role := user.Role
	setRole := role != ""
	if role == "" {
		role = models.RoleUser
		if ownerID != "" && user.ID == ownerID {
			role = models.RoleAdmin
			setRole = true
		}
	}

	ts := now()
	query := `
		INSERT INTO users (id, name, email, login_method, role, created_at, last_signed_in)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = COALESCE(excluded.name, users.name),
			email = COALESCE(excluded.email, users.email),
			login_method = COALESCE(excluded.login_method, users.login_method),
			role = CASE WHEN ? THEN excluded.role ELSE users.role END,
			last_signed_in = excluded.last_signed_in
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		nullString(user.Name),
		nullString(user.Email),
		nullString(user.LoginMethod),
		role,
		ts,
		ts,
		setRole,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// GetUser returns the user with id or ErrNotFound
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, login_method, role, created_at, last_signed_in
		FROM users WHERE id = ?`, id)

	var user models.User
	var name, email, loginMethod sql.NullString
	err := row.Scan(&user.ID, &name, &email, &loginMethod, &user.Role, &user.CreatedAt, &user.LastSignedIn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Name = name.String
	user.Email = email.String
	user.LoginMethod = loginMethod.String
	return &user, nil
}
