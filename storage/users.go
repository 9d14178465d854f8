package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"farmchat/models"
)

// UpsertUser inserts or updates an identity row. Token is the bearer
// credential issued by the marketplace's auth flow; this subsystem only
// stores and matches it.
func (s *Store) UpsertUser(user models.User, token string) error {
	if user.ID == "" {
		return errors.New("user id is required")
	}
	if user.Name == "" {
		return errors.New("user name is required")
	}
	if token == "" {
		return errors.New("token is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO users (id, name, token)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, token = excluded.token`,
		user.ID, user.Name, token,
	)
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", user.ID, err)
	}

	return nil
}

// GetUser resolves an identity by ID.
func (s *Store) GetUser(userID string) (*models.User, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	var user models.User
	err := s.db.QueryRow(`SELECT id, name FROM users WHERE id = ?`, userID).
		Scan(&user.ID, &user.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", userID, err)
	}

	return &user, nil
}

// FindUserByToken resolves the identity owning a bearer token.
func (s *Store) FindUserByToken(token string) (*models.User, error) {
	if token == "" {
		return nil, errors.New("token is required")
	}

	var user models.User
	err := s.db.QueryRow(`SELECT id, name FROM users WHERE token = ?`, token).
		Scan(&user.ID, &user.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by token: %w", err)
	}

	return &user, nil
}
