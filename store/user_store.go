package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"craftshop/storefront/logging"
	"craftshop/storefront/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new UserStore instance.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const usersSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id              SERIAL PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		name            TEXT NOT NULL DEFAULT '',
		phone           TEXT NOT NULL DEFAULT '',
		hashed_password BYTEA NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

// EnsureSchema creates the users table when it is missing.
func (s *UserStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usersSchema); err != nil {
		return fmt.Errorf("failed to create users schema: %w", err)
	}
	return nil
}

// CreateUser inserts a new customer. An email already on file yields ErrUserExists.
func (s *UserStore) CreateUser(ctx context.Context, req models.SignupRequest, hashedPassword []byte) (*models.User, error) {
	user := &models.User{}
	query := `
		INSERT INTO users (email, name, phone, hashed_password)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, name, phone, created_at, updated_at;
	`
	err := s.db.QueryRowContext(ctx, query, req.Email, req.Name, req.Phone, hashedPassword).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Phone,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("email %q: %w", req.Email, ErrUserExists)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	logging.Info().Int("user_id", user.ID).Msg("user created")
	return user, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email = $1", email)
}

func (s *UserStore) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	return s.getUser(ctx, "id = $1", id)
}

func (s *UserStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, email, name, phone, hashed_password, created_at, updated_at
		FROM users
		WHERE ` + where
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Phone,
		&user.HashedPassword,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
