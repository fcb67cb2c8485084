package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles user data access.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Upsert creates the user or updates the display name and role of an
// existing one with the same username, returning its id.
func (r *UserRepository) Upsert(ctx context.Context, username, displayName, role string) (int, error) {
	var id int
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, display_name, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE
		 SET display_name = EXCLUDED.display_name, role = EXCLUDED.role
		 RETURNING id`,
		username, displayName, role,
	).Scan(&id)
	return id, err
}
