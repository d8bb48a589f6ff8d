package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, used_storage_bytes, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.UsedStorageBytes,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &user, nil
}

// Ensure creates the user record if it does not exist yet.
func (r *UserRepository) Ensure(ctx context.Context, id string) error {
	query := `
		INSERT INTO users (id, used_storage_bytes, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("ensuring user: %w", err)
	}
	return nil
}

// ReserveStorage adds bytes to the user's usage if the result stays within limit.
// The check and the increment are one statement so concurrent reservations
// cannot both pass against a stale total.
func (r *UserRepository) ReserveStorage(ctx context.Context, id string, bytes, limit int64) (int64, error) {
	query := `
		UPDATE users
		SET used_storage_bytes = used_storage_bytes + $2, updated_at = NOW()
		WHERE id = $1 AND used_storage_bytes + $2 <= $3
		RETURNING used_storage_bytes
	`
	var total int64
	err := r.pool.QueryRow(ctx, query, id, bytes, limit).Scan(&total)
	if err == nil {
		return total, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("reserving storage: %w", err)
	}

	// No row updated: either the user is missing or the cap was hit.
	user, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return user.UsedStorageBytes, ErrQuotaExceeded
}

// ReleaseStorage subtracts bytes from the user's usage, never going below zero.
func (r *UserRepository) ReleaseStorage(ctx context.Context, id string, bytes int64) (int64, error) {
	query := `
		UPDATE users
		SET used_storage_bytes = GREATEST(used_storage_bytes - $2, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING used_storage_bytes
	`
	var total int64
	err := r.pool.QueryRow(ctx, query, id, bytes).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("releasing storage: %w", err)
	}
	return total, nil
}
