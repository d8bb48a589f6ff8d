package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ShareCodeRepository handles share code database operations.
type ShareCodeRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a new share code.
func (r *ShareCodeRepository) Create(ctx context.Context, code *ShareCode) error {
	query := `
		INSERT INTO share_codes (code, owner_id, albums, used_by, created_at)
		VALUES ($1, $2, $3, '{}', NOW())
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query, code.Code, code.OwnerID, nonNil(code.Albums)).Scan(&code.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting share code: %w", err)
	}
	return nil
}

// Get retrieves a share code.
func (r *ShareCodeRepository) Get(ctx context.Context, code string) (*ShareCode, error) {
	query := `
		SELECT code, owner_id, albums, used_by, created_at
		FROM share_codes
		WHERE code = $1
	`
	var sc ShareCode
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&sc.Code,
		&sc.OwnerID,
		&sc.Albums,
		&sc.UsedBy,
		&sc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying share code: %w", err)
	}
	return &sc, nil
}

// AddRedeemer records userID as having used the code.
func (r *ShareCodeRepository) AddRedeemer(ctx context.Context, code, userID string) error {
	query := `
		UPDATE share_codes SET used_by = array_append(used_by, $2)
		WHERE code = $1 AND NOT ($2 = ANY(used_by))
	`
	if _, err := r.pool.Exec(ctx, query, code, userID); err != nil {
		return fmt.Errorf("recording share code redeemer: %w", err)
	}
	return nil
}
