package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"convertapi/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, is_active, usage_count, last_used, created_at, deactivated_at`

type APIKeyRepository struct {
	db *pgxpool.Pool
}

func NewAPIKeyRepository(db *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, k *entities.APIKey) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		k.ID, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, k.IsActive, k.UsageCount, k.LastUsed, k.CreatedAt, k.DeactivatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) GetAPIKeyByHash(ctx context.Context, hash string) (*entities.APIKey, error) {
	k, err := scanAPIKey(r.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrAPIKeyNotFound
	}
	return k, err
}

func (r *APIKeyRepository) ListAPIKeys(ctx context.Context, userID string) ([]entities.APIKey, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []entities.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// DeactivateAPIKey is idempotent; the first deactivation time is kept.
func (r *APIKeyRepository) DeactivateAPIKey(ctx context.Context, userID, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE api_keys SET is_active = FALSE, deactivated_at = COALESCE(deactivated_at, $3)
		WHERE id = $1 AND user_id = $2`, id, userID, now)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrAPIKeyNotFound
	}
	return nil
}

func (r *APIKeyRepository) TouchAPIKey(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE api_keys SET usage_count = usage_count + 1, last_used = $2 WHERE id = $1`, id, now)
	return err
}

func scanAPIKey(row pgx.Row) (*entities.APIKey, error) {
	var k entities.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.IsActive, &k.UsageCount,
		&k.LastUsed, &k.CreatedAt, &k.DeactivatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}
