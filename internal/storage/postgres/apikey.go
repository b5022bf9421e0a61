package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/bookshop-orders/internal/domain/auth"
)

const (
	findAPIKeyByHashSQL = `SELECT id, key_hash, user_id, name, scopes FROM api_keys
		WHERE key_hash = $1 AND active`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, user_id, name, scopes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			scopes = EXCLUDED.scopes,
			active = TRUE`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository returns an APIKeyRepository that uses db.
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	rows, err := r.db.Query(ctx, findAPIKeyByHashSQL, hash)
	if err != nil {
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	k, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (auth.APIKeyInfo, error) {
		var k auth.APIKeyInfo
		err := row.Scan(&k.ID, &k.KeyHash, &k.UserID, &k.Name, &k.Scopes)
		return k, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &k, nil
}

// Upsert stores a key, reactivating it if it already exists.
func (r *APIKeyRepository) Upsert(ctx context.Context, k auth.APIKeyInfo) error {
	if _, err := r.db.Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.UserID, k.Name, k.Scopes); err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.ID, err)
	}
	return nil
}
