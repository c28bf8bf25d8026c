package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"token-portal/internal/domain"
)

// TokenRepository define el contrato de persistencia para API tokens.
// La base durable es la fuente de verdad para revoked y expires_at.
type TokenRepository interface {
	Create(ctx context.Context, token domain.APIToken) error
	GetByID(ctx context.Context, id string) (domain.APIToken, error)
	GetByHash(ctx context.Context, hash string) (domain.APIToken, error)
	ListByUser(ctx context.Context, userID string) ([]domain.APIToken, error)
	Revoke(ctx context.Context, id string) error
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
	ListAll(ctx context.Context, limit, offset int) ([]domain.AdminAPIToken, error)
}

// PgTokenRepository implementa TokenRepository usando pgxpool.
type PgTokenRepository struct {
	pool *pgxpool.Pool
}

func NewPgTokenRepository(pool *pgxpool.Pool) *PgTokenRepository {
	return &PgTokenRepository{pool: pool}
}

func (r *PgTokenRepository) Create(ctx context.Context, token domain.APIToken) error {
	const query = `
		INSERT INTO api_tokens (id, user_id, name, token_hash, token_preview, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.Name,
		token.TokenHash,
		token.Preview,
		token.ExpiresAt,
		token.Revoked,
		token.CreatedAt,
	)
	return err
}

func (r *PgTokenRepository) GetByID(ctx context.Context, id string) (domain.APIToken, error) {
	const query = `
		SELECT id, user_id, name, token_hash, token_preview, expires_at, last_used_at, revoked, created_at
		FROM api_tokens
		WHERE id = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *PgTokenRepository) GetByHash(ctx context.Context, hash string) (domain.APIToken, error) {
	const query = `
		SELECT id, user_id, name, token_hash, token_preview, expires_at, last_used_at, revoked, created_at
		FROM api_tokens
		WHERE token_hash = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, hash))
}

func (r *PgTokenRepository) ListByUser(ctx context.Context, userID string) ([]domain.APIToken, error) {
	const query = `
		SELECT id, user_id, name, token_hash, token_preview, expires_at, last_used_at, revoked, created_at
		FROM api_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []domain.APIToken
	for rows.Next() {
		var t domain.APIToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenHash, &t.Preview, &t.ExpiresAt, &t.LastUsedAt, &t.Revoked, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Revoke es idempotente: revocar un token ya revocado deja el mismo estado.
func (r *PgTokenRepository) Revoke(ctx context.Context, id string) error {
	const query = `
		UPDATE api_tokens
		SET revoked = TRUE
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *PgTokenRepository) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE api_tokens
		SET last_used_at = $2
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, at)
	return err
}

func (r *PgTokenRepository) ListAll(ctx context.Context, limit, offset int) ([]domain.AdminAPIToken, error) {
	const query = `
		SELECT t.id, t.user_id, t.name, t.token_hash, t.token_preview, t.expires_at, t.last_used_at, t.revoked, t.created_at, u.email
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		ORDER BY t.created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []domain.AdminAPIToken
	for rows.Next() {
		var t domain.AdminAPIToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenHash, &t.Preview, &t.ExpiresAt, &t.LastUsedAt, &t.Revoked, &t.CreatedAt, &t.UserEmail); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PgTokenRepository) scanOne(row rowScanner) (domain.APIToken, error) {
	var t domain.APIToken
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Name,
		&t.TokenHash,
		&t.Preview,
		&t.ExpiresAt,
		&t.LastUsedAt,
		&t.Revoked,
		&t.CreatedAt,
	)
	return t, err
}
