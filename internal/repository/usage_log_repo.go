package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"token-portal/internal/domain"
)

// UsageLogRepository persiste registros de uso de la API protegida.
// Los registros son append-only: no hay update ni delete.
type UsageLogRepository interface {
	Insert(ctx context.Context, entry domain.UsageLog) error
	List(ctx context.Context, limit, offset int) ([]domain.UsageLog, error)
}

// PgUsageLogRepository implementa UsageLogRepository usando pgxpool.
type PgUsageLogRepository struct {
	pool *pgxpool.Pool
}

func NewPgUsageLogRepository(pool *pgxpool.Pool) *PgUsageLogRepository {
	return &PgUsageLogRepository{pool: pool}
}

func (r *PgUsageLogRepository) Insert(ctx context.Context, entry domain.UsageLog) error {
	const query = `
		INSERT INTO api_usage_logs (id, api_token_id, user_id, request_timestamp, request_method, request_path, response_status_code, latency_ms, client_ip_address, user_agent, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.TokenID,
		entry.UserID,
		entry.Timestamp,
		entry.Method,
		entry.Path,
		entry.StatusCode,
		entry.LatencyMs,
		entry.ClientIP,
		entry.UserAgent,
		entry.ErrorMessage,
	)
	return err
}

func (r *PgUsageLogRepository) List(ctx context.Context, limit, offset int) ([]domain.UsageLog, error) {
	const query = `
		SELECT id, api_token_id, user_id, request_timestamp, request_method, request_path, response_status_code, latency_ms, client_ip_address, user_agent, error_message
		FROM api_usage_logs
		ORDER BY request_timestamp DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.UsageLog
	for rows.Next() {
		var l domain.UsageLog
		if err := rows.Scan(&l.ID, &l.TokenID, &l.UserID, &l.Timestamp, &l.Method, &l.Path, &l.StatusCode, &l.LatencyMs, &l.ClientIP, &l.UserAgent, &l.ErrorMessage); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
