package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

type gatewayLogRepository struct {
	db *sql.DB
}

// NewGatewayLogRepository создаёт PostgreSQL-реализацию журнала обменов с эквайерами.
func NewGatewayLogRepository(store *Store) domain.GatewayLogRepository {
	return &gatewayLogRepository{db: store.DB()}
}

func (r *gatewayLogRepository) Insert(entry domain.GatewayRequestLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gateway_request_log (
			id, payment_ref, acquirer, kind, request_body, response_body, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		entry.ID, entry.PaymentRef, entry.Acquirer, entry.Kind,
		entry.RequestBody, entry.ResponseBody, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert gateway log: %w", err)
	}

	return nil
}

func (r *gatewayLogRepository) ListByPaymentRef(paymentRef string) ([]domain.GatewayRequestLog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_ref, acquirer, kind, request_body, response_body, created_at
		FROM gateway_request_log
		WHERE payment_ref = $1
		ORDER BY created_at ASC, id ASC
	`, paymentRef)
	if err != nil {
		return nil, fmt.Errorf("list gateway log: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.GatewayRequestLog, 0)
	for rows.Next() {
		var entry domain.GatewayRequestLog
		if err := rows.Scan(
			&entry.ID, &entry.PaymentRef, &entry.Acquirer, &entry.Kind,
			&entry.RequestBody, &entry.ResponseBody, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan gateway log row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gateway log rows: %w", err)
	}

	return entries, nil
}

var _ domain.GatewayLogRepository = (*gatewayLogRepository)(nil)
