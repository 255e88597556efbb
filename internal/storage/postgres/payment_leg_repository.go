package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

type paymentLegRepository struct {
	db *sql.DB
}

// NewPaymentLegRepository создаёт PostgreSQL-реализацию PaymentLegRepository.
func NewPaymentLegRepository(store *Store) domain.PaymentLegRepository {
	return &paymentLegRepository{db: store.DB()}
}

const paymentLegColumns = `
	id, order_id, member_id, method, status,
	amount_minor, cancelable_minor,
	acquirer, transaction_id, approval_no, auth_token, auth_url, net_cancel_url,
	version, created_by, updated_by, created_at, updated_at`

func (r *paymentLegRepository) Create(leg domain.PaymentLeg) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_legs (`+paymentLegColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		leg.ID, leg.OrderID, leg.MemberID, string(leg.Method), string(leg.Status),
		leg.AmountMinor, leg.CancelableMinor,
		leg.Acquirer, leg.TransactionID, leg.ApprovalNo, leg.AuthToken, leg.AuthURL, leg.NetCancelURL,
		leg.Version, leg.CreatedBy, leg.UpdatedBy, leg.CreatedAt, leg.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert payment leg: %w", err)
	}

	return nil
}

func (r *paymentLegRepository) Get(id string) (domain.PaymentLeg, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymentLegColumns+`
		FROM payment_legs
		WHERE id = $1
	`, id)

	leg, err := scanPaymentLeg(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentLeg{}, domain.ErrPaymentLegNotFound
		}
		return domain.PaymentLeg{}, fmt.Errorf("select payment leg: %w", err)
	}

	return leg, nil
}

func (r *paymentLegRepository) ListByOrder(orderID string) ([]domain.PaymentLeg, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentLegColumns+`
		FROM payment_legs
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payment legs: %w", err)
	}
	defer rows.Close()

	legs := make([]domain.PaymentLeg, 0)
	for rows.Next() {
		leg, err := scanPaymentLeg(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment leg row: %w", err)
		}
		legs = append(legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment leg rows: %w", err)
	}

	return legs, nil
}

func (r *paymentLegRepository) Save(leg domain.PaymentLeg) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_legs
		SET status = $1,
		    cancelable_minor = $2,
		    acquirer = $3,
		    transaction_id = $4,
		    approval_no = $5,
		    auth_token = $6,
		    auth_url = $7,
		    net_cancel_url = $8,
		    version = version + 1,
		    updated_by = $9,
		    updated_at = $10
		WHERE id = $11
		  AND version = $12
	`,
		string(leg.Status), leg.CancelableMinor,
		leg.Acquirer, leg.TransactionID, leg.ApprovalNo, leg.AuthToken, leg.AuthURL, leg.NetCancelURL,
		leg.UpdatedBy, leg.UpdatedAt,
		leg.ID, leg.Version,
	)
	if err != nil {
		return fmt.Errorf("update payment leg: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		err := r.db.QueryRowContext(ctx, `SELECT id FROM payment_legs WHERE id = $1`, leg.ID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrPaymentLegNotFound
		}
		if err != nil {
			return fmt.Errorf("check payment leg exists: %w", err)
		}
		return domain.ErrVersionConflict
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPaymentLeg(row rowScanner) (domain.PaymentLeg, error) {
	var leg domain.PaymentLeg
	var method, status string
	err := row.Scan(
		&leg.ID, &leg.OrderID, &leg.MemberID, &method, &status,
		&leg.AmountMinor, &leg.CancelableMinor,
		&leg.Acquirer, &leg.TransactionID, &leg.ApprovalNo, &leg.AuthToken, &leg.AuthURL, &leg.NetCancelURL,
		&leg.Version, &leg.CreatedBy, &leg.UpdatedBy, &leg.CreatedAt, &leg.UpdatedAt,
	)
	if err != nil {
		return domain.PaymentLeg{}, err
	}
	leg.Method = domain.PaymentMethod(method)
	leg.Status = domain.LegStatus(status)
	return leg, nil
}

var _ domain.PaymentLegRepository = (*paymentLegRepository)(nil)
