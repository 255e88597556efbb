package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

type pointLotRepository struct {
	db *sql.DB
}

// NewPointLotRepository создаёт PostgreSQL-реализацию PointLotRepository.
func NewPointLotRepository(store *Store) domain.PointLotRepository {
	return &pointLotRepository{db: store.DB()}
}

const pointLotColumns = `
	id, member_id, kind, amount_minor, remaining_minor,
	start_at, end_at, reason_ref,
	version, created_by, updated_by, created_at, updated_at`

func (r *pointLotRepository) Create(lot domain.PointLot) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO point_lots (`+pointLotColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		lot.ID, lot.MemberID, string(lot.Kind), lot.AmountMinor, lot.RemainingMinor,
		lot.StartAt, lot.EndAt, lot.ReasonRef,
		lot.Version, lot.CreatedBy, lot.UpdatedBy, lot.CreatedAt, lot.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert point lot: %w", err)
	}

	return nil
}

func (r *pointLotRepository) Get(id string) (domain.PointLot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+pointLotColumns+`
		FROM point_lots
		WHERE id = $1
	`, id)

	lot, err := scanPointLot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PointLot{}, domain.ErrPointLotNotFound
		}
		return domain.PointLot{}, fmt.Errorf("select point lot: %w", err)
	}

	return lot, nil
}

// ListUsable отдаёт лоты в порядке списания: ближайшее истечение первым,
// при равном сроке — более ранний по созданию.
func (r *pointLotRepository) ListUsable(memberID string, now time.Time) ([]domain.PointLot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pointLotColumns+`
		FROM point_lots
		WHERE member_id = $1
		  AND remaining_minor > 0
		  AND start_at <= $2
		  AND end_at > $2
		ORDER BY end_at ASC, created_at ASC, id ASC
	`, memberID, now)
	if err != nil {
		return nil, fmt.Errorf("list usable lots: %w", err)
	}
	defer rows.Close()

	return collectPointLots(rows)
}

func (r *pointLotRepository) ListByMember(memberID string) ([]domain.PointLot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pointLotColumns+`
		FROM point_lots
		WHERE member_id = $1
		ORDER BY created_at ASC, id ASC
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list member lots: %w", err)
	}
	defer rows.Close()

	return collectPointLots(rows)
}

func (r *pointLotRepository) Save(lot domain.PointLot) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE point_lots
		SET remaining_minor = $1,
		    version = version + 1,
		    updated_by = $2,
		    updated_at = $3
		WHERE id = $4
		  AND version = $5
	`,
		lot.RemainingMinor, lot.UpdatedBy, lot.UpdatedAt,
		lot.ID, lot.Version,
	)
	if err != nil {
		return fmt.Errorf("update point lot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		err := r.db.QueryRowContext(ctx, `SELECT id FROM point_lots WHERE id = $1`, lot.ID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrPointLotNotFound
		}
		if err != nil {
			return fmt.Errorf("check point lot exists: %w", err)
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func scanPointLot(row rowScanner) (domain.PointLot, error) {
	var lot domain.PointLot
	var kind string
	err := row.Scan(
		&lot.ID, &lot.MemberID, &kind, &lot.AmountMinor, &lot.RemainingMinor,
		&lot.StartAt, &lot.EndAt, &lot.ReasonRef,
		&lot.Version, &lot.CreatedBy, &lot.UpdatedBy, &lot.CreatedAt, &lot.UpdatedAt,
	)
	if err != nil {
		return domain.PointLot{}, err
	}
	lot.Kind = domain.LotKind(kind)
	return lot, nil
}

func collectPointLots(rows *sql.Rows) ([]domain.PointLot, error) {
	lots := make([]domain.PointLot, 0)
	for rows.Next() {
		lot, err := scanPointLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan point lot row: %w", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate point lot rows: %w", err)
	}
	return lots, nil
}

type pointAllocationRepository struct {
	db *sql.DB
}

// NewPointAllocationRepository создаёт PostgreSQL-реализацию журнала списаний.
func NewPointAllocationRepository(store *Store) domain.PointAllocationRepository {
	return &pointAllocationRepository{db: store.DB()}
}

func (r *pointAllocationRepository) Create(alloc domain.PointAllocation) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO point_allocations (
			id, lot_id, member_id, amount_minor, reason_ref, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		alloc.ID, alloc.LotID, alloc.MemberID, alloc.AmountMinor,
		alloc.ReasonRef, alloc.CreatedBy, alloc.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert point allocation: %w", err)
	}

	return nil
}

func (r *pointAllocationRepository) ListByMember(memberID string) ([]domain.PointAllocation, error) {
	return r.list(`WHERE member_id = $1`, memberID)
}

func (r *pointAllocationRepository) ListByReference(reasonRef string) ([]domain.PointAllocation, error) {
	return r.list(`WHERE reason_ref = $1`, reasonRef)
}

func (r *pointAllocationRepository) list(where, arg string) ([]domain.PointAllocation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, lot_id, member_id, amount_minor, reason_ref, created_by, created_at
		FROM point_allocations
		`+where+`
		ORDER BY created_at ASC, id ASC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("list point allocations: %w", err)
	}
	defer rows.Close()

	allocs := make([]domain.PointAllocation, 0)
	for rows.Next() {
		var alloc domain.PointAllocation
		if err := rows.Scan(
			&alloc.ID, &alloc.LotID, &alloc.MemberID, &alloc.AmountMinor,
			&alloc.ReasonRef, &alloc.CreatedBy, &alloc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan point allocation row: %w", err)
		}
		allocs = append(allocs, alloc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate point allocation rows: %w", err)
	}

	return allocs, nil
}

var (
	_ domain.PointLotRepository        = (*pointLotRepository)(nil)
	_ domain.PointAllocationRepository = (*pointAllocationRepository)(nil)
)
