package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

const paymentColumns = `id, booking_id, external_ref, amount, currency, outcome, recorded_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts p inside tx. A reused external_ref or a second succeeded
// payment for the same booking surfaces as a unique violation (see IsDuplicateKey).
func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (id, booking_id, external_ref, amount, currency, outcome, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.BookingID, p.ExternalRef, p.Amount, p.Currency, p.Outcome, p.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, err := getPayment(ctx, r.db, `WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByExternalRef(ctx context.Context, q Querier, ref string) (*domain.Payment, error) {
	p, err := getPayment(ctx, q, `WHERE external_ref = $1`, ref)
	if err != nil {
		return nil, fmt.Errorf("GetByExternalRef: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetSucceededByBooking(ctx context.Context, q Querier, bookingID uuid.UUID) (*domain.Payment, error) {
	p, err := getPayment(ctx, q, `WHERE booking_id = $1 AND outcome = 'succeeded'`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("GetSucceededByBooking: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 ORDER BY recorded_at`, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByBooking: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByBooking: scan: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByBooking: rows: %w", err)
	}
	return payments, nil
}

func getPayment(ctx context.Context, q Querier, where string, arg any) (*domain.Payment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments `+where, arg)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	err := s.Scan(&p.ID, &p.BookingID, &p.ExternalRef, &p.Amount, &p.Currency, &p.Outcome, &p.RecordedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
