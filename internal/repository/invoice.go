package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

const invoiceColumns = `id, booking_id, payment_id, subtotal, fee_amount, total_amount, currency,
	issued_at, artifact_ref, artifact_status, render_attempts, updated_at`

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// CreateIfAbsent inserts inv unless an invoice for the same booking already
// exists, in which case the stored invoice is returned and created is false.
func (r *InvoiceRepository) CreateIfAbsent(ctx context.Context, q Querier, inv *domain.Invoice) (*domain.Invoice, bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO invoices (
			id, booking_id, payment_id, subtotal, fee_amount, total_amount, currency,
			issued_at, artifact_ref, artifact_status, render_attempts, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (booking_id) DO NOTHING`,
		inv.ID, inv.BookingID, inv.PaymentID, inv.Subtotal, inv.FeeAmount, inv.TotalAmount, inv.Currency,
		inv.IssuedAt, inv.ArtifactRef, inv.ArtifactStatus, inv.RenderAttempts, inv.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("CreateIfAbsent: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("CreateIfAbsent: rows affected: %w", err)
	}
	if n == 1 {
		return inv, true, nil
	}

	existing, err := r.GetByBookingID(ctx, q, inv.BookingID)
	if err != nil {
		return nil, false, fmt.Errorf("CreateIfAbsent: %w", err)
	}
	return existing, false, nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := getInvoice(ctx, r.db, `WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return inv, nil
}

func (r *InvoiceRepository) GetByBookingID(ctx context.Context, q Querier, bookingID uuid.UUID) (*domain.Invoice, error) {
	inv, err := getInvoice(ctx, q, `WHERE booking_id = $1`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("GetByBookingID: %w", err)
	}
	return inv, nil
}

// RecordAttempt bumps the attempt counter of a still-pending invoice.
func (r *InvoiceRepository) RecordAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET render_attempts = render_attempts + 1, updated_at = $1
		WHERE id = $2 AND artifact_status = 'pending'`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}
	return nil
}

// MarkArtifact moves a pending invoice to ready or failed. Invoices that already
// left pending are untouched, so late or duplicate renders are harmless.
func (r *InvoiceRepository) MarkArtifact(ctx context.Context, id uuid.UUID, status domain.ArtifactStatus, ref *string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET artifact_status = $1, artifact_ref = COALESCE($2, artifact_ref), updated_at = $3
		WHERE id = $4 AND artifact_status = 'pending'`,
		status, ref, at, id,
	)
	if err != nil {
		return fmt.Errorf("MarkArtifact: %w", err)
	}
	return nil
}

// ListStalePending returns pending invoices not touched since before cutoff.
func (r *InvoiceRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE artifact_status = 'pending' AND updated_at < $1
		ORDER BY updated_at LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListStalePending: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("ListStalePending: scan: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListStalePending: rows: %w", err)
	}
	return invoices, nil
}

func getInvoice(ctx context.Context, q Querier, where string, arg any) (*domain.Invoice, error) {
	row := q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices `+where, arg)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

func scanInvoice(s scanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := s.Scan(
		&inv.ID, &inv.BookingID, &inv.PaymentID, &inv.Subtotal, &inv.FeeAmount, &inv.TotalAmount, &inv.Currency,
		&inv.IssuedAt, &inv.ArtifactRef, &inv.ArtifactStatus, &inv.RenderAttempts, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
