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

const bookingColumns = `id, service_id, customer_id, provider_id, status, price, currency,
	scheduled_time, version, created_at, updated_at`

type BookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bookings (
			id, service_id, customer_id, provider_id, status, price, currency,
			scheduled_time, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.ServiceID, b.CustomerID, b.ProviderID, b.Status, b.Price, b.Currency,
		b.ScheduledTime, b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id,
	)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return b, nil
}

// GetForUpdate locks the booking row for the remainder of tx.
func (r *BookingRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Booking, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id,
	)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		WHERE customer_id = $1 OR provider_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByParticipant: %w", err)
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByParticipant: scan: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByParticipant: rows: %w", err)
	}
	return bookings, nil
}

// UpdateStatus writes status and bumps the version only if the stored version
// still equals expectedVersion.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, status domain.BookingStatus, at time.Time) error {
	if err := updateBookingStatus(ctx, r.db, id, expectedVersion, status, at); err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	return nil
}

func (r *BookingRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, expectedVersion int64, status domain.BookingStatus, at time.Time) error {
	if err := updateBookingStatus(ctx, tx, id, expectedVersion, status, at); err != nil {
		return fmt.Errorf("UpdateStatusTx: %w", err)
	}
	return nil
}

func updateBookingStatus(ctx context.Context, q Querier, id uuid.UUID, expectedVersion int64, status domain.BookingStatus, at time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE bookings SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		status, at, id, expectedVersion,
	)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrConflictRetry
	}
	return nil
}

func scanBooking(s scanner) (*domain.Booking, error) {
	var b domain.Booking
	err := s.Scan(
		&b.ID, &b.ServiceID, &b.CustomerID, &b.ProviderID, &b.Status, &b.Price, &b.Currency,
		&b.ScheduledTime, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
