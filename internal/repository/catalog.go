package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

// CatalogRepository is a read-only view over provider-owned service listings.
type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetService(ctx context.Context, id uuid.UUID) (*domain.Service, error) {
	var s domain.Service
	err := r.db.QueryRowContext(ctx,
		`SELECT id, provider_id, name, price, currency, active FROM services WHERE id = $1`, id,
	).Scan(&s.ID, &s.ProviderID, &s.Name, &s.Price, &s.Currency, &s.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetService: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetService: %w", err)
	}
	return &s, nil
}
