package labs

import (
	"context"

	"github.com/google/uuid"
)

// Lookups that match nothing return pgx.ErrNoRows.

type CatalogRepository interface {
	ListActive(ctx context.Context) ([]*CatalogLab, error)
	GetByID(ctx context.Context, id uuid.UUID) (*CatalogLab, error)
	// GetByNameFold matches the whole name case-insensitively.
	GetByNameFold(ctx context.Context, nombre string) (*CatalogLab, error)
	// FindByNameContains returns the alphabetically first lab whose name
	// contains fragment, case-insensitively.
	FindByNameContains(ctx context.Context, fragment string) (*CatalogLab, error)
	Create(ctx context.Context, lab *CatalogLab) error
	Update(ctx context.Context, lab *CatalogLab) error
}

type ResultRepository interface {
	// ListByConsulta returns results oldest first with LabNombre filled.
	ListByConsulta(ctx context.Context, consultaID uuid.UUID) ([]*Result, error)
	DeleteByConsulta(ctx context.Context, consultaID uuid.UUID) error
	Create(ctx context.Context, r *Result) error
}

// ConsultationOwners reports which patient a consultation belongs to. It
// returns a NotFound apperr for unknown consultations.
type ConsultationOwners interface {
	ConsultationOwner(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}
