package legacy

import (
	"context"

	"github.com/google/uuid"
)

// Lookups that match nothing return pgx.ErrNoRows.

type ConsultaRepository interface {
	// Create stores c and its Medicamentos.
	Create(ctx context.Context, c *Consulta) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consulta, error)
	// ListByPatientUser returns consultas newest first, without medicamentos.
	ListByPatientUser(ctx context.Context, userID uuid.UUID) ([]*Consulta, error)
	LatestByPatientUser(ctx context.Context, userID uuid.UUID) (*Consulta, error)
}

type VisitRepository interface {
	// Create stores v and its Items.
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	// ListByPatient returns visits newest first, without items.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error)
}

type MedicationCatalogRepository interface {
	List(ctx context.Context) ([]*CatalogMedication, error)
	GetByID(ctx context.Context, id uuid.UUID) (*CatalogMedication, error)
	Create(ctx context.Context, m *CatalogMedication) error
	Update(ctx context.Context, m *CatalogMedication) error
}

// Directory answers the patient lookups legacy records need.
type Directory interface {
	// PatientUserID returns the id of the users row with this username and
	// the patient role.
	PatientUserID(ctx context.Context, username string) (uuid.UUID, error)
	PatientExists(ctx context.Context, patientID uuid.UUID) (bool, error)
}
