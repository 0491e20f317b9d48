package consultation

import (
	"context"

	"github.com/google/uuid"
)

// Lookups that match nothing return pgx.ErrNoRows.

type ConsultationRepository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	// ListByPatient returns the patient's consultations newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Consultation, error)
	LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Consultation, error)
}

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	// ListByConsultations returns medications grouped by consultation, each
	// group ordered by sort_order then created_at.
	ListByConsultations(ctx context.Context, consultationIDs []uuid.UUID) (map[uuid.UUID][]*Medication, error)
	Update(ctx context.Context, m *Medication) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PatientDirectory reads the patients table.
type PatientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*PatientRef, error)
	GetByCedula(ctx context.Context, cedula string) (*PatientRef, error)
}

// LabSource lists the lab results saved for a consultation, oldest first.
type LabSource interface {
	PrintLabs(ctx context.Context, consultationID uuid.UUID) ([]PrintLab, error)
}
