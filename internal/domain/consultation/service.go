package consultation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/internal/platform/db"
)

type Service struct {
	consultations ConsultationRepository
	medications   MedicationRepository
	patients      PatientDirectory
	tx            db.Transactor
	labs          LabSource
}

func NewService(consultations ConsultationRepository, medications MedicationRepository, patients PatientDirectory, tx db.Transactor) *Service {
	return &Service{
		consultations: consultations,
		medications:   medications,
		patients:      patients,
		tx:            tx,
	}
}

// SetLabSource attaches the lab results shown on printable summaries.
func (s *Service) SetLabSource(labs LabSource) {
	s.labs = labs
}

// -- Patients --

func (s *Service) patientByCedula(ctx context.Context, cedula string) (*PatientRef, error) {
	p, err := s.patients.GetByCedula(ctx, cedula)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Paciente no encontrado para cedula %s", cedula)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup patient by cedula: %w", err)
	}
	return p, nil
}

func (s *Service) patientByID(ctx context.Context, id uuid.UUID) (*PatientRef, error) {
	p, err := s.patients.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Paciente no existe")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup patient: %w", err)
	}
	return p, nil
}

// -- Consultations --

// CreateConsultation stores the consultation and its medications in one
// transaction. Medications without sort_order take their list position.
func (s *Service) CreateConsultation(ctx context.Context, in *ConsultationCreate) (*Consultation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	createdAt, err := ParseFecha(in.Fecha)
	if err != nil {
		return nil, err
	}

	var patient *PatientRef
	if in.PatientID != nil {
		patient, err = s.patientByID(ctx, *in.PatientID)
	} else {
		patient, err = s.patientByCedula(ctx, in.Cedula)
	}
	if err != nil {
		return nil, err
	}

	c := &Consultation{
		PatientID:   patient.ID,
		Diagnosis:   in.Diagnosis,
		Notes:       in.Notes,
		Indications: in.Indications,
	}
	if createdAt != nil {
		c.CreatedAt = *createdAt
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.consultations.Create(ctx, c); err != nil {
			return err
		}
		meds, err := s.insertMedications(ctx, c.ID, in.Medications)
		if err != nil {
			return err
		}
		c.Medications = meds
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}

	sortMedications(c.Medications)
	zerolog.Ctx(ctx).Info().
		Str("consultation_id", c.ID.String()).
		Int("medications", len(c.Medications)).
		Msg("consultation created")
	return c, nil
}

func sortMedications(meds []*Medication) {
	sort.SliceStable(meds, func(i, j int) bool { return meds[i].SortOrder < meds[j].SortOrder })
}

func (s *Service) insertMedications(ctx context.Context, consultationID uuid.UUID, items []MedicationInput) ([]*Medication, error) {
	out := make([]*Medication, 0, len(items))
	for i := range items {
		m := items[i].toMedication(consultationID, i)
		if err := s.medications.Create(ctx, m); err != nil {
			return nil, fmt.Errorf("insert medication %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// GetConsultation returns the consultation with its medications.
func (s *Service) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := s.consultations.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Consulta no existe")
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	if err := s.attachMedications(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ConsultationOwner returns the patient a consultation belongs to.
func (s *Service) ConsultationOwner(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	c, err := s.consultations.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return uuid.Nil, apperr.NotFound("Consulta no existe")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("get consultation: %w", err)
	}
	return c.PatientID, nil
}

// ListByPatient returns the patient's consultations newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Consultation, error) {
	items, err := s.consultations.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	if err := s.attachMedications(ctx, items...); err != nil {
		return nil, err
	}
	return items, nil
}

// ListByCedula is ListByPatient for the patient with the given cedula.
func (s *Service) ListByCedula(ctx context.Context, cedula string) ([]*Consultation, error) {
	p, err := s.patientByCedula(ctx, strings.TrimSpace(cedula))
	if err != nil {
		return nil, err
	}
	return s.ListByPatient(ctx, p.ID)
}

// GetLatestByPatient fails with NotFound when the patient has no
// consultations.
func (s *Service) GetLatestByPatient(ctx context.Context, patientID uuid.UUID) (*Consultation, error) {
	c, err := s.latest(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("No hay consultas registradas")
	}
	return c, nil
}

// LatestByCedula is GetLatestByPatient for the patient with the given cedula.
func (s *Service) LatestByCedula(ctx context.Context, cedula string) (*Consultation, error) {
	p, err := s.patientByCedula(ctx, strings.TrimSpace(cedula))
	if err != nil {
		return nil, err
	}
	return s.GetLatestByPatient(ctx, p.ID)
}

// latest returns nil without error when there is no consultation.
func (s *Service) latest(ctx context.Context, patientID uuid.UUID) (*Consultation, error) {
	c, err := s.consultations.LatestByPatient(ctx, patientID)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest consultation: %w", err)
	}
	if err := s.attachMedications(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CurrentConsultation returns the latest consultation or nil.
func (s *Service) CurrentConsultation(ctx context.Context, patientID uuid.UUID) (*Consultation, error) {
	return s.latest(ctx, patientID)
}

// CurrentMedications returns the medications of the patient's latest
// consultation, or an empty list.
func (s *Service) CurrentMedications(ctx context.Context, patientID uuid.UUID) ([]*Medication, error) {
	if _, err := s.patientByID(ctx, patientID); err != nil {
		return nil, err
	}
	c, err := s.latest(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return []*Medication{}, nil
	}
	return c.Medications, nil
}

func (s *Service) attachMedications(ctx context.Context, items ...*Consultation) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(items))
	for i, c := range items {
		ids[i] = c.ID
	}
	byConsultation, err := s.medications.ListByConsultations(ctx, ids)
	if err != nil {
		return fmt.Errorf("list medications: %w", err)
	}
	for _, c := range items {
		c.Medications = byConsultation[c.ID]
		if c.Medications == nil {
			c.Medications = []*Medication{}
		}
	}
	return nil
}

// -- Consultation-scoped medications --

// consultationFor checks that the patient exists and owns the consultation.
func (s *Service) consultationFor(ctx context.Context, patientID, consultationID uuid.UUID) (*Consultation, error) {
	if _, err := s.patientByID(ctx, patientID); err != nil {
		return nil, err
	}
	c, err := s.consultations.GetByID(ctx, consultationID)
	if db.IsNotFound(err) || (err == nil && c.PatientID != patientID) {
		return nil, apperr.NotFound("Consulta no existe")
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	return c, nil
}

func (s *Service) ListMedications(ctx context.Context, patientID, consultationID uuid.UUID) ([]*Medication, error) {
	c, err := s.consultationFor(ctx, patientID, consultationID)
	if err != nil {
		return nil, err
	}
	if err := s.attachMedications(ctx, c); err != nil {
		return nil, err
	}
	return c.Medications, nil
}

// AddMedications appends a batch to an existing consultation atomically.
func (s *Service) AddMedications(ctx context.Context, patientID, consultationID uuid.UUID, items []MedicationInput) ([]*Medication, error) {
	if len(items) == 0 {
		return nil, apperr.BadRequest("medications must not be empty")
	}
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return nil, err
		}
	}
	if _, err := s.consultationFor(ctx, patientID, consultationID); err != nil {
		return nil, err
	}

	var created []*Medication
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.insertMedications(ctx, consultationID, items)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add medications: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("consultation_id", consultationID.String()).
		Int("medications", len(created)).
		Msg("medications added")
	return created, nil
}

func (s *Service) getMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	m, err := s.medications.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Medicamento no existe")
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

func (s *Service) UpdateMedication(ctx context.Context, id uuid.UUID, in *MedicationUpdate) (*Medication, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	m, err := s.getMedication(ctx, id)
	if err != nil {
		return nil, err
	}
	in.Apply(m)
	if err := s.medications.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("update medication: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("medication_id", id.String()).Msg("medication updated")
	return m, nil
}

func (s *Service) DeleteMedication(ctx context.Context, id uuid.UUID) error {
	if _, err := s.getMedication(ctx, id); err != nil {
		return err
	}
	if err := s.medications.Delete(ctx, id); err != nil {
		if db.IsNotFound(err) {
			return apperr.NotFound("Medicamento no existe")
		}
		return fmt.Errorf("delete medication: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("medication_id", id.String()).Msg("medication deleted")
	return nil
}

// -- Print --

// PrintSummary gathers everything shown on a printed consultation.
func (s *Service) PrintSummary(ctx context.Context, c *Consultation) (*PrintSummary, error) {
	p, err := s.patientByID(ctx, c.PatientID)
	if err != nil {
		return nil, err
	}
	if c.Medications == nil {
		if err := s.attachMedications(ctx, c); err != nil {
			return nil, err
		}
	}

	out := &PrintSummary{
		Patient: PrintPatient{
			Nombres:         p.Nombres,
			Apellidos:       p.Apellidos,
			Cedula:          p.Cedula,
			FechaNacimiento: p.FechaNacimiento,
		},
		Consultation: PrintConsultation{
			CreatedAt:   c.CreatedAt,
			Diagnosis:   c.Diagnosis,
			Notes:       c.Notes,
			Indications: c.Indications,
		},
		Medications: make([]PrintMedication, 0, len(c.Medications)),
		Labs:        []PrintLab{},
	}
	for _, m := range c.Medications {
		out.Medications = append(out.Medications, PrintMedication{
			DrugName:     m.DrugName,
			Dose:         m.Dose,
			Route:        m.Route,
			Frequency:    m.Frequency,
			Duration:     m.Duration,
			Indications:  m.Indications,
			Quantity:     m.Quantity,
			Description:  m.DisplayDescription(),
			DurationDays: m.DurationDays,
		})
	}
	if s.labs != nil {
		labs, err := s.labs.PrintLabs(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("print labs: %w", err)
		}
		out.Labs = append(out.Labs, labs...)
	}
	return out, nil
}
