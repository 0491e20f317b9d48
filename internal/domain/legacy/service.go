package legacy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/internal/platform/db"
)

type Service struct {
	consultas   ConsultaRepository
	visits      VisitRepository
	medications MedicationCatalogRepository
	directory   Directory
	tx          db.Transactor
}

func NewService(consultas ConsultaRepository, visits VisitRepository, medications MedicationCatalogRepository, directory Directory, tx db.Transactor) *Service {
	return &Service{
		consultas:   consultas,
		visits:      visits,
		medications: medications,
		directory:   directory,
		tx:          tx,
	}
}

// -- Consultas --

func (s *Service) patientUser(ctx context.Context, username string) (uuid.UUID, error) {
	id, err := s.directory.PatientUserID(ctx, strings.TrimSpace(username))
	if db.IsNotFound(err) {
		return uuid.Nil, apperr.NotFound("Patient not found")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup patient user: %w", err)
	}
	return id, nil
}

// CreateConsulta records a consulta for the patient user named username.
func (s *Service) CreateConsulta(ctx context.Context, username string, adminID uuid.UUID, in *ConsultaCreate) (*Consulta, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	userID, err := s.patientUser(ctx, username)
	if err != nil {
		return nil, err
	}

	c := &Consulta{
		PatientUserID:         userID,
		CreatedByAdminID:      adminID,
		Diagnostico:           in.Diagnostico,
		NotasMedicas:          in.NotasMedicas,
		IndicacionesGenerales: in.IndicacionesGenerales,
		Medicamentos:          make([]*Medicamento, 0, len(in.Medicamentos)),
	}
	for _, m := range in.Medicamentos {
		c.Medicamentos = append(c.Medicamentos, &Medicamento{
			Nombre:   m.Nombre,
			Dosis:    m.Dosis,
			Horario:  m.Horario,
			Via:      m.Via,
			Duracion: m.Duracion,
			Notas:    m.Notas,
		})
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.consultas.Create(ctx, c)
	}); err != nil {
		return nil, fmt.Errorf("create consulta: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("consulta_id", c.ID.String()).
		Int("medicamentos", len(c.Medicamentos)).
		Msg("consulta created")
	return c, nil
}

func (s *Service) ListConsultasByUsername(ctx context.Context, username string) ([]ConsultaSummary, error) {
	userID, err := s.patientUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.ListConsultas(ctx, userID)
}

// ListConsultas returns the summaries of a patient user's consultas, newest
// first.
func (s *Service) ListConsultas(ctx context.Context, userID uuid.UUID) ([]ConsultaSummary, error) {
	items, err := s.consultas.ListByPatientUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list consultas: %w", err)
	}
	out := make([]ConsultaSummary, 0, len(items))
	for _, c := range items {
		out = append(out, c.Summary())
	}
	return out, nil
}

func (s *Service) GetConsulta(ctx context.Context, id uuid.UUID) (*Consulta, error) {
	c, err := s.consultas.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Consulta not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get consulta: %w", err)
	}
	return c, nil
}

// GetConsultaFor returns the consulta only if it belongs to userID.
func (s *Service) GetConsultaFor(ctx context.Context, userID, id uuid.UUID) (*Consulta, error) {
	c, err := s.GetConsulta(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.PatientUserID != userID {
		return nil, apperr.Forbidden("Not allowed")
	}
	return c, nil
}

func (s *Service) LatestConsulta(ctx context.Context, userID uuid.UUID) (*Consulta, error) {
	c, err := s.consultas.LatestByPatientUser(ctx, userID)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("No hay consultas registradas")
	}
	if err != nil {
		return nil, fmt.Errorf("latest consulta: %w", err)
	}
	return c, nil
}

// -- Visits --

func (s *Service) ensurePatient(ctx context.Context, patientID uuid.UUID) error {
	ok, err := s.directory.PatientExists(ctx, patientID)
	if err != nil {
		return fmt.Errorf("lookup patient: %w", err)
	}
	if !ok {
		return apperr.NotFound("Patient not found")
	}
	return nil
}

// CreateVisit stores a visit with its prescription items. Every referenced
// catalog medication must exist.
func (s *Service) CreateVisit(ctx context.Context, patientID uuid.UUID, in *VisitCreate) (*Visit, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	v := &Visit{
		PatientID:     patientID,
		FechaConsulta: *in.FechaConsulta,
		Diagnostico:   in.Diagnostico,
		NotasMedico:   in.NotasMedico,
		Items:         make([]*PrescriptionItem, 0, len(in.Items)),
	}
	for _, it := range in.Items {
		item := &PrescriptionItem{
			MedicationID:     it.MedicationID,
			MedicamentoTexto: it.MedicamentoTexto,
			Dosis:            it.Dosis,
			Horario:          it.Horario,
			Via:              it.Via,
			Duracion:         it.Duracion,
			Instrucciones:    it.Instrucciones,
		}
		if it.MedicationID != nil {
			med, err := s.medications.GetByID(ctx, *it.MedicationID)
			if db.IsNotFound(err) {
				return nil, apperr.BadRequest("Medication not found")
			}
			if err != nil {
				return nil, fmt.Errorf("get medication: %w", err)
			}
			item.MedicationNombre = &med.NombreGenerico
		}
		v.Items = append(v.Items, item)
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.visits.Create(ctx, v)
	}); err != nil {
		return nil, fmt.Errorf("create visit: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("visit_id", v.ID.String()).
		Int("items", len(v.Items)).
		Msg("visit created")
	return v, nil
}

// ListVisits is the admin listing; the patient must exist.
func (s *Service) ListVisits(ctx context.Context, patientID uuid.UUID) ([]VisitListItem, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.ListVisitsFor(ctx, patientID)
}

// ListVisitsFor returns a patient's visits newest first.
func (s *Service) ListVisitsFor(ctx context.Context, patientID uuid.UUID) ([]VisitListItem, error) {
	items, err := s.visits.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	out := make([]VisitListItem, 0, len(items))
	for _, v := range items {
		out = append(out, v.ListItem())
	}
	return out, nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := s.visits.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Visit not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get visit: %w", err)
	}
	return v, nil
}

// GetVisitFor hides visits of other patients behind NotFound.
func (s *Service) GetVisitFor(ctx context.Context, patientID, id uuid.UUID) (*Visit, error) {
	v, err := s.GetVisit(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.PatientID != patientID {
		return nil, apperr.NotFound("Visit not found")
	}
	return v, nil
}

// CurrentVisit returns the most recent visit with its items, or nil.
func (s *Service) CurrentVisit(ctx context.Context, patientID uuid.UUID) (*Visit, error) {
	items, err := s.visits.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return s.GetVisit(ctx, items[0].ID)
}

// -- Medication catalog --

func (s *Service) ListMedications(ctx context.Context) ([]*CatalogMedication, error) {
	items, err := s.medications.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	return items, nil
}

func (s *Service) CreateMedication(ctx context.Context, in *CatalogMedicationCreate) (*CatalogMedication, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	m := &CatalogMedication{
		NombreGenerico: in.NombreGenerico,
		Presentacion:   in.Presentacion,
		Forma:          in.Forma,
		Activo:         true,
	}
	if in.Activo != nil {
		m.Activo = *in.Activo
	}
	if err := s.medications.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create medication: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("medication_id", m.ID.String()).Msg("catalog medication created")
	return m, nil
}

func (s *Service) getMedication(ctx context.Context, id uuid.UUID) (*CatalogMedication, error) {
	m, err := s.medications.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Medication not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

func (s *Service) UpdateMedication(ctx context.Context, id uuid.UUID, in *CatalogMedicationUpdate) (*CatalogMedication, error) {
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
	return m, nil
}

// DeactivateMedication keeps the row so existing prescriptions still name it.
func (s *Service) DeactivateMedication(ctx context.Context, id uuid.UUID) (*CatalogMedication, error) {
	m, err := s.getMedication(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Activo = false
	if err := s.medications.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("deactivate medication: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("medication_id", id.String()).Msg("catalog medication deactivated")
	return m, nil
}
