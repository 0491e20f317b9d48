package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webdiabetes/diabetes-api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Consultation Repository ===========

type consultationRepoPG struct{ pool *pgxpool.Pool }

func NewConsultationRepoPG(pool *pgxpool.Pool) ConsultationRepository {
	return &consultationRepoPG{pool: pool}
}

func (r *consultationRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const consultationCols = `id, patient_id, diagnosis, notes, indications, created_at`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.PatientID, &c.Diagnosis, &c.Notes, &c.Indications, &c.CreatedAt)
	return &c, err
}

// Create inserts c. A zero CreatedAt lets the database stamp the row.
func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	var createdAt *time.Time
	if !c.CreatedAt.IsZero() {
		createdAt = &c.CreatedAt
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultations (id, patient_id, diagnosis, notes, indications, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING created_at`,
		c.ID, c.PatientID, c.Diagnosis, c.Notes, c.Indications, createdAt,
	).Scan(&c.CreatedAt)
}

func (r *consultationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return scanConsultation(r.conn(ctx).QueryRow(ctx, `SELECT `+consultationCols+` FROM consultations WHERE id = $1`, id))
}

func (r *consultationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Consultation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consultationCols+` FROM consultations
		WHERE patient_id = $1
		ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Consultation{}
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *consultationRepoPG) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Consultation, error) {
	return scanConsultation(r.conn(ctx).QueryRow(ctx, `
		SELECT `+consultationCols+` FROM consultations
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, patientID))
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

func (r *medicationRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const medCols = `id, consultation_id, drug_name, dose, route, frequency, duration, indications,
	quantity, description, duration_days, sort_order, created_at, updated_at`

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.ConsultationID, &m.DrugName, &m.Dose, &m.Route, &m.Frequency,
		&m.Duration, &m.Indications, &m.Quantity, &m.Description, &m.DurationDays,
		&m.SortOrder, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

// clock_timestamp() advances within a transaction, so rows inserted together
// keep their insertion order on created_at.
const insertMedicationSQL = `
	INSERT INTO medications (id, consultation_id, drug_name, dose, route, frequency, duration,
		indications, quantity, description, duration_days, sort_order, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, clock_timestamp(), clock_timestamp())
	RETURNING created_at, updated_at`

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, insertMedicationSQL,
		m.ID, m.ConsultationID, m.DrugName, m.Dose, m.Route, m.Frequency, m.Duration,
		m.Indications, m.Quantity, m.Description, m.DurationDays, m.SortOrder,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return scanMedication(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medications WHERE id = $1`, id))
}

func (r *medicationRepoPG) ListByConsultations(ctx context.Context, consultationIDs []uuid.UUID) (map[uuid.UUID][]*Medication, error) {
	out := make(map[uuid.UUID][]*Medication, len(consultationIDs))
	if len(consultationIDs) == 0 {
		return out, nil
	}
	ids := make([]string, len(consultationIDs))
	for i, id := range consultationIDs {
		ids[i] = id.String()
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medCols+` FROM medications
		WHERE consultation_id = ANY($1::uuid[])
		ORDER BY sort_order, created_at`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		out[m.ConsultationID] = append(out[m.ConsultationID], m)
	}
	return out, rows.Err()
}

func (r *medicationRepoPG) Update(ctx context.Context, m *Medication) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE medications SET
			drug_name = $2, dose = $3, route = $4, frequency = $5, duration = $6,
			indications = $7, quantity = $8, description = $9, duration_days = $10,
			sort_order = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.DrugName, m.Dose, m.Route, m.Frequency, m.Duration,
		m.Indications, m.Quantity, m.Description, m.DurationDays, m.SortOrder,
	).Scan(&m.UpdatedAt)
}

func (r *medicationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// =========== Patient Directory ===========

type patientDirectoryPG struct{ pool *pgxpool.Pool }

func NewPatientDirectoryPG(pool *pgxpool.Pool) PatientDirectory {
	return &patientDirectoryPG{pool: pool}
}

func (r *patientDirectoryPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const patientRefCols = `id, cedula, nombres, apellidos, fecha_nacimiento`

func scanPatientRef(row pgx.Row) (*PatientRef, error) {
	var p PatientRef
	err := row.Scan(&p.ID, &p.Cedula, &p.Nombres, &p.Apellidos, &p.FechaNacimiento)
	return &p, err
}

func (r *patientDirectoryPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientRef, error) {
	return scanPatientRef(r.conn(ctx).QueryRow(ctx, `SELECT `+patientRefCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientDirectoryPG) GetByCedula(ctx context.Context, cedula string) (*PatientRef, error) {
	return scanPatientRef(r.conn(ctx).QueryRow(ctx, `SELECT `+patientRefCols+` FROM patients WHERE cedula = $1`, cedula))
}
