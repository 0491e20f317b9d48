package legacy

import (
	"context"

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

// =========== Consulta Repository ===========

type consultaRepoPG struct{ pool *pgxpool.Pool }

func NewConsultaRepoPG(pool *pgxpool.Pool) ConsultaRepository {
	return &consultaRepoPG{pool: pool}
}

func (r *consultaRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const consultaCols = `id, patient_user_id, created_by_admin_id, fecha, diagnostico, notas_medicas, indicaciones_generales`

func scanConsulta(row pgx.Row) (*Consulta, error) {
	var c Consulta
	err := row.Scan(&c.ID, &c.PatientUserID, &c.CreatedByAdminID, &c.Fecha,
		&c.Diagnostico, &c.NotasMedicas, &c.IndicacionesGenerales)
	return &c, err
}

// Create must run inside a transaction so the consulta and its medicamentos
// land together.
func (r *consultaRepoPG) Create(ctx context.Context, c *Consulta) error {
	q := r.conn(ctx)
	c.ID = uuid.New()
	err := q.QueryRow(ctx, `
		INSERT INTO consultas (id, patient_user_id, created_by_admin_id, diagnostico, notas_medicas, indicaciones_generales)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING fecha`,
		c.ID, c.PatientUserID, c.CreatedByAdminID, c.Diagnostico, c.NotasMedicas, c.IndicacionesGenerales,
	).Scan(&c.Fecha)
	if err != nil {
		return err
	}
	for _, m := range c.Medicamentos {
		m.ID = uuid.New()
		m.ConsultaID = c.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO medicamentos (id, consulta_id, nombre, dosis, horario, via, duracion, notas)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, m.ConsultaID, m.Nombre, m.Dosis, m.Horario, m.Via, m.Duracion, m.Notas); err != nil {
			return err
		}
	}
	return nil
}

func (r *consultaRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consulta, error) {
	c, err := scanConsulta(r.conn(ctx).QueryRow(ctx, `SELECT `+consultaCols+` FROM consultas WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if c.Medicamentos, err = r.medicamentos(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *consultaRepoPG) medicamentos(ctx context.Context, consultaID uuid.UUID) ([]*Medicamento, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, consulta_id, nombre, dosis, horario, via, duracion, notas
		FROM medicamentos WHERE consulta_id = $1`, consultaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Medicamento{}
	for rows.Next() {
		var m Medicamento
		if err := rows.Scan(&m.ID, &m.ConsultaID, &m.Nombre, &m.Dosis, &m.Horario, &m.Via, &m.Duracion, &m.Notas); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *consultaRepoPG) ListByPatientUser(ctx context.Context, userID uuid.UUID) ([]*Consulta, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consultaCols+` FROM consultas
		WHERE patient_user_id = $1
		ORDER BY fecha DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Consulta{}
	for rows.Next() {
		c, err := scanConsulta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *consultaRepoPG) LatestByPatientUser(ctx context.Context, userID uuid.UUID) (*Consulta, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id FROM consultas
		WHERE patient_user_id = $1
		ORDER BY fecha DESC
		LIMIT 1`, userID).Scan(&id)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// =========== Visit Repository ===========

type visitRepoPG struct{ pool *pgxpool.Pool }

func NewVisitRepoPG(pool *pgxpool.Pool) VisitRepository {
	return &visitRepoPG{pool: pool}
}

func (r *visitRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const visitCols = `id, patient_id, fecha_consulta, diagnostico, notas_medico, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.PatientID, &v.FechaConsulta, &v.Diagnostico, &v.NotasMedico, &v.CreatedAt, &v.UpdatedAt)
	return &v, err
}

// Create must run inside a transaction so the visit and its items land
// together.
func (r *visitRepoPG) Create(ctx context.Context, v *Visit) error {
	q := r.conn(ctx)
	v.ID = uuid.New()
	err := q.QueryRow(ctx, `
		INSERT INTO visits (id, patient_id, fecha_consulta, diagnostico, notas_medico)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		v.ID, v.PatientID, v.FechaConsulta, v.Diagnostico, v.NotasMedico,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return err
	}
	for _, it := range v.Items {
		it.ID = uuid.New()
		it.VisitID = v.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO prescription_items (id, visit_id, medication_id, medicamento_texto, dosis, horario, via, duracion, instrucciones)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.ID, it.VisitID, it.MedicationID, it.MedicamentoTexto, it.Dosis, it.Horario, it.Via, it.Duracion, it.Instrucciones); err != nil {
			return err
		}
	}
	return nil
}

func (r *visitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if v.Items, err = r.items(ctx, v.ID); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *visitRepoPG) items(ctx context.Context, visitID uuid.UUID) ([]*PrescriptionItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT pi.id, pi.visit_id, pi.medication_id, mc.nombre_generico, pi.medicamento_texto,
			pi.dosis, pi.horario, pi.via, pi.duracion, pi.instrucciones
		FROM prescription_items pi
		LEFT JOIN medication_catalog mc ON mc.id = pi.medication_id
		WHERE pi.visit_id = $1`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*PrescriptionItem{}
	for rows.Next() {
		var it PrescriptionItem
		if err := rows.Scan(&it.ID, &it.VisitID, &it.MedicationID, &it.MedicationNombre, &it.MedicamentoTexto,
			&it.Dosis, &it.Horario, &it.Via, &it.Duracion, &it.Instrucciones); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (r *visitRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+visitCols+` FROM visits
		WHERE patient_id = $1
		ORDER BY fecha_consulta DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// =========== Medication Catalog Repository ===========

type medicationCatalogRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationCatalogRepoPG(pool *pgxpool.Pool) MedicationCatalogRepository {
	return &medicationCatalogRepoPG{pool: pool}
}

func (r *medicationCatalogRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const catalogMedCols = `id, nombre_generico, presentacion, forma, activo`

func scanCatalogMedication(row pgx.Row) (*CatalogMedication, error) {
	var m CatalogMedication
	err := row.Scan(&m.ID, &m.NombreGenerico, &m.Presentacion, &m.Forma, &m.Activo)
	return &m, err
}

func (r *medicationCatalogRepoPG) List(ctx context.Context) ([]*CatalogMedication, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+catalogMedCols+` FROM medication_catalog ORDER BY nombre_generico`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*CatalogMedication{}
	for rows.Next() {
		m, err := scanCatalogMedication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *medicationCatalogRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CatalogMedication, error) {
	return scanCatalogMedication(r.conn(ctx).QueryRow(ctx, `SELECT `+catalogMedCols+` FROM medication_catalog WHERE id = $1`, id))
}

func (r *medicationCatalogRepoPG) Create(ctx context.Context, m *CatalogMedication) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_catalog (id, nombre_generico, presentacion, forma, activo)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.NombreGenerico, m.Presentacion, m.Forma, m.Activo)
	return err
}

func (r *medicationCatalogRepoPG) Update(ctx context.Context, m *CatalogMedication) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_catalog SET nombre_generico = $2, presentacion = $3, forma = $4, activo = $5
		WHERE id = $1`,
		m.ID, m.NombreGenerico, m.Presentacion, m.Forma, m.Activo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// =========== Directory ===========

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory {
	return &directoryPG{pool: pool}
}

func (r *directoryPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *directoryPG) PatientUserID(ctx context.Context, username string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id FROM users
		WHERE username = $1 AND lower(role) = 'patient'`, username).Scan(&id)
	return id, err
}

func (r *directoryPG) PatientExists(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, patientID).Scan(&exists)
	return exists, err
}
