package labs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/pkg/optional"
)

// -- Mock Repositories --

type mockCatalogRepo struct {
	labs map[uuid.UUID]*CatalogLab
}

func newMockCatalogRepo() *mockCatalogRepo {
	return &mockCatalogRepo{labs: make(map[uuid.UUID]*CatalogLab)}
}

func (m *mockCatalogRepo) sorted() []*CatalogLab {
	out := make([]*CatalogLab, 0, len(m.labs))
	for _, l := range m.labs {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nombre < out[j].Nombre })
	return out
}

func (m *mockCatalogRepo) ListActive(context.Context) ([]*CatalogLab, error) {
	out := []*CatalogLab{}
	for _, l := range m.sorted() {
		if l.Activo {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Orden < out[j].Orden })
	return out, nil
}

func (m *mockCatalogRepo) GetByID(_ context.Context, id uuid.UUID) (*CatalogLab, error) {
	l, ok := m.labs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

func (m *mockCatalogRepo) GetByNameFold(_ context.Context, nombre string) (*CatalogLab, error) {
	for _, l := range m.sorted() {
		if strings.EqualFold(l.Nombre, nombre) {
			return l, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockCatalogRepo) FindByNameContains(_ context.Context, fragment string) (*CatalogLab, error) {
	for _, l := range m.sorted() {
		if strings.Contains(strings.ToLower(l.Nombre), strings.ToLower(fragment)) {
			return l, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockCatalogRepo) Create(_ context.Context, l *CatalogLab) error {
	l.ID = uuid.New()
	cp := *l
	m.labs[l.ID] = &cp
	return nil
}

func (m *mockCatalogRepo) Update(_ context.Context, l *CatalogLab) error {
	if _, ok := m.labs[l.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *l
	m.labs[l.ID] = &cp
	return nil
}

type mockResultRepo struct {
	rows    []*Result
	catalog *mockCatalogRepo
	// failOn makes the n-th Create (1-based) fail.
	failOn  int
	creates int
}

func (m *mockResultRepo) ListByConsulta(_ context.Context, consultaID uuid.UUID) ([]*Result, error) {
	out := []*Result{}
	for _, r := range m.rows {
		if r.ConsultaID == consultaID {
			cp := *r
			if l, ok := m.catalog.labs[r.LabID]; ok {
				cp.LabNombre = l.Nombre
			}
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreadoEn.Before(out[j].CreadoEn) })
	return out, nil
}

func (m *mockResultRepo) DeleteByConsulta(_ context.Context, consultaID uuid.UUID) error {
	kept := m.rows[:0:0]
	for _, r := range m.rows {
		if r.ConsultaID != consultaID {
			kept = append(kept, r)
		}
	}
	m.rows = kept
	return nil
}

func (m *mockResultRepo) Create(_ context.Context, r *Result) error {
	m.creates++
	if m.failOn > 0 && m.creates == m.failOn {
		return errors.New("insert failed")
	}
	r.ID = uuid.New()
	r.CreadoEn = time.Now()
	cp := *r
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *mockResultRepo) snapshot() func() {
	saved := make([]*Result, len(m.rows))
	copy(saved, m.rows)
	return func() { m.rows = saved }
}

type stubOwners map[uuid.UUID]uuid.UUID

func (s stubOwners) ConsultationOwner(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	owner, ok := s[id]
	if !ok {
		return uuid.Nil, apperr.NotFound("Consulta no existe")
	}
	return owner, nil
}

// fakeTransactor restores every registered repo when fn fails.
type fakeTransactor struct {
	repos []interface{ snapshot() func() }
}

func (f *fakeTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var restores []func()
	for _, r := range f.repos {
		restores = append(restores, r.snapshot())
	}
	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

type testEnv struct {
	svc     *Service
	catalog *mockCatalogRepo
	results *mockResultRepo
	owners  stubOwners
}

func newTestEnv() *testEnv {
	catalog := newMockCatalogRepo()
	results := &mockResultRepo{catalog: catalog}
	owners := stubOwners{}
	tx := &fakeTransactor{repos: []interface{ snapshot() func() }{results}}
	return &testEnv{
		svc:     NewService(catalog, results, owners, tx),
		catalog: catalog,
		results: results,
		owners:  owners,
	}
}

func f64(v float64) *float64 { return &v }
func strPtr(s string) *string { return &s }

func (e *testEnv) addLab(t *testing.T, nombre string, unidad *string, lo, hi *float64) *CatalogLab {
	t.Helper()
	lab, err := e.svc.CreateLab(context.Background(), &CatalogLabCreate{
		Nombre: nombre, Unidad: unidad, RangoRefMin: lo, RangoRefMax: hi,
	})
	require.NoError(t, err)
	return lab
}

func (e *testEnv) addConsultation() (consultaID, patientID uuid.UUID) {
	consultaID, patientID = uuid.New(), uuid.New()
	e.owners[consultaID] = patientID
	return consultaID, patientID
}

// -- Tests --

func TestFormatRange(t *testing.T) {
	assert.Nil(t, FormatRange(nil, nil))
	assert.Equal(t, "70.0 - 100.0", *FormatRange(f64(70), f64(100)))
	assert.Equal(t, ">= 4.5", *FormatRange(f64(4.5), nil))
	assert.Equal(t, "<= 5.7", *FormatRange(nil, f64(5.7)))
	assert.Equal(t, "0.0 - 0.25", *FormatRange(f64(0), f64(0.25)))
	assert.Equal(t, "1e-05 - 0.0001", *FormatRange(f64(0.00001), f64(0.0001)))
	assert.Equal(t, ">= 1.5e+16", *FormatRange(f64(1.5e16), nil))
	assert.Equal(t, "<= 1000000000000000.0", *FormatRange(nil, f64(1e15)))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Hemoglobina glicosilada", NormalizeName("  Hemoglobina \t glicosilada "))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestValue_Float(t *testing.T) {
	v, err := TextValue(" 5,7 ").Float()
	require.NoError(t, err)
	assert.Equal(t, 5.7, *v)

	v, err = TextValue("").Float()
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = TextValue("alto").Float()
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.EqualError(t, err, "El valor debe ser numerico")

	v, err = NumericValue(110).Float()
	require.NoError(t, err)
	assert.Equal(t, 110.0, *v)
}

func TestCreateLab_Defaults(t *testing.T) {
	env := newTestEnv()
	lab, err := env.svc.CreateLab(context.Background(), &CatalogLabCreate{Nombre: "  Glucosa "})
	require.NoError(t, err)

	assert.Equal(t, "Glucosa", lab.Nombre)
	assert.Equal(t, "general", lab.Categoria)
	assert.Equal(t, 0, lab.Orden)
	assert.True(t, lab.Activo)
}

func TestCreateLab_DuplicateNormalizedName(t *testing.T) {
	env := newTestEnv()
	env.addLab(t, "Hemoglobina glicosilada", nil, nil, nil)

	_, err := env.svc.CreateLab(context.Background(), &CatalogLabCreate{Nombre: "hemoglobina   GLICOSILADA"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.EqualError(t, err, "Laboratorio ya existe")

	_, err = env.svc.CreateLab(context.Background(), &CatalogLabCreate{Nombre: "  "})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestUpdateLab(t *testing.T) {
	env := newTestEnv()
	lab := env.addLab(t, "Glucosa", strPtr("mg/dL"), f64(70), f64(100))
	other := env.addLab(t, "Creatinina", nil, nil, nil)

	updated, err := env.svc.UpdateLab(context.Background(), lab.ID, &CatalogLabUpdate{
		RangoRefMax: optional.Null[float64](),
		Orden:       optional.Of(3),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.RangoRefMax)
	assert.Equal(t, 3, updated.Orden)
	assert.Equal(t, "mg/dL", *updated.Unidad)

	_, err = env.svc.UpdateLab(context.Background(), uuid.New(), &CatalogLabUpdate{})
	assert.EqualError(t, err, "Laboratorio no existe")

	_, err = env.svc.UpdateLab(context.Background(), other.ID, &CatalogLabUpdate{Nombre: optional.Of("glucosa")})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = env.svc.UpdateLab(context.Background(), lab.ID, &CatalogLabUpdate{Nombre: optional.Of(" ")})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestListCatalog_ActiveOrdered(t *testing.T) {
	env := newTestEnv()
	orden := 1
	inactive := false
	env.svc.CreateLab(context.Background(), &CatalogLabCreate{Nombre: "Urea", Orden: &orden})
	env.svc.CreateLab(context.Background(), &CatalogLabCreate{Nombre: "Acido urico", Orden: &orden})
	env.svc.CreateLab(context.Background(), &CatalogLabCreate{Nombre: "Glucosa"})
	env.svc.CreateLab(context.Background(), &CatalogLabCreate{Nombre: "Viejo", Activo: &inactive})

	items, err := env.svc.ListCatalog(context.Background())
	require.NoError(t, err)
	var names []string
	for _, l := range items {
		names = append(names, l.Nombre)
	}
	assert.Equal(t, []string{"Glucosa", "Acido urico", "Urea"}, names)
}

func TestResolveLab(t *testing.T) {
	env := newTestEnv()
	glucosa := env.addLab(t, "Glucosa en ayunas", nil, nil, nil)
	hba1c := env.addLab(t, "HbA1c", nil, nil, nil)
	env.addLab(t, "Glucosa postprandial", nil, nil, nil)

	lab, err := env.svc.ResolveLab(context.Background(), hba1c.ID.String())
	require.NoError(t, err)
	assert.Equal(t, hba1c.ID, lab.ID)

	lab, err = env.svc.ResolveLab(context.Background(), "  hba1C ")
	require.NoError(t, err)
	assert.Equal(t, hba1c.ID, lab.ID)

	lab, err = env.svc.ResolveLab(context.Background(), "glucosa")
	require.NoError(t, err)
	assert.Equal(t, glucosa.ID, lab.ID, "substring match takes the first name alphabetically")

	_, err = env.svc.ResolveLab(context.Background(), uuid.New().String())
	assert.EqualError(t, err, "Laboratorio no pertenece al catalogo")
}

func TestSaveResults_SnapshotsAndReplace(t *testing.T) {
	env := newTestEnv()
	glucosa := env.addLab(t, "Glucosa", strPtr("mg/dL"), f64(70), f64(100))
	consultaID, _ := env.addConsultation()

	saved, err := env.svc.SaveResults(context.Background(), consultaID, []ResultInput{
		{LabID: glucosa.ID.String(), ValorNum: NumericValue(110)},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "mg/dL", *saved[0].UnidadSnapshot)
	assert.Equal(t, "70.0 - 100.0", *saved[0].RangoRefSnapshot)
	assert.Equal(t, "Glucosa", saved[0].LabNombre)

	_, err = env.svc.UpdateLab(context.Background(), glucosa.ID, &CatalogLabUpdate{
		Unidad:      optional.Of("mmol/L"),
		RangoRefMin: optional.Of(3.9),
		RangoRefMax: optional.Of(5.6),
	})
	require.NoError(t, err)

	listed, err := env.svc.ListResults(context.Background(), consultaID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "mg/dL", *listed[0].UnidadSnapshot, "snapshot must not follow catalog edits")
	assert.Equal(t, "70.0 - 100.0", *listed[0].RangoRefSnapshot)

	_, err = env.svc.SaveResults(context.Background(), consultaID, []ResultInput{
		{LabID: "glucosa", ValorNum: TextValue("5,2")},
		{LabID: "GLUCOSA", ValorTexto: strPtr("hemolizada")},
	})
	require.NoError(t, err)
	listed, _ = env.svc.ListResults(context.Background(), consultaID)
	require.Len(t, listed, 2)
	assert.Equal(t, 5.2, *listed[0].ValorNum)
	assert.Equal(t, "mmol/L", *listed[0].UnidadSnapshot)
	assert.Equal(t, "hemolizada", *listed[1].ValorTexto)
}

func TestSaveResults_UnresolvedRefKeepsExisting(t *testing.T) {
	env := newTestEnv()
	glucosa := env.addLab(t, "Glucosa", nil, nil, nil)
	consultaID, _ := env.addConsultation()
	_, err := env.svc.SaveResults(context.Background(), consultaID, []ResultInput{
		{LabID: glucosa.ID.String(), ValorNum: NumericValue(99)},
	})
	require.NoError(t, err)

	_, err = env.svc.SaveResults(context.Background(), consultaID, []ResultInput{
		{LabID: glucosa.ID.String(), ValorNum: NumericValue(120)},
		{LabID: "colesterol", ValorNum: NumericValue(180)},
	})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.EqualError(t, err, "Laboratorio no pertenece al catalogo")

	listed, _ := env.svc.ListResults(context.Background(), consultaID)
	require.Len(t, listed, 1)
	assert.Equal(t, 99.0, *listed[0].ValorNum)
}

func TestSaveResults_FailedInsertRollsBack(t *testing.T) {
	env := newTestEnv()
	glucosa := env.addLab(t, "Glucosa", nil, nil, nil)
	consultaID, _ := env.addConsultation()
	_, err := env.svc.SaveResults(context.Background(), consultaID, []ResultInput{
		{LabID: glucosa.ID.String(), ValorNum: NumericValue(99)},
	})
	require.NoError(t, err)

	env.results.failOn = env.results.creates + 2
	_, err = env.svc.SaveResults(context.Background(), consultaID, []ResultInput{
		{LabID: "glucosa", ValorNum: NumericValue(1)},
		{LabID: "glucosa", ValorNum: NumericValue(2)},
	})
	require.Error(t, err)

	listed, _ := env.svc.ListResults(context.Background(), consultaID)
	require.Len(t, listed, 1)
	assert.Equal(t, 99.0, *listed[0].ValorNum)
}

func TestSaveResults_Validation(t *testing.T) {
	env := newTestEnv()
	env.addLab(t, "Glucosa", nil, nil, nil)
	consultaID, _ := env.addConsultation()

	_, err := env.svc.SaveResults(context.Background(), uuid.New(), nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = env.svc.SaveResults(context.Background(), consultaID, []ResultInput{{LabID: " ", ValorNum: NumericValue(1)}})
	assert.EqualError(t, err, "Laboratorio requerido")

	_, err = env.svc.SaveResults(context.Background(), consultaID, []ResultInput{{LabID: "glucosa"}})
	assert.EqualError(t, err, "El valor es requerido")

	_, err = env.svc.SaveResults(context.Background(), consultaID, []ResultInput{{LabID: "glucosa", ValorNum: TextValue("x")}})
	assert.EqualError(t, err, "El valor debe ser numerico")
}

func TestPrintLabs(t *testing.T) {
	env := newTestEnv()
	lab := env.addLab(t, "HbA1c", strPtr("%"), nil, f64(5.7))
	consultaID, _ := env.addConsultation()
	_, err := env.svc.SaveResults(context.Background(), consultaID, []ResultInput{
		{LabID: lab.ID.String(), ValorNum: NumericValue(6.1)},
	})
	require.NoError(t, err)

	out, err := env.svc.PrintLabs(context.Background(), consultaID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "HbA1c", out[0].LabNombre)
	assert.Equal(t, "<= 5.7", *out[0].RangoRefSnapshot)
}
