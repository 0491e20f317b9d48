package labs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/internal/platform/auth"
)

type noPatients struct{}

func (noPatients) PatientIDByCedula(context.Context, string) (uuid.UUID, error) {
	return uuid.Nil, auth.ErrIdentityNotFound
}

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc, auth.NewAuthorizer(noPatients{})), env, echo.New()
}

var admin = &auth.Principal{Kind: auth.PrincipalUser, ID: uuid.New(), Username: "admin", Role: "admin"}

func legacyPatient(id uuid.UUID) *auth.Principal {
	return &auth.Principal{Kind: auth.PrincipalLegacyPatient, ID: id, Username: "0911", Role: "patient"}
}

func newContext(e *echo.Echo, method, body string, p *auth.Principal) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_CreateLab(t *testing.T) {
	h, _, e := newTestHandler()

	c, rec := newContext(e, http.MethodPost, `{"nombre":"Glucosa","unidad":"mg/dL","rango_ref_min":70,"rango_ref_max":100}`, admin)
	require.NoError(t, h.CreateLab(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var lab CatalogLab
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lab))
	assert.Equal(t, "Glucosa", lab.Nombre)
	assert.Equal(t, "general", lab.Categoria)

	c, _ = newContext(e, http.MethodPost, `{"nombre":" glucosa "}`, admin)
	assert.True(t, apperr.Is(h.CreateLab(c), apperr.KindConflict))
}

func TestHandler_ListCatalog(t *testing.T) {
	h, env, e := newTestHandler()
	env.addLab(t, "Glucosa", nil, nil, nil)

	c, rec := newContext(e, http.MethodGet, "", admin)
	require.NoError(t, h.ListCatalog(c))

	var items []CatalogLab
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 1)
}

func TestHandler_UpdateLab_NotFound(t *testing.T) {
	h, _, e := newTestHandler()

	c, _ := newContext(e, http.MethodPut, `{"orden":2}`, admin)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.UpdateLab(c)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestHandler_SaveAndListResults(t *testing.T) {
	h, env, e := newTestHandler()
	lab := env.addLab(t, "Glucosa", strPtr("mg/dL"), f64(70), f64(100))
	consultaID, patientID := env.addConsultation()

	c, rec := newContext(e, http.MethodPost, `[{"lab_id":"`+lab.ID.String()+`","valor_num":110.0}]`, admin)
	c.SetParamNames("id")
	c.SetParamValues(consultaID.String())
	require.NoError(t, h.SaveResults(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newContext(e, http.MethodGet, "", legacyPatient(patientID))
	c.SetParamNames("id")
	c.SetParamValues(consultaID.String())
	require.NoError(t, h.ListResults(c))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "Glucosa", out[0]["lab_nombre"])
	assert.Equal(t, "mg/dL", out[0]["unidad_snapshot"])
	assert.Equal(t, "70.0 - 100.0", out[0]["rango_ref_snapshot"])
	assert.Equal(t, 110.0, out[0]["valor_num"])
}

func TestHandler_ListResults_OtherPatientForbidden(t *testing.T) {
	h, env, e := newTestHandler()
	consultaID, _ := env.addConsultation()

	c, _ := newContext(e, http.MethodGet, "", legacyPatient(uuid.New()))
	c.SetParamNames("id")
	c.SetParamValues(consultaID.String())
	err := h.ListResults(c)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.EqualError(t, err, "Acceso denegado")

	c, _ = newContext(e, http.MethodGet, "", admin)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	assert.True(t, apperr.Is(h.ListResults(c), apperr.KindNotFound))
}

func TestHandler_SaveResults_CommaDecimal(t *testing.T) {
	h, env, e := newTestHandler()
	env.addLab(t, "HbA1c", nil, nil, nil)
	consultaID, _ := env.addConsultation()

	c, rec := newContext(e, http.MethodPost, `[{"lab_id":"hba1c","valor_num":"6,4"}]`, admin)
	c.SetParamNames("id")
	c.SetParamValues(consultaID.String())
	require.NoError(t, h.SaveResults(c))

	var out []Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, 6.4, *out[0].ValorNum)
}
