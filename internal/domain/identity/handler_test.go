package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/pkg/pagination"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_LoginPatient(t *testing.T) {
	h, env, e := newTestHandler()
	env.addPatient(t, "0999999999", "perezana", true)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"cedula":"0999999999","password":"perezana"}`), rec)
	if err := h.LoginPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var tok Token
	json.Unmarshal(rec.Body.Bytes(), &tok)
	if tok.AccessToken == "" || tok.TokenType != "bearer" {
		t.Errorf("unexpected token response %s", rec.Body.String())
	}
}

func TestHandler_LoginAdmin_BadCredentials(t *testing.T) {
	h, env, e := newTestHandler()
	env.addUser(t, "admin", "secret", RoleAdmin, true)

	c := e.NewContext(jsonRequest(http.MethodPost, `{"username":"admin","password":"nope"}`), httptest.NewRecorder())
	err := h.LoginAdmin(c)
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
}

func TestHandler_Login_MissingFields(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"identifier":"x"}`), httptest.NewRecorder())
	if err := h.Login(c); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("expected BadRequest, got %v", err)
	}
}

func TestHandler_Logout(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	if err := h.Logout(e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"Logged out"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_CreatePatient(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"cedula":"0102030405","apellidos":"Mora","nombres":"Luis","fecha_nacimiento":"1975-01-20","email":"luis@example.com"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)
	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("password hash must not be serialized")
	}
	var p Patient
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Cedula != "0102030405" || p.FechaNacimiento.String() != "1975-01-20" || !p.Active {
		t.Errorf("unexpected patient %s", rec.Body.String())
	}

	c = e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
	if err := h.CreatePatient(c); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("expected Conflict on second create, got %v", err)
	}
}

func TestHandler_CreatePatient_UserShape(t *testing.T) {
	h, _, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"username":"0977777777","password":"abc"}`), rec)
	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var u User
	json.Unmarshal(rec.Body.Bytes(), &u)
	if u.Username != "0977777777" || u.Role != RolePatient {
		t.Errorf("unexpected user %s", rec.Body.String())
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h, env, e := newTestHandler()
	p := env.addPatient(t, "0911", "pw", true)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.GetPatient(c); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.GetPatient(c); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("expected BadRequest, got %v", err)
	}
}

func TestHandler_ListPatients(t *testing.T) {
	h, env, e := newTestHandler()
	env.addPatient(t, "0911", "pw", true)
	env.addPatient(t, "0922", "pw", true)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/patients?limit=1", nil), rec)
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp pagination.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 || resp.Limit != 1 {
		t.Errorf("unexpected page %s", rec.Body.String())
	}
	if resp.NextOffset == nil || *resp.NextOffset != 1 {
		t.Errorf("expected next offset 1, got %v", resp.NextOffset)
	}
}

func TestHandler_ListPatients_Lookup(t *testing.T) {
	h, env, e := newTestHandler()
	env.addPatient(t, "0911", "pw", true)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/patients?cedula=0911", nil), rec)
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var lookup PatientLookup
	json.Unmarshal(rec.Body.Bytes(), &lookup)
	if lookup.Cedula != "0911" || lookup.Nombres != "Ana" {
		t.Errorf("unexpected lookup %s", rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/patients?cedula=0000", nil), httptest.NewRecorder())
	if err := h.ListPatients(c); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestHandler_UpdatePatient_NullEmail(t *testing.T) {
	h, env, e := newTestHandler()
	p := env.addPatient(t, "0911", "pw", true)
	email := "ana@example.com"
	p.Email = &email
	env.patients.Update(nil, p)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, `{"email":null,"activo":false}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := env.patients.GetByID(nil, p.ID)
	if stored.Email != nil || stored.Active {
		t.Errorf("expected email cleared and inactive, got %+v", stored)
	}
	if stored.Nombres != "Ana" {
		t.Errorf("expected nombres untouched, got %s", stored.Nombres)
	}
}

func TestHandler_DeletePatient(t *testing.T) {
	h, env, e := newTestHandler()
	p := env.addPatient(t, "0911", "pw", true)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.DeletePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if _, ok := env.patients.patients[p.ID]; !ok {
		t.Error("delete must keep the row")
	}
}

func TestHandler_ResetPatientPassword(t *testing.T) {
	h, env, e := newTestHandler()
	p := env.addPatient(t, "0911", "pw", true)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"new_password":"otra"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.ResetPatientPassword(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
