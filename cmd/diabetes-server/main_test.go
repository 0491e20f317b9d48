package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/webdiabetes/diabetes-api/internal/config"
	"github.com/webdiabetes/diabetes-api/internal/platform/telemetry"
)

func testApp(t *testing.T) *app {
	t.Helper()
	cfg := &config.Config{
		AppName:                  "WEB DIABETES API",
		Env:                      "production",
		SecretKey:                "test-secret",
		AccessTokenExpireMinutes: 60,
		CORSOrigins:              []string{"http://localhost:3000"},
	}
	return newApp(cfg, zerolog.New(io.Discard), nil, telemetry.New())
}

func serve(a *app, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewApp_RegistersRoutes(t *testing.T) {
	a := testApp(t)

	registered := make(map[string]bool)
	for _, r := range a.echo.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"POST /auth/patient/login",
		"POST /auth/admin/login",
		"POST /auth/login",
		"GET /admin/patients",
		"POST /admin/patients/:id/reset-password",
		"POST /admin/consultations",
		"GET /admin/patients/:cedula/current-medications",
		"GET /patients/:patient_id/consultations/:consultation_id/medications",
		"PUT /medications/:id",
		"GET /consultations/:id/print",
		"GET /patient/consultations/:id",
		"GET /patient/medication/current",
		"GET /labs/catalogo",
		"GET /lab-catalog",
		"POST /consultas/:id/labs",
		"POST /admin/patients/:username/consultas",
		"POST /admin/patients/:id/visits",
		"DELETE /admin/medications/:id",
		"GET /patient/portal",
		"GET /patient/me/current-medication",
		"GET /health",
		"GET /health/db",
		"GET /metrics",
	} {
		if !registered[want] {
			t.Errorf("route %q not registered", want)
		}
	}
}

func TestNewApp_Health(t *testing.T) {
	a := testApp(t)
	rec := serve(a, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestNewApp_RequiresToken(t *testing.T) {
	a := testApp(t)

	for _, path := range []string{"/admin/patients", "/patient/consultations", "/labs/catalogo"} {
		rec := serve(a, http.MethodGet, path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"detail"`) {
			t.Errorf("%s: expected detail body, got %s", path, rec.Body.String())
		}
	}

	rec := serve(a, http.MethodGet, "/admin/patients", map[string]string{"Authorization": "Bearer not-a-token"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a malformed token, got %d", rec.Code)
	}
}

func TestNewApp_Metrics(t *testing.T) {
	a := testApp(t)
	serve(a, http.MethodGet, "/health", nil)

	rec := serve(a, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Errorf("expected request counter in exposition, got %s", rec.Body.String())
	}
}

func TestNewLogger(t *testing.T) {
	// Both modes must produce a usable logger.
	dev := newLogger(true)
	dev.Info().Msg("dev")
	prod := newLogger(false)
	prod.Info().Msg("prod")
}
