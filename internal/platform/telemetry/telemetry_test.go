package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/internal/platform/db"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMiddleware_CountsByRouteTemplate(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/admin/patients/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return apperr.NotFound("Patient not found")
		}
		return c.NoContent(http.StatusOK)
	})

	for _, path := range []string{"/admin/patients/a", "/admin/patients/b", "/admin/patients/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	out := scrape(t, m)
	for _, want := range []string{
		`http_requests_total{method="GET",route="/admin/patients/:id",status="200"} 2`,
		`http_requests_total{method="GET",route="/admin/patients/:id",status="404"} 1`,
		`http_request_duration_seconds_count{method="GET",route="/admin/patients/:id"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}

func TestRecordLogin(t *testing.T) {
	m := New()
	m.RecordLogin("patient", OutcomeSuccess)
	m.RecordLogin("patient", OutcomeInvalid)
	m.RecordLogin("patient", OutcomeInvalid)

	out := scrape(t, m)
	if !strings.Contains(out, `auth_attempts_total{kind="patient",outcome="invalid_credentials"} 2`) {
		t.Errorf("missing invalid login count:\n%s", out)
	}
	if !strings.Contains(out, `auth_attempts_total{kind="patient",outcome="success"} 1`) {
		t.Errorf("missing successful login count")
	}
}

func TestObservePool(t *testing.T) {
	m := New()
	m.ObservePool(func() *db.PoolStats {
		return &db.PoolStats{TotalConns: 4, IdleConns: 3, AcquiredConns: 1, MaxConns: 10}
	})

	out := scrape(t, m)
	for _, want := range []string{"db_pool_total_conns 4", "db_pool_acquired_conns 1", "db_pool_max_conns 10"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}
