package consultation

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/internal/platform/auth"
)

type Handler struct {
	svc        *Service
	authorizer *auth.Authorizer
}

func NewHandler(svc *Service, authorizer *auth.Authorizer) *Handler {
	return &Handler{svc: svc, authorizer: authorizer}
}

// RegisterRoutes mounts consultation endpoints. authed requires any
// principal, admin and patient additionally require that role.
func (h *Handler) RegisterRoutes(authed, admin, patient *echo.Group) {
	admin.POST("/consultations", h.CreateConsultation)
	admin.GET("/consultations", h.ListByCedula)
	admin.GET("/patients/:cedula/current-medications", h.CurrentByCedula)

	authed.GET("/patients/:patient_id/consultations/:consultation_id/medications", h.ListMedications)
	authed.POST("/patients/:patient_id/consultations/:consultation_id/medications", h.AddMedications, auth.RequireAdmin())
	authed.GET("/patients/:patient_id/current-medications", h.CurrentMedications)
	authed.PUT("/medications/:id", h.UpdateMedication, auth.RequireAdmin())
	authed.DELETE("/medications/:id", h.DeleteMedication, auth.RequireAdmin())
	authed.GET("/consultations/:id/print", h.Print)

	patient.GET("/consultations", h.MyConsultations)
	patient.GET("/consultations/:id", h.MyConsultation)
	patient.GET("/medication/current", h.MyCurrentConsultation)
}

// -- Admin Handlers --

func (h *Handler) CreateConsultation(c echo.Context) error {
	var in ConsultationCreate
	if err := c.Bind(&in); err != nil {
		return err
	}
	out, err := h.svc.CreateConsultation(c.Request().Context(), &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListByCedula(c echo.Context) error {
	cedula := c.QueryParam("cedula")
	if cedula == "" {
		return apperr.BadRequest("cedula is required")
	}
	items, err := h.svc.ListByCedula(c.Request().Context(), cedula)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.NotFound("Patient not found for cedula %s", cedula)
		}
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CurrentByCedula(c echo.Context) error {
	out, err := h.svc.LatestByCedula(c.Request().Context(), c.Param("cedula"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// -- Patient-scoped Handlers --

// patientScope parses :patient_id and checks the principal may read it.
func (h *Handler) patientScope(c echo.Context) (uuid.UUID, error) {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid patient_id")
	}
	ctx := c.Request().Context()
	if err := h.authorizer.EnsurePatientAccess(ctx, auth.PrincipalFromContext(ctx), patientID); err != nil {
		return uuid.Nil, err
	}
	return patientID, nil
}

func (h *Handler) ListMedications(c echo.Context) error {
	patientID, err := h.patientScope(c)
	if err != nil {
		return err
	}
	consultationID, err := uuid.Parse(c.Param("consultation_id"))
	if err != nil {
		return apperr.BadRequest("invalid consultation_id")
	}
	items, err := h.svc.ListMedications(c.Request().Context(), patientID, consultationID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

// AddMedications accepts a single medication object or a list of them.
func (h *Handler) AddMedications(c echo.Context) error {
	patientID, err := h.patientScope(c)
	if err != nil {
		return err
	}
	consultationID, err := uuid.Parse(c.Param("consultation_id"))
	if err != nil {
		return apperr.BadRequest("invalid consultation_id")
	}
	items, err := decodeMedicationInputs(c.Request().Body)
	if err != nil {
		return err
	}
	created, err := h.svc.AddMedications(c.Request().Context(), patientID, consultationID, items)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func decodeMedicationInputs(r io.Reader) ([]MedicationInput, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.BadRequest("unreadable body")
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var items []MedicationInput
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, apperr.BadRequest("invalid medications payload")
		}
		return items, nil
	}
	var one MedicationInput
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, apperr.BadRequest("invalid medications payload")
	}
	return []MedicationInput{one}, nil
}

func (h *Handler) CurrentMedications(c echo.Context) error {
	patientID, err := h.patientScope(c)
	if err != nil {
		return err
	}
	items, err := h.svc.CurrentMedications(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateMedication(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in MedicationUpdate
	if err := c.Bind(&in); err != nil {
		return err
	}
	m, err := h.svc.UpdateMedication(c.Request().Context(), id, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMedication(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteMedication(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Print returns the printable summary to admins and the owning patient.
func (h *Handler) Print(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cons, err := h.svc.GetConsultation(ctx, id)
	if err != nil {
		return err
	}
	if err := h.authorizer.EnsurePatientAccess(ctx, auth.PrincipalFromContext(ctx), cons.PatientID); err != nil {
		return err
	}
	out, err := h.svc.PrintSummary(ctx, cons)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// -- Patient Portal Handlers --

func (h *Handler) myPatientID(c echo.Context) (uuid.UUID, error) {
	ctx := c.Request().Context()
	return h.authorizer.PatientIDFor(ctx, auth.PrincipalFromContext(ctx))
}

func (h *Handler) MyConsultations(c echo.Context) error {
	patientID, err := h.myPatientID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByPatient(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) MyConsultation(c echo.Context) error {
	patientID, err := h.myPatientID(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cons, err := h.svc.GetConsultation(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if cons.PatientID != patientID {
		return apperr.Forbidden("Not allowed")
	}
	return c.JSON(http.StatusOK, cons)
}

// MyCurrentConsultation returns the latest consultation, or null.
func (h *Handler) MyCurrentConsultation(c echo.Context) error {
	patientID, err := h.myPatientID(c)
	if err != nil {
		return err
	}
	cons, err := h.svc.CurrentConsultation(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cons)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}
