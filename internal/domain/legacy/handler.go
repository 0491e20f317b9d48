package legacy

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the legacy endpoints on admin and patient, which
// must already require those roles.
func (h *Handler) RegisterRoutes(admin, patient *echo.Group) {
	admin.POST("/patients/:username/consultas", h.CreateConsulta)
	admin.GET("/patients/:username/consultas", h.ListConsultas)
	admin.GET("/consultas/:id", h.GetConsulta)

	admin.GET("/patients/:id/visits", h.ListVisits)
	admin.POST("/patients/:id/visits", h.CreateVisit)
	admin.GET("/visits/:id", h.GetVisit)

	admin.GET("/medications", h.ListMedications)
	admin.POST("/medications", h.CreateMedication)
	admin.PUT("/medications/:id", h.UpdateMedication)
	admin.DELETE("/medications/:id", h.DeleteMedication)

	patient.GET("/portal", h.Portal)
	patient.GET("/consultas", h.MyConsultas)
	patient.GET("/consultas/:id", h.MyConsulta)
	patient.GET("/medicacion-actual", h.MyLatestConsulta)
	patient.GET("/me/visits", h.MyVisits)
	patient.GET("/me/visits/:id", h.MyVisit)
	patient.GET("/me/current-medication", h.MyCurrentVisit)
}

func principal(c echo.Context) (*auth.Principal, error) {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return nil, apperr.Unauthorized("Not authenticated")
	}
	return p, nil
}

// -- Admin Handlers --

func (h *Handler) CreateConsulta(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var in ConsultaCreate
	if err := c.Bind(&in); err != nil {
		return err
	}
	out, err := h.svc.CreateConsulta(c.Request().Context(), c.Param("username"), p.ID, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListConsultas(c echo.Context) error {
	items, err := h.svc.ListConsultasByUsername(c.Request().Context(), c.Param("username"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetConsulta(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetConsulta(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListVisits(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListVisits(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in VisitCreate
	if err := c.Bind(&in); err != nil {
		return err
	}
	out, err := h.svc.CreateVisit(c.Request().Context(), id, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListMedications(c echo.Context) error {
	items, err := h.svc.ListMedications(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateMedication(c echo.Context) error {
	var in CatalogMedicationCreate
	if err := c.Bind(&in); err != nil {
		return err
	}
	out, err := h.svc.CreateMedication(c.Request().Context(), &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) UpdateMedication(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in CatalogMedicationUpdate
	if err := c.Bind(&in); err != nil {
		return err
	}
	out, err := h.svc.UpdateMedication(c.Request().Context(), id, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// DeleteMedication deactivates and returns the catalog entry.
func (h *Handler) DeleteMedication(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.DeactivateMedication(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// -- Patient Handlers --

func (h *Handler) Portal(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message":    "Patient portal",
		"patient_id": p.ID.String(),
	})
}

func (h *Handler) MyConsultas(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListConsultas(c.Request().Context(), p.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) MyConsulta(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetConsultaFor(c.Request().Context(), p.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) MyLatestConsulta(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	out, err := h.svc.LatestConsulta(c.Request().Context(), p.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) MyVisits(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListVisitsFor(c.Request().Context(), p.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) MyVisit(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetVisitFor(c.Request().Context(), p.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// MyCurrentVisit returns the latest visit, or null.
func (h *Handler) MyCurrentVisit(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	out, err := h.svc.CurrentVisit(c.Request().Context(), p.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}
