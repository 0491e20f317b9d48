package labs

import (
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

// RegisterRoutes mounts the catalog and result endpoints on authed, which
// must already require a principal. Writes additionally require admin.
func (h *Handler) RegisterRoutes(authed *echo.Group) {
	authed.GET("/labs/catalogo", h.ListCatalog)
	authed.GET("/labs/catalog", h.ListCatalog)
	authed.GET("/lab-catalog", h.ListCatalog)
	authed.POST("/labs/catalogo", h.CreateLab, auth.RequireAdmin())
	authed.PUT("/labs/catalogo/:id", h.UpdateLab, auth.RequireAdmin())

	authed.GET("/consultas/:id/labs", h.ListResults)
	authed.POST("/consultas/:id/labs", h.SaveResults, auth.RequireAdmin())
}

func (h *Handler) ListCatalog(c echo.Context) error {
	items, err := h.svc.ListCatalog(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateLab(c echo.Context) error {
	var in CatalogLabCreate
	if err := c.Bind(&in); err != nil {
		return err
	}
	lab, err := h.svc.CreateLab(c.Request().Context(), &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, lab)
}

func (h *Handler) UpdateLab(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in CatalogLabUpdate
	if err := c.Bind(&in); err != nil {
		return err
	}
	lab, err := h.svc.UpdateLab(c.Request().Context(), id, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lab)
}

// ListResults is open to admins and the patient owning the consultation.
func (h *Handler) ListResults(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	owner, err := h.svc.ConsultationOwner(ctx, id)
	if err != nil {
		return err
	}
	if err := h.authorizer.EnsurePatientAccess(ctx, auth.PrincipalFromContext(ctx), owner); err != nil {
		if apperr.Is(err, apperr.KindForbidden) {
			return apperr.Forbidden("Acceso denegado")
		}
		return err
	}
	items, err := h.svc.ListResults(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SaveResults(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in []ResultInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	items, err := h.svc.SaveResults(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}
