package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the login endpoints on public and the patient
// registry on admin, which must already require an admin principal.
func (h *Handler) RegisterRoutes(public *echo.Group, admin *echo.Group) {
	public.POST("/auth/patient/login", h.LoginPatient)
	public.POST("/auth/admin/login", h.LoginAdmin)
	public.POST("/auth/login", h.Login)
	public.POST("/auth/logout", h.Logout)

	admin.GET("/healthcheck", h.Healthcheck)
	admin.GET("/patients", h.ListPatients)
	admin.POST("/patients", h.CreatePatient)
	admin.GET("/patients/:id", h.GetPatient)
	admin.PUT("/patients/:id", h.UpdatePatient)
	admin.DELETE("/patients/:id", h.DeletePatient)
	admin.POST("/patients/:id/reset-password", h.ResetPatientPassword)
}

// -- Auth Handlers --

type patientLoginRequest struct {
	Cedula   string `json:"cedula"`
	Password string `json:"password"`
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) LoginPatient(c echo.Context) error {
	var req patientLoginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Cedula == "" || req.Password == "" {
		return apperr.BadRequest("cedula and password are required")
	}
	tok, err := h.svc.LoginPatient(c.Request().Context(), req.Cedula, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *Handler) LoginAdmin(c echo.Context) error {
	var req adminLoginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Username == "" || req.Password == "" {
		return apperr.BadRequest("username and password are required")
	}
	tok, err := h.svc.LoginAdmin(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Identifier == "" || req.Password == "" {
		return apperr.BadRequest("identifier and password are required")
	}
	tok, err := h.svc.Login(c.Request().Context(), req.Identifier, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tok)
}

// Logout is stateless; clients discard the token.
func (h *Handler) Logout(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) Healthcheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// -- Patient Handlers --

// createPatientRequest accepts either a patient record (cedula present) or
// a bare patient login (username present).
type createPatientRequest struct {
	PatientCreate
	Username      string `json:"username"`
	ResetPassword bool   `json:"reset_password"`
}

func (r *createPatientRequest) userCreate() *PatientUserCreate {
	in := &PatientUserCreate{
		Username:        r.Username,
		FechaNacimiento: r.FechaNacimiento,
		ResetPassword:   r.ResetPassword,
	}
	if r.Password != nil {
		in.Password = *r.Password
	}
	if r.Nombres != "" {
		in.Nombres = &r.Nombres
	}
	if r.Apellidos != "" {
		in.Apellidos = &r.Apellidos
	}
	return in
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if req.Cedula == "" && req.Username != "" {
		u, err := h.svc.CreatePatientUser(ctx, req.userCreate())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, u)
	}

	p, err := h.svc.CreatePatient(ctx, &req.PatientCreate)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// ListPatients pages through the registry, or returns a single lookup when
// ?cedula= is given.
func (h *Handler) ListPatients(c echo.Context) error {
	ctx := c.Request().Context()
	if cedula := c.QueryParam("cedula"); cedula != "" {
		p, err := h.svc.LookupPatient(ctx, cedula)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, p)
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in PatientUpdate
	if err := c.Bind(&in); err != nil {
		return err
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), id, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.DeactivatePatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (h *Handler) ResetPatientPassword(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := h.svc.ResetPatientPassword(c.Request().Context(), id, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}
