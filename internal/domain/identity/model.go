package identity

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/pkg/civil"
	"github.com/webdiabetes/diabetes-api/pkg/optional"
)

// Stored user roles. Tokens carry the upper-case form.
const (
	RoleAdmin   = "admin"
	RolePatient = "patient"
)

// User maps to the users table. It holds staff accounts and the patient
// accounts created alongside newer patient records.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	Active       bool      `db:"activo" json:"activo"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// HasRole compares roles case-insensitively; older rows store upper case.
func (u *User) HasRole(role string) bool {
	return strings.EqualFold(strings.TrimSpace(u.Role), role)
}

// Patient maps to the patients table, the legacy patient identity.
type Patient struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Cedula          string     `db:"cedula" json:"cedula"`
	Apellidos       string     `db:"apellidos" json:"apellidos"`
	Nombres         string     `db:"nombres" json:"nombres"`
	FechaNacimiento civil.Date `db:"fecha_nacimiento" json:"fecha_nacimiento"`
	Email           *string    `db:"email" json:"email"`
	Active          bool       `db:"activo" json:"activo"`
	PasswordHash    string     `db:"password_hash" json:"-"`
}

// PatientLookup is the reduced shape returned by a cedula search.
type PatientLookup struct {
	ID              uuid.UUID  `json:"id"`
	Cedula          string     `json:"cedula"`
	Nombres         string     `json:"nombres"`
	Apellidos       string     `json:"apellidos"`
	FechaNacimiento civil.Date `json:"fecha_nacimiento"`
}

func (p *Patient) Lookup() *PatientLookup {
	return &PatientLookup{
		ID:              p.ID,
		Cedula:          p.Cedula,
		Nombres:         p.Nombres,
		Apellidos:       p.Apellidos,
		FechaNacimiento: p.FechaNacimiento,
	}
}

// PasswordSeed is the initial password for patients registered without
// one: surnames then names, lower case, spaces removed.
func PasswordSeed(apellidos, nombres string) string {
	return strings.ToLower(strings.ReplaceAll(apellidos+nombres, " ", ""))
}

// PatientCreate registers a legacy patient record.
type PatientCreate struct {
	Cedula          string      `json:"cedula"`
	Apellidos       string      `json:"apellidos"`
	Nombres         string      `json:"nombres"`
	FechaNacimiento *civil.Date `json:"fecha_nacimiento"`
	Email           *string     `json:"email"`
	Activo          *bool       `json:"activo"`
	Password        *string     `json:"password"`
}

func (in *PatientCreate) Validate() error {
	in.Cedula = strings.TrimSpace(in.Cedula)
	switch {
	case in.Cedula == "":
		return apperr.BadRequest("cedula is required")
	case strings.TrimSpace(in.Apellidos) == "":
		return apperr.BadRequest("apellidos is required")
	case strings.TrimSpace(in.Nombres) == "":
		return apperr.BadRequest("nombres is required")
	case in.FechaNacimiento == nil:
		return apperr.BadRequest("fecha_nacimiento is required")
	}
	return validateEmail(in.Email)
}

// PatientUserCreate registers a patient login account in users.
type PatientUserCreate struct {
	Username        string      `json:"username"`
	Password        string      `json:"password"`
	Nombres         *string     `json:"nombres"`
	Apellidos       *string     `json:"apellidos"`
	FechaNacimiento *civil.Date `json:"fecha_nacimiento"`
	ResetPassword   bool        `json:"reset_password"`
}

func (in *PatientUserCreate) Validate() error {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return apperr.BadRequest("username is required")
	}
	if in.Password == "" {
		return apperr.BadRequest("password is required")
	}
	return nil
}

// PatientUpdate changes only the fields present in the request body.
type PatientUpdate struct {
	Apellidos       optional.Field[string]     `json:"apellidos"`
	Nombres         optional.Field[string]     `json:"nombres"`
	FechaNacimiento optional.Field[civil.Date] `json:"fecha_nacimiento"`
	Email           optional.Field[string]     `json:"email"`
	Activo          optional.Field[bool]       `json:"activo"`
}

func (u *PatientUpdate) Validate() error {
	for name, f := range map[string]optional.Field[string]{"apellidos": u.Apellidos, "nombres": u.Nombres} {
		if f.IsNull() || (f.V != nil && strings.TrimSpace(*f.V) == "") {
			return apperr.BadRequest("%s must not be empty", name)
		}
	}
	if u.FechaNacimiento.IsNull() {
		return apperr.BadRequest("fecha_nacimiento must not be null")
	}
	if u.Activo.IsNull() {
		return apperr.BadRequest("activo must not be null")
	}
	return validateEmail(u.Email.V)
}

// Apply merges the present fields into p.
func (u *PatientUpdate) Apply(p *Patient) {
	u.Apellidos.Apply(&p.Apellidos)
	u.Nombres.Apply(&p.Nombres)
	u.FechaNacimiento.Apply(&p.FechaNacimiento)
	u.Email.ApplyNullable(&p.Email)
	u.Activo.Apply(&p.Active)
}

func validateEmail(email *string) error {
	if email == nil {
		return nil
	}
	if _, err := mail.ParseAddress(*email); err != nil {
		return apperr.BadRequest("invalid email address")
	}
	return nil
}

// Token is the login response body.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
