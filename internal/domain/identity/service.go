package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/internal/platform/auth"
	"github.com/webdiabetes/diabetes-api/internal/platform/db"
	"github.com/webdiabetes/diabetes-api/internal/platform/telemetry"
)

// Login kinds reported to the LoginRecorder.
const (
	LoginPatient = "patient"
	LoginAdmin   = "admin"
	LoginGeneric = "generic"
)

// LoginRecorder counts login attempts by endpoint and outcome.
type LoginRecorder interface {
	RecordLogin(kind, outcome string)
}

type Service struct {
	users    UserRepository
	patients PatientRepository
	tx       db.Transactor
	issuer   *auth.Issuer
	logins   LoginRecorder
}

func NewService(users UserRepository, patients PatientRepository, tx db.Transactor, issuer *auth.Issuer) *Service {
	return &Service{
		users:    users,
		patients: patients,
		tx:       tx,
		issuer:   issuer,
	}
}

// SetLoginRecorder attaches an optional recorder for login outcomes.
func (s *Service) SetLoginRecorder(r LoginRecorder) {
	s.logins = r
}

// -- Logins --

func invalidCredentials() error {
	return apperr.Unauthorized("Invalid credentials")
}

// LoginPatient checks the users table first and falls back to the legacy
// patients table. The token subject is whichever row matched.
func (s *Service) LoginPatient(ctx context.Context, cedula, password string) (tok *Token, err error) {
	defer func() { s.record(LoginPatient, err) }()

	u, err := s.users.GetByUsername(ctx, cedula)
	switch {
	case err == nil && u.HasRole(RolePatient):
		if !u.Active {
			return nil, apperr.Forbidden("Inactive user")
		}
		if !auth.CheckPassword(password, u.PasswordHash) {
			return nil, invalidCredentials()
		}
		return s.issue(u.ID, auth.RolePatient)
	case err != nil && !db.IsNotFound(err):
		return nil, fmt.Errorf("patient login user lookup: %w", err)
	}

	p, err := s.patients.GetByCedula(ctx, cedula)
	if db.IsNotFound(err) {
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("patient login lookup: %w", err)
	}
	if !p.Active || !auth.CheckPassword(password, p.PasswordHash) {
		return nil, invalidCredentials()
	}
	return s.issue(p.ID, auth.RolePatient)
}

// LoginAdmin only accepts active users with the admin role.
func (s *Service) LoginAdmin(ctx context.Context, username, password string) (tok *Token, err error) {
	defer func() { s.record(LoginAdmin, err) }()

	u, err := s.users.GetByUsername(ctx, username)
	if db.IsNotFound(err) {
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("admin login lookup: %w", err)
	}
	if !u.Active || !u.HasRole(RoleAdmin) || !auth.CheckPassword(password, u.PasswordHash) {
		return nil, invalidCredentials()
	}
	return s.issue(u.ID, auth.RoleAdmin)
}

// Login authenticates any user and issues a token for the user's own role.
func (s *Service) Login(ctx context.Context, identifier, password string) (tok *Token, err error) {
	defer func() { s.record(LoginGeneric, err) }()

	u, err := s.users.GetByUsername(ctx, identifier)
	if db.IsNotFound(err) {
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("login lookup: %w", err)
	}
	if !u.Active {
		return nil, apperr.Forbidden("Inactive user")
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		return nil, invalidCredentials()
	}
	return s.issue(u.ID, auth.RoleFromUser(u.Role))
}

func (s *Service) issue(subject uuid.UUID, role auth.Role) (*Token, error) {
	token, err := s.issuer.Issue(subject, role)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: token, TokenType: "bearer"}, nil
}

func (s *Service) record(kind string, err error) {
	if s.logins == nil {
		return
	}
	outcome := telemetry.OutcomeSuccess
	switch {
	case err == nil:
	case apperr.Is(err, apperr.KindUnauthorized):
		outcome = telemetry.OutcomeInvalid
	case apperr.Is(err, apperr.KindForbidden):
		outcome = telemetry.OutcomeInactive
	default:
		outcome = telemetry.OutcomeServerError
	}
	s.logins.RecordLogin(kind, outcome)
}

// -- Patients --

// CreatePatient stores the patient and a patient-role login named after the
// cedula in one transaction. Without a password the seed from PasswordSeed
// is used.
func (s *Service) CreatePatient(ctx context.Context, in *PatientCreate) (*Patient, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.patients.GetByCedula(ctx, in.Cedula); err == nil {
		return nil, apperr.Conflict("Cedula already exists")
	} else if !db.IsNotFound(err) {
		return nil, fmt.Errorf("check cedula: %w", err)
	}

	seed := PasswordSeed(in.Apellidos, in.Nombres)
	if in.Password != nil && strings.TrimSpace(*in.Password) != "" {
		seed = *in.Password
	}
	hash, err := auth.HashPassword(seed)
	if err != nil {
		return nil, err
	}

	p := &Patient{
		Cedula:          in.Cedula,
		Apellidos:       in.Apellidos,
		Nombres:         in.Nombres,
		FechaNacimiento: *in.FechaNacimiento,
		Email:           in.Email,
		Active:          in.Activo == nil || *in.Activo,
		PasswordHash:    hash,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.patients.Create(ctx, p); err != nil {
			return err
		}
		return s.upsertPatientUser(ctx, p.Cedula, hash)
	})
	if db.IsUniqueViolation(err) {
		return nil, apperr.Conflict("Cedula already exists")
	}
	if apperr.Is(err, apperr.KindConflict) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("patient_id", p.ID.String()).Msg("patient created")
	return p, nil
}

func (s *Service) upsertPatientUser(ctx context.Context, username, hash string) error {
	u, err := s.users.GetByUsername(ctx, username)
	if db.IsNotFound(err) {
		return s.users.Create(ctx, &User{
			Username:     username,
			PasswordHash: hash,
			Role:         RolePatient,
			Active:       true,
		})
	}
	if err != nil {
		return err
	}
	if u.Role != RolePatient {
		return apperr.Conflict("Username already belongs to a non-patient user")
	}
	u.PasswordHash = hash
	u.Role = RolePatient
	u.Active = true
	return s.users.Update(ctx, u)
}

// CreatePatientUser creates a patient login. An existing username is a
// conflict unless ResetPassword is set and it is a patient login, which is
// then rehashed and reactivated.
func (s *Service) CreatePatientUser(ctx context.Context, in *PatientUserCreate) (*User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByUsername(ctx, in.Username)
	switch {
	case err == nil:
		if !in.ResetPassword {
			return nil, apperr.Conflict("Username already exists")
		}
		if u.Role != RolePatient {
			return nil, apperr.Conflict("Username already belongs to a non-patient user")
		}
		u.PasswordHash = hash
		u.Role = RolePatient
		u.Active = true
		if err := s.users.Update(ctx, u); err != nil {
			return nil, fmt.Errorf("reset patient user: %w", err)
		}
		zerolog.Ctx(ctx).Info().Str("user_id", u.ID.String()).Msg("patient user password reset")
		return u, nil
	case !db.IsNotFound(err):
		return nil, fmt.Errorf("lookup username: %w", err)
	}

	u = &User{Username: in.Username, PasswordHash: hash, Role: RolePatient, Active: true}
	if err := s.users.Create(ctx, u); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Username already exists")
		}
		return nil, fmt.Errorf("create patient user: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("user_id", u.ID.String()).Msg("patient user created")
	return u, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Patient not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// LookupPatient finds a patient by cedula.
func (s *Service) LookupPatient(ctx context.Context, cedula string) (*PatientLookup, error) {
	p, err := s.patients.GetByCedula(ctx, strings.TrimSpace(cedula))
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Paciente no existe")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup patient: %w", err)
	}
	return p.Lookup(), nil
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	items, total, err := s.patients.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	return items, total, nil
}

func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, in *PatientUpdate) (*Patient, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p, err := s.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	in.Apply(p)
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	return p, nil
}

// DeactivatePatient is the registry's delete: the row stays, inactive.
func (s *Service) DeactivatePatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Active = false
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("deactivate patient: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("patient_id", p.ID.String()).Msg("patient deactivated")
	return p, nil
}

// ResetPatientPassword sets a new password on the patient and, when one
// exists, on the patient-role user named after the cedula, reactivating it.
func (s *Service) ResetPatientPassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return apperr.BadRequest("new_password is required")
	}
	p, err := s.GetPatient(ctx, id)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		p.PasswordHash = hash
		if err := s.patients.Update(ctx, p); err != nil {
			return err
		}
		u, err := s.users.GetByUsername(ctx, p.Cedula)
		if db.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if !u.HasRole(RolePatient) {
			return nil
		}
		u.PasswordHash = hash
		u.Active = true
		return s.users.Update(ctx, u)
	})
	if err != nil {
		return fmt.Errorf("reset patient password: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("patient_id", p.ID.String()).Msg("patient password reset")
	return nil
}

// EnsureAdmin creates the bootstrap admin when the username is free. An
// existing user is never modified. It reports whether a user was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, password, passwordHash string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, nil
	}
	_, err := s.users.GetByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !db.IsNotFound(err) {
		return false, fmt.Errorf("lookup admin: %w", err)
	}

	hash := passwordHash
	if hash == "" {
		if strings.TrimSpace(password) == "" {
			return false, fmt.Errorf("admin %q needs ADMIN_PASSWORD or ADMIN_PASSWORD_HASH", username)
		}
		if hash, err = auth.HashPassword(password); err != nil {
			return false, err
		}
	}

	u := &User{Username: username, PasswordHash: hash, Role: RoleAdmin, Active: true}
	if err := s.users.Create(ctx, u); err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}
