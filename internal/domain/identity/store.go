package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/webdiabetes/diabetes-api/internal/platform/auth"
	"github.com/webdiabetes/diabetes-api/internal/platform/db"
)

// AuthStore exposes the users and patients tables to the auth resolver and
// authorizer.
type AuthStore struct {
	users    UserRepository
	patients PatientRepository
}

func NewAuthStore(users UserRepository, patients PatientRepository) *AuthStore {
	return &AuthStore{users: users, patients: patients}
}

var (
	_ auth.IdentityStore = (*AuthStore)(nil)
	_ auth.PatientLookup = (*AuthStore)(nil)
)

func (s *AuthStore) UserByID(ctx context.Context, id uuid.UUID) (*auth.UserRecord, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return &auth.UserRecord{ID: u.ID, Username: u.Username, Role: u.Role, Active: u.Active}, nil
}

func (s *AuthStore) PatientByID(ctx context.Context, id uuid.UUID) (*auth.PatientRecord, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return &auth.PatientRecord{ID: p.ID, Cedula: p.Cedula, Active: p.Active}, nil
}

func (s *AuthStore) PatientIDByCedula(ctx context.Context, cedula string) (uuid.UUID, error) {
	p, err := s.patients.GetByCedula(ctx, cedula)
	if err != nil {
		return uuid.Nil, translate(err)
	}
	return p.ID, nil
}

func translate(err error) error {
	if db.IsNotFound(err) {
		return auth.ErrIdentityNotFound
	}
	return err
}
