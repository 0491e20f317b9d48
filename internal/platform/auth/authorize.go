package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
)

// PatientLookup maps a cedula to its patients row id.
type PatientLookup interface {
	PatientIDByCedula(ctx context.Context, cedula string) (uuid.UUID, error)
}

// Authorizer answers ownership questions for patient-scoped resources.
type Authorizer struct {
	patients PatientLookup
}

func NewAuthorizer(patients PatientLookup) *Authorizer {
	return &Authorizer{patients: patients}
}

// PatientIDFor returns the patients row owned by a patient principal. Legacy
// principals are that row; user principals own the row whose cedula equals
// their username.
func (a *Authorizer) PatientIDFor(ctx context.Context, p *Principal) (uuid.UUID, error) {
	if p == nil {
		return uuid.Nil, apperr.Unauthorized("Not authenticated")
	}
	if p.Kind == PrincipalLegacyPatient {
		return p.ID, nil
	}
	id, err := a.patients.PatientIDByCedula(ctx, p.Username)
	if errors.Is(err, ErrIdentityNotFound) {
		return uuid.Nil, apperr.NotFound("Patient not found for this user")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup patient for principal: %w", err)
	}
	return id, nil
}

// EnsurePatientAccess lets admins through and requires patients to own
// patientID.
func (a *Authorizer) EnsurePatientAccess(ctx context.Context, p *Principal, patientID uuid.UUID) error {
	switch {
	case p == nil:
		return apperr.Unauthorized("Not authenticated")
	case p.IsAdmin():
		return nil
	case !p.IsPatient():
		return apperr.Forbidden("Access denied")
	}

	owned, err := a.PatientIDFor(ctx, p)
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.Forbidden("Access denied")
	}
	if err != nil {
		return err
	}
	if owned != patientID {
		return apperr.Forbidden("Access denied")
	}
	return nil
}
