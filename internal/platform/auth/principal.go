package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
)

// ErrIdentityNotFound is returned by IdentityStore lookups that match nothing.
var ErrIdentityNotFound = errors.New("identity not found")

// PrincipalKind tells which table an authenticated identity came from.
type PrincipalKind int

const (
	// PrincipalUser is a row of the users table (admins and newer patients).
	PrincipalUser PrincipalKind = iota + 1
	// PrincipalLegacyPatient is a patients row authenticated directly.
	PrincipalLegacyPatient
)

func (k PrincipalKind) String() string {
	switch k {
	case PrincipalUser:
		return "user"
	case PrincipalLegacyPatient:
		return "legacy_patient"
	default:
		return "unknown"
	}
}

// Principal is the identity resolved from a verified token. Username holds
// the cedula for legacy patients.
type Principal struct {
	Kind     PrincipalKind
	ID       uuid.UUID
	Username string
	Role     string
}

func (p *Principal) IsAdmin() bool   { return p != nil && p.Role == "admin" }
func (p *Principal) IsPatient() bool { return p != nil && p.Role == "patient" }

// UserRecord is the subset of a users row needed for authorization.
type UserRecord struct {
	ID       uuid.UUID
	Username string
	Role     string
	Active   bool
}

// PatientRecord is the subset of a patients row needed for authorization.
type PatientRecord struct {
	ID     uuid.UUID
	Cedula string
	Active bool
}

// IdentityStore looks up the records a token may refer to.
type IdentityStore interface {
	UserByID(ctx context.Context, id uuid.UUID) (*UserRecord, error)
	PatientByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error)
	PatientIDByCedula(ctx context.Context, cedula string) (uuid.UUID, error)
}

// Resolver turns verified claims into a Principal. It runs on every request;
// nothing is cached between requests.
type Resolver struct {
	store IdentityStore
}

func NewResolver(store IdentityStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up the subject of claims. PATIENT tokens check the users
// table before falling back to legacy patients. Any other role must match
// the stored user's role.
func (r *Resolver) Resolve(ctx context.Context, claims *Claims) (*Principal, error) {
	id, err := claims.SubjectID()
	if err != nil {
		return nil, apperr.Unauthorized("Invalid token")
	}

	if claims.Role == RolePatient {
		return r.resolvePatient(ctx, id)
	}

	u, err := r.store.UserByID(ctx, id)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, apperr.Unauthorized("Invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if !u.Active {
		return nil, apperr.Forbidden("Inactive user")
	}
	if RoleFromUser(u.Role) != claims.Role {
		return nil, apperr.Forbidden("Role mismatch")
	}
	return &Principal{Kind: PrincipalUser, ID: u.ID, Username: u.Username, Role: normalizeRole(u.Role)}, nil
}

func (r *Resolver) resolvePatient(ctx context.Context, id uuid.UUID) (*Principal, error) {
	u, err := r.store.UserByID(ctx, id)
	switch {
	case err == nil:
		if !u.Active {
			return nil, apperr.Forbidden("Inactive user")
		}
		return &Principal{Kind: PrincipalUser, ID: u.ID, Username: u.Username, Role: "patient"}, nil
	case !errors.Is(err, ErrIdentityNotFound):
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	p, err := r.store.PatientByID(ctx, id)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, apperr.Unauthorized("Invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve patient: %w", err)
	}
	if !p.Active {
		return nil, apperr.Forbidden("Inactive user")
	}
	return &Principal{Kind: PrincipalLegacyPatient, ID: p.ID, Username: p.Cedula, Role: "patient"}, nil
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
