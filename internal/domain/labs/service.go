package labs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/webdiabetes/diabetes-api/internal/domain/consultation"
	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/internal/platform/db"
)

type Service struct {
	catalog       CatalogRepository
	results       ResultRepository
	consultations ConsultationOwners
	tx            db.Transactor
}

func NewService(catalog CatalogRepository, results ResultRepository, consultations ConsultationOwners, tx db.Transactor) *Service {
	return &Service{catalog: catalog, results: results, consultations: consultations, tx: tx}
}

// -- Catalog --

func (s *Service) ListCatalog(ctx context.Context) ([]*CatalogLab, error) {
	items, err := s.catalog.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list lab catalog: %w", err)
	}
	return items, nil
}

func (s *Service) CreateLab(ctx context.Context, in *CatalogLabCreate) (*CatalogLab, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureNameFree(ctx, in.Nombre, uuid.Nil); err != nil {
		return nil, err
	}

	lab := in.toLab()
	if err := s.catalog.Create(ctx, lab); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Laboratorio ya existe")
		}
		return nil, fmt.Errorf("create lab: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("lab_id", lab.ID.String()).Str("nombre", lab.Nombre).Msg("lab created")
	return lab, nil
}

func (s *Service) UpdateLab(ctx context.Context, id uuid.UUID, in *CatalogLabUpdate) (*CatalogLab, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	lab, err := s.catalog.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("Laboratorio no existe")
	}
	if err != nil {
		return nil, fmt.Errorf("get lab: %w", err)
	}
	if err := in.Apply(lab); err != nil {
		return nil, err
	}
	if in.Nombre.V != nil {
		if err := s.ensureNameFree(ctx, lab.Nombre, lab.ID); err != nil {
			return nil, err
		}
	}

	if err := s.catalog.Update(ctx, lab); err != nil {
		switch {
		case db.IsNotFound(err):
			return nil, apperr.NotFound("Laboratorio no existe")
		case db.IsUniqueViolation(err):
			return nil, apperr.Conflict("Laboratorio ya existe")
		}
		return nil, fmt.Errorf("update lab: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("lab_id", lab.ID.String()).Msg("lab updated")
	return lab, nil
}

// ensureNameFree fails with Conflict when another lab has the same
// normalized name.
func (s *Service) ensureNameFree(ctx context.Context, nombre string, self uuid.UUID) error {
	existing, err := s.catalog.GetByNameFold(ctx, NormalizeName(nombre))
	if db.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup lab by name: %w", err)
	}
	if existing.ID != self {
		return apperr.Conflict("Laboratorio ya existe")
	}
	return nil
}

// ResolveLab finds the catalog entry for ref: by id, then by exact
// case-insensitive name, then by the first name containing it.
func (s *Service) ResolveLab(ctx context.Context, ref string) (*CatalogLab, error) {
	if id, err := uuid.Parse(ref); err == nil {
		lab, err := s.catalog.GetByID(ctx, id)
		if err == nil {
			return lab, nil
		}
		if !db.IsNotFound(err) {
			return nil, fmt.Errorf("get lab: %w", err)
		}
	}

	name := NormalizeName(ref)
	if name == "" {
		return nil, apperr.BadRequest("Laboratorio no pertenece al catalogo")
	}
	lab, err := s.catalog.GetByNameFold(ctx, name)
	if err == nil {
		return lab, nil
	}
	if !db.IsNotFound(err) {
		return nil, fmt.Errorf("lookup lab by name: %w", err)
	}
	lab, err = s.catalog.FindByNameContains(ctx, name)
	if db.IsNotFound(err) {
		return nil, apperr.BadRequest("Laboratorio no pertenece al catalogo")
	}
	if err != nil {
		return nil, fmt.Errorf("search lab by name: %w", err)
	}
	return lab, nil
}

// -- Results --

// SaveResults replaces every result of a consultation. All references are
// resolved before anything is deleted, and the replace runs in one
// transaction.
func (s *Service) SaveResults(ctx context.Context, consultaID uuid.UUID, items []ResultInput) ([]*Result, error) {
	if _, err := s.consultations.ConsultationOwner(ctx, consultaID); err != nil {
		return nil, err
	}

	rows := make([]*Result, 0, len(items))
	for i := range items {
		in, err := items[i].parse()
		if err != nil {
			return nil, err
		}
		lab, err := s.ResolveLab(ctx, in.ref)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &Result{
			ConsultaID:       consultaID,
			LabID:            lab.ID,
			LabNombre:        lab.Nombre,
			ValorNum:         in.num,
			ValorTexto:       in.texto,
			UnidadSnapshot:   lab.Unidad,
			RangoRefSnapshot: FormatRange(lab.RangoRefMin, lab.RangoRefMax),
		})
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.results.DeleteByConsulta(ctx, consultaID); err != nil {
			return err
		}
		for _, r := range rows {
			if err := s.results.Create(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save lab results: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("consulta_id", consultaID.String()).
		Int("count", len(rows)).
		Msg("saved lab results")
	return rows, nil
}

// ListResults returns a consultation's results oldest first.
func (s *Service) ListResults(ctx context.Context, consultaID uuid.UUID) ([]*Result, error) {
	items, err := s.results.ListByConsulta(ctx, consultaID)
	if err != nil {
		return nil, fmt.Errorf("list lab results: %w", err)
	}
	return items, nil
}

// ConsultationOwner exposes the owner lookup used for access checks.
func (s *Service) ConsultationOwner(ctx context.Context, consultaID uuid.UUID) (uuid.UUID, error) {
	return s.consultations.ConsultationOwner(ctx, consultaID)
}

// PrintLabs renders a consultation's results for the printable summary.
func (s *Service) PrintLabs(ctx context.Context, consultaID uuid.UUID) ([]consultation.PrintLab, error) {
	items, err := s.ListResults(ctx, consultaID)
	if err != nil {
		return nil, err
	}
	out := make([]consultation.PrintLab, 0, len(items))
	for _, r := range items {
		out = append(out, consultation.PrintLab{
			LabNombre:        r.LabNombre,
			ValorNum:         r.ValorNum,
			ValorTexto:       r.ValorTexto,
			UnidadSnapshot:   r.UnidadSnapshot,
			RangoRefSnapshot: r.RangoRefSnapshot,
		})
	}
	return out, nil
}
