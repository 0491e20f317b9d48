package labs

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webdiabetes/diabetes-api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Catalog Repository ===========

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewCatalogRepoPG(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepoPG{pool: pool}
}

func (r *catalogRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const catalogCols = `id, nombre, unidad, rango_ref_min, rango_ref_max, categoria, orden, activo`

func scanCatalogLab(row pgx.Row) (*CatalogLab, error) {
	var l CatalogLab
	err := row.Scan(&l.ID, &l.Nombre, &l.Unidad, &l.RangoRefMin, &l.RangoRefMax, &l.Categoria, &l.Orden, &l.Activo)
	return &l, err
}

func (r *catalogRepoPG) ListActive(ctx context.Context) ([]*CatalogLab, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+catalogCols+` FROM catalogo_labs
		WHERE activo = true
		ORDER BY orden, nombre`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*CatalogLab{}
	for rows.Next() {
		l, err := scanCatalogLab(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *catalogRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CatalogLab, error) {
	return scanCatalogLab(r.conn(ctx).QueryRow(ctx, `SELECT `+catalogCols+` FROM catalogo_labs WHERE id = $1`, id))
}

func (r *catalogRepoPG) GetByNameFold(ctx context.Context, nombre string) (*CatalogLab, error) {
	return scanCatalogLab(r.conn(ctx).QueryRow(ctx, `
		SELECT `+catalogCols+` FROM catalogo_labs
		WHERE lower(nombre) = lower($1)
		LIMIT 1`, nombre))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *catalogRepoPG) FindByNameContains(ctx context.Context, fragment string) (*CatalogLab, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(fragment)) + "%"
	return scanCatalogLab(r.conn(ctx).QueryRow(ctx, `
		SELECT `+catalogCols+` FROM catalogo_labs
		WHERE lower(nombre) LIKE $1
		ORDER BY nombre
		LIMIT 1`, pattern))
}

func (r *catalogRepoPG) Create(ctx context.Context, l *CatalogLab) error {
	l.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO catalogo_labs (id, nombre, unidad, rango_ref_min, rango_ref_max, categoria, orden, activo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.Nombre, l.Unidad, l.RangoRefMin, l.RangoRefMax, l.Categoria, l.Orden, l.Activo)
	return err
}

func (r *catalogRepoPG) Update(ctx context.Context, l *CatalogLab) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE catalogo_labs SET
			nombre = $2, unidad = $3, rango_ref_min = $4, rango_ref_max = $5,
			categoria = $6, orden = $7, activo = $8
		WHERE id = $1`,
		l.ID, l.Nombre, l.Unidad, l.RangoRefMin, l.RangoRefMax, l.Categoria, l.Orden, l.Activo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

func (r *resultRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *resultRepoPG) ListByConsulta(ctx context.Context, consultaID uuid.UUID) ([]*Result, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT cl.id, cl.consulta_id, cl.lab_id, COALESCE(c.nombre, ''), cl.valor_num, cl.valor_texto,
			cl.unidad_snapshot, cl.rango_ref_snapshot, cl.creado_en
		FROM consulta_labs cl
		LEFT JOIN catalogo_labs c ON c.id = cl.lab_id
		WHERE cl.consulta_id = $1
		ORDER BY cl.creado_en`, consultaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Result{}
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.ID, &res.ConsultaID, &res.LabID, &res.LabNombre, &res.ValorNum,
			&res.ValorTexto, &res.UnidadSnapshot, &res.RangoRefSnapshot, &res.CreadoEn); err != nil {
			return nil, err
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

func (r *resultRepoPG) DeleteByConsulta(ctx context.Context, consultaID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM consulta_labs WHERE consulta_id = $1`, consultaID)
	return err
}

// Results of one save share a transaction; clock_timestamp() keeps their
// creado_en in insertion order.
const insertResultSQL = `
	INSERT INTO consulta_labs (id, consulta_id, lab_id, valor_num, valor_texto, unidad_snapshot,
		rango_ref_snapshot, creado_en)
	VALUES ($1, $2, $3, $4, $5, $6, $7, clock_timestamp())
	RETURNING creado_en`

func (r *resultRepoPG) Create(ctx context.Context, res *Result) error {
	res.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, insertResultSQL,
		res.ID, res.ConsultaID, res.LabID, res.ValorNum, res.ValorTexto, res.UnidadSnapshot, res.RangoRefSnapshot,
	).Scan(&res.CreadoEn)
}
