package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"b2brecon/internal/domain"
	"b2brecon/internal/ports"
)

var _ ports.SupplierRegistry = (*DB)(nil)

const supplierCols = `id, name, root_domain, type, COALESCE(inn, ''), COALESCE(email, ''), metadata, created_at`

func scanSupplier(row pgx.CollectableRow) (domain.Supplier, error) {
	var s domain.Supplier
	var typ string
	err := row.Scan(&s.ID, &s.Name, &s.Domain, &typ, &s.TaxID, &s.Email, &s.Metadata, &s.CreatedAt)
	s.Type = domain.SupplierType(typ)
	return s, err
}

func (db *DB) ListSuppliers(ctx context.Context, limit, offset int) ([]domain.Supplier, int, error) {
	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM suppliers`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Pool.Query(ctx, `SELECT `+supplierCols+` FROM suppliers ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, scanSupplier)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CreateSupplier inserts a registry row. A second supplier on the same root
// domain fails with domain.ErrConflict.
func (db *DB) CreateSupplier(ctx context.Context, f domain.SupplierFields) (domain.Supplier, error) {
	if f.Type == "" {
		f.Type = domain.SupplierTypeSupplier
	}
	var status, phone any
	if f.Metadata != nil {
		status, phone = nullable(f.Metadata.CompanyStatus), nullable(f.Metadata.Phone)
	}
	rows, err := db.Pool.Query(ctx, `
		INSERT INTO suppliers (name, root_domain, type, inn, email, company_status, phone, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+supplierCols,
		f.Name, f.Domain, string(f.Type), nullable(f.TaxID), nullable(f.Email), status, phone, f.Metadata)
	if err != nil {
		return domain.Supplier{}, mapPgErr(err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSupplier)
	if err != nil {
		return domain.Supplier{}, mapPgErr(err)
	}
	return s, nil
}

func (db *DB) ListBlacklist(ctx context.Context, limit, offset int) ([]domain.BlacklistEntry, int, error) {
	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM blacklist`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT root_domain, reason, COALESCE(run_id, ''), created_at
		FROM blacklist ORDER BY root_domain LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BlacklistEntry, error) {
		var e domain.BlacklistEntry
		err := row.Scan(&e.Domain, &e.Reason, &e.RunID, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// AddToBlacklist is an upsert; re-adding a domain refreshes its reason.
func (db *DB) AddToBlacklist(ctx context.Context, e domain.BlacklistEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO blacklist (root_domain, reason, run_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (root_domain) DO UPDATE SET reason = EXCLUDED.reason, run_id = EXCLUDED.run_id
	`, e.Domain, e.Reason, nullable(e.RunID), e.CreatedAt)
	return mapPgErr(err)
}
