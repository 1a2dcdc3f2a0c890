package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSchemaMissing is returned when the reconciliation table does not exist.
var ErrSchemaMissing = errors.New("reconcile: schema not migrated")

// PostgresStore keeps records in the sale_reconciliations table.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

const columns = `sale_id, bill_number, session_id, cashier_id,
	preview_subtotal, preview_discount, preview_tax, preview_total,
	server_subtotal, server_discount, server_tax, server_total,
	drift, created_at`

func (s PostgresStore) Save(ctx context.Context, rec Record) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO sale_reconciliations (`+columns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (sale_id) DO NOTHING`,
		rec.SaleID, rec.BillNumber, rec.SessionID, rec.CashierID,
		rec.PreviewSubtotal, rec.PreviewDiscount, rec.PreviewTax, rec.PreviewTotal,
		rec.ServerSubtotal, rec.ServerDiscount, rec.ServerTax, rec.ServerTotal,
		rec.Drift, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return fmt.Errorf("%w: %s", ErrSchemaMissing, pgErr.Message)
		}
		return fmt.Errorf("insert reconciliation %s: %w", rec.SaleID, err)
	}
	return nil
}

func (s PostgresStore) Get(ctx context.Context, saleID string) (Record, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+columns+` FROM sale_reconciliations WHERE sale_id = $1`, saleID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+columns+` FROM sale_reconciliations ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.SaleID, &rec.BillNumber, &rec.SessionID, &rec.CashierID,
		&rec.PreviewSubtotal, &rec.PreviewDiscount, &rec.PreviewTax, &rec.PreviewTotal,
		&rec.ServerSubtotal, &rec.ServerDiscount, &rec.ServerTax, &rec.ServerTotal,
		&rec.Drift, &rec.CreatedAt,
	)
	return rec, err
}
