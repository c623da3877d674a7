package inventory

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	txm *db.TxManager
}

// NewRepository constructs Repository.
func NewRepository(txm *db.TxManager) *Repository {
	return &Repository{txm: txm}
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxStore exposes the ledger primitives over a caller-owned transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a retried repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.txm.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const stockColumns = `tenant_id, branch_id, work_area_id, item_id, quantity::float8, updated_at`

func scanStock(row pgx.Row) (Stock, error) {
	var s Stock
	err := row.Scan(&s.TenantID, &s.BranchID, &s.WorkAreaID, &s.ItemID, &s.Quantity, &s.UpdatedAt)
	return s, err
}

func (r *txRepo) GetStockForUpdate(ctx context.Context, key StockKey) (Stock, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM inventory_stock
WHERE tenant_id = $1 AND item_id = $2 AND branch_id = $3 AND work_area_id = $4
FOR UPDATE`, key.TenantID, key.ItemID, key.BranchID, key.WorkAreaID)
	stock, err := scanStock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{StockKey: key}, ErrStockNotFound
	}
	return stock, err
}

func (r *txRepo) AddStock(ctx context.Context, key StockKey, delta float64) (Stock, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO inventory_stock (tenant_id, branch_id, work_area_id, item_id, quantity, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (tenant_id, item_id, branch_id, work_area_id)
DO UPDATE SET quantity = inventory_stock.quantity + EXCLUDED.quantity, updated_at = NOW()
RETURNING `+stockColumns, key.TenantID, key.BranchID, key.WorkAreaID, key.ItemID, delta)
	return scanStock(row)
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements
(tenant_id, branch_id, work_area_id, item_id, movement_type, qty, balance_after, ref_module, ref_id, note, actor_id, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.TenantID, m.BranchID, m.WorkAreaID, m.ItemID, string(m.Type), m.Qty, m.BalanceAfter,
		m.RefModule, m.RefID, m.Note, m.ActorID, m.PostedAt)
	return err
}

// ListStock pages ledger rows; the list and count queries run concurrently.
func (r *Repository) ListStock(ctx context.Context, scope shared.ScopeFilter, filter StockFilter, page shared.PageRequest) ([]Stock, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("", scope, args)}
	if filter.WorkAreaID > 0 {
		where = append(where, "work_area_id = "+args.Add(filter.WorkAreaID))
	}
	if filter.ItemID > 0 {
		where = append(where, "item_id = "+args.Add(filter.ItemID))
	}
	clause := strings.Join(where, " AND ")
	countArgs := append([]any(nil), args.Values()...)
	limit := args.Add(page.Limit())
	offset := args.Add(page.Offset())

	var (
		items []Stock
		total int
	)
	pool := r.txm.Pool()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.QueryRow(gctx, `SELECT COUNT(*) FROM inventory_stock WHERE `+clause, countArgs...).Scan(&total)
	})
	g.Go(func() error {
		rows, err := pool.Query(gctx, `SELECT `+stockColumns+` FROM inventory_stock WHERE `+clause+
			` ORDER BY branch_id, work_area_id, item_id LIMIT `+limit+` OFFSET `+offset, args.Values()...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			s, err := scanStock(rows)
			if err != nil {
				return err
			}
			items = append(items, s)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListMovements returns journal rows newest first.
func (r *Repository) ListMovements(ctx context.Context, scope shared.ScopeFilter, filter MovementFilter) ([]Movement, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("", scope, args), "item_id = " + args.Add(filter.ItemID)}
	if filter.WorkAreaID > 0 {
		where = append(where, "work_area_id = "+args.Add(filter.WorkAreaID))
	}
	if !filter.From.IsZero() {
		where = append(where, "posted_at >= "+args.Add(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "posted_at < "+args.Add(filter.To))
	}
	limit := args.Add(filter.Limit)
	rows, err := r.txm.Pool().Query(ctx, `SELECT id, tenant_id, branch_id, work_area_id, item_id, movement_type,
qty::float8, balance_after::float8, ref_module, ref_id, note, actor_id, posted_at
FROM stock_movements WHERE `+strings.Join(where, " AND ")+` ORDER BY posted_at DESC, id DESC LIMIT `+limit, args.Values()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var typ string
		if err := rows.Scan(&m.ID, &m.TenantID, &m.BranchID, &m.WorkAreaID, &m.ItemID, &typ,
			&m.Qty, &m.BalanceAfter, &m.RefModule, &m.RefID, &m.Note, &m.ActorID, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListDrift compares every ledger row of a tenant with the sum of its journal.
func (r *Repository) ListDrift(ctx context.Context, tenantID int64) ([]Drift, error) {
	rows, err := r.txm.Pool().Query(ctx, `SELECT s.tenant_id, s.branch_id, s.work_area_id, s.item_id,
s.quantity::float8, COALESCE(m.total, 0)::float8
FROM inventory_stock s
LEFT JOIN (
	SELECT tenant_id, branch_id, work_area_id, item_id, SUM(qty) AS total
	FROM stock_movements WHERE tenant_id = $1
	GROUP BY tenant_id, branch_id, work_area_id, item_id
) m ON m.tenant_id = s.tenant_id AND m.branch_id = s.branch_id AND m.work_area_id = s.work_area_id AND m.item_id = s.item_id
WHERE s.tenant_id = $1 AND ABS(s.quantity - COALESCE(m.total, 0)) > 0.0001
ORDER BY s.branch_id, s.work_area_id, s.item_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.TenantID, &d.BranchID, &d.WorkAreaID, &d.ItemID, &d.Quantity, &d.JournalSum); err != nil {
			return nil, err
		}
		d.Discrepancy = shared.RoundQty(d.Quantity - d.JournalSum)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListTenantIDs returns tenants that own ledger rows.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.txm.Pool().Query(ctx, `SELECT DISTINCT tenant_id FROM inventory_stock ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
