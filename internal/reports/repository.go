package reports

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// PgRepository runs report queries against PostgreSQL outside any transaction.
type PgRepository struct {
	txm *db.TxManager
}

// NewRepository constructs PgRepository.
func NewRepository(txm *db.TxManager) *PgRepository {
	return &PgRepository{txm: txm}
}

func rangeClauses(column string, rng DateRange, args *db.Args) []string {
	var out []string
	if !rng.From.IsZero() {
		out = append(out, column+" >= "+args.Add(rng.From))
	}
	if !rng.To.IsZero() {
		out = append(out, column+" < "+args.Add(rng.To))
	}
	return out
}

func (r *PgRepository) count(ctx context.Context, sql string, args ...any) (int, error) {
	var n int
	err := r.txm.Pool().QueryRow(ctx, sql, args...).Scan(&n)
	return n, err
}

// listAndCount runs the page query and its count concurrently.
func listAndCount(ctx context.Context, r *PgRepository, countSQL string, countArgs []any, listSQL string, listArgs []any, scan func(pgx.Rows) error) (int, error) {
	var total int
	pool := r.txm.Pool()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.QueryRow(gctx, countSQL, countArgs...).Scan(&total)
	})
	g.Go(func() error {
		rows, err := pool.Query(gctx, listSQL, listArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *PgRepository) StockValue(ctx context.Context, scope shared.ScopeFilter) (float64, error) {
	args := &db.Args{}
	var value float64
	err := r.txm.Pool().QueryRow(ctx, `SELECT COALESCE(SUM(s.quantity * i.unit_cost), 0)::float8
FROM inventory_stock s JOIN items i ON i.id = s.item_id
WHERE `+db.ScopeClause("s", scope, args), args.Values()...).Scan(&value)
	return value, err
}

func (r *PgRepository) CountLowStock(ctx context.Context, scope shared.ScopeFilter, threshold float64) (int, error) {
	args := &db.Args{}
	clause := db.ScopeClause("", scope, args)
	return r.count(ctx, `SELECT COUNT(*) FROM inventory_stock WHERE `+clause+` AND quantity < `+args.Add(threshold), args.Values()...)
}

func (r *PgRepository) CountPOs(ctx context.Context, scope shared.ScopeFilter, statuses []string) (int, error) {
	args := &db.Args{}
	clause := db.ScopeClause("", scope, args)
	return r.count(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE `+clause+` AND status = ANY(`+args.Add(statuses)+`)`, args.Values()...)
}

func (r *PgRepository) CountIndents(ctx context.Context, scope shared.ScopeFilter, statuses []string) (int, error) {
	args := &db.Args{}
	clause := db.ScopeClause("", scope, args)
	return r.count(ctx, `SELECT COUNT(*) FROM indents WHERE `+clause+` AND status = ANY(`+args.Add(statuses)+`)`, args.Values()...)
}

func (r *PgRepository) CountActiveItems(ctx context.Context, tenantID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM items WHERE tenant_id = $1 AND status = 'ACTIVE'`, tenantID)
}

// ListAudit pages audit_logs newest first.
func (r *PgRepository) ListAudit(ctx context.Context, scope shared.ScopeFilter, filter AuditFilter, page shared.PageRequest) ([]AuditRecord, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("", scope, args)}
	if filter.PerformedBy > 0 {
		where = append(where, "performed_by = "+args.Add(filter.PerformedBy))
	}
	if filter.Entity != "" {
		where = append(where, "entity = "+args.Add(filter.Entity))
	}
	if filter.Action != "" {
		where = append(where, "action = "+args.Add(filter.Action))
	}
	where = append(where, rangeClauses("occurred_at", filter.Range, args)...)
	clause := strings.Join(where, " AND ")
	countArgs := append([]any(nil), args.Values()...)
	limit := args.Add(page.Limit())
	offset := args.Add(page.Offset())

	var records []AuditRecord
	total, err := listAndCount(ctx, r,
		`SELECT COUNT(*) FROM audit_logs WHERE `+clause, countArgs,
		`SELECT id, tenant_id, COALESCE(branch_id, 0), performed_by, action, entity, COALESCE(entity_id, ''), details, occurred_at
FROM audit_logs WHERE `+clause+` ORDER BY occurred_at DESC, id DESC LIMIT `+limit+` OFFSET `+offset, args.Values(),
		func(rows pgx.Rows) error {
			var (
				rec     AuditRecord
				details []byte
			)
			if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.BranchID, &rec.PerformedBy, &rec.Action,
				&rec.Entity, &rec.EntityID, &details, &rec.OccurredAt); err != nil {
				return err
			}
			if len(details) > 0 {
				if err := json.Unmarshal(details, &rec.Details); err != nil {
					return err
				}
			}
			records = append(records, rec)
			return nil
		})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListPOStatus pages purchase orders newest first with their receipt counts.
func (r *PgRepository) ListPOStatus(ctx context.Context, scope shared.ScopeFilter, filter POStatusFilter, page shared.PageRequest) ([]POStatusRow, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("po", scope, args)}
	if filter.Status != "" {
		where = append(where, "po.status = "+args.Add(filter.Status))
	}
	if filter.VendorID > 0 {
		where = append(where, "po.vendor_id = "+args.Add(filter.VendorID))
	}
	where = append(where, rangeClauses("po.created_at", filter.Range, args)...)
	clause := strings.Join(where, " AND ")
	countArgs := append([]any(nil), args.Values()...)
	limit := args.Add(page.Limit())
	offset := args.Add(page.Offset())

	var out []POStatusRow
	total, err := listAndCount(ctx, r,
		`SELECT COUNT(*) FROM purchase_orders po WHERE `+clause, countArgs,
		`SELECT po.id, po.branch_id, po.number, COALESCE(po.vendor_id, 0), po.vendor_name, po.status, po.po_type,
po.total_amount::float8, po.created_at, po.approved_at,
(SELECT COUNT(*) FROM grns g WHERE g.po_id = po.id)
FROM purchase_orders po WHERE `+clause+` ORDER BY po.created_at DESC, po.id DESC LIMIT `+limit+` OFFSET `+offset, args.Values(),
		func(rows pgx.Rows) error {
			var row POStatusRow
			if err := rows.Scan(&row.ID, &row.BranchID, &row.Number, &row.VendorID, &row.VendorName, &row.Status,
				&row.Type, &row.TotalAmount, &row.CreatedAt, &row.ApprovedAt, &row.GRNCount); err != nil {
				return err
			}
			out = append(out, row)
			return nil
		})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

const grnLineFrom = `FROM grn_items gi
JOIN grns g ON g.id = gi.grn_id
JOIN items i ON i.id = gi.item_id
LEFT JOIN purchase_orders po ON po.id = g.po_id
LEFT JOIN special_orders so ON so.id = g.so_id`

// ListGRNLines pages received lines, newest receipt first.
func (r *PgRepository) ListGRNLines(ctx context.Context, scope shared.ScopeFilter, filter GRNFilter, page shared.PageRequest) ([]GRNLine, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("g", scope, args)}
	if filter.VendorID > 0 {
		where = append(where, "COALESCE(po.vendor_id, so.vendor_id) = "+args.Add(filter.VendorID))
	}
	if filter.OffStandard {
		where = append(where, "ABS(gi.unit_cost - i.unit_cost) >= 0.005")
	}
	where = append(where, rangeClauses("g.received_at", filter.Range, args)...)
	clause := strings.Join(where, " AND ")
	countArgs := append([]any(nil), args.Values()...)
	limit := args.Add(page.Limit())
	offset := args.Add(page.Offset())

	var out []GRNLine
	total, err := listAndCount(ctx, r,
		`SELECT COUNT(*) `+grnLineFrom+` WHERE `+clause, countArgs,
		`SELECT g.id, g.number, g.branch_id, COALESCE(g.po_id, 0), COALESCE(g.so_id, 0),
COALESCE(po.vendor_name, so.vendor_name, ''), g.vendor_invoice_no, g.received_at, g.work_area_id,
gi.item_id, i.item_code, i.item_name, gi.received_qty::float8, gi.unit_cost::float8, i.unit_cost::float8,
gi.tax_amount::float8, gi.total_amount::float8
`+grnLineFrom+` WHERE `+clause+` ORDER BY g.received_at DESC, g.id DESC, gi.id LIMIT `+limit+` OFFSET `+offset, args.Values(),
		func(rows pgx.Rows) error {
			var l GRNLine
			if err := rows.Scan(&l.GRNID, &l.GRNNumber, &l.BranchID, &l.POID, &l.SOID, &l.VendorName,
				&l.VendorInvoiceNo, &l.ReceivedAt, &l.WorkAreaID, &l.ItemID, &l.ItemCode, &l.ItemName,
				&l.ReceivedQty, &l.UnitCost, &l.StandardCost, &l.TaxAmount, &l.TotalAmount); err != nil {
				return err
			}
			out = append(out, l)
			return nil
		})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListIndentIssue returns lines of approved indents ordered by indent and line.
func (r *PgRepository) ListIndentIssue(ctx context.Context, scope shared.ScopeFilter, filter IndentIssueFilter) ([]IndentIssueLine, error) {
	args := &db.Args{}
	where := []string{
		db.ScopeClause("ind", scope, args),
		"ind.status IN ('APPROVED', 'PARTIALLY_ISSUED', 'ISSUED')",
	}
	if filter.WorkAreaID > 0 {
		where = append(where, "ind.work_area_id = "+args.Add(filter.WorkAreaID))
	}
	where = append(where, rangeClauses("ind.indent_date", filter.Range, args)...)
	rows, err := r.txm.Pool().Query(ctx, `SELECT ind.id, ind.branch_id, ind.work_area_id, ind.indent_date, ind.status,
ii.item_id, i.item_code, i.item_name, ii.requested_qty::float8, COALESCE(ii.approved_qty, 0)::float8,
ii.issued_qty::float8, GREATEST(COALESCE(ii.approved_qty, 0) - ii.issued_qty, 0)::float8
FROM indent_items ii
JOIN indents ind ON ind.id = ii.indent_id
JOIN items i ON i.id = ii.item_id
WHERE `+strings.Join(where, " AND ")+` ORDER BY ind.id, ii.id`, args.Values()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IndentIssueLine
	for rows.Next() {
		var l IndentIssueLine
		if err := rows.Scan(&l.IndentID, &l.BranchID, &l.WorkAreaID, &l.IndentDate, &l.IndentStatus,
			&l.ItemID, &l.ItemCode, &l.ItemName, &l.RequestedQty, &l.ApprovedQty, &l.IssuedQty, &l.PendingQty); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListSupplierPurchases groups receipts by the vendor of their source order.
func (r *PgRepository) ListSupplierPurchases(ctx context.Context, scope shared.ScopeFilter, rng DateRange) ([]SupplierPurchase, error) {
	args := &db.Args{}
	where := append([]string{db.ScopeClause("g", scope, args)}, rangeClauses("g.received_at", rng, args)...)
	rows, err := r.txm.Pool().Query(ctx, `SELECT COALESCE(po.vendor_id, so.vendor_id, 0) AS vendor_id,
COALESCE(po.vendor_name, so.vendor_name, '') AS vendor_name, COUNT(*), SUM(g.total_amount)::float8 AS total
FROM grns g
LEFT JOIN purchase_orders po ON po.id = g.po_id
LEFT JOIN special_orders so ON so.id = g.so_id
WHERE `+strings.Join(where, " AND ")+`
GROUP BY 1, 2 ORDER BY total DESC, vendor_name`, args.Values()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SupplierPurchase
	for rows.Next() {
		var p SupplierPurchase
		if err := rows.Scan(&p.VendorID, &p.VendorName, &p.GRNCount, &p.TotalAmount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
