package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	txm *db.TxManager
}

// NewRepository constructs a repository.
func NewRepository(txm *db.TxManager) *Repository {
	return &Repository{txm: txm}
}

type (
	indentStore interface{ indent.TxStore }
	ledgerStore interface{ inventory.TxStore }
)

type txRepo struct {
	indentStore
	ledgerStore
	tx pgx.Tx
}

// WithTx runs fn in one retried repeatable-read transaction. Indent linkage and
// ledger writes ride on the same pgx.Tx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.txm.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			indentStore: indent.NewTxStore(tx),
			ledgerStore: inventory.NewTxStore(tx),
			tx:          tx,
		})
	})
}

const poColumns = `p.id, p.tenant_id, p.branch_id, p.number, COALESCE(p.vendor_id, 0), p.vendor_name, p.created_by,
COALESCE(p.approved_by, 0), p.approved_at, p.delivery_date, p.status, p.po_type, p.total_amount::float8, p.note,
p.created_at, p.updated_at`

const poItemColumns = `pi.id, pi.po_id, COALESCE(pi.item_id, 0), pi.item_name, COALESCE(pi.indent_id, 0),
COALESCE(pi.indent_item_id, 0), pi.quantity::float8, pi.unit_cost::float8, pi.tax_rate::float8, pi.total_amount::float8`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status, poType string
	err := row.Scan(&po.ID, &po.TenantID, &po.BranchID, &po.Number, &po.VendorID, &po.VendorName, &po.CreatedBy,
		&po.ApprovedBy, &po.ApprovedAt, &po.DeliveryDate, &status, &poType, &po.TotalAmount, &po.Note,
		&po.CreatedAt, &po.UpdatedAt)
	po.Status = POStatus(status)
	po.Type = POType(poType)
	return po, err
}

func collectPOItems(rows pgx.Rows) ([]POItem, error) {
	defer rows.Close()
	var out []POItem
	for rows.Next() {
		var it POItem
		if err := rows.Scan(&it.ID, &it.POID, &it.ItemID, &it.ItemName, &it.IndentID, &it.IndentItemID,
			&it.Quantity, &it.UnitCost, &it.TaxRate, &it.TotalAmount); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

const soColumns = `s.id, s.tenant_id, s.branch_id, s.number, COALESCE(s.vendor_id, 0), s.vendor_name, s.so_date,
s.delivery_date, s.status, s.created_by, COALESCE(s.approved_by, 0), s.approved_at, s.total_amount::float8, s.note`

func scanSO(row pgx.Row) (SpecialOrder, error) {
	var so SpecialOrder
	var status string
	err := row.Scan(&so.ID, &so.TenantID, &so.BranchID, &so.Number, &so.VendorID, &so.VendorName, &so.SODate,
		&so.DeliveryDate, &status, &so.CreatedBy, &so.ApprovedBy, &so.ApprovedAt, &so.TotalAmount, &so.Note)
	so.Status = SOStatus(status)
	return so, err
}

const grnColumns = `g.id, g.tenant_id, g.branch_id, g.number, COALESCE(g.po_id, 0), COALESCE(g.so_id, 0),
g.vendor_invoice_no, g.vendor_invoice_date, g.received_at, g.work_area_id, g.received_by, g.total_amount::float8, g.created_at`

func scanGRN(row pgx.Row) (GRN, error) {
	var g GRN
	err := row.Scan(&g.ID, &g.TenantID, &g.BranchID, &g.Number, &g.POID, &g.SOID, &g.VendorInvoiceNo,
		&g.VendorInvoiceDate, &g.ReceivedAt, &g.WorkAreaID, &g.ReceivedBy, &g.TotalAmount, &g.CreatedAt)
	return g, err
}

const grnItemColumns = `gi.id, gi.grn_id, gi.item_id, gi.received_qty::float8, gi.unit_cost::float8,
gi.tax_amount::float8, gi.total_amount::float8`

func collectGRNItems(rows pgx.Rows) ([]GRNItem, error) {
	defer rows.Close()
	var out []GRNItem
	for rows.Next() {
		var it GRNItem
		if err := rows.Scan(&it.ID, &it.GRNID, &it.ItemID, &it.ReceivedQty, &it.UnitCost, &it.TaxAmount, &it.TotalAmount); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Purchase orders

func (t *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (tenant_id, branch_id, number, vendor_id, vendor_name, created_by,
delivery_date, status, po_type, total_amount, note, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, $8, $9, $10, $11, $12, $12) RETURNING id`,
		po.TenantID, po.BranchID, po.Number, po.VendorID, po.VendorName, po.CreatedBy, po.DeliveryDate,
		string(po.Status), string(po.Type), po.TotalAmount, po.Note, po.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertPOItem(ctx context.Context, item POItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO po_items (po_id, item_id, item_name, indent_id, indent_item_id, quantity, unit_cost, tax_rate, total_amount)
VALUES ($1, NULLIF($2, 0), $3, NULLIF($4, 0), NULLIF($5, 0), $6, $7, $8, $9) RETURNING id`,
		item.POID, item.ItemID, item.ItemName, item.IndentID, item.IndentItemID, item.Quantity, item.UnitCost,
		item.TaxRate, item.TotalAmount).Scan(&id)
	return id, err
}

func (t *txRepo) GetPOForUpdate(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	po, err := scanPO(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders p
WHERE p.tenant_id = $1 AND p.id = $2 FOR UPDATE`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, fmt.Errorf("%w %d", ErrPONotFound, id)
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	rows, err := t.tx.Query(ctx, `SELECT `+poItemColumns+` FROM po_items pi WHERE pi.po_id = $1 ORDER BY pi.id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Items, err = collectPOItems(rows); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (t *txRepo) UpdatePOHeader(ctx context.Context, po PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET vendor_id = NULLIF($1, 0), vendor_name = $2, delivery_date = $3,
status = $4, approved_by = NULLIF($5, 0), approved_at = $6, total_amount = $7, updated_at = NOW() WHERE id = $8`,
		po.VendorID, po.VendorName, po.DeliveryDate, string(po.Status), po.ApprovedBy, po.ApprovedAt, po.TotalAmount, po.ID)
	return err
}

func (t *txRepo) UpdatePOItem(ctx context.Context, item POItem) error {
	tag, err := t.tx.Exec(ctx, `UPDATE po_items SET quantity = $1, total_amount = $2 WHERE id = $3`,
		item.Quantity, item.TotalAmount, item.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w %d", ErrPOItemNotFound, item.ID)
	}
	return nil
}

func (t *txRepo) DeletePO(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM po_items WHERE po_id = $1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	return err
}

func (t *txRepo) CountActivePOsForIndent(ctx context.Context, indentID, excludePOID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(DISTINCT p.id) FROM purchase_orders p
JOIN po_items pi ON pi.po_id = p.id
WHERE pi.indent_id = $1 AND p.id <> $2 AND p.status IN ('DRAFT', 'PENDING', 'APPROVED')`, indentID, excludePOID).Scan(&n)
	return n, err
}

// Special orders

func (t *txRepo) CreateSO(ctx context.Context, so SpecialOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO special_orders (tenant_id, branch_id, number, vendor_id, vendor_name, so_date,
delivery_date, status, created_by, total_amount, note)
VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		so.TenantID, so.BranchID, so.Number, so.VendorID, so.VendorName, so.SODate, so.DeliveryDate,
		string(so.Status), so.CreatedBy, so.TotalAmount, so.Note).Scan(&id)
	return id, err
}

func (t *txRepo) InsertSOItem(ctx context.Context, item SOItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO so_items (so_id, item_id, item_name, quantity, unit_cost, total_amount)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6) RETURNING id`,
		item.SOID, item.ItemID, item.ItemName, item.Quantity, item.UnitCost, item.TotalAmount).Scan(&id)
	return id, err
}

func (t *txRepo) GetSOForUpdate(ctx context.Context, tenantID, id int64) (SpecialOrder, error) {
	so, err := scanSO(t.tx.QueryRow(ctx, `SELECT `+soColumns+` FROM special_orders s
WHERE s.tenant_id = $1 AND s.id = $2 FOR UPDATE`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SpecialOrder{}, fmt.Errorf("%w %d", ErrSONotFound, id)
	}
	return so, err
}

func (t *txRepo) UpdateSOHeader(ctx context.Context, so SpecialOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE special_orders SET status = $1, approved_by = NULLIF($2, 0), approved_at = $3 WHERE id = $4`,
		string(so.Status), so.ApprovedBy, so.ApprovedAt, so.ID)
	return err
}

// Goods receipts and returns

func (t *txRepo) CreateGRN(ctx context.Context, grn GRN) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO grns (tenant_id, branch_id, number, po_id, so_id, vendor_invoice_no, vendor_invoice_date,
received_at, work_area_id, received_by, total_amount, created_at)
VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, 0), $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		grn.TenantID, grn.BranchID, grn.Number, grn.POID, grn.SOID, grn.VendorInvoiceNo, grn.VendorInvoiceDate,
		grn.ReceivedAt, grn.WorkAreaID, grn.ReceivedBy, grn.TotalAmount, grn.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertGRNItem(ctx context.Context, item GRNItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO grn_items (grn_id, item_id, received_qty, unit_cost, tax_amount, total_amount)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		item.GRNID, item.ItemID, item.ReceivedQty, item.UnitCost, item.TaxAmount, item.TotalAmount).Scan(&id)
	return id, err
}

func (t *txRepo) GetGRNForUpdate(ctx context.Context, tenantID, id int64) (GRN, error) {
	g, err := scanGRN(t.tx.QueryRow(ctx, `SELECT `+grnColumns+` FROM grns g WHERE g.tenant_id = $1 AND g.id = $2 FOR UPDATE`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return GRN{}, fmt.Errorf("%w %d", ErrGRNNotFound, id)
	}
	return g, err
}

func (t *txRepo) LockGRNItems(ctx context.Context, grnID, itemID int64) ([]GRNItem, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+grnItemColumns+` FROM grn_items gi
WHERE gi.grn_id = $1 AND gi.item_id = $2 ORDER BY gi.id FOR UPDATE`, grnID, itemID)
	if err != nil {
		return nil, err
	}
	return collectGRNItems(rows)
}

func (t *txRepo) SumReturned(ctx context.Context, grnID, itemID int64) (float64, error) {
	var sum float64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(returned_qty), 0)::float8 FROM rtvs WHERE grn_id = $1 AND item_id = $2`,
		grnID, itemID).Scan(&sum)
	return sum, err
}

func (t *txRepo) InsertRTV(ctx context.Context, rtv RTV) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO rtvs (tenant_id, branch_id, grn_id, item_id, returned_qty, reason, processed_by, returned_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		rtv.TenantID, rtv.BranchID, rtv.GRNID, rtv.ItemID, rtv.ReturnedQty, rtv.Reason, rtv.ProcessedBy, rtv.ReturnedAt).Scan(&id)
	return id, err
}

// Reads

// GetPO loads a purchase order with its lines.
func (r *Repository) GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	pool := r.txm.Pool()
	po, err := scanPO(pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders p WHERE p.tenant_id = $1 AND p.id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, fmt.Errorf("%w %d", ErrPONotFound, id)
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	rows, err := pool.Query(ctx, `SELECT `+poItemColumns+` FROM po_items pi WHERE pi.po_id = $1 ORDER BY pi.id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Items, err = collectPOItems(rows); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// ListPOs pages purchase order headers.
func (r *Repository) ListPOs(ctx context.Context, scope shared.ScopeFilter, filters POFilters, page shared.PageRequest) ([]PurchaseOrder, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("p", scope, args)}
	if filters.Status != "" {
		where = append(where, "p.status = "+args.Add(string(filters.Status)))
	}
	if filters.VendorID > 0 {
		where = append(where, "p.vendor_id = "+args.Add(filters.VendorID))
	}
	return listPage(ctx, r.txm.Pool(), `FROM purchase_orders p WHERE `+strings.Join(where, " AND "), poColumns,
		"p.created_at DESC, p.id DESC", args, page, scanPO)
}

// GetSO loads a special order with its lines.
func (r *Repository) GetSO(ctx context.Context, tenantID, id int64) (SpecialOrder, error) {
	pool := r.txm.Pool()
	so, err := scanSO(pool.QueryRow(ctx, `SELECT `+soColumns+` FROM special_orders s WHERE s.tenant_id = $1 AND s.id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SpecialOrder{}, fmt.Errorf("%w %d", ErrSONotFound, id)
	}
	if err != nil {
		return SpecialOrder{}, err
	}
	rows, err := pool.Query(ctx, `SELECT id, so_id, COALESCE(item_id, 0), item_name, quantity::float8, unit_cost::float8, total_amount::float8
FROM so_items WHERE so_id = $1 ORDER BY id`, id)
	if err != nil {
		return SpecialOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it SOItem
		if err := rows.Scan(&it.ID, &it.SOID, &it.ItemID, &it.ItemName, &it.Quantity, &it.UnitCost, &it.TotalAmount); err != nil {
			return SpecialOrder{}, err
		}
		so.Items = append(so.Items, it)
	}
	return so, rows.Err()
}

// ListSOs pages special order headers.
func (r *Repository) ListSOs(ctx context.Context, scope shared.ScopeFilter, filters SOFilters, page shared.PageRequest) ([]SpecialOrder, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("s", scope, args)}
	if filters.Status != "" {
		where = append(where, "s.status = "+args.Add(string(filters.Status)))
	}
	return listPage(ctx, r.txm.Pool(), `FROM special_orders s WHERE `+strings.Join(where, " AND "), soColumns,
		"s.so_date DESC, s.id DESC", args, page, scanSO)
}

// GetGRN loads a goods receipt with its lines.
func (r *Repository) GetGRN(ctx context.Context, tenantID, id int64) (GRN, error) {
	pool := r.txm.Pool()
	g, err := scanGRN(pool.QueryRow(ctx, `SELECT `+grnColumns+` FROM grns g WHERE g.tenant_id = $1 AND g.id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return GRN{}, fmt.Errorf("%w %d", ErrGRNNotFound, id)
	}
	if err != nil {
		return GRN{}, err
	}
	rows, err := pool.Query(ctx, `SELECT `+grnItemColumns+` FROM grn_items gi WHERE gi.grn_id = $1 ORDER BY gi.id`, id)
	if err != nil {
		return GRN{}, err
	}
	if g.Items, err = collectGRNItems(rows); err != nil {
		return GRN{}, err
	}
	return g, nil
}

// ListGRNs pages goods receipt headers.
func (r *Repository) ListGRNs(ctx context.Context, scope shared.ScopeFilter, filters GRNFilters, page shared.PageRequest) ([]GRN, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("g", scope, args)}
	if filters.POID > 0 {
		where = append(where, "g.po_id = "+args.Add(filters.POID))
	}
	if filters.SOID > 0 {
		where = append(where, "g.so_id = "+args.Add(filters.SOID))
	}
	return listPage(ctx, r.txm.Pool(), `FROM grns g WHERE `+strings.Join(where, " AND "), grnColumns,
		"g.received_at DESC, g.id DESC", args, page, scanGRN)
}

// ListRTVs pages returns.
func (r *Repository) ListRTVs(ctx context.Context, scope shared.ScopeFilter, filters RTVFilters, page shared.PageRequest) ([]RTV, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("r", scope, args)}
	if filters.GRNID > 0 {
		where = append(where, "r.grn_id = "+args.Add(filters.GRNID))
	}
	return listPage(ctx, r.txm.Pool(), `FROM rtvs r WHERE `+strings.Join(where, " AND "),
		`r.id, r.tenant_id, r.branch_id, r.grn_id, r.item_id, r.returned_qty::float8, r.reason, r.processed_by, r.returned_at`,
		"r.returned_at DESC, r.id DESC", args, page, func(row pgx.Row) (RTV, error) {
			var v RTV
			err := row.Scan(&v.ID, &v.TenantID, &v.BranchID, &v.GRNID, &v.ItemID, &v.ReturnedQty, &v.Reason, &v.ProcessedBy, &v.ReturnedAt)
			return v, err
		})
}

// listPage runs the count and the page query concurrently over the same predicate.
func listPage[T any](ctx context.Context, pool *pgxpool.Pool, from, columns, orderBy string, args *db.Args, page shared.PageRequest, scan func(pgx.Row) (T, error)) ([]T, int, error) {
	countArgs := append([]any(nil), args.Values()...)
	limit := args.Add(page.Limit())
	offset := args.Add(page.Offset())

	var (
		out   []T
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.QueryRow(gctx, `SELECT COUNT(*) `+from, countArgs...).Scan(&total)
	})
	g.Go(func() error {
		rows, err := pool.Query(gctx, `SELECT `+columns+` `+from+` ORDER BY `+orderBy+` LIMIT `+limit+` OFFSET `+offset, args.Values()...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
