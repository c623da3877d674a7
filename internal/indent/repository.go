package indent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists indents in PostgreSQL.
type Repository struct {
	txm *db.TxManager
}

// NewRepository constructs Repository.
func NewRepository(txm *db.TxManager) *Repository {
	return &Repository{txm: txm}
}

type txRepo struct {
	inventory.TxStore
	tx pgx.Tx
}

// NewTxStore exposes indent writes over a caller-owned transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txRepo{tx: tx}
}

// WithTx runs fn in one retried transaction shared by indent and ledger writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.txm.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxStore: inventory.NewTxStore(tx), tx: tx})
	})
}

const indentColumns = `i.id, i.tenant_id, i.branch_id, i.work_area_id, i.created_by, i.indent_date, i.status,
i.remarks, i.entry_type, i.is_po_raised, i.created_at, i.updated_at`

const itemColumns = `it.id, it.indent_id, it.item_id, it.requested_qty::float8, it.approved_qty::float8,
it.po_qty::float8, it.issued_qty::float8, it.pending_qty::float8, it.procurement_status`

func scanIndent(row pgx.Row) (Indent, error) {
	var in Indent
	var status, entry string
	err := row.Scan(&in.ID, &in.TenantID, &in.BranchID, &in.WorkAreaID, &in.CreatedBy, &in.IndentDate, &status,
		&in.Remarks, &entry, &in.IsPORaised, &in.CreatedAt, &in.UpdatedAt)
	in.Status = Status(status)
	in.EntryType = EntryType(entry)
	return in, err
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var status string
	err := row.Scan(&it.ID, &it.IndentID, &it.ItemID, &it.RequestedQty, &it.ApprovedQty,
		&it.POQty, &it.IssuedQty, &it.PendingQty, &status)
	it.ProcurementStatus = ProcurementStatus(status)
	return it, err
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *txRepo) CreateIndent(ctx context.Context, in Indent) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO indents (tenant_id, branch_id, work_area_id, created_by, indent_date, status, remarks, entry_type, is_po_raised, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $9) RETURNING id`,
		in.TenantID, in.BranchID, in.WorkAreaID, in.CreatedBy, in.IndentDate, string(in.Status), in.Remarks,
		string(in.EntryType), in.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertIndentItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO indent_items (indent_id, item_id, requested_qty, approved_qty, po_qty, issued_qty, pending_qty, procurement_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		item.IndentID, item.ItemID, item.RequestedQty, item.ApprovedQty, item.POQty, item.IssuedQty, item.PendingQty,
		string(item.ProcurementStatus)).Scan(&id)
	return id, err
}

func (t *txRepo) GetIndentItem(ctx context.Context, tenantID, lineID int64) (Item, error) {
	it, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM indent_items it
JOIN indents i ON i.id = it.indent_id WHERE i.tenant_id = $1 AND it.id = $2`, tenantID, lineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w %d", ErrIndentItemNotFound, lineID)
	}
	return it, err
}

func (t *txRepo) GetIndentForUpdate(ctx context.Context, tenantID, id int64) (Indent, error) {
	in, err := scanIndent(t.tx.QueryRow(ctx, `SELECT `+indentColumns+` FROM indents i
WHERE i.tenant_id = $1 AND i.id = $2 FOR UPDATE`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Indent{}, fmt.Errorf("%w %d", ErrIndentNotFound, id)
	}
	return in, err
}

func (t *txRepo) ListIndentItemsForUpdate(ctx context.Context, indentID int64) ([]Item, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+itemColumns+` FROM indent_items it
WHERE it.indent_id = $1 ORDER BY it.id FOR UPDATE`, indentID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (t *txRepo) UpdateIndentStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE indents SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	return err
}

func (t *txRepo) SetIndentPORaised(ctx context.Context, id int64, raised bool) error {
	_, err := t.tx.Exec(ctx, `UPDATE indents SET is_po_raised = $1, updated_at = NOW() WHERE id = $2`, raised, id)
	return err
}

func (t *txRepo) SaveIndentItem(ctx context.Context, item Item) error {
	tag, err := t.tx.Exec(ctx, `UPDATE indent_items SET requested_qty = $1, approved_qty = $2, po_qty = $3, issued_qty = $4,
pending_qty = $5, procurement_status = $6 WHERE id = $7`,
		item.RequestedQty, item.ApprovedQty, item.POQty, item.IssuedQty, item.PendingQty, string(item.ProcurementStatus), item.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w %d", ErrIndentItemNotFound, item.ID)
	}
	return nil
}

func (t *txRepo) DeleteIndentItem(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM indent_items WHERE id = $1`, id)
	return err
}

func (t *txRepo) InsertIssueRecord(ctx context.Context, rec IssueRecord) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO indent_issue_records (tenant_id, branch_id, indent_id, action, performed_by, remarks, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.TenantID, rec.BranchID, rec.IndentID, rec.Action, rec.PerformedBy, rec.Remarks, rec.RecordedAt)
	return err
}

// GetIndent loads an indent with its lines.
func (r *Repository) GetIndent(ctx context.Context, tenantID, id int64) (Indent, error) {
	pool := r.txm.Pool()
	in, err := scanIndent(pool.QueryRow(ctx, `SELECT `+indentColumns+` FROM indents i WHERE i.tenant_id = $1 AND i.id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Indent{}, fmt.Errorf("%w %d", ErrIndentNotFound, id)
	}
	if err != nil {
		return Indent{}, err
	}
	rows, err := pool.Query(ctx, `SELECT `+itemColumns+` FROM indent_items it WHERE it.indent_id = $1 ORDER BY it.id`, id)
	if err != nil {
		return Indent{}, err
	}
	if in.Items, err = collectItems(rows); err != nil {
		return Indent{}, err
	}
	return in, nil
}

// FindIndentItem loads one line, checking tenancy through its indent.
func (r *Repository) FindIndentItem(ctx context.Context, tenantID, lineID int64) (Item, error) {
	it, err := scanItem(r.txm.Pool().QueryRow(ctx, `SELECT `+itemColumns+` FROM indent_items it
JOIN indents i ON i.id = it.indent_id WHERE i.tenant_id = $1 AND it.id = $2`, tenantID, lineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w %d", ErrIndentItemNotFound, lineID)
	}
	return it, err
}

// ListIndents pages indent headers; list and count run concurrently.
func (r *Repository) ListIndents(ctx context.Context, scope shared.ScopeFilter, filters ListFilters, page shared.PageRequest) ([]Indent, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("i", scope, args)}
	if filters.Status != "" {
		where = append(where, "i.status = "+args.Add(string(filters.Status)))
	}
	if filters.WorkAreaID > 0 {
		where = append(where, "i.work_area_id = "+args.Add(filters.WorkAreaID))
	}
	if !filters.From.IsZero() {
		where = append(where, "i.indent_date >= "+args.Add(filters.From))
	}
	if !filters.To.IsZero() {
		where = append(where, "i.indent_date < "+args.Add(filters.To))
	}
	if filters.EligibleForProcurement {
		where = append(where, `NOT i.is_po_raised AND EXISTS (SELECT 1 FROM indent_items it WHERE it.indent_id = i.id
AND it.procurement_status = 'PENDING'
AND COALESCE(it.approved_qty, it.requested_qty) - it.issued_qty - it.po_qty > 0)`)
	}
	clause := strings.Join(where, " AND ")
	countArgs := append([]any(nil), args.Values()...)
	limit := args.Add(page.Limit())
	offset := args.Add(page.Offset())

	var (
		out   []Indent
		total int
	)
	pool := r.txm.Pool()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.QueryRow(gctx, `SELECT COUNT(*) FROM indents i WHERE `+clause, countArgs...).Scan(&total)
	})
	g.Go(func() error {
		rows, err := pool.Query(gctx, `SELECT `+indentColumns+` FROM indents i WHERE `+clause+
			` ORDER BY i.indent_date DESC, i.id DESC LIMIT `+limit+` OFFSET `+offset, args.Values()...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			in, err := scanIndent(rows)
			if err != nil {
				return err
			}
			out = append(out, in)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListIssueRecords returns milestones oldest first.
func (r *Repository) ListIssueRecords(ctx context.Context, tenantID, indentID int64) ([]IssueRecord, error) {
	rows, err := r.txm.Pool().Query(ctx, `SELECT id, tenant_id, branch_id, indent_id, action, performed_by, remarks, recorded_at
FROM indent_issue_records WHERE tenant_id = $1 AND indent_id = $2 ORDER BY recorded_at, id`, tenantID, indentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IssueRecord
	for rows.Next() {
		var rec IssueRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.BranchID, &rec.IndentID, &rec.Action, &rec.PerformedBy, &rec.Remarks, &rec.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListPoolRows reads pool candidates joined with the item master.
func (r *Repository) ListPoolRows(ctx context.Context, scope shared.ScopeFilter, filter PoolFilter) ([]PoolRow, error) {
	args := &db.Args{}
	where := []string{
		db.ScopeClause("i", scope, args),
		"i.status IN ('APPROVED', 'PARTIALLY_ISSUED')",
		"it.procurement_status = 'PENDING'",
	}
	if filter.CategoryID > 0 {
		where = append(where, "m.category_id = "+args.Add(filter.CategoryID))
	}
	rows, err := r.txm.Pool().Query(ctx, `SELECT `+itemColumns+`, i.branch_id, i.work_area_id, i.indent_date, i.status, i.is_po_raised,
m.item_code, m.item_name, m.category_id
FROM indent_items it
JOIN indents i ON i.id = it.indent_id
JOIN items m ON m.id = it.item_id AND m.tenant_id = i.tenant_id
WHERE `+strings.Join(where, " AND ")+` ORDER BY i.id, it.id`, args.Values()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PoolRow
	for rows.Next() {
		var row PoolRow
		var itemStatus, status string
		if err := rows.Scan(&row.Item.ID, &row.Item.IndentID, &row.Item.ItemID, &row.Item.RequestedQty, &row.Item.ApprovedQty,
			&row.Item.POQty, &row.Item.IssuedQty, &row.Item.PendingQty, &itemStatus,
			&row.BranchID, &row.WorkAreaID, &row.IndentDate, &status, &row.IsPORaised,
			&row.ItemCode, &row.ItemName, &row.CategoryID); err != nil {
			return nil, err
		}
		row.Item.ProcurementStatus = ProcurementStatus(itemStatus)
		row.Status = Status(status)
		out = append(out, row)
	}
	return out, rows.Err()
}
