package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type repo struct {
	db *pgxpool.Pool
}

// NewRepository returns the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{db: pool}
}

const itemColumns = `id, tenant_id, item_code, item_name, category_id, COALESCE(sub_category_id, 0), hsn_code, inventory_uom,
unit_cost::float8, tax_rate::float8, status, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.TenantID, &it.Code, &it.Name, &it.CategoryID, &it.SubCategoryID, &it.HSNCode,
		&it.InventoryUOM, &it.UnitCost, &it.TaxRate, &it.Status, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (r *repo) ListItems(ctx context.Context, tenantID int64, filters ListFilters) ([]Item, int, error) {
	args := &db.Args{}
	where := []string{"tenant_id = " + args.Add(tenantID)}
	if filters.Search != "" {
		p := args.Add("%" + filters.Search + "%")
		where = append(where, "(item_name ILIKE "+p+" OR item_code ILIKE "+p+")")
	}
	if filters.Status != "" {
		where = append(where, "status = "+args.Add(filters.Status))
	}
	if filters.CategoryID > 0 {
		where = append(where, "category_id = "+args.Add(filters.CategoryID))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM items WHERE `+clause, args.Values()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := args.Add(filters.Page.Limit())
	offset := args.Add(filters.Page.Offset())
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE `+clause+` ORDER BY item_name LIMIT `+limit+` OFFSET `+offset, args.Values()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func (r *repo) GetItem(ctx context.Context, tenantID, id int64) (Item, error) {
	it, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return it, err
}

func (r *repo) CreateItem(ctx context.Context, item Item) (Item, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx, `INSERT INTO items (tenant_id, item_code, item_name, category_id, sub_category_id, hsn_code, inventory_uom, unit_cost, tax_rate, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, 0), $6, $7, $8, $9, $10, $11, $11) RETURNING id`,
		item.TenantID, item.Code, item.Name, item.CategoryID, item.SubCategoryID, item.HSNCode, item.InventoryUOM,
		item.UnitCost, item.TaxRate, item.Status, now).Scan(&item.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Item{}, fmt.Errorf("%w: item %s", ErrDuplicateCode, item.Code)
		}
		return Item{}, err
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (r *repo) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.db.Exec(ctx, `UPDATE items SET item_code = $1, item_name = $2, category_id = $3, sub_category_id = NULLIF($4, 0),
hsn_code = $5, inventory_uom = $6, unit_cost = $7, tax_rate = $8, status = $9, updated_at = NOW()
WHERE tenant_id = $10 AND id = $11`,
		item.Code, item.Name, item.CategoryID, item.SubCategoryID, item.HSNCode, item.InventoryUOM,
		item.UnitCost, item.TaxRate, item.Status, item.TenantID, item.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: item %s", ErrDuplicateCode, item.Code)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, item.ID)
	}
	return nil
}

func (r *repo) ListVendors(ctx context.Context, tenantID int64, filters ListFilters) ([]Vendor, int, error) {
	args := &db.Args{}
	where := []string{"tenant_id = " + args.Add(tenantID)}
	if filters.Search != "" {
		p := args.Add("%" + filters.Search + "%")
		where = append(where, "(name ILIKE "+p+" OR code ILIKE "+p+")")
	}
	if filters.Status != "" {
		where = append(where, "status = "+args.Add(filters.Status))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM vendors WHERE `+clause, args.Values()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := args.Add(filters.Page.Limit())
	offset := args.Add(filters.Page.Offset())
	rows, err := r.db.Query(ctx, `SELECT id, tenant_id, code, name, contact, status, created_at, updated_at FROM vendors WHERE `+
		clause+` ORDER BY name LIMIT `+limit+` OFFSET `+offset, args.Values()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var vendors []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.TenantID, &v.Code, &v.Name, &v.Contact, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, err
		}
		vendors = append(vendors, v)
	}
	return vendors, total, rows.Err()
}

func (r *repo) GetVendor(ctx context.Context, tenantID, id int64) (Vendor, error) {
	var v Vendor
	err := r.db.QueryRow(ctx, `SELECT id, tenant_id, code, name, contact, status, created_at, updated_at FROM vendors WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&v.ID, &v.TenantID, &v.Code, &v.Name, &v.Contact, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vendor{}, fmt.Errorf("%w: vendor %d", shared.ErrNotFound, id)
	}
	return v, err
}

func (r *repo) CreateVendor(ctx context.Context, vendor Vendor) (Vendor, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx, `INSERT INTO vendors (tenant_id, code, name, contact, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		vendor.TenantID, vendor.Code, vendor.Name, vendor.Contact, vendor.Status, now).Scan(&vendor.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Vendor{}, fmt.Errorf("%w: vendor %s", ErrDuplicateCode, vendor.Code)
		}
		return Vendor{}, err
	}
	vendor.CreatedAt = now
	vendor.UpdatedAt = now
	return vendor, nil
}

func (r *repo) ListWorkAreas(ctx context.Context, scope shared.ScopeFilter, filters ListFilters) ([]WorkArea, int, error) {
	args := &db.Args{}
	where := []string{db.ScopeClause("", scope, args)}
	if filters.BranchID > 0 {
		where = append(where, "branch_id = "+args.Add(filters.BranchID))
	}
	if filters.Status != "" {
		where = append(where, "status = "+args.Add(filters.Status))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM work_areas WHERE `+clause, args.Values()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := args.Add(filters.Page.Limit())
	offset := args.Add(filters.Page.Offset())
	rows, err := r.db.Query(ctx, `SELECT id, tenant_id, branch_id, name, status, created_at, updated_at FROM work_areas WHERE `+
		clause+` ORDER BY branch_id, name LIMIT `+limit+` OFFSET `+offset, args.Values()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []WorkArea
	for rows.Next() {
		var wa WorkArea
		if err := rows.Scan(&wa.ID, &wa.TenantID, &wa.BranchID, &wa.Name, &wa.Status, &wa.CreatedAt, &wa.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, wa)
	}
	return out, total, rows.Err()
}

func (r *repo) GetWorkArea(ctx context.Context, tenantID, id int64) (WorkArea, error) {
	var wa WorkArea
	err := r.db.QueryRow(ctx, `SELECT id, tenant_id, branch_id, name, status, created_at, updated_at FROM work_areas WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&wa.ID, &wa.TenantID, &wa.BranchID, &wa.Name, &wa.Status, &wa.CreatedAt, &wa.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkArea{}, fmt.Errorf("%w: work area %d", shared.ErrNotFound, id)
	}
	return wa, err
}

func (r *repo) CreateWorkArea(ctx context.Context, wa WorkArea) (WorkArea, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx, `INSERT INTO work_areas (tenant_id, branch_id, name, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`,
		wa.TenantID, wa.BranchID, wa.Name, wa.Status, now).Scan(&wa.ID)
	if err != nil {
		return WorkArea{}, err
	}
	wa.CreatedAt = now
	wa.UpdatedAt = now
	return wa, nil
}
