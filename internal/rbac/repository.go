package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// PgRepository is the PostgreSQL Repository.
type PgRepository struct {
	txm *db.TxManager
}

// NewRepository builds the repository.
func NewRepository(txm *db.TxManager) *PgRepository {
	return &PgRepository{txm: txm}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a retried transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.txm.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *PgRepository) RolePermissions(ctx context.Context, tenantID int64, roleCode string) ([]string, error) {
	rows, err := r.txm.Pool().Query(ctx, `SELECT permission_code FROM role_permissions
WHERE tenant_id = $1 AND role_code = $2 ORDER BY permission_code`, tenantID, roleCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		perms = append(perms, strings.ToLower(code))
	}
	return perms, rows.Err()
}

func (r *PgRepository) FindOverride(ctx context.Context, tenantID, userID, branchID int64, permission string) (Override, bool, error) {
	var o Override
	err := r.txm.Pool().QueryRow(ctx, `SELECT tenant_id, user_id, branch_id, permission_code, allowed, updated_by, updated_at
FROM permission_overrides WHERE tenant_id = $1 AND user_id = $2 AND branch_id = $3 AND permission_code = $4`,
		tenantID, userID, branchID, permission).
		Scan(&o.TenantID, &o.UserID, &o.BranchID, &o.PermissionCode, &o.Allowed, &o.UpdatedBy, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Override{}, false, nil
	}
	if err != nil {
		return Override{}, false, err
	}
	return o, true, nil
}

func (r *PgRepository) ListOverrides(ctx context.Context, tenantID, userID int64) ([]Override, error) {
	rows, err := r.txm.Pool().Query(ctx, `SELECT tenant_id, user_id, branch_id, permission_code, allowed, updated_by, updated_at
FROM permission_overrides WHERE tenant_id = $1 AND user_id = $2 ORDER BY branch_id, permission_code`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.TenantID, &o.UserID, &o.BranchID, &o.PermissionCode, &o.Allowed, &o.UpdatedBy, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *txRepo) DeleteOverrides(ctx context.Context, tenantID, userID, branchID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM permission_overrides WHERE tenant_id = $1 AND user_id = $2 AND branch_id = $3`,
		tenantID, userID, branchID)
	return err
}

func (t *txRepo) InsertOverride(ctx context.Context, o Override) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO permission_overrides (tenant_id, user_id, branch_id, permission_code, allowed, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())`, o.TenantID, o.UserID, o.BranchID, o.PermissionCode, o.Allowed, o.UpdatedBy)
	return err
}
