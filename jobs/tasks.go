package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryReconcile compares ledger balances with their movement journal.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskPoolDigest recomputes the cached procurement pool summary.
	TaskPoolDigest = "procurement:pool-digest"
	// TaskIdempotencyPurge drops expired idempotency keys.
	TaskIdempotencyPurge = "procurement:idempotency-purge"
)

// ReconcilePayload selects the tenant to reconcile. Zero means every tenant.
type ReconcilePayload struct {
	TenantID int64 `json:"tenant_id"`
}

// PoolDigestPayload selects the tenant whose pool digest is refreshed.
// Zero means every tenant that owns ledger rows.
type PoolDigestPayload struct {
	TenantID int64 `json:"tenant_id"`
}

// NewReconcileTask constructs an inventory reconcile task.
func NewReconcileTask(tenantID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewPoolDigestTask constructs a pool digest refresh task.
func NewPoolDigestTask(tenantID int64) (*asynq.Task, error) {
	body, err := json.Marshal(PoolDigestPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPoolDigest, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyPurgeTask constructs an idempotency key purge task.
func NewIdempotencyPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyPurge, nil, asynq.Queue(QueueDefault))
}
