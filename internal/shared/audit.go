package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry represents a record stored in audit_logs.
type AuditEntry struct {
	TenantID    int64
	BranchID    int64
	PerformedBy int64
	Action      string
	Entity      string
	EntityID    string
	Details     map[string]any
	At          time.Time
}

// AuditSink accepts audit entries. Implementations may fail; callers never propagate the failure.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Append persists the entry.
func (l *AuditLogger) Append(ctx context.Context, entry AuditEntry) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" {
		return errors.New("audit entry requires action/entity")
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (tenant_id, branch_id, performed_by, action, entity, entity_id, details, occurred_at)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, NULLIF($6, ''), $7, COALESCE($8, NOW()))`,
		entry.TenantID, entry.BranchID, entry.PerformedBy, entry.Action, entry.Entity, entry.EntityID, details, at)
	return err
}

// RecordAudit appends an entry and only logs failures.
func RecordAudit(ctx context.Context, sink AuditSink, logger *slog.Logger, entry AuditEntry) {
	if sink == nil {
		return
	}
	if err := sink.Append(ctx, entry); err != nil && logger != nil {
		logger.Warn("audit append failed",
			slog.String("action", entry.Action),
			slog.String("entity", entry.Entity),
			slog.String("entity_id", entry.EntityID),
			slog.Any("error", err))
	}
}
