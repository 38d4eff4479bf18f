package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/account-activation-api/internal/models"
)

// AuditRepository appends activity log entries.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts the record, assigning an id and timestamp when missing.
func (r *AuditRepository) Create(ctx context.Context, exec sqlx.ExtContext, record *models.AuditRecord) error {
	if exec == nil {
		exec = r.db
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if len(record.Metadata) == 0 {
		record.Metadata = []byte("{}")
	}
	const query = `INSERT INTO activity_logs (id, actor_id, actor_role, actor_name, action, title, description,
        target_user_id, target_role, target_name, metadata, created_at)
        VALUES (:id, :actor_id, :actor_role, :actor_name, :action, :title, :description,
        :target_user_id, :target_role, :target_name, :metadata, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, record); err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

// ListByTarget returns the most recent entries concerning the given user.
func (r *AuditRepository) ListByTarget(ctx context.Context, targetUserID string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT id, actor_id, actor_role, actor_name, action, title, description,
        target_user_id, target_role, target_name, metadata, created_at
        FROM activity_logs WHERE target_user_id = $1 ORDER BY created_at DESC LIMIT $2`
	var records []models.AuditRecord
	if err := r.db.SelectContext(ctx, &records, query, targetUserID, limit); err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	return records, nil
}
