package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/account-activation-api/internal/models"
)

const parentAccountColumns = `p.id, p.user_id, p.admin_override, p.override_by, p.override_at, p.created_at, p.updated_at,
        u.full_name, u.login_enabled`

// ParentRepository manages parent accounts and their links to students.
type ParentRepository struct {
	db *sqlx.DB
}

// NewParentRepository constructs a ParentRepository.
func NewParentRepository(db *sqlx.DB) *ParentRepository {
	return &ParentRepository{db: db}
}

func (r *ParentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindAccount returns the parent joined with its user account. forUpdate locks the parent row.
func (r *ParentRepository) FindAccount(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.ParentAccount, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + parentAccountColumns + `
        FROM parents p JOIN users u ON u.id = p.user_id
        WHERE p.id = $1`)
	if forUpdate {
		b.WriteString(" FOR UPDATE OF p")
	}
	var parent models.ParentAccount
	if err := sqlx.GetContext(ctx, r.exec(exec), &parent, b.String(), id); err != nil {
		return nil, err
	}
	return &parent, nil
}

// FindByUserID returns the parent owned by the given user account.
func (r *ParentRepository) FindByUserID(ctx context.Context, userID string) (*models.ParentAccount, error) {
	query := `SELECT ` + parentAccountColumns + `
        FROM parents p JOIN users u ON u.id = p.user_id
        WHERE p.user_id = $1`
	var parent models.ParentAccount
	if err := r.db.GetContext(ctx, &parent, query, userID); err != nil {
		return nil, err
	}
	return &parent, nil
}

// LockLinkedToStudent locks every parent linked to the student in ascending id order.
func (r *ParentRepository) LockLinkedToStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.ParentAccount, error) {
	query := `SELECT ` + parentAccountColumns + `
        FROM parents p
        JOIN users u ON u.id = p.user_id
        WHERE p.id IN (SELECT parent_id FROM parent_student_links WHERE student_id = $1)
        ORDER BY p.id FOR UPDATE OF p`
	var parents []models.ParentAccount
	if err := sqlx.SelectContext(ctx, r.exec(exec), &parents, query, studentID); err != nil {
		return nil, fmt.Errorf("lock linked parents: %w", err)
	}
	return parents, nil
}

// ListLinkedParentIDs returns the ids of parents linked to the student without locking them.
func (r *ParentRepository) ListLinkedParentIDs(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]string, error) {
	const query = `SELECT parent_id FROM parent_student_links WHERE student_id = $1 ORDER BY parent_id`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, studentID); err != nil {
		return nil, fmt.Errorf("list linked parents: %w", err)
	}
	return ids, nil
}

// CountActiveChildren counts linked students whose enrollment status is ACTIVE.
func (r *ParentRepository) CountActiveChildren(ctx context.Context, exec sqlx.ExtContext, parentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM parent_student_links l
        JOIN students s ON s.id = l.student_id
        WHERE l.parent_id = $1 AND s.enrollment_status = $2`
	var total int
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, parentID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count active children: %w", err)
	}
	return total, nil
}

// ListChildren returns every student linked to the parent.
func (r *ParentRepository) ListChildren(ctx context.Context, exec sqlx.ExtContext, parentID string) ([]models.LinkedChild, error) {
	const query = `SELECT s.id AS student_id, s.nis, u.full_name, l.relationship, s.enrollment_status
        FROM parent_student_links l
        JOIN students s ON s.id = l.student_id
        JOIN users u ON u.id = s.user_id
        WHERE l.parent_id = $1 ORDER BY u.full_name`
	var children []models.LinkedChild
	if err := sqlx.SelectContext(ctx, r.exec(exec), &children, query, parentID); err != nil {
		return nil, fmt.Errorf("list linked children: %w", err)
	}
	return children, nil
}

// SetOverride marks the parent as administratively controlled.
func (r *ParentRepository) SetOverride(ctx context.Context, exec sqlx.ExtContext, parentID, actorID string, at time.Time) error {
	const query = `UPDATE parents SET admin_override = TRUE, override_by = $2, override_at = $3, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, exec, query, parentID, actorID, at)
}

// ClearOverride hands control of the parent's login flag back to the cascade.
func (r *ParentRepository) ClearOverride(ctx context.Context, exec sqlx.ExtContext, parentID string) error {
	const query = `UPDATE parents SET admin_override = FALSE, override_by = NULL, override_at = NULL, updated_at = $2 WHERE id = $1`
	return r.execOne(ctx, exec, query, parentID, time.Now().UTC())
}

// Link creates or refreshes a parent/student link.
func (r *ParentRepository) Link(ctx context.Context, exec sqlx.ExtContext, link *models.ParentStudentLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO parent_student_links (parent_id, student_id, relationship, created_at)
        VALUES (:parent_id, :student_id, :relationship, :created_at)
        ON CONFLICT (parent_id, student_id) DO UPDATE SET relationship = EXCLUDED.relationship`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, link); err != nil {
		return fmt.Errorf("link parent to student: %w", err)
	}
	return nil
}

// Unlink removes a parent/student link. Returns sql.ErrNoRows when no link existed.
func (r *ParentRepository) Unlink(ctx context.Context, exec sqlx.ExtContext, parentID, studentID string) error {
	const query = `DELETE FROM parent_student_links WHERE parent_id = $1 AND student_id = $2`
	return r.execOne(ctx, exec, query, parentID, studentID)
}

// ListLoginDrift returns linked parents without an admin override whose login flag
// disagrees with the presence of an ACTIVE child.
func (r *ParentRepository) ListLoginDrift(ctx context.Context, limit int) ([]models.ParentAccount, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT ` + parentAccountColumns + `
        FROM parents p
        JOIN users u ON u.id = p.user_id
        WHERE p.admin_override = FALSE
          AND EXISTS (SELECT 1 FROM parent_student_links l WHERE l.parent_id = p.id)
          AND u.login_enabled <> EXISTS (
              SELECT 1 FROM parent_student_links l
              JOIN students s ON s.id = l.student_id
              WHERE l.parent_id = p.id AND s.enrollment_status = $1)
        ORDER BY p.id LIMIT $2`
	var parents []models.ParentAccount
	if err := r.db.SelectContext(ctx, &parents, query, models.EnrollmentStatusActive, limit); err != nil {
		return nil, fmt.Errorf("list parent login drift: %w", err)
	}
	return parents, nil
}

func (r *ParentRepository) execOne(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) error {
	result, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("parent write: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("parent rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
