package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/account-activation-api/internal/models"
)

const studentAccountColumns = `s.id, s.user_id, s.nis, s.enrollment_status, s.exit_date, s.class_id, s.created_at, s.updated_at,
        u.full_name, u.login_enabled`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID returns the student with its owning account.
func (r *StudentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentAccount, error) {
	query := `SELECT ` + studentAccountColumns + `
        FROM students s JOIN users u ON u.id = s.user_id
        WHERE s.id = $1`
	var student models.StudentAccount
	if err := sqlx.GetContext(ctx, r.exec(exec), &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByUserID returns the student owned by the given user account.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.StudentAccount, error) {
	query := `SELECT ` + studentAccountColumns + `
        FROM students s JOIN users u ON u.id = s.user_id
        WHERE s.user_id = $1`
	var student models.StudentAccount
	if err := r.db.GetContext(ctx, &student, query, userID); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindForUpdate loads the student and locks its row until the surrounding transaction ends.
func (r *StudentRepository) FindForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentAccount, error) {
	query := `SELECT ` + studentAccountColumns + `
        FROM students s JOIN users u ON u.id = s.user_id
        WHERE s.id = $1 FOR UPDATE OF s`
	var student models.StudentAccount
	if err := sqlx.GetContext(ctx, r.exec(exec), &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// UpdateStatus writes the enrollment status and exit date.
func (r *StudentRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, exitDate *time.Time) error {
	const query = `UPDATE students SET enrollment_status = $2, exit_date = $3, updated_at = $4 WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id, status, exitDate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update student status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("student status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByStatus returns students in the given status, most recently changed first.
func (r *StudentRepository) ListByStatus(ctx context.Context, filter models.StudentStatusFilter) ([]models.StudentAccount, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s
        FROM students s JOIN users u ON u.id = s.user_id
        WHERE s.enrollment_status = $1 ORDER BY s.updated_at DESC LIMIT %d OFFSET %d`, studentAccountColumns, size, offset)
	var students []models.StudentAccount
	if err := r.db.SelectContext(ctx, &students, query, filter.Status); err != nil {
		return nil, 0, fmt.Errorf("list students by status: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM students WHERE enrollment_status = $1`, filter.Status); err != nil {
		return nil, 0, fmt.Errorf("count students by status: %w", err)
	}
	return students, total, nil
}

// CountByStatus aggregates students per enrollment status.
func (r *StudentRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT enrollment_status, COUNT(*) AS total FROM students GROUP BY enrollment_status`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count students by status: %w", err)
	}
	return counts, nil
}

// ListLoginDrift returns students whose login flag disagrees with their enrollment status.
func (r *StudentRepository) ListLoginDrift(ctx context.Context, limit int) ([]models.StudentAccount, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT ` + studentAccountColumns + `
        FROM students s JOIN users u ON u.id = s.user_id
        WHERE u.login_enabled <> (s.enrollment_status = $1)
        ORDER BY s.id LIMIT $2`
	var students []models.StudentAccount
	if err := r.db.SelectContext(ctx, &students, query, models.EnrollmentStatusActive, limit); err != nil {
		return nil, fmt.Errorf("list student login drift: %w", err)
	}
	return students, nil
}
