package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-activation-api/internal/models"
)

var studentAccountRowColumns = []string{"id", "user_id", "nis", "enrollment_status", "exit_date", "class_id", "created_at", "updated_at", "full_name", "login_enabled"}

func TestStudentRepositoryFindForUpdateLocksRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows(studentAccountRowColumns).
		AddRow("stu-1", "usr-s1", "1001", models.EnrollmentStatusActive, nil, "class-1", time.Now(), time.Now(), "Budi", true)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.id = $1 FOR UPDATE OF s")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	student, err := repo.FindForUpdate(context.Background(), nil, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, student.EnrollmentStatus)
	assert.Equal(t, "Budi", student.FullName)
	assert.Nil(t, student.ExitDate)
	require.NotNil(t, student.ClassID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	exit := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET enrollment_status = $2, exit_date = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("stu-1", models.EnrollmentStatusGraduated, &exit, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), nil, "stu-1", models.EnrollmentStatusGraduated, &exit))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateStatusMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET enrollment_status")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), nil, "ghost", models.EnrollmentStatusWithdrawn, nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStudentRepositoryListByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows(studentAccountRowColumns).
		AddRow("stu-2", "usr-s2", "1002", models.EnrollmentStatusTransferred, time.Now(), nil, time.Now(), time.Now(), "Sari", false)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.enrollment_status = $1 ORDER BY s.updated_at DESC LIMIT 20 OFFSET 20")).
		WithArgs(models.EnrollmentStatusTransferred).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE enrollment_status = $1")).
		WithArgs(models.EnrollmentStatusTransferred).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))

	students, total, err := repo.ListByStatus(context.Background(), models.StudentStatusFilter{Status: models.EnrollmentStatusTransferred, Page: 2})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, 21, total)
	assert.False(t, students[0].LoginEnabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT enrollment_status, COUNT(*) AS total FROM students GROUP BY enrollment_status")).
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_status", "total"}).
			AddRow(models.EnrollmentStatusActive, 10).
			AddRow(models.EnrollmentStatusGraduated, 4))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 10, counts[0].Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListLoginDrift(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE u.login_enabled <> (s.enrollment_status = $1)")).
		WithArgs(models.EnrollmentStatusActive, 1000).
		WillReturnRows(sqlmock.NewRows(studentAccountRowColumns).
			AddRow("stu-9", "usr-9", "2024009", "GRADUATED", now, nil, now, now, "Rina", true))

	drift, err := repo.ListLoginDrift(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.True(t, drift[0].LoginEnabled)
	assert.Equal(t, models.EnrollmentStatusGraduated, drift[0].EnrollmentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
