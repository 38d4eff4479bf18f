package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/account-activation-api/internal/models"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
)

type studentLocker interface {
	FindForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentAccount, error)
}

// ValidatedTransition is a status change checked against the closed status set and a locked student row.
type ValidatedTransition struct {
	Student *models.StudentAccount
	From    models.EnrollmentStatus
	To      models.EnrollmentStatus
}

// CrossesActiveBoundary reports whether the student enters or leaves ACTIVE.
func (t ValidatedTransition) CrossesActiveBoundary() bool {
	return (t.From == models.EnrollmentStatusActive) != (t.To == models.EnrollmentStatusActive)
}

// StatusTransitionValidator checks requested enrollment statuses.
type StatusTransitionValidator struct {
	students studentLocker
}

// NewStatusTransitionValidator constructs a validator reading students through the given locker.
func NewStatusTransitionValidator(students studentLocker) *StatusTransitionValidator {
	return &StatusTransitionValidator{students: students}
}

// ParseStatus accepts exactly one of the four enrollment statuses.
func (v *StatusTransitionValidator) ParseStatus(raw string) (models.EnrollmentStatus, error) {
	status := models.EnrollmentStatus(raw)
	if !status.Valid() {
		return "", appErrors.Clone(appErrors.ErrInvalidStatus, fmt.Sprintf("invalid enrollment status %q", raw))
	}
	return status, nil
}

// Validate parses the requested status and loads the student under a row lock.
func (v *StatusTransitionValidator) Validate(ctx context.Context, exec sqlx.ExtContext, studentID, requested string) (*ValidatedTransition, error) {
	status, err := v.ParseStatus(requested)
	if err != nil {
		return nil, err
	}
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	student, err := v.students.FindForUpdate(ctx, exec, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransactionFailure.Code, appErrors.ErrTransactionFailure.Status, "failed to load student")
	}
	return &ValidatedTransition{Student: student, From: student.EnrollmentStatus, To: status}, nil
}
