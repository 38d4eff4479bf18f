package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/models"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
)

// Student actions gated on enrollment status.
const (
	ActionAddMemorization  = "add_memorization"
	ActionSubmitRecitation = "submit_recitation"
	ActionUpdateAttendance = "update_attendance"
	ActionViewHistory      = "view_history"
	ActionViewGrade        = "view_grade"
	ActionViewProfile      = "view_profile"
)

var activeOnlyActions = map[string]struct{}{
	ActionAddMemorization:  {},
	ActionSubmitRecitation: {},
	ActionUpdateAttendance: {},
}

var viewActions = map[string]struct{}{
	ActionViewHistory: {},
	ActionViewGrade:   {},
	ActionViewProfile: {},
}

var studentInactiveReasons = map[models.EnrollmentStatus]string{
	models.EnrollmentStatusGraduated:   "account inactive because the student has graduated, contact the school administrator",
	models.EnrollmentStatusTransferred: "account inactive because the student has transferred, contact the school administrator",
	models.EnrollmentStatusWithdrawn:   "account inactive, contact the school administrator",
}

const (
	reasonDeactivatedByAdmin = "account deactivated by admin"
	reasonNoActiveChild      = "account inactive because no linked student is active, contact the school administrator"
	reasonInactive           = "account inactive, contact the school administrator"
)

type accessUserReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error)
}

type accessStudentReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentAccount, error)
}

type accessParentReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.ParentAccount, error)
}

type accessAuditReader interface {
	ListByTarget(ctx context.Context, targetUserID string, limit int) ([]models.AuditRecord, error)
}

// AccessService explains whether an account may currently sign in.
type AccessService struct {
	users      accessUserReader
	students   accessStudentReader
	parents    accessParentReader
	calculator *ParentActivationCalculator
	audit      accessAuditReader
}

// NewAccessService constructs an AccessService.
func NewAccessService(users accessUserReader, students accessStudentReader, parents accessParentReader, calculator *ParentActivationCalculator, audit accessAuditReader) *AccessService {
	return &AccessService{users: users, students: students, parents: parents, calculator: calculator, audit: audit}
}

// History returns the latest activity log entries that changed the user's account,
// newest first.
func (s *AccessService) History(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error) {
	if _, err := s.users.FindByID(ctx, nil, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	records, err := s.audit.ListByTarget(ctx, userID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	return records, nil
}

// CheckUserAccess reports the access decision for a user and the reason when denied.
func (s *AccessService) CheckUserAccess(ctx context.Context, userID string) (*dto.AccessDecision, error) {
	user, err := s.users.FindByID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	decision := &dto.AccessDecision{UserID: user.ID, Role: user.Role, Allowed: user.LoginEnabled}

	switch user.Role {
	case models.RoleAdmin, models.RoleTeacher:
		if !user.LoginEnabled {
			decision.Reason = reasonDeactivatedByAdmin
		}
		return decision, nil
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, user.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if !user.LoginEnabled {
			status := student.EnrollmentStatus
			decision.EnrollmentStatus = &status
			decision.ExitDate = student.ExitDate
			decision.Reason = studentInactiveReasons[status]
			if decision.Reason == "" {
				decision.Reason = reasonInactive
			}
		}
		return decision, nil
	case models.RoleParent:
		parent, err := s.parents.FindByUserID(ctx, user.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent")
		}
		if !user.LoginEnabled {
			active, err := s.calculator.ShouldBeActive(ctx, parent.ID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute parent activation")
			}
			if active {
				decision.Reason = reasonDeactivatedByAdmin
			} else {
				decision.Reason = reasonNoActiveChild
			}
		}
		return decision, nil
	}

	if !user.LoginEnabled {
		decision.Reason = reasonInactive
	}
	return decision, nil
}

// CanPerformAction reports whether a student in status may perform action.
// View actions are always allowed; everything else requires ACTIVE.
func CanPerformAction(status models.EnrollmentStatus, action string) bool {
	if _, ok := activeOnlyActions[action]; ok {
		return status == models.EnrollmentStatusActive
	}
	if _, ok := viewActions[action]; ok {
		return true
	}
	return status == models.EnrollmentStatusActive
}
