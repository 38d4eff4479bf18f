package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/models"
	"github.com/noah-isme/account-activation-api/pkg/config"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
)

type studentDriftRepository interface {
	studentLocker
	ListLoginDrift(ctx context.Context, limit int) ([]models.StudentAccount, error)
}

type parentDriftRepository interface {
	FindAccount(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.ParentAccount, error)
	ClearOverride(ctx context.Context, exec sqlx.ExtContext, parentID string) error
	ListLoginDrift(ctx context.Context, limit int) ([]models.ParentAccount, error)
}

// ConsistencySweeper finds accounts whose login flag drifted from the enrollment rules,
// for example rows written before the cascade existed, and optionally repairs them.
type ConsistencySweeper struct {
	tx          txProvider
	students    studentDriftRepository
	users       userAccountRepository
	parents     parentDriftRepository
	audit       auditWriter
	reconciler  parentReconciler
	invalidator invalidationQueue
	logger      *zap.Logger
}

// NewConsistencySweeper constructs a ConsistencySweeper.
func NewConsistencySweeper(
	tx txProvider,
	students studentDriftRepository,
	users userAccountRepository,
	parents parentDriftRepository,
	audit auditWriter,
	calculator *ParentActivationCalculator,
	invalidator invalidationQueue,
	logger *zap.Logger,
	cfg config.CascadeConfig,
) *ConsistencySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsistencySweeper{
		tx:          tx,
		students:    students,
		users:       users,
		parents:     parents,
		audit:       audit,
		reconciler:  parentReconciler{calculator: calculator, users: users, overrides: parents, policy: cfg.OverridePolicy},
		invalidator: invalidator,
		logger:      logger,
	}
}

// Sweep lists drifted accounts. With apply set every account is repaired in its own
// transaction with one audit record attributed to actorID.
func (s *ConsistencySweeper) Sweep(ctx context.Context, actorID string, apply bool, limit int) (*dto.SweepReport, error) {
	if apply && actorID == "" {
		return nil, appErrors.Clone(appErrors.ErrAttributionMissing, "actor is required to repair accounts")
	}

	students, err := s.students.ListLoginDrift(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student drift")
	}
	parents, err := s.parents.ListLoginDrift(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list parent drift")
	}

	report := &dto.SweepReport{
		Applied:  apply,
		Students: make([]dto.DriftedAccount, 0, len(students)),
		Parents:  make([]dto.DriftedAccount, 0, len(parents)),
	}
	for _, st := range students {
		entry := dto.DriftedAccount{
			Kind:         models.RoleStudent,
			ID:           st.ID,
			UserID:       st.UserID,
			FullName:     st.FullName,
			LoginEnabled: st.LoginEnabled,
			Expected:     st.EnrollmentStatus == models.EnrollmentStatusActive,
		}
		if apply {
			s.record(&entry, report, s.repairStudent(ctx, actorID, st.ID))
		}
		report.Students = append(report.Students, entry)
	}

	var repairedParents []string
	for _, p := range parents {
		entry := dto.DriftedAccount{
			Kind:         models.RoleParent,
			ID:           p.ID,
			UserID:       p.UserID,
			FullName:     p.FullName,
			LoginEnabled: p.LoginEnabled,
			Expected:     !p.LoginEnabled,
		}
		if apply {
			err := s.repairParent(ctx, actorID, p.ID)
			s.record(&entry, report, err)
			if err == nil {
				repairedParents = append(repairedParents, p.ID)
			}
		}
		report.Parents = append(report.Parents, entry)
	}

	if report.Repaired > 0 {
		enqueueInvalidation(s.invalidator, s.logger, StatusInvalidation{Stats: true, ParentIDs: repairedParents})
	}
	s.logger.Info("consistency sweep finished",
		zap.Bool("applied", apply),
		zap.Int("students", len(report.Students)),
		zap.Int("parents", len(report.Parents)),
		zap.Int("repaired", report.Repaired),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *ConsistencySweeper) record(entry *dto.DriftedAccount, report *dto.SweepReport, err error) {
	if err != nil {
		entry.Error = appErrors.FromError(err).Message
		report.Failed++
		s.logger.Warn("account repair failed", zap.String("kind", string(entry.Kind)), zap.String("id", entry.ID), zap.Error(err))
		return
	}
	entry.Repaired = true
	report.Repaired++
}

func (s *ConsistencySweeper) repairStudent(ctx context.Context, actorID, studentID string) error {
	return s.withTx(ctx, actorID, func(tx *sqlx.Tx, actor *models.User) (*models.AuditRecord, error) {
		student, err := s.students.FindForUpdate(ctx, tx, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return nil, txFailure(err, "failed to lock student")
		}
		expected := student.EnrollmentStatus == models.EnrollmentStatusActive
		if err := s.users.SetLoginEnabled(ctx, tx, student.UserID, expected); err != nil {
			return nil, txFailure(err, "failed to update student account")
		}
		return reconciledRecord(actor, student.UserID, models.RoleStudent, student.FullName,
			fmt.Sprintf("set login of %s (%s) to %t to match status %s", student.FullName, student.NIS, expected, student.EnrollmentStatus),
			map[string]any{"studentId": student.ID, "status": student.EnrollmentStatus, "loginEnabled": expected})
	})
}

func (s *ConsistencySweeper) repairParent(ctx context.Context, actorID, parentID string) error {
	return s.withTx(ctx, actorID, func(tx *sqlx.Tx, actor *models.User) (*models.AuditRecord, error) {
		parent, err := s.parents.FindAccount(ctx, tx, parentID, true)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "parent not found")
			}
			return nil, txFailure(err, "failed to lock parent")
		}
		activation, skipped, err := s.reconciler.reconcile(ctx, tx, *parent)
		if err != nil {
			return nil, err
		}
		if skipped {
			return nil, appErrors.Clone(appErrors.ErrConflict, "parent was overridden by an admin")
		}
		return reconciledRecord(actor, parent.UserID, models.RoleParent, parent.FullName,
			fmt.Sprintf("set login of %s to %t to match linked students", parent.FullName, activation.LoginEnabled),
			map[string]any{"parentId": parent.ID, "loginEnabled": activation.LoginEnabled})
	})
}

func (s *ConsistencySweeper) withTx(ctx context.Context, actorID string, fn func(tx *sqlx.Tx, actor *models.User) (*models.AuditRecord, error)) (err error) {
	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return txFailure(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	actor, err := resolveActor(ctx, s.users, tx, actorID)
	if err != nil {
		return err
	}
	record, err := fn(tx, actor)
	if err != nil {
		return err
	}
	if err = s.audit.Create(ctx, tx, record); err != nil {
		return txFailure(err, "failed to write audit record")
	}
	if err = tx.Commit(); err != nil {
		return txFailure(err, "failed to commit repair")
	}
	return nil
}

func reconciledRecord(actor *models.User, targetUserID string, targetRole models.UserRole, targetName, description string, meta map[string]any) (*models.AuditRecord, error) {
	return newAuditRecord(actor, models.AuditActionAccountReconciled, "Reconcile Account Access", description, targetUserID, targetRole, targetName, meta)
}
