package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/models"
	"github.com/noah-isme/account-activation-api/pkg/cache"
	"github.com/noah-isme/account-activation-api/pkg/config"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
)

type parentAccountRepository interface {
	FindAccount(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.ParentAccount, error)
	ListChildren(ctx context.Context, exec sqlx.ExtContext, parentID string) ([]models.LinkedChild, error)
	SetOverride(ctx context.Context, exec sqlx.ExtContext, parentID, actorID string, at time.Time) error
	ClearOverride(ctx context.Context, exec sqlx.ExtContext, parentID string) error
	Link(ctx context.Context, exec sqlx.ExtContext, link *models.ParentStudentLink) error
	Unlink(ctx context.Context, exec sqlx.ExtContext, parentID, studentID string) error
}

// ParentAccountService manages admin overrides and student links of parent accounts.
type ParentAccountService struct {
	tx          txProvider
	parents     parentAccountRepository
	students    studentLocker
	users       userAccountRepository
	audit       auditWriter
	reconciler  parentReconciler
	presenter   *StatusBadgePresenter
	cache       *CacheService
	cacheTTL    time.Duration
	invalidator invalidationQueue
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewParentAccountService constructs a ParentAccountService.
func NewParentAccountService(
	tx txProvider,
	parents parentAccountRepository,
	students studentLocker,
	users userAccountRepository,
	audit auditWriter,
	calculator *ParentActivationCalculator,
	cacheSvc *CacheService,
	invalidator invalidationQueue,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg config.CascadeConfig,
	cacheTTL time.Duration,
) *ParentAccountService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParentAccountService{
		tx:          tx,
		parents:     parents,
		students:    students,
		users:       users,
		audit:       audit,
		reconciler:  parentReconciler{calculator: calculator, users: users, overrides: parents, policy: cfg.OverridePolicy},
		presenter:   NewStatusBadgePresenter(),
		cache:       cacheSvc,
		cacheTTL:    cacheTTL,
		invalidator: invalidator,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Status returns the computed status context of a parent.
func (s *ParentAccountService) Status(ctx context.Context, parentID string) (*dto.ParentStatusContext, error) {
	key := cache.ParentStatusKey(parentID)
	var cached dto.ParentStatusContext
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	status, err := s.loadStatus(ctx, nil, parentID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Set(ctx, key, status, s.cacheTTL)
	return status, nil
}

func (s *ParentAccountService) loadStatus(ctx context.Context, exec sqlx.ExtContext, parentID string) (*dto.ParentStatusContext, error) {
	parent, err := s.parents.FindAccount(ctx, exec, parentID, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "parent not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent")
	}
	children, err := s.parents.ListChildren(ctx, exec, parentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load linked students")
	}
	if children == nil {
		children = []models.LinkedChild{}
	}

	hasActive := false
	for _, child := range children {
		if child.EnrollmentStatus == models.EnrollmentStatusActive {
			hasActive = true
			break
		}
	}
	display, badge := ResolveParentDisplay(len(children), hasActive, parent.LoginEnabled, parent.AdminOverride)

	return &dto.ParentStatusContext{
		ParentID:        parent.ID,
		FullName:        parent.FullName,
		LoginEnabled:    parent.LoginEnabled,
		DisplayStatus:   display,
		HasActiveChild:  hasActive,
		ChildrenCount:   len(children),
		Children:        children,
		AdminOverridden: parent.AdminOverride,
		Badge:           badge,
		Presentation:    s.presenter.PresentParent(display, badge),
	}, nil
}

// SetAccountEnabled applies an admin decision. Disabling pins the account off until an
// admin enables it again; enabling hands the flag back to the derived rule.
func (s *ParentAccountService) SetAccountEnabled(ctx context.Context, parentID string, req dto.SetParentAccountRequest, actorID string) (*dto.ParentStatusContext, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid account payload")
	}
	enabled := *req.Enabled

	status, err := s.withParentTx(ctx, parentID, actorID, nil, func(tx *sqlx.Tx, actor *models.User, parent *models.ParentAccount) (*models.AuditRecord, error) {
		if !enabled {
			if err := s.parents.SetOverride(ctx, tx, parent.ID, actor.ID, s.now()); err != nil {
				return nil, txFailure(err, "failed to set parent override")
			}
			if err := s.users.SetLoginEnabled(ctx, tx, parent.UserID, false); err != nil {
				return nil, txFailure(err, "failed to disable parent account")
			}
			return parentRecord(actor, parent, models.AuditActionParentOverride, "Disable Parent Account",
				fmt.Sprintf("disabled account of %s", parent.FullName), map[string]any{"parentId": parent.ID, "enabled": false})
		}

		// Enabling always clears the override, whatever the cascade policy.
		cleared := *parent
		cleared.AdminOverride = false
		if parent.AdminOverride {
			if err := s.parents.ClearOverride(ctx, tx, parent.ID); err != nil {
				return nil, txFailure(err, "failed to clear parent override")
			}
		}
		activation, _, err := s.reconciler.reconcile(ctx, tx, cleared)
		if err != nil {
			return nil, err
		}
		return parentRecord(actor, parent, models.AuditActionParentOverrideCleared, "Enable Parent Account",
			fmt.Sprintf("cleared admin override of %s", parent.FullName), map[string]any{"parentId": parent.ID, "enabled": activation.LoginEnabled})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("parent account override changed", zap.String("parent_id", parentID), zap.String("actor_id", actorID), zap.Bool("enabled", enabled))
	return status, nil
}

// LinkStudent attaches a student to a parent and recomputes the parent's login flag.
func (s *ParentAccountService) LinkStudent(ctx context.Context, parentID string, req dto.LinkStudentRequest, actorID string) (*dto.ParentStatusContext, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid link payload")
	}
	relationship := req.Relationship
	if relationship == "" {
		relationship = "GUARDIAN"
	}

	status, err := s.withParentTx(ctx, parentID, actorID, &req.StudentID, func(tx *sqlx.Tx, actor *models.User, parent *models.ParentAccount) (*models.AuditRecord, error) {
		link := &models.ParentStudentLink{ParentID: parent.ID, StudentID: req.StudentID, Relationship: relationship}
		if err := s.parents.Link(ctx, tx, link); err != nil {
			return nil, txFailure(err, "failed to link student")
		}
		activation, skipped, err := s.reconciler.reconcile(ctx, tx, *parent)
		if err != nil {
			return nil, err
		}
		return parentRecord(actor, parent, models.AuditActionParentStudentLink, "Link Student",
			fmt.Sprintf("linked student %s to %s", req.StudentID, parent.FullName),
			map[string]any{"parentId": parent.ID, "studentId": req.StudentID, "relationship": relationship, "loginEnabled": activation.LoginEnabled, "overridePreserved": skipped})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("student linked to parent", zap.String("parent_id", parentID), zap.String("student_id", req.StudentID), zap.String("actor_id", actorID))
	return status, nil
}

// UnlinkStudent removes a parent/student link and recomputes the parent's login flag.
func (s *ParentAccountService) UnlinkStudent(ctx context.Context, parentID, studentID, actorID string) (*dto.ParentStatusContext, error) {
	status, err := s.withParentTx(ctx, parentID, actorID, &studentID, func(tx *sqlx.Tx, actor *models.User, parent *models.ParentAccount) (*models.AuditRecord, error) {
		if err := s.parents.Unlink(ctx, tx, parent.ID, studentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not linked to parent")
			}
			return nil, txFailure(err, "failed to unlink student")
		}
		activation, skipped, err := s.reconciler.reconcile(ctx, tx, *parent)
		if err != nil {
			return nil, err
		}
		return parentRecord(actor, parent, models.AuditActionParentStudentUnlink, "Unlink Student",
			fmt.Sprintf("unlinked student %s from %s", studentID, parent.FullName),
			map[string]any{"parentId": parent.ID, "studentId": studentID, "loginEnabled": activation.LoginEnabled, "overridePreserved": skipped})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("student unlinked from parent", zap.String("parent_id", parentID), zap.String("student_id", studentID), zap.String("actor_id", actorID))
	return status, nil
}

type parentMutation func(tx *sqlx.Tx, actor *models.User, parent *models.ParentAccount) (*models.AuditRecord, error)

// withParentTx resolves the actor, locks the student (when given) then the parent, runs
// fn, writes its audit record and commits. Lock order matches the cascade.
func (s *ParentAccountService) withParentTx(ctx context.Context, parentID, actorID string, studentID *string, fn parentMutation) (status *dto.ParentStatusContext, err error) {
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, txFailure(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	actor, err := resolveActor(ctx, s.users, tx, actorID)
	if err != nil {
		return nil, err
	}

	if studentID != nil {
		if _, err = s.students.FindForUpdate(ctx, tx, *studentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = appErrors.Clone(appErrors.ErrNotFound, "student not found")
				return nil, err
			}
			err = txFailure(err, "failed to lock student")
			return nil, err
		}
	}

	parent, err := s.parents.FindAccount(ctx, tx, parentID, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "parent not found")
			return nil, err
		}
		err = txFailure(err, "failed to lock parent")
		return nil, err
	}

	record, err := fn(tx, actor, parent)
	if err != nil {
		return nil, err
	}
	if err = s.audit.Create(ctx, tx, record); err != nil {
		err = txFailure(err, "failed to write audit record")
		return nil, err
	}

	status, err = s.loadStatus(ctx, tx, parentID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = txFailure(err, "failed to commit parent update")
		return nil, err
	}

	enqueueInvalidation(s.invalidator, s.logger, StatusInvalidation{ParentIDs: []string{parentID}})
	return status, nil
}

func parentRecord(actor *models.User, parent *models.ParentAccount, action, title, description string, meta map[string]any) (*models.AuditRecord, error) {
	return newAuditRecord(actor, action, title, description, parent.UserID, models.RoleParent, parent.FullName, meta)
}

func newAuditRecord(actor *models.User, action, title, description, targetUserID string, targetRole models.UserRole, targetName string, meta map[string]any) (*models.AuditRecord, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode audit metadata")
	}
	return &models.AuditRecord{
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		ActorName:    actor.FullName,
		Action:       action,
		Title:        title,
		Description:  description,
		TargetUserID: targetUserID,
		TargetRole:   targetRole,
		TargetName:   targetName,
		Metadata:     types.JSONText(payload),
	}, nil
}
