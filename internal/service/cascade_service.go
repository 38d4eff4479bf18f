package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/models"
	"github.com/noah-isme/account-activation-api/pkg/config"
	"github.com/noah-isme/account-activation-api/pkg/database"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type cascadeStudentRepository interface {
	studentLocker
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, exitDate *time.Time) error
}

type userAccountRepository interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error)
	SetLoginEnabled(ctx context.Context, exec sqlx.ExtContext, id string, enabled bool) error
}

type linkedParentRepository interface {
	LockLinkedToStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.ParentAccount, error)
	ListLinkedParentIDs(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]string, error)
	ClearOverride(ctx context.Context, exec sqlx.ExtContext, parentID string) error
}

type auditWriter interface {
	Create(ctx context.Context, exec sqlx.ExtContext, record *models.AuditRecord) error
}

// CascadeService applies student status transitions and propagates them to dependent
// accounts in a single transaction.
type CascadeService struct {
	tx          txProvider
	students    cascadeStudentRepository
	users       userAccountRepository
	parents     linkedParentRepository
	audit       auditWriter
	statuses    *StatusTransitionValidator
	reconciler  parentReconciler
	presenter   *StatusBadgePresenter
	invalidator invalidationQueue
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         config.CascadeConfig
	now         func() time.Time
}

// NewCascadeService wires the cascade engine.
func NewCascadeService(
	tx txProvider,
	students cascadeStudentRepository,
	users userAccountRepository,
	parents linkedParentRepository,
	audit auditWriter,
	calculator *ParentActivationCalculator,
	invalidator invalidationQueue,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg config.CascadeConfig,
) *CascadeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.OverridePolicy == "" {
		cfg.OverridePolicy = config.OverridePolicyPreserve
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 1
	}
	if cfg.BulkMaxIDs <= 0 {
		cfg.BulkMaxIDs = 500
	}
	return &CascadeService{
		tx:          tx,
		students:    students,
		users:       users,
		parents:     parents,
		audit:       audit,
		statuses:    NewStatusTransitionValidator(students),
		reconciler:  parentReconciler{calculator: calculator, users: users, overrides: parents, policy: cfg.OverridePolicy},
		presenter:   NewStatusBadgePresenter(),
		invalidator: invalidator,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// TransitionStudentStatus moves a student to the requested status and, in the same
// transaction, updates the student's login flag, recomputes linked parents when the
// ACTIVE boundary is crossed and writes one audit record.
func (s *CascadeService) TransitionStudentStatus(ctx context.Context, studentID, requested, actorID string) (*dto.TransitionResult, error) {
	start := time.Now()

	if _, err := s.statuses.ParseStatus(requested); err != nil {
		s.metrics.ObserveCascade(CascadeResultRejected, time.Since(start), 0, 0)
		return nil, err
	}
	if strings.TrimSpace(actorID) == "" {
		s.metrics.ObserveCascade(CascadeResultRejected, time.Since(start), 0, 0)
		return nil, appErrors.Clone(appErrors.ErrAttributionMissing, "actor is required")
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}

	var (
		result  *dto.TransitionResult
		touched []string
		err     error
	)
	for attempt := 0; ; attempt++ {
		result, touched, err = s.transition(ctx, studentID, requested, actorID)
		if err == nil || attempt >= s.cfg.MaxRetries || !database.IsConcurrencyConflict(err) {
			break
		}
		s.metrics.IncCascadeRetry()
		s.logger.Warn("status transition lost a concurrency race, retrying",
			zap.String("student_id", studentID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	if err != nil {
		outcome := CascadeResultRejected
		if appErrors.IsRetryable(err) {
			outcome = CascadeResultFailed
			s.logger.Error("status transition failed", zap.String("student_id", studentID), zap.String("actor_id", actorID), zap.Error(err))
		}
		s.metrics.ObserveCascade(outcome, time.Since(start), 0, 0)
		return nil, err
	}

	s.metrics.ObserveCascade(CascadeResultCommitted, time.Since(start), len(result.ParentsRecomputed), len(result.ParentsSkipped))

	enqueueInvalidation(s.invalidator, s.logger, StatusInvalidation{Stats: true, ParentIDs: touched})

	s.logger.Info("student status transitioned",
		zap.String("student_id", studentID),
		zap.String("actor_id", actorID),
		zap.String("from", string(result.PreviousStatus)),
		zap.String("to", string(result.EnrollmentStatus)),
		zap.Int("parents_recomputed", len(result.ParentsRecomputed)),
		zap.Int("parents_skipped", len(result.ParentsSkipped)),
	)
	return result, nil
}

// transition runs one attempt. It also returns every parent whose cached status
// shows the student, recomputed or not.
func (s *CascadeService) transition(ctx context.Context, studentID, requested, actorID string) (result *dto.TransitionResult, touched []string, err error) {
	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: s.cfg.Isolation})
	if err != nil {
		return nil, nil, txFailure(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	actor, err := resolveActor(ctx, s.users, tx, actorID)
	if err != nil {
		return nil, nil, err
	}

	transition, err := s.statuses.Validate(ctx, tx, studentID, requested)
	if err != nil {
		return nil, nil, err
	}
	student := transition.Student
	willBeActive := transition.To == models.EnrollmentStatusActive

	exitDate := student.ExitDate
	switch {
	case willBeActive:
		exitDate = nil
	case transition.From != transition.To || exitDate == nil:
		now := s.now()
		exitDate = &now
	}

	if err = s.students.UpdateStatus(ctx, tx, student.ID, transition.To, exitDate); err != nil {
		return nil, nil, txFailure(err, "failed to update student status")
	}
	if err = s.users.SetLoginEnabled(ctx, tx, student.UserID, willBeActive); err != nil {
		return nil, nil, txFailure(err, "failed to update student account")
	}

	var (
		recomputed []dto.ParentActivation
		skipped    []string
	)
	if transition.CrossesActiveBoundary() {
		recomputed, skipped, err = s.recomputeParents(ctx, tx, student.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range recomputed {
			touched = append(touched, p.ParentID)
		}
		touched = append(touched, skipped...)
	} else {
		touched, err = s.parents.ListLinkedParentIDs(ctx, tx, student.ID)
		if err != nil {
			return nil, nil, txFailure(err, "failed to list linked parents")
		}
	}

	record, err := s.transitionRecord(actor, transition, recomputed, skipped)
	if err != nil {
		return nil, nil, err
	}
	if err = s.audit.Create(ctx, tx, record); err != nil {
		return nil, nil, txFailure(err, "failed to write audit record")
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, txFailure(err, "failed to commit status transition")
	}

	result = &dto.TransitionResult{
		StudentID:         student.ID,
		NIS:               student.NIS,
		FullName:          student.FullName,
		PreviousStatus:    transition.From,
		EnrollmentStatus:  transition.To,
		ExitDate:          exitDate,
		LoginEnabled:      willBeActive,
		Badge:             s.presenter.Present(transition.To),
		ParentsRecomputed: recomputed,
		ParentsSkipped:    skipped,
	}
	return result, touched, nil
}

// recomputeParents locks every linked parent and writes the flag derived from the
// student set visible inside tx.
func (s *CascadeService) recomputeParents(ctx context.Context, tx sqlx.ExtContext, studentID string) ([]dto.ParentActivation, []string, error) {
	parents, err := s.parents.LockLinkedToStudent(ctx, tx, studentID)
	if err != nil {
		return nil, nil, txFailure(err, "failed to lock linked parents")
	}

	var (
		recomputed = make([]dto.ParentActivation, 0, len(parents))
		skipped    []string
	)
	for _, parent := range parents {
		activation, skip, err := s.reconciler.reconcile(ctx, tx, parent)
		if err != nil {
			return nil, nil, err
		}
		if skip {
			skipped = append(skipped, parent.ID)
			continue
		}
		recomputed = append(recomputed, activation)
	}
	return recomputed, skipped, nil
}

func (s *CascadeService) transitionRecord(actor *models.User, t *ValidatedTransition, recomputed []dto.ParentActivation, skipped []string) (*models.AuditRecord, error) {
	meta := models.StatusTransitionMetadata{
		StudentID:      t.Student.ID,
		OldStatus:      t.From,
		NewStatus:      t.To,
		ParentsSkipped: skipped,
	}
	for _, p := range recomputed {
		meta.ParentsRecomputed = append(meta.ParentsRecomputed, p.ParentID)
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode audit metadata")
	}
	return &models.AuditRecord{
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		ActorName:    actor.FullName,
		Action:       models.AuditActionStudentStatusTransition,
		Title:        "Update Student Status",
		Description:  fmt.Sprintf("changed status of %s (%s) from %s to %s", t.Student.FullName, t.Student.NIS, t.From, t.To),
		TargetUserID: t.Student.UserID,
		TargetRole:   models.RoleStudent,
		TargetName:   t.Student.FullName,
		Metadata:     types.JSONText(payload),
	}, nil
}

// BulkTransition applies one status to many students. Every id runs in its own
// transaction; failures are collected per id and never roll back other ids.
func (s *CascadeService) BulkTransition(ctx context.Context, req dto.BulkTransitionRequest, actorID string) (*dto.BulkTransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk transition payload")
	}
	if _, err := s.statuses.ParseStatus(req.Status); err != nil {
		return nil, err
	}
	if strings.TrimSpace(actorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrAttributionMissing, "actor is required")
	}

	ids := uniqueIDs(req.StudentIDs)
	if len(ids) > s.cfg.BulkMaxIDs {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d students per request", s.cfg.BulkMaxIDs))
	}

	succeeded := make([]*dto.TransitionResult, len(ids))
	failed := make([]*dto.BulkTransitionFailure, len(ids))

	var g errgroup.Group
	g.SetLimit(s.cfg.BulkConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			res, err := s.TransitionStudentStatus(ctx, id, req.Status, actorID)
			if err != nil {
				appErr := appErrors.FromError(err)
				failed[i] = &dto.BulkTransitionFailure{
					StudentID: id,
					Code:      appErr.Code,
					Message:   appErr.Message,
					Retryable: appErrors.IsRetryable(err),
				}
				return nil
			}
			succeeded[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := &dto.BulkTransitionResult{
		Succeeded: make([]dto.TransitionResult, 0, len(ids)),
		Failed:    make([]dto.BulkTransitionFailure, 0),
	}
	for i := range ids {
		if succeeded[i] != nil {
			out.Succeeded = append(out.Succeeded, *succeeded[i])
		}
		if failed[i] != nil {
			out.Failed = append(out.Failed, *failed[i])
		}
	}

	s.logger.Info("bulk status transition finished",
		zap.String("actor_id", actorID),
		zap.String("to", req.Status),
		zap.Int("requested", len(ids)),
		zap.Int("succeeded", len(out.Succeeded)),
		zap.Int("failed", len(out.Failed)),
	)
	return out, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func resolveActor(ctx context.Context, users userAccountRepository, exec sqlx.ExtContext, actorID string) (*models.User, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrAttributionMissing, "actor is required")
	}
	actor, err := users.FindByID(ctx, exec, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrAttributionMissing, "actor not found")
		}
		return nil, txFailure(err, "failed to resolve actor")
	}
	return actor, nil
}

func txFailure(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrTransactionFailure.Code, appErrors.ErrTransactionFailure.Status, message)
}
