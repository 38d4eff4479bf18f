package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/models"
	"github.com/noah-isme/account-activation-api/pkg/cache"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
)

type studentStatusReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentAccount, error)
	ListByStatus(ctx context.Context, filter models.StudentStatusFilter) ([]models.StudentAccount, int, error)
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

// StudentStatusService serves read paths over student enrollment status.
type StudentStatusService struct {
	students  studentStatusReader
	presenter *StatusBadgePresenter
	cache     *CacheService
	cacheTTL  time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewStudentStatusService constructs a StudentStatusService.
func NewStudentStatusService(students studentStatusReader, cacheSvc *CacheService, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *StudentStatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentStatusService{
		students:  students,
		presenter: NewStatusBadgePresenter(),
		cache:     cacheSvc,
		cacheTTL:  cacheTTL,
		metrics:   metrics,
		logger:    logger,
	}
}

// Get returns the current status of one student.
func (s *StudentStatusService) Get(ctx context.Context, studentID string) (*dto.StudentStatusView, error) {
	student, err := s.students.FindByID(ctx, nil, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	view := s.view(*student)
	return &view, nil
}

// ListByStatus pages through students in one status.
func (s *StudentStatusService) ListByStatus(ctx context.Context, rawStatus string, page, size int) ([]dto.StudentStatusView, *models.Pagination, error) {
	status := models.EnrollmentStatus(rawStatus)
	if !status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidStatus, "invalid enrollment status "+rawStatus)
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	students, total, err := s.students.ListByStatus(ctx, models.StudentStatusFilter{Status: status, Page: page, PageSize: size})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	views := make([]dto.StudentStatusView, 0, len(students))
	for _, student := range students {
		views = append(views, s.view(student))
	}
	return views, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Stats aggregates students per status. The result is cached until the next committed transition.
func (s *StudentStatusService) Stats(ctx context.Context) (*dto.StatusStats, bool, error) {
	var cached dto.StatusStats
	if hit, _ := s.cache.Get(ctx, cache.KeyStatusStats, &cached); hit {
		return &cached, true, nil
	}

	start := time.Now()
	counts, err := s.students.CountByStatus(ctx)
	s.metrics.ObserveDBQuery("students_count_by_status", time.Since(start))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate student status")
	}

	stats := &dto.StatusStats{
		Counts:      make(map[models.EnrollmentStatus]int, len(models.EnrollmentStatuses)),
		Percentages: make(map[models.EnrollmentStatus]float64, len(models.EnrollmentStatuses)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, status := range models.EnrollmentStatuses {
		stats.Counts[status] = 0
	}
	for _, row := range counts {
		if !row.Status.Valid() {
			s.logger.Warn("ignoring unknown enrollment status in aggregate", zap.String("status", string(row.Status)))
			continue
		}
		stats.Counts[row.Status] += row.Total
		stats.Total += row.Total
	}
	for status, count := range stats.Counts {
		if stats.Total == 0 {
			stats.Percentages[status] = 0
			continue
		}
		stats.Percentages[status] = float64(count) * 100 / float64(stats.Total)
	}

	_ = s.cache.Set(ctx, cache.KeyStatusStats, stats, s.cacheTTL)
	return stats, false, nil
}

func (s *StudentStatusService) view(student models.StudentAccount) dto.StudentStatusView {
	return dto.StudentStatusView{
		StudentID:        student.ID,
		NIS:              student.NIS,
		FullName:         student.FullName,
		ClassID:          student.ClassID,
		EnrollmentStatus: student.EnrollmentStatus,
		ExitDate:         student.ExitDate,
		LoginEnabled:     student.LoginEnabled,
		Badge:            s.presenter.Present(student.EnrollmentStatus),
	}
}
