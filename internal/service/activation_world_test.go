package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-activation-api/internal/models"
	"github.com/noah-isme/account-activation-api/pkg/jobs"
)

// activationWorld is an in-memory store backing the stub repositories below.
type activationWorld struct {
	mu       sync.Mutex
	users    map[string]*models.User
	students map[string]*models.Student
	parents  map[string]*models.Parent
	links    map[string]map[string]string // parent id -> student id -> relationship
	audits   []models.AuditRecord

	auditErrs []error
	countErr  error
}

func newActivationWorld() *activationWorld {
	w := &activationWorld{
		users:    map[string]*models.User{},
		students: map[string]*models.Student{},
		parents:  map[string]*models.Parent{},
		links:    map[string]map[string]string{},
	}
	w.addUser("admin-1", models.RoleAdmin, true)
	return w
}

func (w *activationWorld) addUser(id string, role models.UserRole, enabled bool) {
	w.users[id] = &models.User{ID: id, Role: role, FullName: "User " + id, LoginEnabled: enabled}
}

func (w *activationWorld) addStudent(id string, status models.EnrollmentStatus) {
	userID := "usr-" + id
	w.addUser(userID, models.RoleStudent, status == models.EnrollmentStatusActive)
	w.students[id] = &models.Student{ID: id, UserID: userID, NIS: "nis-" + id, EnrollmentStatus: status}
}

func (w *activationWorld) addParent(id string, enabled bool, children ...string) {
	userID := "usr-" + id
	w.addUser(userID, models.RoleParent, enabled)
	w.parents[id] = &models.Parent{ID: id, UserID: userID}
	w.links[id] = map[string]string{}
	for _, child := range children {
		w.links[id][child] = "GUARDIAN"
	}
}

func (w *activationWorld) loginEnabled(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.users[userID].LoginEnabled
}

func (w *activationWorld) student(id string) models.Student {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.students[id]
}

func (w *activationWorld) auditCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.audits)
}

func (w *activationWorld) account(id string) *models.StudentAccount {
	st := w.students[id]
	u := w.users[st.UserID]
	return &models.StudentAccount{Student: *st, FullName: u.FullName, LoginEnabled: u.LoginEnabled}
}

func (w *activationWorld) parentAccount(id string) *models.ParentAccount {
	p := w.parents[id]
	u := w.users[p.UserID]
	return &models.ParentAccount{Parent: *p, FullName: u.FullName, LoginEnabled: u.LoginEnabled}
}

type worldStudents struct{ w *activationWorld }

func (s worldStudents) FindForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentAccount, error) {
	return s.FindByID(ctx, exec, id)
}

func (s worldStudents) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentAccount, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if _, ok := s.w.students[id]; !ok {
		return nil, sql.ErrNoRows
	}
	return s.w.account(id), nil
}

func (s worldStudents) FindByUserID(ctx context.Context, userID string) (*models.StudentAccount, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	for id, st := range s.w.students {
		if st.UserID == userID {
			return s.w.account(id), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s worldStudents) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, exitDate *time.Time) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	st, ok := s.w.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	st.EnrollmentStatus = status
	st.ExitDate = exitDate
	return nil
}

func (s worldStudents) ListByStatus(ctx context.Context, filter models.StudentStatusFilter) ([]models.StudentAccount, int, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	var out []models.StudentAccount
	for id, st := range s.w.students {
		if st.EnrollmentStatus == filter.Status {
			out = append(out, *s.w.account(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s worldStudents) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	counts := map[models.EnrollmentStatus]int{}
	for _, st := range s.w.students {
		counts[st.EnrollmentStatus]++
	}
	var out []models.StatusCount
	for status, total := range counts {
		out = append(out, models.StatusCount{Status: status, Total: total})
	}
	return out, nil
}

func (s worldStudents) ListLoginDrift(ctx context.Context, limit int) ([]models.StudentAccount, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	var out []models.StudentAccount
	for id, st := range s.w.students {
		if s.w.users[st.UserID].LoginEnabled != (st.EnrollmentStatus == models.EnrollmentStatusActive) {
			out = append(out, *s.w.account(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type worldUsers struct{ w *activationWorld }

func (u worldUsers) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error) {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	user, ok := u.w.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *user
	return &clone, nil
}

func (u worldUsers) SetLoginEnabled(ctx context.Context, exec sqlx.ExtContext, id string, enabled bool) error {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	user, ok := u.w.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.LoginEnabled = enabled
	return nil
}

type worldParents struct{ w *activationWorld }

func (p worldParents) FindAccount(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.ParentAccount, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	if _, ok := p.w.parents[id]; !ok {
		return nil, sql.ErrNoRows
	}
	return p.w.parentAccount(id), nil
}

func (p worldParents) FindByUserID(ctx context.Context, userID string) (*models.ParentAccount, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	for id, parent := range p.w.parents {
		if parent.UserID == userID {
			return p.w.parentAccount(id), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (p worldParents) LockLinkedToStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.ParentAccount, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	var out []models.ParentAccount
	for parentID, children := range p.w.links {
		if _, ok := children[studentID]; ok {
			out = append(out, *p.w.parentAccount(parentID))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p worldParents) ListLinkedParentIDs(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]string, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	var ids []string
	for parentID, children := range p.w.links {
		if _, ok := children[studentID]; ok {
			ids = append(ids, parentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (p worldParents) CountActiveChildren(ctx context.Context, exec sqlx.ExtContext, parentID string) (int, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	if p.w.countErr != nil {
		return 0, p.w.countErr
	}
	total := 0
	for studentID := range p.w.links[parentID] {
		if p.w.students[studentID].EnrollmentStatus == models.EnrollmentStatusActive {
			total++
		}
	}
	return total, nil
}

func (p worldParents) ListChildren(ctx context.Context, exec sqlx.ExtContext, parentID string) ([]models.LinkedChild, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	var out []models.LinkedChild
	for studentID, rel := range p.w.links[parentID] {
		st := p.w.students[studentID]
		out = append(out, models.LinkedChild{StudentID: studentID, NIS: st.NIS, Relationship: rel, EnrollmentStatus: st.EnrollmentStatus})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (p worldParents) SetOverride(ctx context.Context, exec sqlx.ExtContext, parentID, actorID string, at time.Time) error {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	parent := p.w.parents[parentID]
	parent.AdminOverride = true
	parent.OverrideBy = &actorID
	parent.OverrideAt = &at
	return nil
}

func (p worldParents) ClearOverride(ctx context.Context, exec sqlx.ExtContext, parentID string) error {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	parent := p.w.parents[parentID]
	parent.AdminOverride = false
	parent.OverrideBy = nil
	parent.OverrideAt = nil
	return nil
}

func (p worldParents) Link(ctx context.Context, exec sqlx.ExtContext, link *models.ParentStudentLink) error {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	if p.w.links[link.ParentID] == nil {
		p.w.links[link.ParentID] = map[string]string{}
	}
	p.w.links[link.ParentID][link.StudentID] = link.Relationship
	return nil
}

func (p worldParents) Unlink(ctx context.Context, exec sqlx.ExtContext, parentID, studentID string) error {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	if _, ok := p.w.links[parentID][studentID]; !ok {
		return sql.ErrNoRows
	}
	delete(p.w.links[parentID], studentID)
	return nil
}

func (p worldParents) ListLoginDrift(ctx context.Context, limit int) ([]models.ParentAccount, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	var out []models.ParentAccount
	for id, parent := range p.w.parents {
		children := p.w.links[id]
		if parent.AdminOverride || len(children) == 0 {
			continue
		}
		active := false
		for studentID := range children {
			if p.w.students[studentID].EnrollmentStatus == models.EnrollmentStatusActive {
				active = true
			}
		}
		if p.w.users[parent.UserID].LoginEnabled != active {
			out = append(out, *p.w.parentAccount(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type worldAudit struct{ w *activationWorld }

func (a worldAudit) Create(ctx context.Context, exec sqlx.ExtContext, record *models.AuditRecord) error {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	if len(a.w.auditErrs) > 0 {
		err := a.w.auditErrs[0]
		a.w.auditErrs = a.w.auditErrs[1:]
		if err != nil {
			return err
		}
	}
	a.w.audits = append(a.w.audits, *record)
	return nil
}

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (*txProviderMock, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (a worldAudit) ListByTarget(ctx context.Context, targetUserID string, limit int) ([]models.AuditRecord, error) {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	var out []models.AuditRecord
	for i := len(a.w.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if a.w.audits[i].TargetUserID == targetUserID {
			out = append(out, a.w.audits[i])
		}
	}
	return out, nil
}
