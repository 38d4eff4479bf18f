package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-activation-api/internal/models"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
)

func newAccessFixture() (*activationWorld, *AccessService) {
	world := newActivationWorld()
	parents := worldParents{w: world}
	return world, NewAccessService(worldUsers{w: world}, worldStudents{w: world}, parents, NewParentActivationCalculator(parents), worldAudit{w: world})
}

func TestCheckUserAccessActiveStudent(t *testing.T) {
	world, svc := newAccessFixture()
	world.addStudent("s1", models.EnrollmentStatusActive)

	decision, err := svc.CheckUserAccess(context.Background(), "usr-s1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
	assert.Nil(t, decision.EnrollmentStatus)
}

func TestCheckUserAccessInactiveStudentReasons(t *testing.T) {
	world, svc := newAccessFixture()
	exit := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	world.addStudent("grad", models.EnrollmentStatusGraduated)
	world.students["grad"].ExitDate = &exit
	world.addStudent("moved", models.EnrollmentStatusTransferred)
	world.addStudent("out", models.EnrollmentStatusWithdrawn)

	decision, err := svc.CheckUserAccess(context.Background(), "usr-grad")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "graduated")
	require.NotNil(t, decision.EnrollmentStatus)
	assert.Equal(t, models.EnrollmentStatusGraduated, *decision.EnrollmentStatus)
	assert.Equal(t, &exit, decision.ExitDate)

	decision, err = svc.CheckUserAccess(context.Background(), "usr-moved")
	require.NoError(t, err)
	assert.Contains(t, decision.Reason, "transferred")

	decision, err = svc.CheckUserAccess(context.Background(), "usr-out")
	require.NoError(t, err)
	assert.Equal(t, "account inactive, contact the school administrator", decision.Reason)
}

func TestCheckUserAccessParentReasons(t *testing.T) {
	world, svc := newAccessFixture()
	world.addStudent("s1", models.EnrollmentStatusActive)
	world.addStudent("s2", models.EnrollmentStatusGraduated)
	world.addParent("locked", false, "s1")
	world.addParent("lapsed", false, "s2")
	world.addParent("open", true, "s1")

	decision, err := svc.CheckUserAccess(context.Background(), "usr-locked")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "account deactivated by admin", decision.Reason)

	decision, err = svc.CheckUserAccess(context.Background(), "usr-lapsed")
	require.NoError(t, err)
	assert.Contains(t, decision.Reason, "no linked student is active")

	decision, err = svc.CheckUserAccess(context.Background(), "usr-open")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckUserAccessStaff(t *testing.T) {
	world, svc := newAccessFixture()
	world.addUser("teacher-1", models.RoleTeacher, false)

	decision, err := svc.CheckUserAccess(context.Background(), "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, "account deactivated by admin", decision.Reason)

	decision, err = svc.CheckUserAccess(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckUserAccessUnknownUser(t *testing.T) {
	_, svc := newAccessFixture()
	_, err := svc.CheckUserAccess(context.Background(), "ghost")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestCanPerformAction(t *testing.T) {
	for _, status := range models.EnrollmentStatuses {
		active := status == models.EnrollmentStatusActive
		assert.Equal(t, active, CanPerformAction(status, ActionAddMemorization), status)
		assert.Equal(t, active, CanPerformAction(status, ActionSubmitRecitation), status)
		assert.Equal(t, active, CanPerformAction(status, ActionUpdateAttendance), status)
		assert.True(t, CanPerformAction(status, ActionViewHistory), status)
		assert.True(t, CanPerformAction(status, ActionViewGrade), status)
		assert.True(t, CanPerformAction(status, ActionViewProfile), status)
		assert.Equal(t, active, CanPerformAction(status, "export_transcript"), status)
	}
}

func TestAccessHistoryNewestFirst(t *testing.T) {
	world, svc := newAccessFixture()
	world.addStudent("s1", models.EnrollmentStatusActive)
	world.addStudent("s2", models.EnrollmentStatusActive)
	world.audits = []models.AuditRecord{
		{ID: "a1", TargetUserID: "usr-s1", Action: models.AuditActionStudentStatusTransition},
		{ID: "a2", TargetUserID: "usr-s2", Action: models.AuditActionStudentStatusTransition},
		{ID: "a3", TargetUserID: "usr-s1", Action: models.AuditActionAccountReconciled},
	}

	records, err := svc.History(context.Background(), "usr-s1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a3", records[0].ID)
	assert.Equal(t, "a1", records[1].ID)

	records, err = svc.History(context.Background(), "usr-s2", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestAccessHistoryEmptyAndUnknownUser(t *testing.T) {
	world, svc := newAccessFixture()
	world.addStudent("s1", models.EnrollmentStatusActive)

	records, err := svc.History(context.Background(), "usr-s1", 10)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	_, err = svc.History(context.Background(), "ghost", 10)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
