package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-activation-api/internal/dto"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
)

type parentServiceMock struct {
	resp        *dto.ParentStatusContext
	err         error
	lastEnabled *bool
	lastLink    dto.LinkStudentRequest
	lastUnlink  string
	lastActor   string
}

func (m *parentServiceMock) Status(ctx context.Context, parentID string) (*dto.ParentStatusContext, error) {
	return m.resp, m.err
}

func (m *parentServiceMock) SetAccountEnabled(ctx context.Context, parentID string, req dto.SetParentAccountRequest, actorID string) (*dto.ParentStatusContext, error) {
	m.lastEnabled, m.lastActor = req.Enabled, actorID
	return m.resp, m.err
}

func (m *parentServiceMock) LinkStudent(ctx context.Context, parentID string, req dto.LinkStudentRequest, actorID string) (*dto.ParentStatusContext, error) {
	m.lastLink, m.lastActor = req, actorID
	return m.resp, m.err
}

func (m *parentServiceMock) UnlinkStudent(ctx context.Context, parentID, studentID, actorID string) (*dto.ParentStatusContext, error) {
	m.lastUnlink, m.lastActor = studentID, actorID
	return m.resp, m.err
}

func TestParentHandlerSetAccountDisable(t *testing.T) {
	mockSvc := &parentServiceMock{resp: &dto.ParentStatusContext{ParentID: "par-1", AdminOverridden: true}}
	handler := NewParentHandler(mockSvc)

	c, w := newAdminContext(http.MethodPut, "/parents/par-1/account", []byte(`{"enabled":false}`))
	c.Params = gin.Params{{Key: "id", Value: "par-1"}}
	handler.SetAccount(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.lastEnabled)
	assert.False(t, *mockSvc.lastEnabled)
	assert.Equal(t, "admin-1", mockSvc.lastActor)
}

func TestParentHandlerLinkCreated(t *testing.T) {
	mockSvc := &parentServiceMock{resp: &dto.ParentStatusContext{ParentID: "par-1"}}
	handler := NewParentHandler(mockSvc)

	c, w := newAdminContext(http.MethodPost, "/parents/par-1/students", []byte(`{"student_id":"stu-1","relationship":"MOTHER"}`))
	c.Params = gin.Params{{Key: "id", Value: "par-1"}}
	handler.Link(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "stu-1", mockSvc.lastLink.StudentID)
}

func TestParentHandlerUnlinkNotFound(t *testing.T) {
	mockSvc := &parentServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "student is not linked to parent")}
	handler := NewParentHandler(mockSvc)

	c, w := newAdminContext(http.MethodDelete, "/parents/par-1/students/stu-9", nil)
	c.Params = gin.Params{{Key: "id", Value: "par-1"}, {Key: "studentId", Value: "stu-9"}}
	handler.Unlink(c)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "stu-9", mockSvc.lastUnlink)
}

func TestParentHandlerStatus(t *testing.T) {
	mockSvc := &parentServiceMock{resp: &dto.ParentStatusContext{ParentID: "par-1", Badge: dto.ParentBadgeUnlinked}}
	handler := NewParentHandler(mockSvc)

	c, w := newAdminContext(http.MethodGet, "/parents/par-1/status", nil)
	handler.Status(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "UNLINKED")
}
