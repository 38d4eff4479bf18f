package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-activation-api/internal/models"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
)

func TestParseStatusAcceptsClosedSet(t *testing.T) {
	v := NewStatusTransitionValidator(nil)
	for _, status := range models.EnrollmentStatuses {
		got, err := v.ParseStatus(string(status))
		require.NoError(t, err)
		assert.Equal(t, status, got)
	}
	for _, raw := range []string{"", "active", "SUSPENDED", " ACTIVE"} {
		_, err := v.ParseStatus(raw)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidStatus), raw)
	}
}

func TestValidateLoadsLockedStudent(t *testing.T) {
	world := newActivationWorld()
	world.addStudent("s1", models.EnrollmentStatusTransferred)
	v := NewStatusTransitionValidator(worldStudents{w: world})

	tr, err := v.Validate(context.Background(), nil, "s1", "ACTIVE")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusTransferred, tr.From)
	assert.Equal(t, models.EnrollmentStatusActive, tr.To)
	assert.True(t, tr.CrossesActiveBoundary())

	_, err = v.Validate(context.Background(), nil, "missing", "ACTIVE")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = v.Validate(context.Background(), nil, "", "ACTIVE")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestCrossesActiveBoundary(t *testing.T) {
	cases := []struct {
		from, to models.EnrollmentStatus
		want     bool
	}{
		{models.EnrollmentStatusActive, models.EnrollmentStatusWithdrawn, true},
		{models.EnrollmentStatusGraduated, models.EnrollmentStatusActive, true},
		{models.EnrollmentStatusActive, models.EnrollmentStatusActive, false},
		{models.EnrollmentStatusGraduated, models.EnrollmentStatusTransferred, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidatedTransition{From: tc.from, To: tc.to}.CrossesActiveBoundary(), "%s->%s", tc.from, tc.to)
	}
}
