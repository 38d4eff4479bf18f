package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/models"
)

func TestPresentStudentBadges(t *testing.T) {
	p := NewStatusBadgePresenter()
	cases := map[models.EnrollmentStatus]struct{ label, color, icon string }{
		models.EnrollmentStatusActive:      {"Active", "green", "✅"},
		models.EnrollmentStatusGraduated:   {"Graduated", "gray", "🎓"},
		models.EnrollmentStatusTransferred: {"Transferred", "yellow", "↗️"},
		models.EnrollmentStatusWithdrawn:   {"Withdrawn", "red", "❌"},
	}
	for status, want := range cases {
		badge := p.Present(status)
		assert.Equal(t, want.label, badge.Label)
		assert.Equal(t, want.color, badge.Color)
		assert.Equal(t, want.icon, badge.Icon)
		assert.NotEmpty(t, badge.Description)
	}

	unknown := p.Present("SUSPENDED")
	assert.Equal(t, "Inactive", unknown.Label)
	assert.Equal(t, "red", unknown.Color)
}

func TestResolveParentDisplay(t *testing.T) {
	cases := []struct {
		name                          string
		children                      int
		hasActive, enabled, overridden bool
		status                        dto.ParentDisplayStatus
		badge                         dto.ParentBadge
	}{
		{name: "unlinked enabled", children: 0, enabled: true, status: dto.ParentDisplayActive, badge: dto.ParentBadgeUnlinked},
		{name: "unlinked disabled", children: 0, status: dto.ParentDisplayInactive, badge: dto.ParentBadgeUnlinked},
		{name: "active child", children: 2, hasActive: true, enabled: true, status: dto.ParentDisplayActive, badge: dto.ParentBadgeNone},
		{name: "disabled despite active child", children: 1, hasActive: true, status: dto.ParentDisplayActive, badge: dto.ParentBadgeAdminOverridden},
		{name: "override flag with active child", children: 1, hasActive: true, enabled: true, overridden: true, status: dto.ParentDisplayActive, badge: dto.ParentBadgeAdminOverridden},
		{name: "no active child", children: 2, status: dto.ParentDisplayInactive, badge: dto.ParentBadgeNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, badge := ResolveParentDisplay(tc.children, tc.hasActive, tc.enabled, tc.overridden)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.badge, badge)
		})
	}
}

func TestPresentParent(t *testing.T) {
	p := NewStatusBadgePresenter()

	active := p.PresentParent(dto.ParentDisplayActive, dto.ParentBadgeNone)
	assert.Equal(t, "emerald", active.Color)
	assert.Empty(t, active.BadgeLabel)

	locked := p.PresentParent(dto.ParentDisplayActive, dto.ParentBadgeAdminOverridden)
	assert.Equal(t, "purple", locked.Color)
	assert.Equal(t, "🔒", locked.BadgeIcon)
	assert.Equal(t, "Inactive", locked.Label)
	assert.Equal(t, "⛔", locked.Icon)

	display, badge := ResolveParentDisplay(1, true, false, true)
	resolved := p.PresentParent(display, badge)
	assert.Equal(t, dto.ParentBadgeAdminOverridden, badge)
	assert.Equal(t, "Inactive", resolved.Label)
	assert.Equal(t, "⛔", resolved.Icon)

	unlinked := p.PresentParent(dto.ParentDisplayInactive, dto.ParentBadgeUnlinked)
	assert.Equal(t, "red", unlinked.Color)
	assert.Equal(t, "⛔", unlinked.Icon)
	assert.Equal(t, "Not linked to any student", unlinked.BadgeDescription)
}
