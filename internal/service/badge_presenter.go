package service

import (
	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/models"
)

var studentBadges = map[models.EnrollmentStatus]dto.StatusBadge{
	models.EnrollmentStatusActive:      {Label: "Active", Color: "green", Icon: "✅", Description: "Currently enrolled"},
	models.EnrollmentStatusGraduated:   {Label: "Graduated", Color: "gray", Icon: "🎓", Description: "Completed studies"},
	models.EnrollmentStatusTransferred: {Label: "Transferred", Color: "yellow", Icon: "↗️", Description: "Moved to another school"},
	models.EnrollmentStatusWithdrawn:   {Label: "Withdrawn", Color: "red", Icon: "❌", Description: "No longer enrolled"},
}

var inactiveBadge = dto.StatusBadge{Label: "Inactive", Color: "red", Icon: "❌", Description: "Account inactive"}

// StatusBadgePresenter maps statuses to display metadata. It never fails.
type StatusBadgePresenter struct{}

// NewStatusBadgePresenter constructs a presenter.
func NewStatusBadgePresenter() *StatusBadgePresenter {
	return &StatusBadgePresenter{}
}

// Present returns the badge for a student enrollment status; unknown values render as inactive.
func (StatusBadgePresenter) Present(status models.EnrollmentStatus) dto.StatusBadge {
	if badge, ok := studentBadges[status]; ok {
		return badge
	}
	return inactiveBadge
}

// PresentParent returns display metadata for a parent status qualified by a badge.
func (StatusBadgePresenter) PresentParent(status dto.ParentDisplayStatus, badge dto.ParentBadge) dto.ParentStatusPresentation {
	var p dto.ParentStatusPresentation
	if status == dto.ParentDisplayActive {
		p = dto.ParentStatusPresentation{Label: "Active", Color: "emerald", Icon: "✅"}
	} else {
		p = dto.ParentStatusPresentation{Label: "Inactive", Color: "red", Icon: "⛔"}
	}

	switch badge {
	case dto.ParentBadgeUnlinked:
		p.BadgeLabel = "Unlinked"
		p.BadgeIcon = "🔗"
		p.BadgeDescription = "Not linked to any student"
	case dto.ParentBadgeAdminOverridden:
		p.BadgeLabel = "Deactivated by admin"
		p.BadgeIcon = "🔒"
		p.BadgeDescription = "Account disabled by an administrator despite an active child"
		p.Label = "Inactive"
		p.Color = "purple"
		p.Icon = "⛔"
	}
	return p
}

// ResolveParentDisplay derives the coarse status and badge for a parent.
func ResolveParentDisplay(childrenCount int, hasActiveChild, loginEnabled, adminOverride bool) (dto.ParentDisplayStatus, dto.ParentBadge) {
	switch {
	case childrenCount == 0:
		if loginEnabled {
			return dto.ParentDisplayActive, dto.ParentBadgeUnlinked
		}
		return dto.ParentDisplayInactive, dto.ParentBadgeUnlinked
	case hasActiveChild:
		if !loginEnabled || adminOverride {
			return dto.ParentDisplayActive, dto.ParentBadgeAdminOverridden
		}
		return dto.ParentDisplayActive, dto.ParentBadgeNone
	default:
		return dto.ParentDisplayInactive, dto.ParentBadgeNone
	}
}
