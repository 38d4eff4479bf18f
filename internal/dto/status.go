package dto

import (
	"time"

	"github.com/noah-isme/account-activation-api/internal/models"
)

// StatusBadge is display metadata for an enrollment status.
type StatusBadge struct {
	Label       string `json:"label"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// ParentBadge qualifies a parent's display status.
type ParentBadge string

const (
	ParentBadgeNone            ParentBadge = "NONE"
	ParentBadgeUnlinked        ParentBadge = "UNLINKED"
	ParentBadgeAdminOverridden ParentBadge = "ADMIN_OVERRIDDEN"
)

// ParentDisplayStatus is the coarse state shown for parent accounts.
type ParentDisplayStatus string

const (
	ParentDisplayActive   ParentDisplayStatus = "ACTIVE"
	ParentDisplayInactive ParentDisplayStatus = "INACTIVE"
)

// ParentStatusPresentation is display metadata for a parent status and badge.
type ParentStatusPresentation struct {
	Label            string `json:"label"`
	Color            string `json:"color"`
	Icon             string `json:"icon"`
	BadgeLabel       string `json:"badge_label,omitempty"`
	BadgeIcon        string `json:"badge_icon,omitempty"`
	BadgeDescription string `json:"badge_description,omitempty"`
}

// TransitionStatusRequest is the body of a single student status change.
type TransitionStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// TransitionResult is returned after a committed cascade.
type TransitionResult struct {
	StudentID         string                  `json:"student_id"`
	NIS               string                  `json:"nis"`
	FullName          string                  `json:"full_name"`
	PreviousStatus    models.EnrollmentStatus `json:"previous_status"`
	EnrollmentStatus  models.EnrollmentStatus `json:"enrollment_status"`
	ExitDate          *time.Time              `json:"exit_date"`
	LoginEnabled      bool                    `json:"login_enabled"`
	Badge             StatusBadge             `json:"badge"`
	ParentsRecomputed []ParentActivation      `json:"parents_recomputed,omitempty"`
	ParentsSkipped    []string                `json:"parents_skipped,omitempty"`
}

// ParentActivation reports the flag written for one parent during a cascade.
type ParentActivation struct {
	ParentID     string `json:"parent_id"`
	UserID       string `json:"user_id"`
	LoginEnabled bool   `json:"login_enabled"`
}

// BulkTransitionRequest applies one status to many students.
type BulkTransitionRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,required"`
	Status     string   `json:"status" validate:"required"`
}

// BulkTransitionFailure describes one rejected id in a bulk run.
type BulkTransitionFailure struct {
	StudentID string `json:"student_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// BulkTransitionResult collects per-id outcomes; each id committed independently.
type BulkTransitionResult struct {
	Succeeded []TransitionResult      `json:"succeeded"`
	Failed    []BulkTransitionFailure `json:"failed"`
}

// StudentStatusView is the read model of a student's current status.
type StudentStatusView struct {
	StudentID        string                  `json:"student_id"`
	NIS              string                  `json:"nis"`
	FullName         string                  `json:"full_name"`
	ClassID          *string                 `json:"class_id,omitempty"`
	EnrollmentStatus models.EnrollmentStatus `json:"enrollment_status"`
	ExitDate         *time.Time              `json:"exit_date"`
	LoginEnabled     bool                    `json:"login_enabled"`
	Badge            StatusBadge             `json:"badge"`
}

// StatusStats aggregates students per enrollment status.
type StatusStats struct {
	Counts      map[models.EnrollmentStatus]int     `json:"counts"`
	Percentages map[models.EnrollmentStatus]float64 `json:"percentages"`
	Total       int                                 `json:"total"`
	GeneratedAt time.Time                           `json:"generated_at"`
}

// ParentStatusContext is the computed status of a parent account for displays.
type ParentStatusContext struct {
	ParentID        string                   `json:"parent_id"`
	FullName        string                   `json:"full_name"`
	LoginEnabled    bool                     `json:"login_enabled"`
	DisplayStatus   ParentDisplayStatus      `json:"display_status"`
	HasActiveChild  bool                     `json:"has_active_child"`
	ChildrenCount   int                      `json:"children_count"`
	Children        []models.LinkedChild     `json:"children"`
	AdminOverridden bool                     `json:"admin_overridden"`
	Badge           ParentBadge              `json:"badge"`
	Presentation    ParentStatusPresentation `json:"presentation"`
}

// SetParentAccountRequest toggles a parent account by admin action.
type SetParentAccountRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// LinkStudentRequest attaches a student to a parent.
type LinkStudentRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	Relationship string `json:"relationship" validate:"omitempty,max=32"`
}

// AccessDecision explains whether a user may currently sign in.
type AccessDecision struct {
	UserID           string                   `json:"user_id"`
	Role             models.UserRole          `json:"role"`
	Allowed          bool                     `json:"allowed"`
	Reason           string                   `json:"reason,omitempty"`
	EnrollmentStatus *models.EnrollmentStatus `json:"enrollment_status,omitempty"`
	ExitDate         *time.Time               `json:"exit_date,omitempty"`
}

// DriftedAccount is an account whose login flag disagrees with the derived rule.
type DriftedAccount struct {
	Kind         models.UserRole `json:"kind"`
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	FullName     string          `json:"full_name"`
	LoginEnabled bool            `json:"login_enabled"`
	Expected     bool            `json:"expected"`
	Repaired     bool            `json:"repaired"`
	Error        string          `json:"error,omitempty"`
}

// SweepReport summarises one consistency sweep.
type SweepReport struct {
	Applied  bool             `json:"applied"`
	Students []DriftedAccount `json:"students"`
	Parents  []DriftedAccount `json:"parents"`
	Repaired int              `json:"repaired"`
	Failed   int              `json:"failed"`
}
