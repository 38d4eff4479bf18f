package models

import "time"

// EnrollmentStatus is the lifecycle state of a student.
type EnrollmentStatus string

// Closed set of enrollment statuses.
const (
	EnrollmentStatusActive      EnrollmentStatus = "ACTIVE"
	EnrollmentStatusGraduated   EnrollmentStatus = "GRADUATED"
	EnrollmentStatusTransferred EnrollmentStatus = "TRANSFERRED"
	EnrollmentStatusWithdrawn   EnrollmentStatus = "WITHDRAWN"
)

// EnrollmentStatuses lists every valid status in display order.
var EnrollmentStatuses = []EnrollmentStatus{
	EnrollmentStatusActive,
	EnrollmentStatusGraduated,
	EnrollmentStatusTransferred,
	EnrollmentStatusWithdrawn,
}

// Valid reports whether s belongs to the closed set. Comparison is case-sensitive.
func (s EnrollmentStatus) Valid() bool {
	for _, candidate := range EnrollmentStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Student represents a learner and the user account that owns its login.
type Student struct {
	ID               string           `db:"id" json:"id"`
	UserID           string           `db:"user_id" json:"user_id"`
	NIS              string           `db:"nis" json:"nis"`
	EnrollmentStatus EnrollmentStatus `db:"enrollment_status" json:"enrollment_status"`
	ExitDate         *time.Time       `db:"exit_date" json:"exit_date,omitempty"`
	ClassID          *string          `db:"class_id" json:"class_id,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// StudentAccount joins a student with the owning user's name and login flag.
type StudentAccount struct {
	Student
	FullName     string `db:"full_name" json:"full_name"`
	LoginEnabled bool   `db:"login_enabled" json:"login_enabled"`
}

// StudentStatusFilter narrows listing of students by lifecycle state.
type StudentStatusFilter struct {
	Status   EnrollmentStatus
	Page     int
	PageSize int
}

// StatusCount is one row of the per-status aggregate.
type StatusCount struct {
	Status EnrollmentStatus `db:"enrollment_status"`
	Total  int              `db:"total"`
}
