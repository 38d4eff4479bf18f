package models

import "time"

// Parent is a guardian account. Its login eligibility is derived from linked students.
type Parent struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	AdminOverride bool       `db:"admin_override" json:"admin_override"`
	OverrideBy    *string    `db:"override_by" json:"override_by,omitempty"`
	OverrideAt    *time.Time `db:"override_at" json:"override_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// ParentAccount joins a parent with the owning user's name and login flag.
type ParentAccount struct {
	Parent
	FullName     string `db:"full_name" json:"full_name"`
	LoginEnabled bool   `db:"login_enabled" json:"login_enabled"`
}

// ParentStudentLink is one row of the parent/student many-to-many join.
type ParentStudentLink struct {
	ParentID     string    `db:"parent_id" json:"parent_id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	Relationship string    `db:"relationship" json:"relationship"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// LinkedChild describes a student linked to a parent for status displays.
type LinkedChild struct {
	StudentID        string           `db:"student_id" json:"student_id"`
	NIS              string           `db:"nis" json:"nis"`
	FullName         string           `db:"full_name" json:"full_name"`
	Relationship     string           `db:"relationship" json:"relationship"`
	EnrollmentStatus EnrollmentStatus `db:"enrollment_status" json:"enrollment_status"`
}
