package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Audit actions written by the activation engine.
const (
	AuditActionStudentStatusTransition = "STUDENT_STATUS_TRANSITION"
	AuditActionParentOverride          = "PARENT_ACCOUNT_OVERRIDE"
	AuditActionParentOverrideCleared   = "PARENT_OVERRIDE_CLEARED"
	AuditActionParentStudentLink       = "PARENT_STUDENT_LINK"
	AuditActionParentStudentUnlink     = "PARENT_STUDENT_UNLINK"
	AuditActionAccountReconciled       = "ACCOUNT_RECONCILED"
)

// AuditRecord is an append-only activity log entry.
type AuditRecord struct {
	ID           string         `db:"id" json:"id"`
	ActorID      string         `db:"actor_id" json:"actor_id"`
	ActorRole    UserRole       `db:"actor_role" json:"actor_role"`
	ActorName    string         `db:"actor_name" json:"actor_name"`
	Action       string         `db:"action" json:"action"`
	Title        string         `db:"title" json:"title"`
	Description  string         `db:"description" json:"description"`
	TargetUserID string         `db:"target_user_id" json:"target_user_id"`
	TargetRole   UserRole       `db:"target_role" json:"target_role"`
	TargetName   string         `db:"target_name" json:"target_name"`
	Metadata     types.JSONText `db:"metadata" json:"metadata"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// StatusTransitionMetadata is stored in AuditRecord.Metadata for student transitions.
type StatusTransitionMetadata struct {
	StudentID         string           `json:"studentId"`
	OldStatus         EnrollmentStatus `json:"oldStatus"`
	NewStatus         EnrollmentStatus `json:"newStatus"`
	ParentsRecomputed []string         `json:"parentsRecomputed,omitempty"`
	ParentsSkipped    []string         `json:"parentsSkipped,omitempty"`
}
