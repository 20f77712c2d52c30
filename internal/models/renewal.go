package models

import "time"

// RenewalStatus captures the renewal request state machine.
type RenewalStatus string

const (
	RenewalStatusPending   RenewalStatus = "pending"
	RenewalStatusInReview  RenewalStatus = "in_review"
	RenewalStatusApproved  RenewalStatus = "approved"
	RenewalStatusRejected  RenewalStatus = "rejected"
	RenewalStatusCompleted RenewalStatus = "completed"
)

// Open reports whether the request still accepts step decisions.
func (s RenewalStatus) Open() bool {
	return s == RenewalStatusPending || s == RenewalStatusInReview
}

// Terminal reports whether no further step decision may be recorded.
// Approved requests are terminal for decisions but still await finalization.
func (s RenewalStatus) Terminal() bool {
	return !s.Open()
}

// StepDecision is the outcome recorded on a workflow step.
type StepDecision string

const (
	StepDecisionWaiting  StepDecision = "waiting"
	StepDecisionApproved StepDecision = "approved"
	StepDecisionRejected StepDecision = "rejected"
)

// RenewalRequest tracks re-approval of an expiring or expired enrollment.
// ApproverID, DecidedAt and DecisionComment mirror the last decided step.
type RenewalRequest struct {
	ID              string        `db:"id" json:"id"`
	TenantID        string        `db:"tenant_id" json:"tenant_id"`
	WorkerID        string        `db:"user_id" json:"worker_id"`
	EnrollmentID    string        `db:"enrollment_id" json:"enrollment_id"`
	Status          RenewalStatus `db:"status" json:"status"`
	RequestedBy     string        `db:"requested_by" json:"requested_by"`
	RequestedAt     time.Time     `db:"requested_date" json:"requested_date"`
	DecidedAt       *time.Time    `db:"decided_date" json:"decided_date,omitempty"`
	ApproverID      *string       `db:"approver_id" json:"approver_id,omitempty"`
	Reason          string        `db:"reason" json:"reason"`
	DecisionComment *string       `db:"decision_comment" json:"decision_comment,omitempty"`
	Version         int           `db:"version" json:"version"`
}

// WorkflowStep is one role-gated checkpoint in a request's approval chain.
type WorkflowStep struct {
	ID           string       `db:"id" json:"id"`
	TenantID     string       `db:"tenant_id" json:"tenant_id"`
	RequestID    string       `db:"renewal_id" json:"renewal_id"`
	StepOrder    int          `db:"step_order" json:"step_order"`
	RequiredRole UserRole     `db:"actor_role" json:"required_role"`
	Decision     StepDecision `db:"decision" json:"decision"`
	ActorID      *string      `db:"actor_id" json:"actor_id,omitempty"`
	DecidedAt    *time.Time   `db:"acted_at" json:"decided_at,omitempty"`
	Comment      *string      `db:"comment" json:"comment,omitempty"`
}

// RenewalSnapshot is the audit view of a request and its steps at a point in time.
type RenewalSnapshot struct {
	Request RenewalRequest `json:"request"`
	Steps   []WorkflowStep `json:"steps"`
}
