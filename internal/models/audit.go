package models

import "time"

// Workflow log actions written for renewal events.
const (
	WorkflowActionRequestOpened    = "RENEWAL_OPENED"
	WorkflowActionStepDecided      = "RENEWAL_STEP_DECIDED"
	WorkflowActionRequestRejected  = "RENEWAL_REJECTED"
	WorkflowActionRequestCompleted = "RENEWAL_COMPLETED"
	WorkflowActionStatusRefreshed  = "ENROLLMENT_STATUS_REFRESHED"
)

// Entity types recorded in the workflow log.
const (
	EntityRenewalRequest = "renewal_request"
	EntityEnrollment     = "enrollment"
)

// WorkflowLog represents an audit trail record of an entity state change.
type WorkflowLog struct {
	ID         string    `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Action     string    `db:"action" json:"action"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	OldValue   []byte    `db:"old_value" json:"old_value,omitempty"`
	NewValue   []byte    `db:"new_value" json:"new_value,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
