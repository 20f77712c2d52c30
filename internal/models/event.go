package models

import (
	"encoding/json"
	"time"
)

// RenewalEventKind enumerates domain events published by the renewal engine.
type RenewalEventKind string

const (
	EventRequestOpened    RenewalEventKind = "request_opened"
	EventStepDecided      RenewalEventKind = "step_decided"
	EventRequestRejected  RenewalEventKind = "request_rejected"
	EventRequestCompleted RenewalEventKind = "request_completed"
)

// RenewalEvent is an after-commit notification of a workflow transition.
type RenewalEvent struct {
	ID            string           `json:"id"`
	Kind          RenewalEventKind `json:"kind"`
	TenantID      string           `json:"tenant_id"`
	RequestID     string           `json:"request_id"`
	EnrollmentID  string           `json:"enrollment_id"`
	WorkerID      string           `json:"worker_id"`
	ActorID       string           `json:"actor_id,omitempty"`
	StepOrder     int              `json:"step_order,omitempty"`
	Status        RenewalStatus    `json:"status"`
	Before        json.RawMessage  `json:"before,omitempty"`
	After         json.RawMessage  `json:"after,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}
