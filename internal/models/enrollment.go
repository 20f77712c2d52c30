package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment. The persisted
// value is a cache of the tracker's derivation.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusExpired   EnrollmentStatus = "expired"
)

// Enrollment captures a worker's instance of taking a course.
type Enrollment struct {
	ID             string           `db:"id" json:"id"`
	TenantID       string           `db:"tenant_id" json:"tenant_id"`
	WorkerID       string           `db:"user_id" json:"worker_id"`
	CourseID       string           `db:"course_id" json:"course_id"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	StartDate      time.Time        `db:"start_date" json:"start_date"`
	CompletionDate *time.Time       `db:"completion_date" json:"completion_date,omitempty"`
	ExpiryDate     *time.Time       `db:"expiry_date" json:"expiry_date,omitempty"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentFilter pages through a tenant's enrollments in id order.
type EnrollmentFilter struct {
	TenantID string
	AfterID  string
	Limit    int
}
