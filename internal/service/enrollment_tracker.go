package service

import (
	"time"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

const day = 24 * time.Hour

// EnrollmentTracker derives enrollment status and renewal eligibility. It is the
// single source of truth for status; persisted statuses are a cache of Evaluate.
type EnrollmentTracker struct {
	now func() time.Time
}

// EnrollmentTrackerOption configures the tracker.
type EnrollmentTrackerOption func(*EnrollmentTracker)

// WithTrackerClock overrides the clock used for every derivation.
func WithTrackerClock(now func() time.Time) EnrollmentTrackerOption {
	return func(t *EnrollmentTracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewEnrollmentTracker constructs a tracker backed by the wall clock.
func NewEnrollmentTracker(opts ...EnrollmentTrackerOption) *EnrollmentTracker {
	t := &EnrollmentTracker{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Now returns the tracker's current time.
func (t *EnrollmentTracker) Now() time.Time {
	return t.now()
}

// Evaluate derives the enrollment status at the tracker's current time.
func (t *EnrollmentTracker) Evaluate(enrollment models.Enrollment) models.EnrollmentStatus {
	return EvaluateEnrollmentAt(t.now(), enrollment)
}

// EvaluateEnrollmentAt is a pure function of now, the completion date and the
// expiry date. The cached Status field is ignored.
func EvaluateEnrollmentAt(now time.Time, enrollment models.Enrollment) models.EnrollmentStatus {
	if enrollment.ExpiryDate != nil && enrollment.ExpiryDate.Before(now) {
		return models.EnrollmentStatusExpired
	}
	if enrollment.CompletionDate != nil {
		return models.EnrollmentStatusCompleted
	}
	return models.EnrollmentStatusActive
}

// IsRenewalCandidate reports whether the enrollment is expired, or completed and
// expiring within warningWindowDays. A negative window never matches a
// completed enrollment; callers validate the window before asking.
func (t *EnrollmentTracker) IsRenewalCandidate(enrollment models.Enrollment, warningWindowDays int) bool {
	now := t.now()
	switch EvaluateEnrollmentAt(now, enrollment) {
	case models.EnrollmentStatusExpired:
		return true
	case models.EnrollmentStatusCompleted:
		if warningWindowDays < 0 || enrollment.ExpiryDate == nil {
			return false
		}
		return enrollment.ExpiryDate.Sub(now) <= time.Duration(warningWindowDays)*day
	default:
		return false
	}
}

// CompleteRenewal returns the successor enrollment cycle: started and completed
// now, expiring after the course validity period, status active. The input is
// not modified.
func (t *EnrollmentTracker) CompleteRenewal(enrollment models.Enrollment, course models.Course) models.Enrollment {
	now := t.now()
	completion := now
	expiry := now.Add(time.Duration(course.ValidityDays) * day)

	next := enrollment
	next.StartDate = now
	next.CompletionDate = &completion
	next.ExpiryDate = &expiry
	next.Status = models.EnrollmentStatusActive
	next.UpdatedAt = now
	return next
}

// Refresh recomputes the cached status and reports whether it changed.
func (t *EnrollmentTracker) Refresh(enrollment models.Enrollment) (models.Enrollment, bool) {
	status := t.Evaluate(enrollment)
	if status == enrollment.Status {
		return enrollment, false
	}
	enrollment.Status = status
	enrollment.UpdatedAt = t.now()
	return enrollment, true
}
