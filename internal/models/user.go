package models

import "time"

// UserRole represents the fixed set of workforce roles.
type UserRole string

const (
	RoleWorker                UserRole = "worker"
	RoleLineSupervisor        UserRole = "line_supervisor"
	RoleDepartmentManager     UserRole = "department_manager"
	RoleTrainingAdministrator UserRole = "training_administrator"
	RoleSystemAdministrator   UserRole = "system_administrator"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleWorker, RoleLineSupervisor, RoleDepartmentManager, RoleTrainingAdministrator, RoleSystemAdministrator:
		return true
	default:
		return false
	}
}

// Worker is a tenant member; approvers are workers with a supervisory role.
type Worker struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	Email        string    `db:"email" json:"email"`
	FullName     string    `db:"full_name" json:"full_name"`
	Role         UserRole  `db:"role" json:"role"`
	DepartmentID *string   `db:"department_id" json:"department_id,omitempty"`
	Active       bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
