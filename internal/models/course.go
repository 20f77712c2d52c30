package models

// Course is a training course whose completion is valid for ValidityDays.
type Course struct {
	ID           string `db:"id" json:"id"`
	TenantID     string `db:"tenant_id" json:"tenant_id"`
	Name         string `db:"name" json:"name"`
	Category     string `db:"category" json:"category"`
	ValidityDays int    `db:"validity_days" json:"validity_days"`
	Mandatory    bool   `db:"is_mandatory" json:"is_mandatory"`
}
