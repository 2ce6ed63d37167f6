package models

import "time"

// SweepRun records one execution of the scheduled entitlement sweep so
// operators can inspect past runs without digging through logs.
type SweepRun struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RunID         string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_sweep_runs_run_id" json:"run_id"`
	Checked       int       `gorm:"not null;default:0" json:"checked"`
	Valid         int       `gorm:"not null;default:0" json:"valid"`
	Fixed         int       `gorm:"not null;default:0" json:"fixed"`
	LifetimeUsers int       `gorm:"not null;default:0" json:"lifetime_users"`
	MonthlyUsers  int       `gorm:"not null;default:0" json:"monthly_users"`
	ErrorCount    int       `gorm:"not null;default:0" json:"error_count"`
	ReportJSON    string    `gorm:"type:longtext" json:"report_json"`
	StartedAt     time.Time `gorm:"type:timestamp;not null" json:"started_at"`
	FinishedAt    time.Time `gorm:"type:timestamp;not null" json:"finished_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
