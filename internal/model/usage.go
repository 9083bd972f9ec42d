package model

import "time"

// UsageCounter is the consumption of one metered feature by one organization in one period.
type UsageCounter struct {
	OrgID       string    `json:"org_id" gorm:"primaryKey;size:64"`
	Feature     string    `json:"feature" gorm:"primaryKey;size:128"`
	PeriodStart time.Time `json:"period_start" gorm:"primaryKey"`
	UsedCount   int64     `json:"used_count" gorm:"not null;default:0"`
	Allowance   *int64    `json:"allowance"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the table name.
func (UsageCounter) TableName() string {
	return "usage_counters"
}

// UsageToken records a client action token already counted for an org and feature.
type UsageToken struct {
	OrgID     string    `gorm:"primaryKey;size:64"`
	Feature   string    `gorm:"primaryKey;size:128"`
	Token     string    `gorm:"primaryKey;size:255"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name.
func (UsageToken) TableName() string {
	return "usage_tokens"
}
