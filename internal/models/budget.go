package models

import "time"

// BudgetPeriod represents the period type for a budget
type BudgetPeriod string

const (
	BudgetPeriodWeekly  BudgetPeriod = "weekly"
	BudgetPeriodMonthly BudgetPeriod = "monthly"
	BudgetPeriodYearly  BudgetPeriod = "yearly"
)

// Budget represents a spending limit for a category. Spend, progress,
// and forecast figures are derived per query and never stored.
type Budget struct {
	Base
	UserID     uint         `gorm:"not null;index" json:"user_id"`
	CategoryID uint         `gorm:"not null" json:"category_id"`
	Name       string       `gorm:"not null" json:"name"`
	Amount     int64        `gorm:"type:bigint;not null" json:"amount"`
	Period     BudgetPeriod `gorm:"not null" json:"period"`
	StartDate  time.Time    `gorm:"not null" json:"start_date"`
	EndDate    *time.Time   `json:"end_date,omitempty"`
	IsActive   bool         `gorm:"default:true" json:"is_active"`

	// Relationships
	Category Category `gorm:"foreignKey:CategoryID" json:"category"`
}

// WindowEnd returns the effective end of the budget's spend window as
// of now: the end date when one is set and already in the past,
// otherwise now (open-ended or still running).
func (b *Budget) WindowEnd(now time.Time) time.Time {
	if b.EndDate != nil && b.EndDate.Before(now) {
		return *b.EndDate
	}
	return now
}
