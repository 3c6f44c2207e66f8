package models

import "time"

// AccountType represents the type of account
type AccountType string

const (
	AccountTypeChecking AccountType = "checking"
	AccountTypeSavings  AccountType = "savings"
	AccountTypeCredit   AccountType = "credit"
	AccountTypeManual   AccountType = "manual"
)

// Account represents a financial account in the system. Linked accounts
// mirror an aggregator-side account and carry its external id; manual
// accounts have no external id and are mutated only through the CRUD
// surface.
//
// Balance is kept in signed cents and must always equal the opening
// baseline plus the signed sum of all non-deleted transactions on the
// account. Every write that can break that equality goes through the
// reconciler or the transaction service, never through handlers.
type Account struct {
	Base
	UserID       uint        `gorm:"not null;index" json:"user_id"`
	CredentialID *uint       `gorm:"index" json:"credential_id,omitempty"`
	ExternalID   *string     `gorm:"uniqueIndex" json:"external_id,omitempty"`
	Name         string      `gorm:"not null" json:"name"`
	Type         AccountType `gorm:"not null" json:"type"`
	Currency     string      `gorm:"not null;default:'USD'" json:"currency"`
	Balance      int64       `gorm:"type:bigint;not null;default:0" json:"balance"`
	IsActive     bool        `gorm:"default:true" json:"is_active"`
	LastSyncedAt *time.Time  `json:"last_synced_at,omitempty"`

	// Relationships
	Transactions []Transaction `gorm:"foreignKey:AccountID" json:"transactions,omitempty"`
}
