package models

import "time"

// TransactionType represents the direction of a transaction
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

// Transaction represents a financial transaction in the system.
//
// ExternalID is the aggregator-assigned transaction id and, when
// present, is globally unique: it is the idempotency key the reconciler
// uses to upsert. Amount is unsigned cents; direction lives in Type.
// Rows are soft-deleted (via Base.DeletedAt) so removed aggregator
// transactions keep their history while dropping out of balances.
type Transaction struct {
	Base
	UserID      uint            `gorm:"not null;index" json:"user_id"`
	AccountID   uint            `gorm:"not null;index" json:"account_id"`
	CategoryID  *uint           `json:"category_id,omitempty"`
	ExternalID  *string         `gorm:"uniqueIndex" json:"external_id,omitempty"`
	Type        TransactionType `gorm:"not null" json:"type"`
	Amount      int64           `gorm:"type:bigint;not null" json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `gorm:"not null;index" json:"date"`
	Location    *string         `json:"location,omitempty"`
	Notes       string          `json:"notes,omitempty"`

	// Relationships
	Account  Account   `gorm:"foreignKey:AccountID" json:"account"`
	Category *Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
}

// SignedAmount returns the amount with the sign implied by the
// transaction's direction: positive for income, negative for expense.
func (t *Transaction) SignedAmount() int64 {
	if t.Type == TransactionTypeExpense {
		return -t.Amount
	}
	return t.Amount
}
