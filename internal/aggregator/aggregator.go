// Package aggregator defines the client contract for the external
// bank-data provider and the normalized types it yields. The provider's
// wire protocol stays behind the Client interface; core services only
// see direction-normalized transactions and integer-cent amounts.
package aggregator

import (
	"context"
	"time"
)

// Direction is the normalized flow of money for a provider transaction.
// The provider reports signed amounts (positive = money leaving the
// account); the adapter converts sign to direction at the boundary so
// nothing downstream ever re-infers it.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// TokenExchange is the result of exchanging a public link token.
type TokenExchange struct {
	AccessToken     string
	ItemID          string
	InstitutionID   string
	InstitutionName string
}

// AccountSnapshot is the provider's authoritative view of one account.
// CurrentBalance is signed cents.
type AccountSnapshot struct {
	ExternalID     string
	Name           string
	Type           string
	Currency       string
	CurrentBalance int64
}

// Transaction is one provider transaction, normalized. Amount is
// unsigned cents; Direction carries the sign.
type Transaction struct {
	ExternalID        string
	AccountExternalID string
	Direction         Direction
	Amount            int64
	Description       string
	Date              time.Time
	Location          *string
}

// Page is one page of transactions plus the resumption cursor.
type Page struct {
	Transactions []Transaction
	NextCursor   string
	HasMore      bool
}

// DateRange bounds a transaction pull.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ItemError is a provider-reported error condition on an item.
type ItemError struct {
	Code    string
	Message string
}

// Client is the surface of the bank-data provider consumed by the sync
// engine. Implementations must classify provider failures into the
// apperrors sentinels (AGGREGATOR_UNAVAILABLE, REAUTH_REQUIRED,
// BANK_CREDENTIALS_INVALID) rather than passing raw errors through,
// and every call must respect the context's deadline.
type Client interface {
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	ExchangeToken(ctx context.Context, publicToken string) (*TokenExchange, error)
	ListAccounts(ctx context.Context, accessToken string) ([]AccountSnapshot, error)
	ListTransactions(ctx context.Context, accessToken string, window DateRange, cursor string) (*Page, error)
	FetchRemovedTransactionIDs(ctx context.Context, accessToken string) ([]string, error)
	GetItemStatus(ctx context.Context, accessToken string) (*ItemError, error)
}
