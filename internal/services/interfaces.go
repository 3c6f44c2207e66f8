package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"fintrack/internal/aggregator"
	"fintrack/internal/models"
	"fintrack/internal/pagination"
)

// UserServicer defines the contract for user-related business logic.
type UserServicer interface {
	CreateUser(email, password, firstName, lastName string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id uint) (*models.User, error)
	VerifyPassword(user *models.User, password string) bool
	AttemptLogin(email, password string) (*models.User, error)
}

// AccountServicer defines the contract for account-related business logic.
type AccountServicer interface {
	CreateManualAccount(userID uint, name string, accountType models.AccountType, currency string, openingBalance int64) (*models.Account, error)
	GetUserAccounts(userID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Account], error)
	GetAccountByID(userID, accountID uint) (*models.Account, error)
	UpdateAccount(userID, accountID uint, name *string, isActive *bool) (*models.Account, error)
	UpdateAccountBalance(tx *gorm.DB, account *models.Account, transactionType models.TransactionType, amount int64) error
	AdjustBalance(tx *gorm.DB, accountID uint, delta int64) error
}

// CategoryServicer defines the contract for category-related business logic.
type CategoryServicer interface {
	CreateCategory(userID uint, name string, categoryType models.CategoryType, description, icon, color string) (*models.Category, error)
	GetUserCategories(userID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error)
	GetCategoryByID(userID, categoryID uint) (*models.Category, error)
	UpdateCategory(userID, categoryID uint, name, description, icon, color string) (*models.Category, error)
	DeleteCategory(userID, categoryID uint) error
}

// TransactionFilter holds optional filter parameters for listing transactions.
type TransactionFilter struct {
	FromDate   *time.Time
	ToDate     *time.Time
	Type       *models.TransactionType
	CategoryID *uint
	AccountID  *uint
	MinAmount  *int64
	MaxAmount  *int64
}

// TransactionServicer defines the contract for transaction-related
// business logic. User-initiated edits may touch category and notes
// only; amount/description/date of linked transactions belong to the
// reconciler.
type TransactionServicer interface {
	CreateTransaction(userID, accountID uint, categoryID *uint, transactionType models.TransactionType, amount int64, description string, date time.Time, notes string) (*models.Transaction, error)
	GetUserTransactions(userID uint, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error)
	GetAccountTransactions(userID, accountID uint, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error)
	GetTransactionByID(userID, transactionID uint) (*models.Transaction, error)
	UpdateTransaction(userID, transactionID uint, categoryID *uint, notes *string) (*models.Transaction, error)
	DeleteTransaction(userID, transactionID uint) error
}

// PageResult reports what one reconciled page changed.
type PageResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ReconcilerServicer applies aggregator data to the ledger. Each call
// is one atomic unit: a malformed record anywhere in a page rolls the
// whole page back, and every row mutation carries its balance delta in
// the same transaction.
type ReconcilerServicer interface {
	ApplyPage(ctx context.Context, userID uint, transactions []aggregator.Transaction) (*PageResult, error)
	ApplyAccountSnapshot(ctx context.Context, snapshots []aggregator.AccountSnapshot) error
	RemoveTransactions(ctx context.Context, userID uint, externalIDs []string) (int, error)
}

// SyncResult reports what one orchestrated sync run changed.
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// SyncServicer drives a full or incremental sync for one linked item.
// Runs for the same item are serialized; concurrent triggers share the
// in-flight run's result.
type SyncServicer interface {
	Sync(ctx context.Context, itemID string) (*SyncResult, error)
}

// ItemServicer manages linked bank connections and their credentials.
type ItemServicer interface {
	CreateLinkToken(ctx context.Context, userID uint) (string, error)
	LinkItem(ctx context.Context, userID uint, publicToken string) (*models.ItemCredential, error)
	Unlink(ctx context.Context, userID, credentialID uint) error
	GetUserItems(userID uint) ([]models.ItemCredential, error)
}

// WebhookServicer consumes aggregator notifications and drives sync
// runs or item-health transitions.
type WebhookServicer interface {
	HandleWebhook(ctx context.Context, category, code, itemID string) error
}

// BudgetProgress contains spend-vs-limit data for a budget.
// ProgressPct is clamped to 100; Remaining and IsOverBudget carry the
// true magnitude when spending exceeds the limit.
type BudgetProgress struct {
	BudgetID     uint    `json:"budget_id"`
	Budgeted     int64   `json:"budgeted"`
	Spent        int64   `json:"spent"`
	Remaining    int64   `json:"remaining"`
	ProgressPct  float64 `json:"progress_pct"`
	IsOverBudget bool    `json:"is_over_budget"`
}

// BudgetForecast is a linear-trend projection of next month's spending
// in a budget's category.
type BudgetForecast struct {
	Forecast   int64   `json:"forecast"`
	Trend      float64 `json:"trend"`
	Confidence float64 `json:"confidence"`
}

// RecommendationType classifies a budget recommendation.
type RecommendationType string

const (
	RecommendationNewBudget      RecommendationType = "NEW_BUDGET"
	RecommendationIncreaseBudget RecommendationType = "INCREASE_BUDGET"
	RecommendationDecreaseBudget RecommendationType = "DECREASE_BUDGET"
)

// BudgetRecommendation suggests creating or resizing a budget based on
// recent average spending in a category.
type BudgetRecommendation struct {
	Type            RecommendationType `json:"type"`
	CategoryID      uint               `json:"category_id"`
	CategoryName    string             `json:"category_name"`
	BudgetID        *uint              `json:"budget_id,omitempty"`
	CurrentAmount   *int64             `json:"current_amount,omitempty"`
	SuggestedAmount int64              `json:"suggested_amount"`
	AverageSpending int64              `json:"average_spending"`
}

// BudgetAlert signals that spending has crossed an alert threshold.
type BudgetAlert struct {
	BudgetID   uint    `json:"budget_id"`
	BudgetName string  `json:"budget_name"`
	Message    string  `json:"message"`
	Spent      int64   `json:"spent"`
	Limit      int64   `json:"limit"`
	Percent    float64 `json:"percent"`
}

// BudgetServicer defines the contract for budget CRUD and analytics.
type BudgetServicer interface {
	CreateBudget(userID, categoryID uint, name string, amount int64, period models.BudgetPeriod, startDate time.Time, endDate *time.Time) (*models.Budget, error)
	GetUserBudgets(userID uint, page pagination.PageRequest, isActive *bool, period *models.BudgetPeriod) (*pagination.PageResponse[models.Budget], error)
	GetBudgetByID(userID, budgetID uint) (*models.Budget, error)
	UpdateBudget(userID, budgetID uint, name string, amount *int64, period *models.BudgetPeriod, endDate *time.Time) (*models.Budget, error)
	DeleteBudget(userID, budgetID uint) error
	GetBudgetProgress(userID, budgetID uint) (*BudgetProgress, error)
	GetBudgetForecast(userID, budgetID uint) (*BudgetForecast, error)
	GetRecommendations(userID uint) ([]BudgetRecommendation, error)
	CheckAlert(transaction *models.Transaction) (*BudgetAlert, error)
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Log(userID uint, action, resourceType string, resourceID uint, ipAddress string, changes map[string]any)
}
