package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
	"fintrack/internal/pagination"
	"fintrack/internal/services"
)

// TransactionHandler handles transaction-related requests.
type TransactionHandler struct {
	transactionService services.TransactionServicer
	budgetService      services.BudgetServicer
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(transactionService services.TransactionServicer, budgetService services.BudgetServicer) *TransactionHandler {
	return &TransactionHandler{transactionService: transactionService, budgetService: budgetService}
}

// CreateTransactionRequest represents the request payload for creating a manual transaction
type CreateTransactionRequest struct {
	AccountID   uint    `json:"account_id" binding:"required"`
	CategoryID  *uint   `json:"category_id"`
	Type        string  `json:"type" binding:"required,transaction_type"`
	Amount      int64   `json:"amount" binding:"required,gt=0"`
	Description string  `json:"description" binding:"max=500"`
	Date        *string `json:"date"`
	Notes       string  `json:"notes" binding:"max=1000"`
}

// UpdateTransactionRequest represents the request payload for editing a
// transaction. Only category and notes are user-editable.
type UpdateTransactionRequest struct {
	CategoryID *uint   `json:"category_id"`
	Notes      *string `json:"notes" binding:"omitempty,max=1000"`
}

// ListTransactionsQuery holds the query parameters for listing transactions.
type ListTransactionsQuery struct {
	pagination.PageRequest
	From       *string `form:"from"`
	To         *string `form:"to"`
	Type       *string `form:"type" binding:"omitempty,transaction_type"`
	CategoryID *uint   `form:"category_id"`
	AccountID  *uint   `form:"account_id"`
	MinAmount  *int64  `form:"min_amount"`
	MaxAmount  *int64  `form:"max_amount"`
}

// CreateTransaction handles the creation of a new manual transaction.
// If the transaction crosses a budget alert threshold, the alert is
// included in the response.
func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var date time.Time
	if req.Date != nil {
		date, err = time.Parse("2006-01-02", *req.Date)
		if err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, "Invalid date, expected YYYY-MM-DD"))
			return
		}
	}

	transaction, err := h.transactionService.CreateTransaction(
		userID,
		req.AccountID,
		req.CategoryID,
		models.TransactionType(req.Type),
		req.Amount,
		req.Description,
		date,
		req.Notes,
	)
	if err != nil {
		respondWithError(c, err)
		return
	}

	response := gin.H{"transaction": transaction}
	if alert, err := h.budgetService.CheckAlert(transaction); err == nil && alert != nil {
		response["budget_alert"] = alert
	}

	c.JSON(http.StatusCreated, response)
}

// ListTransactions returns the authenticated user's transactions,
// filtered and paginated.
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var query ListTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	filter, err := query.filter()
	if err != nil {
		respondWithError(c, err)
		return
	}

	transactions, err := h.transactionService.GetUserTransactions(userID, query.PageRequest, filter)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, transactions)
}

// GetTransaction returns a single transaction by id.
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	transactionID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	transaction, err := h.transactionService.GetTransactionByID(userID, transactionID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": transaction})
}

// UpdateTransaction applies a user edit to a transaction.
func (h *TransactionHandler) UpdateTransaction(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	transactionID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	transaction, err := h.transactionService.UpdateTransaction(userID, transactionID, req.CategoryID, req.Notes)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": transaction})
}

// DeleteTransaction soft-deletes a transaction.
func (h *TransactionHandler) DeleteTransaction(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	transactionID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.transactionService.DeleteTransaction(userID, transactionID); err != nil {
		respondWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (q *ListTransactionsQuery) filter() (services.TransactionFilter, error) {
	filter := services.TransactionFilter{
		CategoryID: q.CategoryID,
		AccountID:  q.AccountID,
		MinAmount:  q.MinAmount,
		MaxAmount:  q.MaxAmount,
	}
	if q.From != nil {
		from, err := time.Parse("2006-01-02", *q.From)
		if err != nil {
			return filter, apperrors.WithMessage(apperrors.ErrInvalidInput, "Invalid from date, expected YYYY-MM-DD")
		}
		filter.FromDate = &from
	}
	if q.To != nil {
		to, err := time.Parse("2006-01-02", *q.To)
		if err != nil {
			return filter, apperrors.WithMessage(apperrors.ErrInvalidInput, "Invalid to date, expected YYYY-MM-DD")
		}
		filter.ToDate = &to
	}
	if q.Type != nil {
		transactionType := models.TransactionType(*q.Type)
		filter.Type = &transactionType
	}
	return filter, nil
}
