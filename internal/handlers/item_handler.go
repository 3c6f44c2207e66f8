package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "fintrack/internal/errors"
	"fintrack/internal/services"
)

// ItemHandler handles bank-connection (item) requests: link token
// creation, public-token exchange, listing, manual sync, and unlink.
type ItemHandler struct {
	itemService services.ItemServicer
	syncService services.SyncServicer
}

// NewItemHandler creates a new ItemHandler.
func NewItemHandler(itemService services.ItemServicer, syncService services.SyncServicer) *ItemHandler {
	return &ItemHandler{itemService: itemService, syncService: syncService}
}

// LinkItemRequest represents the request payload for exchanging a public token
type LinkItemRequest struct {
	PublicToken string `json:"public_token" binding:"required"`
}

// CreateLinkToken issues a short-lived link token for the client's link flow.
func (h *ItemHandler) CreateLinkToken(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	token, err := h.itemService.CreateLinkToken(c.Request.Context(), userID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"link_token": token})
}

// LinkItem exchanges a public token and provisions the item's accounts.
func (h *ItemHandler) LinkItem(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req LinkItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	credential, err := h.itemService.LinkItem(c.Request.Context(), userID, req.PublicToken)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"item": credential})
}

// ListItems returns the authenticated user's linked connections.
func (h *ItemHandler) ListItems(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	items, err := h.itemService.GetUserItems(userID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// SyncItem triggers a sync run for one of the user's items. A run
// already in flight for the item is joined, not duplicated.
func (h *ItemHandler) SyncItem(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	credentialID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	items, err := h.itemService.GetUserItems(userID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	var itemID string
	for _, item := range items {
		if item.ID == credentialID {
			itemID = item.ItemID
			break
		}
	}
	if itemID == "" {
		respondWithError(c, apperrors.ErrItemNotFound)
		return
	}

	result, err := h.syncService.Sync(c.Request.Context(), itemID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// UnlinkItem removes a bank connection, deactivating its accounts while
// keeping historical transactions.
func (h *ItemHandler) UnlinkItem(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	credentialID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.itemService.Unlink(c.Request.Context(), userID, credentialID); err != nil {
		respondWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
