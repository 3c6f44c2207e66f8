package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "fintrack/internal/errors"
	"fintrack/internal/logger"
	"fintrack/internal/queue"
)

// WebhookHandler receives aggregator webhook deliveries. The handler
// only validates and enqueues: the provider expects a fast 2xx, and the
// worker drains the queue at its own pace.
type WebhookHandler struct {
	queueClient *queue.Client
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(queueClient *queue.Client) *WebhookHandler {
	return &WebhookHandler{queueClient: queueClient}
}

// WebhookRequest represents an aggregator webhook delivery payload
type WebhookRequest struct {
	WebhookType string `json:"webhook_type" binding:"required"`
	WebhookCode string `json:"webhook_code" binding:"required"`
	ItemID      string `json:"item_id" binding:"required"`
}

// Receive accepts one webhook delivery and enqueues it for the worker.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	if err := h.queueClient.PublishWebhook(c.Request.Context(), req.WebhookType, req.WebhookCode, req.ItemID); err != nil {
		logger.Get().Errorw("failed to enqueue webhook",
			"webhook_type", req.WebhookType,
			"webhook_code", req.WebhookCode,
			"item_id", req.ItemID,
			"error", err,
		)
		respondWithError(c, apperrors.Wrap(apperrors.ErrInternalServer, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}
