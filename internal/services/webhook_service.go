package services

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"fintrack/internal/aggregator"
	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
)

// Webhook categories and codes the provider pushes. The set is open
// ended; anything not matched below is logged and discarded.
const (
	webhookCategoryTransactions = "TRANSACTIONS"
	webhookCategoryItem         = "ITEM"

	webhookCodeInitialUpdate       = "INITIAL_UPDATE"
	webhookCodeHistoricalUpdate    = "HISTORICAL_UPDATE"
	webhookCodeDefaultUpdate       = "DEFAULT_UPDATE"
	webhookCodeTransactionsRemoved = "TRANSACTIONS_REMOVED"
	webhookCodeError               = "ERROR"
	webhookCodePendingExpiration   = "PENDING_EXPIRATION"
)

// webhookService classifies provider notifications and drives the
// item's health state machine. Sync-triggering webhooks route through
// the orchestrator, which already serializes per-item runs.
type webhookService struct {
	db          *gorm.DB
	syncService SyncServicer
	reconciler  ReconcilerServicer
	client      clientRemovedFetcher
	log         *zap.SugaredLogger
}

// clientRemovedFetcher is the slice of the aggregator client the
// webhook paths need: removed-id lookup and item status.
type clientRemovedFetcher interface {
	FetchRemovedTransactionIDs(ctx context.Context, accessToken string) ([]string, error)
	GetItemStatus(ctx context.Context, accessToken string) (*aggregator.ItemError, error)
}

// NewWebhookService creates a new WebhookServicer.
func NewWebhookService(db *gorm.DB, syncService SyncServicer, reconciler ReconcilerServicer, client clientRemovedFetcher, log *zap.SugaredLogger) WebhookServicer {
	return &webhookService{
		db:          db,
		syncService: syncService,
		reconciler:  reconciler,
		client:      client,
		log:         log,
	}
}

// HandleWebhook dispatches one notification. Unknown (category, code)
// pairs are not errors: the provider adds variants over time, and the
// consumer must stay forward compatible.
func (s *webhookService) HandleWebhook(ctx context.Context, category, code, itemID string) error {
	switch category {
	case webhookCategoryTransactions:
		switch code {
		case webhookCodeInitialUpdate, webhookCodeHistoricalUpdate, webhookCodeDefaultUpdate:
			_, err := s.syncService.Sync(ctx, itemID)
			return err
		case webhookCodeTransactionsRemoved:
			return s.handleRemoved(ctx, itemID)
		}

	case webhookCategoryItem:
		switch code {
		case webhookCodeError:
			return s.markItemError(ctx, itemID)
		case webhookCodePendingExpiration:
			return s.markPendingExpiration(itemID)
		}
	}

	s.log.Infow("ignoring unrecognized webhook",
		"category", category,
		"code", code,
		"item_id", itemID,
	)
	return nil
}

// handleRemoved pulls the removed-id list and reverses exactly those
// transactions without running a full page sync.
func (s *webhookService) handleRemoved(ctx context.Context, itemID string) error {
	credential, err := s.credential(itemID)
	if err != nil {
		return err
	}

	removedIDs, err := s.client.FetchRemovedTransactionIDs(ctx, credential.AccessToken)
	if err != nil {
		return err
	}

	removed, err := s.reconciler.RemoveTransactions(ctx, credential.UserID, removedIDs)
	if err != nil {
		return err
	}

	s.log.Infow("processed removal webhook",
		"item_id", itemID,
		"reported", len(removedIDs),
		"removed", removed,
	)
	return nil
}

// markItemError records a provider-reported item error. The item stops
// syncing automatically until the user re-links.
func (s *webhookService) markItemError(ctx context.Context, itemID string) error {
	credential, err := s.credential(itemID)
	if err != nil {
		return err
	}

	code := apperrors.ErrReauthRequired.Code
	message := "Provider reported an item error"
	if itemErr, statusErr := s.client.GetItemStatus(ctx, credential.AccessToken); statusErr == nil && itemErr != nil {
		code = itemErr.Code
		message = itemErr.Message
	}
	updates := map[string]interface{}{
		"status":          models.ItemStatusError,
		"error_code":      code,
		"error_message":   message,
		"requires_reauth": true,
	}
	if err := s.db.Model(credential).Updates(updates).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// markPendingExpiration flags the item for re-authentication. Syncs
// keep running until the credentials actually expire, so only the flag
// flips here, not the gate.
func (s *webhookService) markPendingExpiration(itemID string) error {
	credential, err := s.credential(itemID)
	if err != nil {
		return err
	}

	if err := s.db.Model(credential).Update("status", models.ItemStatusReauthRequired).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

func (s *webhookService) credential(itemID string) (*models.ItemCredential, error) {
	var credential models.ItemCredential
	if err := s.db.Where("item_id = ?", itemID).First(&credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrItemNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &credential, nil
}
