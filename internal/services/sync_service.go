package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"fintrack/internal/aggregator"
	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
	"fintrack/internal/uuid"
)

const (
	// fullHistoryLookback bounds the first sync of a freshly linked item.
	fullHistoryLookback = 24 * 30 * 24 * time.Hour
	// incrementalLookback bounds every sync after the first one. The
	// cursor already guarantees continuity; the window only caps how far
	// back the provider searches for amended transactions.
	incrementalLookback = 30 * 24 * time.Hour
)

// syncService orchestrates full and incremental syncs. A singleflight
// group keys runs by item id, so concurrent triggers for the same item
// (webhook burst, manual refresh, scheduler tick) collapse into one run
// and share its result.
type syncService struct {
	db         *gorm.DB
	client     aggregator.Client
	reconciler ReconcilerServicer
	log        *zap.SugaredLogger
	group      singleflight.Group
}

// NewSyncService creates a new SyncServicer.
func NewSyncService(db *gorm.DB, client aggregator.Client, reconciler ReconcilerServicer, log *zap.SugaredLogger) SyncServicer {
	return &syncService{
		db:         db,
		client:     client,
		reconciler: reconciler,
		log:        log,
	}
}

// Sync runs one sync pass for the given item. The cursor is persisted
// only after its page has been durably reconciled, so a crash between
// commit and cursor write at worst replays one page, which the
// reconciler absorbs idempotently.
func (s *syncService) Sync(ctx context.Context, itemID string) (*SyncResult, error) {
	result, err, _ := s.group.Do(itemID, func() (interface{}, error) {
		return s.run(ctx, itemID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*SyncResult), nil
}

func (s *syncService) run(ctx context.Context, itemID string) (*SyncResult, error) {
	credential, err := s.loadCredential(itemID)
	if err != nil {
		return nil, err
	}
	if credential.RequiresReauth {
		return nil, apperrors.ErrItemNotHealthy
	}

	// An ungated reauth_required status is a pending-expiration
	// warning. It must survive a successful run; only relink clears it.
	pendingReauth := credential.Status == models.ItemStatusReauthRequired

	if err := s.setStatus(credential, models.ItemStatusSyncing); err != nil {
		return nil, err
	}

	runID := uuid.New()
	s.log.Infow("sync started",
		"run_id", runID,
		"item_id", itemID,
		"initial", !credential.InitialSyncDone,
	)

	result, err := s.pull(ctx, credential)
	if err != nil {
		s.recordFailure(credential, runID, err)
		return nil, err
	}

	if err := s.markSynced(credential, pendingReauth); err != nil {
		return nil, err
	}

	s.log.Infow("sync finished",
		"run_id", runID,
		"item_id", itemID,
		"created", result.Created,
		"updated", result.Updated,
		"removed", result.Removed,
	)
	return result, nil
}

// pull walks the provider's transaction pages, reconciles each one, and
// finishes with the account snapshot and removed-id sweep.
func (s *syncService) pull(ctx context.Context, credential *models.ItemCredential) (*SyncResult, error) {
	window := s.window(credential)
	cursor := credential.Cursor
	result := &SyncResult{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSyncFailed, err)
		}

		page, err := s.client.ListTransactions(ctx, credential.AccessToken, window, cursor)
		if err != nil {
			return nil, err
		}

		pageResult, err := s.reconciler.ApplyPage(ctx, credential.UserID, page.Transactions)
		if err != nil {
			return nil, err
		}
		result.Created += pageResult.Created
		result.Updated += pageResult.Updated

		// The page is durable; only now may the cursor move past it.
		if page.NextCursor != "" && page.NextCursor != cursor {
			if err := s.persistCursor(credential, page.NextCursor); err != nil {
				return nil, err
			}
			cursor = page.NextCursor
		}

		if !page.HasMore {
			break
		}
	}

	snapshots, err := s.client.ListAccounts(ctx, credential.AccessToken)
	if err != nil {
		return nil, err
	}
	if err := s.reconciler.ApplyAccountSnapshot(ctx, snapshots); err != nil {
		return nil, err
	}

	removedIDs, err := s.client.FetchRemovedTransactionIDs(ctx, credential.AccessToken)
	if err != nil {
		return nil, err
	}
	removed, err := s.reconciler.RemoveTransactions(ctx, credential.UserID, removedIDs)
	if err != nil {
		return nil, err
	}
	result.Removed = removed

	return result, nil
}

// window picks the pull range: the full look-back for a first sync, the
// short amendment window afterwards.
func (s *syncService) window(credential *models.ItemCredential) aggregator.DateRange {
	now := time.Now()
	lookback := incrementalLookback
	if !credential.InitialSyncDone {
		lookback = fullHistoryLookback
	}
	return aggregator.DateRange{Start: now.Add(-lookback), End: now}
}

func (s *syncService) loadCredential(itemID string) (*models.ItemCredential, error) {
	var credential models.ItemCredential
	if err := s.db.Where("item_id = ?", itemID).First(&credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrItemNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &credential, nil
}

func (s *syncService) setStatus(credential *models.ItemCredential, status models.ItemStatus) error {
	if err := s.db.Model(credential).Update("status", status).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

func (s *syncService) persistCursor(credential *models.ItemCredential, cursor string) error {
	if err := s.db.Model(credential).Update("cursor", cursor).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	credential.Cursor = cursor
	return nil
}

// markSynced records a successful run: cleared error fields, initial
// sync flagged done. The status returns to healthy unless the item
// carries a pending-expiration warning, which stays visible while syncs
// keep running.
func (s *syncService) markSynced(credential *models.ItemCredential, pendingReauth bool) error {
	status := models.ItemStatusHealthy
	if pendingReauth {
		status = models.ItemStatusReauthRequired
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":            status,
		"error_code":        nil,
		"error_message":     nil,
		"requires_reauth":   false,
		"initial_sync_done": true,
		"last_synced_at":    now,
	}
	if err := s.db.Model(credential).Updates(updates).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// recordFailure persists the item's new health state. Credential-class
// failures flip the item into reauth_required and block further syncs
// until relink; everything else lands in error and stays retryable. The
// cursor is deliberately untouched so a retry resumes at the last
// durable page.
func (s *syncService) recordFailure(credential *models.ItemCredential, runID string, cause error) {
	status := models.ItemStatusError
	requiresReauth := false

	var appErr *apperrors.AppError
	code := apperrors.ErrSyncFailed.Code
	message := cause.Error()
	if errors.As(cause, &appErr) {
		code = appErr.Code
		message = appErr.Message
		if code == apperrors.ErrReauthRequired.Code || code == apperrors.ErrBankCredentialsInvalid.Code {
			status = models.ItemStatusReauthRequired
			requiresReauth = true
		}
	}

	updates := map[string]interface{}{
		"status":          status,
		"error_code":      code,
		"error_message":   message,
		"requires_reauth": requiresReauth,
	}
	if err := s.db.Model(credential).Updates(updates).Error; err != nil {
		s.log.Errorw("failed to record sync failure",
			"item_id", credential.ItemID,
			"error", err,
		)
	}

	s.log.Warnw("sync failed",
		"run_id", runID,
		"item_id", credential.ItemID,
		"code", code,
		"retryable", apperrors.IsRetryable(cause),
	)
}
