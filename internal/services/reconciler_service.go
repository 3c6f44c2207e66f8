package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"fintrack/internal/aggregator"
	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
	"fintrack/internal/oracle"
)

// reconcilerService merges aggregator data into the ledger. Every page
// is applied in a single database transaction: each inserted, updated,
// or removed row commits together with the balance delta it implies, so
// no reader can ever observe a transaction row without its balance
// effect.
type reconcilerService struct {
	db             *gorm.DB
	oracle         oracle.Oracle
	accountService AccountServicer
	log            *zap.SugaredLogger
}

// NewReconcilerService creates a new ReconcilerServicer.
func NewReconcilerService(db *gorm.DB, orc oracle.Oracle, accountService AccountServicer, log *zap.SugaredLogger) ReconcilerServicer {
	return &reconcilerService{
		db:             db,
		oracle:         orc,
		accountService: accountService,
		log:            log,
	}
}

// ApplyPage upserts one page of aggregator transactions, keyed by
// external transaction id. Re-applying a page is a no-op: existing rows
// are only touched when amount, description, date, or direction
// actually changed, and the balance delta is computed from the stored
// row, never re-added. A single malformed record rolls back the entire
// page.
func (s *reconcilerService) ApplyPage(ctx context.Context, userID uint, transactions []aggregator.Transaction) (*PageResult, error) {
	result := &PageResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		accounts := make(map[string]*models.Account)

		for i := range transactions {
			in := transactions[i]
			if err := validateIncoming(in); err != nil {
				return err
			}

			account, err := s.resolveAccount(tx, accounts, userID, in.AccountExternalID)
			if err != nil {
				return err
			}

			var existing models.Transaction
			err = tx.Unscoped().Where("external_id = ?", in.ExternalID).First(&existing).Error
			switch {
			case err == nil:
				if existing.DeletedAt.Valid {
					// The aggregator already reported this transaction
					// removed; a late re-delivery must not resurrect it.
					continue
				}
				changed, err := s.updateExisting(tx, &existing, in)
				if err != nil {
					return err
				}
				if changed {
					result.Updated++
				}

			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := s.insertNew(ctx, tx, userID, account, in); err != nil {
					return err
				}
				result.Created++

			default:
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validateIncoming rejects records the reconciler cannot safely apply.
func validateIncoming(in aggregator.Transaction) error {
	if in.ExternalID == "" {
		return apperrors.WithMessage(apperrors.ErrMalformedPage, "transaction without external id")
	}
	if in.AccountExternalID == "" {
		return apperrors.WithMessage(apperrors.ErrMalformedPage, fmt.Sprintf("transaction %s without account id", in.ExternalID))
	}
	if in.Amount < 0 {
		return apperrors.WithMessage(apperrors.ErrMalformedPage, fmt.Sprintf("transaction %s with negative amount", in.ExternalID))
	}
	if in.Direction != aggregator.DirectionIncome && in.Direction != aggregator.DirectionExpense {
		return apperrors.WithMessage(apperrors.ErrMalformedPage, fmt.Sprintf("transaction %s with unknown direction %q", in.ExternalID, in.Direction))
	}
	return nil
}

// resolveAccount maps an external account id to the local account,
// caching lookups for the duration of the page. An unknown account id
// means the page references an account that was never linked, which
// fails the page.
func (s *reconcilerService) resolveAccount(tx *gorm.DB, cache map[string]*models.Account, userID uint, externalID string) (*models.Account, error) {
	if account, ok := cache[externalID]; ok {
		return account, nil
	}

	var account models.Account
	err := tx.Where("external_id = ? AND user_id = ?", externalID, userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.WithMessage(apperrors.ErrMalformedPage, fmt.Sprintf("unknown account %s", externalID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	cache[externalID] = &account
	return &account, nil
}

// updateExisting reconciles a re-delivered transaction against its
// stored row. The balance delta is the difference between the new and
// old signed contributions, so direction flips are handled the same way
// as amount changes. Updates never re-trigger category prediction.
func (s *reconcilerService) updateExisting(tx *gorm.DB, existing *models.Transaction, in aggregator.Transaction) (bool, error) {
	newType := models.TransactionType(in.Direction)

	if existing.Amount == in.Amount &&
		existing.Description == in.Description &&
		existing.Type == newType &&
		sameDay(existing.Date, in.Date) {
		return false, nil
	}

	oldSigned := existing.SignedAmount()
	newSigned := in.Amount
	if newType == models.TransactionTypeExpense {
		newSigned = -newSigned
	}

	updates := map[string]interface{}{
		"amount":      in.Amount,
		"description": in.Description,
		"date":        in.Date,
		"type":        newType,
	}
	if err := tx.Model(existing).Updates(updates).Error; err != nil {
		return false, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	if delta := newSigned - oldSigned; delta != 0 {
		if err := s.accountService.AdjustBalance(tx, existing.AccountID, delta); err != nil {
			return false, err
		}
	}
	return true, nil
}

// insertNew creates a row for a transaction seen for the first time and
// applies its signed balance delta. Category prediction is best-effort:
// an oracle failure leaves the transaction uncategorized.
func (s *reconcilerService) insertNew(ctx context.Context, tx *gorm.DB, userID uint, account *models.Account, in aggregator.Transaction) error {
	externalID := in.ExternalID
	row := &models.Transaction{
		UserID:      userID,
		AccountID:   account.ID,
		CategoryID:  s.predictCategory(ctx, tx, userID, in),
		ExternalID:  &externalID,
		Type:        models.TransactionType(in.Direction),
		Amount:      in.Amount,
		Description: in.Description,
		Date:        in.Date,
		Location:    in.Location,
	}

	if err := tx.Create(row).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return s.accountService.AdjustBalance(tx, account.ID, row.SignedAmount())
}

// predictCategory asks the oracle for a category and verifies the
// prediction refers to one of the user's categories. Any failure along
// the way returns nil rather than an error.
func (s *reconcilerService) predictCategory(ctx context.Context, tx *gorm.DB, userID uint, in aggregator.Transaction) *uint {
	prediction, err := s.oracle.Predict(ctx, in.Description, in.Amount, in.Date)
	if err != nil {
		s.log.Warnw("category prediction failed, leaving transaction uncategorized",
			"external_id", in.ExternalID,
			"error", err,
		)
		return nil
	}
	if prediction == nil || prediction.CategoryID == 0 {
		return nil
	}

	var count int64
	if err := tx.Model(&models.Category{}).
		Where("id = ? AND user_id = ?", prediction.CategoryID, userID).
		Count(&count).Error; err != nil || count == 0 {
		return nil
	}

	categoryID := prediction.CategoryID
	return &categoryID
}

// ApplyAccountSnapshot overwrites each account's balance with the
// aggregator-reported authoritative value and stamps last_synced_at.
// The snapshot always wins over locally accumulated deltas. Snapshots
// for accounts that were never linked locally are skipped with a
// warning.
func (s *reconcilerService) ApplyAccountSnapshot(ctx context.Context, snapshots []aggregator.AccountSnapshot) error {
	now := time.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, snapshot := range snapshots {
			res := tx.Model(&models.Account{}).
				Where("external_id = ?", snapshot.ExternalID).
				Updates(map[string]interface{}{
					"balance":        snapshot.CurrentBalance,
					"last_synced_at": now,
				})
			if res.Error != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
			}
			if res.RowsAffected == 0 {
				s.log.Warnw("snapshot for unlinked account skipped", "external_id", snapshot.ExternalID)
			}
		}
		return nil
	})
}

// RemoveTransactions soft-deletes the rows matching the given external
// ids and reverses each one's balance contribution. Ids that are
// unknown or already soft-deleted are skipped, so re-delivered removal
// lists are idempotent. Returns the number of rows actually removed.
func (s *reconcilerService) RemoveTransactions(ctx context.Context, userID uint, externalIDs []string) (int, error) {
	removed := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, externalID := range externalIDs {
			var transaction models.Transaction
			err := tx.Where("external_id = ? AND user_id = ?", externalID, userID).First(&transaction).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Unknown or already soft-deleted.
				continue
			}
			if err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}

			if err := tx.Delete(&transaction).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
			if err := s.accountService.AdjustBalance(tx, transaction.AccountID, -transaction.SignedAmount()); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// sameDay compares transaction dates at day granularity, the precision
// the aggregator reports.
func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
