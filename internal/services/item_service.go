package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"fintrack/internal/aggregator"
	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
)

// itemService manages the lifecycle of linked bank connections: link
// token creation, public-token exchange, account provisioning, and
// unlinking.
type itemService struct {
	db           *gorm.DB
	client       aggregator.Client
	auditService AuditServicer
	log          *zap.SugaredLogger
}

// NewItemService creates a new ItemServicer.
func NewItemService(db *gorm.DB, client aggregator.Client, auditService AuditServicer, log *zap.SugaredLogger) ItemServicer {
	return &itemService{
		db:           db,
		client:       client,
		auditService: auditService,
		log:          log,
	}
}

// CreateLinkToken asks the provider for a short-lived token the client
// uses to start the link flow.
func (s *itemService) CreateLinkToken(ctx context.Context, userID uint) (string, error) {
	return s.client.CreateLinkToken(ctx, fmt.Sprintf("%d", userID))
}

// LinkItem exchanges a public token for a permanent credential and
// provisions local accounts for everything the item exposes. The
// credential and its accounts commit together. When the exchanged item
// id already has a credential row, live or soft-deleted, the row is
// refreshed in place so an errored or unlinked item comes back healthy
// with a fresh full-history run ahead of it. The first transaction pull
// is not done here; it starts when the provider signals the item is
// ready via webhook.
func (s *itemService) LinkItem(ctx context.Context, userID uint, publicToken string) (*models.ItemCredential, error) {
	exchange, err := s.client.ExchangeToken(ctx, publicToken)
	if err != nil {
		return nil, err
	}

	var existing models.ItemCredential
	err = s.db.Unscoped().Where("item_id = ?", exchange.ItemID).First(&existing).Error
	if err == nil {
		if existing.UserID != userID {
			return nil, apperrors.ErrItemAlreadyLinked
		}
		return s.relink(ctx, &existing, exchange)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	snapshots, err := s.client.ListAccounts(ctx, exchange.AccessToken)
	if err != nil {
		return nil, err
	}

	credential := &models.ItemCredential{
		UserID:          userID,
		AccessToken:     exchange.AccessToken,
		ItemID:          exchange.ItemID,
		InstitutionID:   exchange.InstitutionID,
		InstitutionName: exchange.InstitutionName,
		Status:          models.ItemStatusHealthy,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(credential).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		for _, snapshot := range snapshots {
			if err := s.upsertAccount(tx, userID, credential.ID, snapshot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditService.Log(userID, "item.linked", "item_credential", credential.ID, "", map[string]any{
		"item_id":     credential.ItemID,
		"institution": credential.InstitutionName,
		"accounts":    len(snapshots),
	})
	s.log.Infow("item linked",
		"item_id", credential.ItemID,
		"institution", credential.InstitutionName,
		"accounts", len(snapshots),
	)
	return credential, nil
}

// relink refreshes an existing credential row for a re-authenticated
// item: new access token, health reset, error fields cleared, cursor
// wiped and initial_sync_done lowered so the next run replays full
// history. The row itself is reused, which keeps the unique item id to
// exactly one credential whether the previous one errored out or was
// unlinked.
func (s *itemService) relink(ctx context.Context, credential *models.ItemCredential, exchange *aggregator.TokenExchange) (*models.ItemCredential, error) {
	snapshots, err := s.client.ListAccounts(ctx, exchange.AccessToken)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"access_token":      exchange.AccessToken,
			"institution_id":    exchange.InstitutionID,
			"institution_name":  exchange.InstitutionName,
			"status":            models.ItemStatusHealthy,
			"error_code":        nil,
			"error_message":     nil,
			"requires_reauth":   false,
			"cursor":            "",
			"initial_sync_done": false,
			"deleted_at":        nil,
		}
		if err := tx.Unscoped().Model(credential).Updates(updates).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		for _, snapshot := range snapshots {
			if err := s.upsertAccount(tx, credential.UserID, credential.ID, snapshot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var refreshed models.ItemCredential
	if err := s.db.First(&refreshed, credential.ID).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	s.auditService.Log(credential.UserID, "item.relinked", "item_credential", credential.ID, "", map[string]any{
		"item_id":  refreshed.ItemID,
		"accounts": len(snapshots),
	})
	s.log.Infow("item relinked",
		"item_id", refreshed.ItemID,
		"accounts", len(snapshots),
	)
	return &refreshed, nil
}

// upsertAccount creates the local account for a provider snapshot or,
// when the external id is already known, reactivates and refreshes the
// existing row so history stays attached to it across relinks.
func (s *itemService) upsertAccount(tx *gorm.DB, userID, credentialID uint, snapshot aggregator.AccountSnapshot) error {
	var account models.Account
	err := tx.Where("external_id = ?", snapshot.ExternalID).First(&account).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"credential_id": credentialID,
			"name":          snapshot.Name,
			"currency":      snapshot.Currency,
			"balance":       snapshot.CurrentBalance,
			"is_active":     true,
		}
		if err := tx.Model(&account).Updates(updates).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		externalID := snapshot.ExternalID
		account = models.Account{
			UserID:       userID,
			CredentialID: &credentialID,
			ExternalID:   &externalID,
			Name:         snapshot.Name,
			Type:         accountTypeOf(snapshot.Type),
			Currency:     snapshot.Currency,
			Balance:      snapshot.CurrentBalance,
			IsActive:     true,
		}
		if err := tx.Create(&account).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return nil

	default:
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
}

// Unlink removes a bank connection. Its accounts are deactivated but
// kept, so historical transactions stay queryable; the credential
// itself is soft-deleted, which frees the item id for a future relink.
func (s *itemService) Unlink(ctx context.Context, userID, credentialID uint) error {
	var credential models.ItemCredential
	if err := s.db.Where("id = ? AND user_id = ?", credentialID, userID).First(&credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrItemNotFound
		}
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Account{}).
			Where("credential_id = ?", credential.ID).
			Update("is_active", false).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if err := tx.Delete(&credential).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.auditService.Log(userID, "item.unlinked", "item_credential", credential.ID, "", map[string]any{
		"item_id": credential.ItemID,
	})
	return nil
}

// GetUserItems lists a user's linked connections.
func (s *itemService) GetUserItems(userID uint) ([]models.ItemCredential, error) {
	var credentials []models.ItemCredential
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&credentials).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return credentials, nil
}

// accountTypeOf maps provider account types onto ours; anything
// unrecognized lands in checking rather than failing the link.
func accountTypeOf(providerType string) models.AccountType {
	switch providerType {
	case "savings":
		return models.AccountTypeSavings
	case "credit":
		return models.AccountTypeCredit
	default:
		return models.AccountTypeChecking
	}
}
