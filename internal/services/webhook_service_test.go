package services

import (
	"context"
	"testing"
	"time"

	"fintrack/internal/aggregator"
	"fintrack/internal/logger"
	"fintrack/internal/models"
	"fintrack/internal/testutil"
)

// fakeSyncService records the items it was asked to sync.
type fakeSyncService struct {
	synced []string
	err    error
}

func (f *fakeSyncService) Sync(ctx context.Context, itemID string) (*SyncResult, error) {
	f.synced = append(f.synced, itemID)
	if f.err != nil {
		return nil, f.err
	}
	return &SyncResult{}, nil
}

func TestHandleWebhook(t *testing.T) {
	logger.Init("test")

	t.Run("transaction_updates_trigger_sync", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		credential := testutil.CreateTestCredential(t, db, user.ID)

		for _, code := range []string{"INITIAL_UPDATE", "HISTORICAL_UPDATE", "DEFAULT_UPDATE"} {
			syncSvc := &fakeSyncService{}
			svc := NewWebhookService(db, syncSvc, nil, &fakeAggregatorClient{failAt: -1}, logger.Get())

			err := svc.HandleWebhook(context.Background(), "TRANSACTIONS", code, credential.ItemID)
			testutil.AssertNoError(t, err)
			if len(syncSvc.synced) != 1 || syncSvc.synced[0] != credential.ItemID {
				t.Errorf("%s: expected one sync for %s, got %v", code, credential.ItemID, syncSvc.synced)
			}
		}
	})

	t.Run("transactions_removed_bypasses_full_sync", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		credential := testutil.CreateTestCredential(t, db, user.ID)
		account := testutil.CreateTestLinkedAccount(t, db, user.ID, &credential.ID, "ext-acct-1", 100000)

		acctSvc := NewAccountService(db)
		rec := NewReconcilerService(db, &fakeOracle{}, acctSvc, logger.Get())
		_, err := rec.ApplyPage(context.Background(), user.ID, []aggregator.Transaction{
			incoming("ext-tx-1", "ext-acct-1", aggregator.DirectionExpense, 4000, "Coffee", time.Now()),
		})
		testutil.AssertNoError(t, err)

		syncSvc := &fakeSyncService{}
		client := &fakeAggregatorClient{failAt: -1, removedIDs: []string{"ext-tx-1"}}
		svc := NewWebhookService(db, syncSvc, rec, client, logger.Get())

		err = svc.HandleWebhook(context.Background(), "TRANSACTIONS", "TRANSACTIONS_REMOVED", credential.ItemID)
		testutil.AssertNoError(t, err)

		if len(syncSvc.synced) != 0 {
			t.Error("removal webhook must not run a full sync")
		}
		updated, err := acctSvc.GetAccountByID(user.ID, account.ID)
		testutil.AssertNoError(t, err)
		if updated.Balance != 100000 {
			t.Errorf("expected balance restored to 100000, got %d", updated.Balance)
		}
	})

	t.Run("item_error_blocks_automatic_syncs", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		credential := testutil.CreateTestCredential(t, db, user.ID)

		svc := NewWebhookService(db, &fakeSyncService{}, nil, &fakeAggregatorClient{failAt: -1}, logger.Get())
		err := svc.HandleWebhook(context.Background(), "ITEM", "ERROR", credential.ItemID)
		testutil.AssertNoError(t, err)

		var reloaded models.ItemCredential
		testutil.AssertNoError(t, db.First(&reloaded, credential.ID).Error)
		if reloaded.Status != models.ItemStatusError {
			t.Errorf("expected error status, got %s", reloaded.Status)
		}
		if !reloaded.RequiresReauth {
			t.Error("expected requires_reauth to block further automatic syncs")
		}
		if reloaded.ErrorCode == nil {
			t.Error("expected a recorded error code")
		}
	})

	t.Run("pending_expiration_keeps_syncing", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		credential := testutil.CreateTestCredential(t, db, user.ID)

		svc := NewWebhookService(db, &fakeSyncService{}, nil, &fakeAggregatorClient{failAt: -1}, logger.Get())
		err := svc.HandleWebhook(context.Background(), "ITEM", "PENDING_EXPIRATION", credential.ItemID)
		testutil.AssertNoError(t, err)

		var reloaded models.ItemCredential
		testutil.AssertNoError(t, db.First(&reloaded, credential.ID).Error)
		if reloaded.Status != models.ItemStatusReauthRequired {
			t.Errorf("expected reauth_required status, got %s", reloaded.Status)
		}
		// Credentials have not expired yet, so syncs stay permitted.
		if reloaded.RequiresReauth {
			t.Error("pending expiration must not gate syncs")
		}
	})

	t.Run("unknown_codes_are_discarded", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		credential := testutil.CreateTestCredential(t, db, user.ID)

		syncSvc := &fakeSyncService{}
		svc := NewWebhookService(db, syncSvc, nil, &fakeAggregatorClient{failAt: -1}, logger.Get())

		for _, pair := range [][2]string{
			{"TRANSACTIONS", "SOMETHING_NEW"},
			{"ITEM", "WEBHOOK_UPDATE_ACKNOWLEDGED"},
			{"ASSETS", "DEFAULT_UPDATE"},
		} {
			err := svc.HandleWebhook(context.Background(), pair[0], pair[1], credential.ItemID)
			testutil.AssertNoError(t, err)
		}

		if len(syncSvc.synced) != 0 {
			t.Error("unknown webhooks must not trigger syncs")
		}
		var reloaded models.ItemCredential
		testutil.AssertNoError(t, db.First(&reloaded, credential.ID).Error)
		if reloaded.Status != models.ItemStatusHealthy {
			t.Errorf("unknown webhooks must not change item state, got %s", reloaded.Status)
		}
	})

	t.Run("unknown_item", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)

		svc := NewWebhookService(db, &fakeSyncService{}, nil, &fakeAggregatorClient{failAt: -1}, logger.Get())
		err := svc.HandleWebhook(context.Background(), "ITEM", "ERROR", "no-such-item")
		testutil.AssertAppError(t, err, "ITEM_NOT_FOUND")
	})
}
