package services

import (
	"context"
	"testing"

	"fintrack/internal/aggregator"
	"fintrack/internal/logger"
	"fintrack/internal/models"
	"fintrack/internal/testutil"
)

func TestLinkItem(t *testing.T) {
	logger.Init("test")

	t.Run("provisions_linked_accounts", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)

		client := &fakeAggregatorClient{
			failAt: -1,
			snapshots: []aggregator.AccountSnapshot{
				{ExternalID: "ext-1", Name: "Everyday", Type: "checking", Currency: "USD", CurrentBalance: 125000},
				{ExternalID: "ext-2", Name: "Rainy Day", Type: "savings", Currency: "USD", CurrentBalance: 800000},
				{ExternalID: "ext-3", Name: "Mortgage", Type: "loan", Currency: "USD", CurrentBalance: -20000000},
			},
		}
		svc := NewItemService(db, client, NewAuditService(db, logger.Get()), logger.Get())

		credential, err := svc.LinkItem(context.Background(), user.ID, "public-token")
		testutil.AssertNoError(t, err)
		if credential.ItemID != "item-x" {
			t.Errorf("expected item-x, got %q", credential.ItemID)
		}
		if credential.Status != models.ItemStatusHealthy {
			t.Errorf("expected healthy item, got %s", credential.Status)
		}

		var accounts []models.Account
		testutil.AssertNoError(t, db.Where("credential_id = ?", credential.ID).Order("id").Find(&accounts).Error)
		if len(accounts) != 3 {
			t.Fatalf("expected 3 provisioned accounts, got %d", len(accounts))
		}
		if accounts[1].Type != models.AccountTypeSavings {
			t.Errorf("expected savings mapping, got %s", accounts[1].Type)
		}
		// Unrecognized provider types land in checking instead of failing the link.
		if accounts[2].Type != models.AccountTypeChecking {
			t.Errorf("expected checking fallback for unknown type, got %s", accounts[2].Type)
		}
		if accounts[2].Balance != -20000000 {
			t.Errorf("expected snapshot balance carried over, got %d", accounts[2].Balance)
		}
	})

	t.Run("relink_after_error_resets_state", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)

		client := &fakeAggregatorClient{failAt: -1}
		svc := NewItemService(db, client, NewAuditService(db, logger.Get()), logger.Get())

		credential, err := svc.LinkItem(context.Background(), user.ID, "public-token")
		testutil.AssertNoError(t, err)

		errCode := "REAUTH_REQUIRED"
		testutil.AssertNoError(t, db.Model(credential).Updates(map[string]interface{}{
			"status":            models.ItemStatusReauthRequired,
			"error_code":        errCode,
			"requires_reauth":   true,
			"cursor":            "cur-9",
			"initial_sync_done": true,
		}).Error)

		relinked, err := svc.LinkItem(context.Background(), user.ID, "public-token")
		testutil.AssertNoError(t, err)

		if relinked.ID != credential.ID {
			t.Errorf("expected credential row reused, got %d and %d", credential.ID, relinked.ID)
		}
		if relinked.Status != models.ItemStatusHealthy {
			t.Errorf("expected healthy item after relink, got %s", relinked.Status)
		}
		if relinked.RequiresReauth {
			t.Error("relink must lift the sync gate")
		}
		if relinked.ErrorCode != nil {
			t.Errorf("expected cleared error code, got %v", *relinked.ErrorCode)
		}
		if relinked.Cursor != "" || relinked.InitialSyncDone {
			t.Errorf("expected fresh full-history state, got cursor %q initial_sync_done=%v",
				relinked.Cursor, relinked.InitialSyncDone)
		}
	})

	t.Run("relink_after_unlink_reuses_row", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)

		client := &fakeAggregatorClient{
			failAt: -1,
			snapshots: []aggregator.AccountSnapshot{
				{ExternalID: "ext-1", Name: "Everyday", Type: "checking", Currency: "USD", CurrentBalance: 125000},
			},
		}
		svc := NewItemService(db, client, NewAuditService(db, logger.Get()), logger.Get())

		credential, err := svc.LinkItem(context.Background(), user.ID, "public-token")
		testutil.AssertNoError(t, err)
		testutil.AssertNoError(t, svc.Unlink(context.Background(), user.ID, credential.ID))

		relinked, err := svc.LinkItem(context.Background(), user.ID, "public-token")
		testutil.AssertNoError(t, err)
		if relinked.ID != credential.ID {
			t.Errorf("expected credential row reused, got %d and %d", credential.ID, relinked.ID)
		}

		var account models.Account
		testutil.AssertNoError(t, db.Where("external_id = ?", "ext-1").First(&account).Error)
		if !account.IsActive {
			t.Error("expected relink to reactivate the linked account")
		}

		items, err := svc.GetUserItems(user.ID)
		testutil.AssertNoError(t, err)
		if len(items) != 1 {
			t.Errorf("expected relinked item listed again, got %d items", len(items))
		}
	})

	t.Run("another_users_item_rejected", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		other := testutil.CreateTestUser(t, db)

		client := &fakeAggregatorClient{failAt: -1}
		svc := NewItemService(db, client, NewAuditService(db, logger.Get()), logger.Get())

		_, err := svc.LinkItem(context.Background(), user.ID, "public-token")
		testutil.AssertNoError(t, err)

		_, err = svc.LinkItem(context.Background(), other.ID, "public-token")
		testutil.AssertAppError(t, err, "ITEM_ALREADY_LINKED")
	})
}

func TestUnlink(t *testing.T) {
	logger.Init("test")

	t.Run("deactivates_accounts_keeps_history", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		credential := testutil.CreateTestCredential(t, db, user.ID)
		account := testutil.CreateTestLinkedAccount(t, db, user.ID, &credential.ID, "ext-acct-1", 50000)
		tx := testutil.CreateTestTransaction(t, db, user.ID, account.ID, models.TransactionTypeExpense, 4000)

		svc := NewItemService(db, &fakeAggregatorClient{failAt: -1}, NewAuditService(db, logger.Get()), logger.Get())
		testutil.AssertNoError(t, svc.Unlink(context.Background(), user.ID, credential.ID))

		var reloadedAccount models.Account
		testutil.AssertNoError(t, db.First(&reloadedAccount, account.ID).Error)
		if reloadedAccount.IsActive {
			t.Error("expected unlinked account deactivated")
		}

		var reloadedTx models.Transaction
		testutil.AssertNoError(t, db.First(&reloadedTx, tx.ID).Error)

		items, err := svc.GetUserItems(user.ID)
		testutil.AssertNoError(t, err)
		if len(items) != 0 {
			t.Errorf("expected no listed items after unlink, got %d", len(items))
		}
	})

	t.Run("not_found", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)

		svc := NewItemService(db, &fakeAggregatorClient{failAt: -1}, NewAuditService(db, logger.Get()), logger.Get())
		err := svc.Unlink(context.Background(), user.ID, 99999)
		testutil.AssertAppError(t, err, "ITEM_NOT_FOUND")
	})

	t.Run("other_users_item_hidden", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		other := testutil.CreateTestUser(t, db)
		credential := testutil.CreateTestCredential(t, db, other.ID)

		svc := NewItemService(db, &fakeAggregatorClient{failAt: -1}, NewAuditService(db, logger.Get()), logger.Get())
		err := svc.Unlink(context.Background(), user.ID, credential.ID)
		testutil.AssertAppError(t, err, "ITEM_NOT_FOUND")
	})
}
