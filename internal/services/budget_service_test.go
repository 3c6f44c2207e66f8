package services

import (
	"math"
	"testing"
	"time"

	"fintrack/internal/models"
	"fintrack/internal/testutil"

	"gorm.io/gorm"
)

func expenseOn(t *testing.T, db *gorm.DB, userID, accountID, categoryID uint, amount int64, date time.Time) *models.Transaction {
	t.Helper()

	tx := &models.Transaction{
		UserID:     userID,
		AccountID:  accountID,
		CategoryID: &categoryID,
		Type:       models.TransactionTypeExpense,
		Amount:     amount,
		Date:       date,
	}
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("failed to create expense: %v", err)
	}
	return tx
}

func TestGetBudgetProgress(t *testing.T) {
	t.Run("under_budget", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		expenseOn(t, db, user.ID, account.ID, category.ID, 20000, time.Now().AddDate(0, 0, -5))

		progress, err := svc.GetBudgetProgress(user.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if progress.Spent != 20000 {
			t.Errorf("expected spent 20000, got %d", progress.Spent)
		}
		if progress.Remaining != 30000 {
			t.Errorf("expected remaining 30000, got %d", progress.Remaining)
		}
		if progress.ProgressPct != 40 {
			t.Errorf("expected 40%%, got %f", progress.ProgressPct)
		}
		if progress.IsOverBudget {
			t.Error("expected not over budget")
		}
	})

	t.Run("over_budget_clamps_pct", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		expenseOn(t, db, user.ID, account.ID, category.ID, 52000, time.Now().AddDate(0, 0, -5))

		progress, err := svc.GetBudgetProgress(user.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if progress.ProgressPct != 100 {
			t.Errorf("expected pct clamped to 100, got %f", progress.ProgressPct)
		}
		if progress.Remaining != -2000 {
			t.Errorf("expected remaining -2000, got %d", progress.Remaining)
		}
		if !progress.IsOverBudget {
			t.Error("expected over budget")
		}
	})

	t.Run("income_and_other_categories_excluded", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		other := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		expenseOn(t, db, user.ID, account.ID, category.ID, 10000, time.Now().AddDate(0, 0, -2))
		expenseOn(t, db, user.ID, account.ID, other.ID, 90000, time.Now().AddDate(0, 0, -2))
		testutil.CreateTestTransaction(t, db, user.ID, account.ID, models.TransactionTypeIncome, 500000)

		progress, err := svc.GetBudgetProgress(user.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if progress.Spent != 10000 {
			t.Errorf("expected spent 10000, got %d", progress.Spent)
		}
	})

	t.Run("unknown_budget", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)

		_, err := svc.GetBudgetProgress(user.ID, 99999)
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})
}

func TestGetBudgetForecast(t *testing.T) {
	t.Run("insufficient_signal_returns_limit", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		// Only one month with data.
		expenseOn(t, db, user.ID, account.ID, category.ID, 12000, time.Now())

		forecast, err := svc.GetBudgetForecast(user.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if forecast.Forecast != 50000 {
			t.Errorf("expected forecast to fall back to the limit 50000, got %d", forecast.Forecast)
		}
		if forecast.Trend != 0 || forecast.Confidence != 0 {
			t.Errorf("expected zero trend and confidence, got %f / %f", forecast.Trend, forecast.Confidence)
		}
	})

	t.Run("linear_trend_projection", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		// Monthly totals 10000, 20000, 30000: slope 10000, next 40000.
		// Anchoring mid-month keeps AddDate from sliding across month
		// boundaries.
		now := time.Now()
		anchor := time.Date(now.Year(), now.Month(), 15, 12, 0, 0, 0, time.UTC)
		expenseOn(t, db, user.ID, account.ID, category.ID, 10000, anchor.AddDate(0, -2, 0))
		expenseOn(t, db, user.ID, account.ID, category.ID, 20000, anchor.AddDate(0, -1, 0))
		expenseOn(t, db, user.ID, account.ID, category.ID, 30000, anchor)

		forecast, err := svc.GetBudgetForecast(user.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if forecast.Forecast != 40000 {
			t.Errorf("expected forecast 40000, got %d", forecast.Forecast)
		}
		if math.Abs(forecast.Trend-10000) > 0.001 {
			t.Errorf("expected trend 10000, got %f", forecast.Trend)
		}
		// stddev/mean of [10000 20000 30000] is ~0.408.
		if math.Abs(forecast.Confidence-0.5918) > 0.001 {
			t.Errorf("expected confidence ~0.5918, got %f", forecast.Confidence)
		}
	})

	t.Run("declining_trend_floors_at_zero", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		now := time.Now()
		anchor := time.Date(now.Year(), now.Month(), 15, 12, 0, 0, 0, time.UTC)
		expenseOn(t, db, user.ID, account.ID, category.ID, 50000, anchor.AddDate(0, -1, 0))
		expenseOn(t, db, user.ID, account.ID, category.ID, 1000, anchor)

		forecast, err := svc.GetBudgetForecast(user.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if forecast.Forecast != 0 {
			t.Errorf("expected forecast floored at 0, got %d", forecast.Forecast)
		}
		if forecast.Trend >= 0 {
			t.Errorf("expected negative trend, got %f", forecast.Trend)
		}
	})

	t.Run("steady_spending_has_high_confidence", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		now := time.Now()
		anchor := time.Date(now.Year(), now.Month(), 15, 12, 0, 0, 0, time.UTC)
		for i := 3; i >= 0; i-- {
			expenseOn(t, db, user.ID, account.ID, category.ID, 20000, anchor.AddDate(0, -i, 0))
		}

		forecast, err := svc.GetBudgetForecast(user.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if forecast.Confidence != 1 {
			t.Errorf("expected confidence 1 for identical months, got %f", forecast.Confidence)
		}
		if forecast.Forecast != 20000 {
			t.Errorf("expected forecast 20000, got %d", forecast.Forecast)
		}
	})
}

func TestGetRecommendations(t *testing.T) {
	t.Run("policy_thresholds", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)

		now := time.Now()
		spend := func(categoryID uint) {
			// 30000 over the trailing three months: average 10000/month.
			for i := 0; i < 3; i++ {
				expenseOn(t, db, user.ID, account.ID, categoryID, 10000, now.AddDate(0, 0, -(i*20 + 1)))
			}
		}

		unbudgeted := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		spend(unbudgeted.ID)

		undershooting := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		spend(undershooting.ID)
		low := testutil.CreateTestBudget(t, db, user.ID, undershooting.ID, 5000)

		overshooting := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		spend(overshooting.ID)
		high := testutil.CreateTestBudget(t, db, user.ID, overshooting.ID, 20000)

		wellSized := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		spend(wellSized.ID)
		testutil.CreateTestBudget(t, db, user.ID, wellSized.ID, 10000)

		recommendations, err := svc.GetRecommendations(user.ID)
		testutil.AssertNoError(t, err)

		byCategory := make(map[uint]BudgetRecommendation)
		for _, rec := range recommendations {
			byCategory[rec.CategoryID] = rec
		}
		if len(byCategory) != 3 {
			t.Fatalf("expected 3 recommendations, got %d: %+v", len(byCategory), recommendations)
		}

		newRec := byCategory[unbudgeted.ID]
		if newRec.Type != RecommendationNewBudget || newRec.SuggestedAmount != 11000 {
			t.Errorf("expected NEW_BUDGET at 11000, got %+v", newRec)
		}

		incRec := byCategory[undershooting.ID]
		if incRec.Type != RecommendationIncreaseBudget || incRec.SuggestedAmount != 11000 {
			t.Errorf("expected INCREASE_BUDGET to 11000, got %+v", incRec)
		}
		if incRec.BudgetID == nil || *incRec.BudgetID != low.ID {
			t.Errorf("expected increase to reference budget %d", low.ID)
		}

		decRec := byCategory[overshooting.ID]
		if decRec.Type != RecommendationDecreaseBudget || decRec.SuggestedAmount != 12000 {
			t.Errorf("expected DECREASE_BUDGET to 12000, got %+v", decRec)
		}
		if decRec.BudgetID == nil || *decRec.BudgetID != high.ID {
			t.Errorf("expected decrease to reference budget %d", high.ID)
		}
	})

	t.Run("no_spending_no_recommendations", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)

		recommendations, err := svc.GetRecommendations(user.ID)
		testutil.AssertNoError(t, err)
		if len(recommendations) != 0 {
			t.Errorf("expected no recommendations, got %+v", recommendations)
		}
	})
}

func TestCheckAlert(t *testing.T) {
	t.Run("crossing_threshold_alerts_once", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		tx := expenseOn(t, db, user.ID, account.ID, category.ID, 40000, time.Now())

		alert, err := svc.CheckAlert(tx)
		testutil.AssertNoError(t, err)
		if alert == nil {
			t.Fatal("expected an alert at 80% of the limit")
		}
		if alert.BudgetID != budget.ID {
			t.Errorf("expected alert for budget %d, got %d", budget.ID, alert.BudgetID)
		}
		if math.Abs(alert.Percent-80) > 0.001 {
			t.Errorf("expected 80%%, got %f", alert.Percent)
		}
	})

	t.Run("over_limit_reports_highest_threshold", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		tx := expenseOn(t, db, user.ID, account.ID, category.ID, 52000, time.Now())

		alert, err := svc.CheckAlert(tx)
		testutil.AssertNoError(t, err)
		if alert == nil {
			t.Fatal("expected an alert over the limit")
		}
		if math.Abs(alert.Percent-104) > 0.001 {
			t.Errorf("expected 104%%, got %f", alert.Percent)
		}
	})

	t.Run("below_thresholds_no_alert", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)
		category := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		testutil.CreateTestBudget(t, db, user.ID, category.ID, 50000)

		tx := expenseOn(t, db, user.ID, account.ID, category.ID, 10000, time.Now())

		alert, err := svc.CheckAlert(tx)
		testutil.AssertNoError(t, err)
		if alert != nil {
			t.Errorf("expected no alert at 20%%, got %+v", alert)
		}
	})

	t.Run("income_never_alerts", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestAccount(t, db, user.ID)

		tx := testutil.CreateTestTransaction(t, db, user.ID, account.ID, models.TransactionTypeIncome, 1000000)

		alert, err := svc.CheckAlert(tx)
		testutil.AssertNoError(t, err)
		if alert != nil {
			t.Errorf("expected no alert for income, got %+v", alert)
		}
	})
}
