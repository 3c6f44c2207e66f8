package services

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
	"fintrack/internal/pagination"
)

// Alert thresholds in percent of the budget limit, checked highest
// first so a single transaction produces at most one alert.
var alertThresholds = []float64{100, 90, 75}

// budgetService handles budget CRUD and the analytics derived from the
// ledger: progress, linear-trend forecasting, and sizing
// recommendations. All analytics read committed transaction rows only;
// they never see a row without its balance effect because the two
// commit together.
type budgetService struct {
	db *gorm.DB
}

// NewBudgetService creates a new BudgetServicer.
func NewBudgetService(db *gorm.DB) BudgetServicer {
	return &budgetService{db: db}
}

// CreateBudget creates a budget for one of the user's categories.
func (s *budgetService) CreateBudget(userID, categoryID uint, name string, amount int64, period models.BudgetPeriod, startDate time.Time, endDate *time.Time) (*models.Budget, error) {
	if amount <= 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "budget amount must be greater than zero")
	}
	if endDate != nil && endDate.Before(startDate) {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "end date must be after start date")
	}

	var category models.Category
	if err := s.db.Where("id = ? AND user_id = ?", categoryID, userID).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrCategoryNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	if startDate.IsZero() {
		startDate = time.Now()
	}

	budget := &models.Budget{
		UserID:     userID,
		CategoryID: categoryID,
		Name:       name,
		Amount:     amount,
		Period:     period,
		StartDate:  startDate,
		EndDate:    endDate,
		IsActive:   true,
	}
	if err := s.db.Create(budget).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return budget, nil
}

// GetUserBudgets retrieves a paginated, filtered list of budgets for a user.
func (s *budgetService) GetUserBudgets(userID uint, page pagination.PageRequest, isActive *bool, period *models.BudgetPeriod) (*pagination.PageResponse[models.Budget], error) {
	page.Defaults()

	base := s.db.Model(&models.Budget{}).Where("user_id = ?", userID)
	if isActive != nil {
		base = base.Where("is_active = ?", *isActive)
	}
	if period != nil {
		base = base.Where("period = ?", *period)
	}

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var budgets []models.Budget
	if err := base.Scopes(pagination.Paginate(page)).
		Preload("Category").
		Order("created_at DESC").
		Find(&budgets).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(budgets, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// GetBudgetByID retrieves a budget by ID for a specific user
func (s *budgetService) GetBudgetByID(userID, budgetID uint) (*models.Budget, error) {
	var budget models.Budget
	if err := s.db.Preload("Category").
		Where("id = ? AND user_id = ?", budgetID, userID).
		First(&budget).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrBudgetNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &budget, nil
}

// UpdateBudget updates the user-editable fields of a budget.
func (s *budgetService) UpdateBudget(userID, budgetID uint, name string, amount *int64, period *models.BudgetPeriod, endDate *time.Time) (*models.Budget, error) {
	budget, err := s.GetBudgetByID(userID, budgetID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if name != "" {
		updates["name"] = name
	}
	if amount != nil {
		if *amount <= 0 {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "budget amount must be greater than zero")
		}
		updates["amount"] = *amount
	}
	if period != nil {
		updates["period"] = *period
	}
	if endDate != nil {
		if endDate.Before(budget.StartDate) {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "end date must be after start date")
		}
		updates["end_date"] = *endDate
	}

	if len(updates) > 0 {
		if err := s.db.Model(budget).Updates(updates).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if err := s.db.Preload("Category").Where("id = ?", budget.ID).First(budget).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
	}
	return budget, nil
}

// DeleteBudget soft-deletes a budget.
func (s *budgetService) DeleteBudget(userID, budgetID uint) error {
	budget, err := s.GetBudgetByID(userID, budgetID)
	if err != nil {
		return err
	}
	if err := s.db.Delete(budget).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// GetBudgetProgress aggregates spend against the budget's limit over
// its window. ProgressPct is clamped to 100; Remaining goes negative
// and IsOverBudget flips when spending exceeds the limit.
func (s *budgetService) GetBudgetProgress(userID, budgetID uint) (*BudgetProgress, error) {
	budget, err := s.GetBudgetByID(userID, budgetID)
	if err != nil {
		return nil, err
	}

	spent, err := s.spentInWindow(userID, budget.CategoryID, budget.StartDate, budget.WindowEnd(time.Now()))
	if err != nil {
		return nil, err
	}

	progressPct := 0.0
	if budget.Amount > 0 {
		progressPct = math.Min(float64(spent)/float64(budget.Amount)*100, 100)
	}

	return &BudgetProgress{
		BudgetID:     budget.ID,
		Budgeted:     budget.Amount,
		Spent:        spent,
		Remaining:    budget.Amount - spent,
		ProgressPct:  progressPct,
		IsOverBudget: spent > budget.Amount,
	}, nil
}

// GetBudgetForecast projects next month's spending in the budget's
// category from the trailing six calendar months. With fewer than two
// months of signal the limit itself is returned at zero confidence.
func (s *budgetService) GetBudgetForecast(userID, budgetID uint) (*BudgetForecast, error) {
	budget, err := s.GetBudgetByID(userID, budgetID)
	if err != nil {
		return nil, err
	}

	totals, err := s.monthlyTotals(userID, budget.CategoryID, 6)
	if err != nil {
		return nil, err
	}
	if len(totals) < 2 {
		return &BudgetForecast{Forecast: budget.Amount, Trend: 0, Confidence: 0}, nil
	}

	trend := olsSlope(totals)
	forecast := math.Max(totals[len(totals)-1]+trend, 0)

	return &BudgetForecast{
		Forecast:   int64(math.Round(forecast)),
		Trend:      trend,
		Confidence: dispersionConfidence(totals),
	}, nil
}

// GetRecommendations sizes budgets against the trailing three months of
// average spending per category. The thresholds are fixed policy: a new
// budget at 110% of average, an increase when the limit undershoots the
// average by more than 10%, a decrease when it overshoots by more than
// 50%.
func (s *budgetService) GetRecommendations(userID uint) ([]BudgetRecommendation, error) {
	since := monthStart(time.Now()).AddDate(0, -3, 0)

	type categorySpend struct {
		CategoryID   uint
		CategoryName string
		Total        int64
	}
	var spending []categorySpend
	if err := s.db.Model(&models.Transaction{}).
		Select("transactions.category_id AS category_id, categories.name AS category_name, SUM(transactions.amount) AS total").
		Joins("JOIN categories ON categories.id = transactions.category_id").
		Where("transactions.user_id = ? AND transactions.type = ? AND transactions.date >= ? AND transactions.category_id IS NOT NULL",
			userID, models.TransactionTypeExpense, since).
		Group("transactions.category_id, categories.name").
		Scan(&spending).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var budgets []models.Budget
	if err := s.db.Where("user_id = ? AND is_active = ?", userID, true).Find(&budgets).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	budgetByCategory := make(map[uint]*models.Budget, len(budgets))
	for i := range budgets {
		budgetByCategory[budgets[i].CategoryID] = &budgets[i]
	}

	recommendations := make([]BudgetRecommendation, 0)
	for _, spend := range spending {
		avg := float64(spend.Total) / 3
		if avg <= 0 {
			continue
		}

		budget, ok := budgetByCategory[spend.CategoryID]
		switch {
		case !ok:
			recommendations = append(recommendations, BudgetRecommendation{
				Type:            RecommendationNewBudget,
				CategoryID:      spend.CategoryID,
				CategoryName:    spend.CategoryName,
				SuggestedAmount: int64(math.Ceil(avg * 1.1)),
				AverageSpending: int64(math.Round(avg)),
			})
		case float64(budget.Amount) < avg*0.9:
			recommendations = append(recommendations, BudgetRecommendation{
				Type:            RecommendationIncreaseBudget,
				CategoryID:      spend.CategoryID,
				CategoryName:    spend.CategoryName,
				BudgetID:        &budget.ID,
				CurrentAmount:   &budget.Amount,
				SuggestedAmount: int64(math.Ceil(avg * 1.1)),
				AverageSpending: int64(math.Round(avg)),
			})
		case float64(budget.Amount) > avg*1.5:
			recommendations = append(recommendations, BudgetRecommendation{
				Type:            RecommendationDecreaseBudget,
				CategoryID:      spend.CategoryID,
				CategoryName:    spend.CategoryName,
				BudgetID:        &budget.ID,
				CurrentAmount:   &budget.Amount,
				SuggestedAmount: int64(math.Ceil(avg * 1.2)),
				AverageSpending: int64(math.Round(avg)),
			})
		}
	}
	return recommendations, nil
}

// CheckAlert reports whether the given transaction pushed spending in
// its category past an alert threshold of an active budget. At most one
// alert is returned, for the highest threshold crossed. Income,
// uncategorized, and unbudgeted transactions never alert.
func (s *budgetService) CheckAlert(transaction *models.Transaction) (*BudgetAlert, error) {
	if transaction.Type != models.TransactionTypeExpense || transaction.CategoryID == nil {
		return nil, nil
	}

	var budget models.Budget
	err := s.db.Where("user_id = ? AND category_id = ? AND is_active = ?",
		transaction.UserID, *transaction.CategoryID, true).
		Where("start_date <= ?", transaction.Date).
		Where("(end_date IS NULL OR end_date >= ?)", transaction.Date).
		First(&budget).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	spent, err := s.spentInWindow(transaction.UserID, budget.CategoryID, budget.StartDate, budget.WindowEnd(time.Now()))
	if err != nil {
		return nil, err
	}
	if budget.Amount <= 0 {
		return nil, nil
	}

	percent := float64(spent) / float64(budget.Amount) * 100
	for _, threshold := range alertThresholds {
		if percent >= threshold {
			return &BudgetAlert{
				BudgetID:   budget.ID,
				BudgetName: budget.Name,
				Message:    fmt.Sprintf("Budget %q has reached %.0f%% of its limit", budget.Name, threshold),
				Spent:      spent,
				Limit:      budget.Amount,
				Percent:    percent,
			}, nil
		}
	}
	return nil, nil
}

// spentInWindow sums expense amounts in a category over [start, end].
func (s *budgetService) spentInWindow(userID, categoryID uint, start, end time.Time) (int64, error) {
	var spent int64
	if err := s.db.Model(&models.Transaction{}).
		Where("user_id = ? AND category_id = ? AND type = ? AND date >= ? AND date <= ?",
			userID, categoryID, models.TransactionTypeExpense, start, end).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&spent).Error; err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return spent, nil
}

// monthlyTotals partitions the trailing N calendar months of expense
// transactions in a category into per-month totals, oldest first. Only
// months that actually have transactions appear.
func (s *budgetService) monthlyTotals(userID, categoryID uint, months int) ([]float64, error) {
	since := monthStart(time.Now()).AddDate(0, -(months - 1), 0)

	var transactions []models.Transaction
	if err := s.db.
		Where("user_id = ? AND category_id = ? AND type = ? AND date >= ?",
			userID, categoryID, models.TransactionTypeExpense, since).
		Find(&transactions).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	byMonth := make(map[int]int64)
	for _, transaction := range transactions {
		key := transaction.Date.Year()*12 + int(transaction.Date.Month())
		byMonth[key] += transaction.Amount
	}

	keys := make([]int, 0, len(byMonth))
	for key := range byMonth {
		keys = append(keys, key)
	}
	sort.Ints(keys)

	totals := make([]float64, 0, len(keys))
	for _, key := range keys {
		totals = append(totals, float64(byMonth[key]))
	}
	return totals, nil
}

// olsSlope fits an ordinary-least-squares line over values indexed
// 0..n-1 and returns its slope.
func olsSlope(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denominator
}

// dispersionConfidence scores how steady the monthly totals are:
// 1 - stddev/mean, clamped to [0, 1]. A zero mean scores 0.
func dispersionConfidence(values []float64) float64 {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= n

	confidence := 1 - math.Sqrt(variance)/mean
	return math.Max(0, math.Min(confidence, 1))
}

// monthStart truncates t to the first instant of its calendar month.
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
