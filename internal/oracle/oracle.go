// Package oracle defines the category-prediction collaborator. The
// reconciler treats it as best-effort: a failed prediction leaves a
// transaction uncategorized, it never fails a sync.
package oracle

import (
	"context"
	"time"
)

// Prediction is the oracle's guess for a transaction's category.
type Prediction struct {
	CategoryID uint    `json:"category_id"`
	Confidence float64 `json:"confidence"`
}

// Oracle maps a transaction's description/amount/date to a predicted
// category with a confidence score.
type Oracle interface {
	Predict(ctx context.Context, description string, amount int64, date time.Time) (*Prediction, error)
}
