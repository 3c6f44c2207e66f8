package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpOracle calls the ML service's prediction endpoint. The short
// timeout keeps a slow model from stalling reconciliation; callers
// already treat errors as a missing prediction.
type httpOracle struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOracle creates an Oracle backed by the ML service.
func NewHTTPOracle(baseURL string, timeout time.Duration) Oracle {
	return &httpOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *httpOracle) Predict(ctx context.Context, description string, amount int64, date time.Time) (*Prediction, error) {
	payload, err := json.Marshal(map[string]any{
		"description": description,
		"amount":      float64(amount) / 100,
		"date":        date.Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/predict/category", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle status %d", resp.StatusCode)
	}

	var prediction Prediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}
