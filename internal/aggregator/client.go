package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	apperrors "fintrack/internal/errors"
)

const dateLayout = "2006-01-02"

// httpClient talks to the provider's REST API. Credentials travel in
// headers on every request, mirroring the provider's server-to-server
// auth scheme.
type httpClient struct {
	baseURL  string
	clientID string
	secret   string
	client   *http.Client
}

// NewHTTPClient creates a Client backed by the provider's REST API.
func NewHTTPClient(baseURL, clientID, secret string, timeout time.Duration) Client {
	return &httpClient{
		baseURL:  baseURL,
		clientID: clientID,
		secret:   secret,
		client:   &http.Client{Timeout: timeout},
	}
}

// errorEnvelope is the provider's error response body.
type errorEnvelope struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (c *httpClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	var resp struct {
		LinkToken string `json:"link_token"`
	}
	req := map[string]any{
		"user":     map[string]string{"client_user_id": userID},
		"products": []string{"transactions"},
	}
	if err := c.post(ctx, "/link/token/create", req, &resp); err != nil {
		return "", err
	}
	return resp.LinkToken, nil
}

func (c *httpClient) ExchangeToken(ctx context.Context, publicToken string) (*TokenExchange, error) {
	var resp struct {
		AccessToken     string `json:"access_token"`
		ItemID          string `json:"item_id"`
		InstitutionID   string `json:"institution_id"`
		InstitutionName string `json:"institution_name"`
	}
	req := map[string]string{"public_token": publicToken}
	if err := c.post(ctx, "/item/public_token/exchange", req, &resp); err != nil {
		return nil, err
	}
	return &TokenExchange{
		AccessToken:     resp.AccessToken,
		ItemID:          resp.ItemID,
		InstitutionID:   resp.InstitutionID,
		InstitutionName: resp.InstitutionName,
	}, nil
}

func (c *httpClient) ListAccounts(ctx context.Context, accessToken string) ([]AccountSnapshot, error) {
	var resp struct {
		Accounts []struct {
			AccountID string `json:"account_id"`
			Name      string `json:"name"`
			Type      string `json:"type"`
			Balances  struct {
				Current         float64 `json:"current"`
				ISOCurrencyCode string  `json:"iso_currency_code"`
			} `json:"balances"`
		} `json:"accounts"`
	}
	req := map[string]string{"access_token": accessToken}
	if err := c.post(ctx, "/accounts/get", req, &resp); err != nil {
		return nil, err
	}

	snapshots := make([]AccountSnapshot, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		snapshots = append(snapshots, AccountSnapshot{
			ExternalID:     a.AccountID,
			Name:           a.Name,
			Type:           a.Type,
			Currency:       a.Balances.ISOCurrencyCode,
			CurrentBalance: toCents(a.Balances.Current),
		})
	}
	return snapshots, nil
}

func (c *httpClient) ListTransactions(ctx context.Context, accessToken string, window DateRange, cursor string) (*Page, error) {
	var resp struct {
		Transactions []struct {
			TransactionID string          `json:"transaction_id"`
			AccountID     string          `json:"account_id"`
			Amount        float64         `json:"amount"`
			Name          string          `json:"name"`
			Date          string          `json:"date"`
			Location      json.RawMessage `json:"location"`
		} `json:"transactions"`
		NextCursor string `json:"next_cursor"`
		HasMore    bool   `json:"has_more"`
	}
	req := map[string]any{
		"access_token": accessToken,
		"start_date":   window.Start.Format(dateLayout),
		"end_date":     window.End.Format(dateLayout),
	}
	if cursor != "" {
		req["cursor"] = cursor
	}
	if err := c.post(ctx, "/transactions/get", req, &resp); err != nil {
		return nil, err
	}

	page := &Page{NextCursor: resp.NextCursor, HasMore: resp.HasMore}
	for _, t := range resp.Transactions {
		date, err := time.Parse(dateLayout, t.Date)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrMalformedPage, fmt.Errorf("transaction %s: bad date %q", t.TransactionID, t.Date))
		}
		var location *string
		if len(t.Location) > 0 && string(t.Location) != "null" {
			loc := string(t.Location)
			location = &loc
		}
		page.Transactions = append(page.Transactions, Transaction{
			ExternalID:        t.TransactionID,
			AccountExternalID: t.AccountID,
			Direction:         directionOf(t.Amount),
			Amount:            absCents(t.Amount),
			Description:       t.Name,
			Date:              date,
			Location:          location,
		})
	}
	return page, nil
}

func (c *httpClient) FetchRemovedTransactionIDs(ctx context.Context, accessToken string) ([]string, error) {
	var resp struct {
		Removed []struct {
			TransactionID string `json:"transaction_id"`
		} `json:"removed"`
	}
	req := map[string]string{"access_token": accessToken}
	if err := c.post(ctx, "/transactions/removed", req, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Removed))
	for _, r := range resp.Removed {
		ids = append(ids, r.TransactionID)
	}
	return ids, nil
}

func (c *httpClient) GetItemStatus(ctx context.Context, accessToken string) (*ItemError, error) {
	var resp struct {
		Item struct {
			Error *errorEnvelope `json:"error"`
		} `json:"item"`
	}
	req := map[string]string{"access_token": accessToken}
	if err := c.post(ctx, "/item/get", req, &resp); err != nil {
		return nil, err
	}
	if resp.Item.Error == nil {
		return nil, nil
	}
	return &ItemError{Code: resp.Item.Error.ErrorCode, Message: resp.Item.Error.ErrorMessage}, nil
}

// post issues one provider API call and decodes the JSON response into
// out. Non-2xx responses are classified into the app error taxonomy.
func (c *httpClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Client-Secret", c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return apperrors.Wrap(apperrors.ErrAggregatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope errorEnvelope
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return classify(resp.StatusCode, envelope)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrMalformedPage, err)
	}
	return nil
}

// classify maps provider error codes into the sync failure taxonomy.
func classify(status int, envelope errorEnvelope) error {
	switch envelope.ErrorCode {
	case "ITEM_LOGIN_REQUIRED":
		return apperrors.WithMessage(apperrors.ErrReauthRequired, "Bank login required")
	case "INVALID_CREDENTIALS", "INSUFFICIENT_CREDENTIALS":
		return apperrors.ErrBankCredentialsInvalid
	case "INSTITUTION_NOT_RESPONDING", "INSTITUTION_DOWN", "RATE_LIMIT_EXCEEDED":
		return apperrors.WithMessage(apperrors.ErrAggregatorUnavailable, envelope.ErrorMessage)
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return apperrors.Wrap(apperrors.ErrAggregatorUnavailable, fmt.Errorf("provider status %d", status))
	}
	return apperrors.Wrap(apperrors.ErrSyncFailed, fmt.Errorf("provider status %d: %s", status, envelope.ErrorMessage))
}

// directionOf normalizes the provider's sign convention: a positive
// amount is money leaving the account.
func directionOf(amount float64) Direction {
	if amount > 0 {
		return DirectionExpense
	}
	return DirectionIncome
}

// toCents converts a provider decimal amount to signed integer cents
// without accumulating float error.
func toCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// absCents converts a provider amount to unsigned cents.
func absCents(amount float64) int64 {
	c := toCents(amount)
	if c < 0 {
		return -c
	}
	return c
}
