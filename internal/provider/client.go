// Package provider implements the open-banking API client: access tokens,
// account status, end-user agreement expiry, and transaction fetches.
// The client performs no retries; retry policy belongs to the sync runner.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Transaction is a single booked or pending bank transaction as reported
// by the provider. Immutable once fetched.
type Transaction struct {
	ID          string `json:"transactionId"`
	BookingDate string `json:"bookingDate"`
	ValueDate   string `json:"valueDate"`
	Description string `json:"remittanceInformationUnstructured"`
	Amount      Amount `json:"transactionAmount"`
}

// Amount is a monetary value with its currency.
type Amount struct {
	Value    string `json:"amount"`
	Currency string `json:"currency"`
}

// TransactionPage holds one fetch window's worth of transactions.
type TransactionPage struct {
	Booked  []Transaction `json:"booked"`
	Pending []Transaction `json:"pending"`
}

// Client talks to the provider's REST API.
type Client struct {
	BaseURL   string
	SecretID  string
	SecretKey string
	HTTP      *http.Client

	// now allows tests to pin the clock for expiry arithmetic.
	now func() time.Time
}

// NewClient creates a provider client with a sane default timeout.
func NewClient(baseURL, secretID, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretID:  secretID,
		SecretKey: secretKey,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// Authenticate exchanges the secret pair for an access token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"secret_id":  c.SecretID,
		"secret_key": c.SecretKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v2/token/new/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", &AuthError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{HTTPStatus: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}

	var tok struct {
		Access string `json:"access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", &AuthError{HTTPStatus: resp.StatusCode, Message: "malformed token response: " + err.Error()}
	}
	if tok.Access == "" {
		return "", &AuthError{HTTPStatus: resp.StatusCode, Message: "token response missing access token"}
	}

	return tok.Access, nil
}

// AccountStatus fetches the current status of a bank account connection
// (READY, SUSPENDED, ERROR, ...).
func (c *Client) AccountStatus(ctx context.Context, token, accountID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, token, "/api/v2/accounts/"+url.PathEscape(accountID)+"/", &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

type agreement struct {
	ID             string  `json:"id"`
	Accepted       string  `json:"accepted"`
	AccessValidFor float64 `json:"access_valid_for_days"`
}

// AgreementDaysRemaining computes how many days of consent remain.
// With an agreement id it fetches that agreement directly; otherwise it uses
// the most recently created one. The result may be negative if the agreement
// has already expired.
func (c *Client) AgreementDaysRemaining(ctx context.Context, token, agreementID string) (float64, error) {
	var ag agreement

	if agreementID != "" {
		if err := c.getJSON(ctx, token, "/api/v2/agreements/enduser/"+url.PathEscape(agreementID)+"/", &ag); err != nil {
			return 0, err
		}
	} else {
		var page struct {
			Results []agreement `json:"results"`
		}
		if err := c.getJSON(ctx, token, "/api/v2/agreements/enduser/?limit=1", &page); err != nil {
			return 0, err
		}
		if len(page.Results) == 0 {
			return 0, &APIError{HTTPStatus: http.StatusOK, Message: "no end-user agreements found"}
		}
		ag = page.Results[0]
	}

	accepted, err := time.Parse(time.RFC3339, ag.Accepted)
	if err != nil {
		return 0, &APIError{Message: "unparseable agreement acceptance time: " + ag.Accepted}
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	expiry := accepted.Add(time.Duration(ag.AccessValidFor * 24 * float64(time.Hour)))
	return expiry.Sub(now()).Hours() / 24, nil
}

// Transactions fetches booked and pending transactions for an inclusive
// calendar-day window. Dates are YYYY-MM-DD.
func (c *Client) Transactions(ctx context.Context, token, accountID, dateFrom, dateTo string) (*TransactionPage, error) {
	q := url.Values{}
	q.Set("date_from", dateFrom)
	q.Set("date_to", dateTo)

	var out struct {
		Transactions TransactionPage `json:"transactions"`
	}
	path := "/api/v2/accounts/" + url.PathEscape(accountID) + "/transactions/?" + q.Encode()
	if err := c.getJSON(ctx, token, path, &out); err != nil {
		return nil, err
	}
	return &out.Transactions, nil
}

func (c *Client) getJSON(ctx context.Context, token, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{HTTPStatus: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{HTTPStatus: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// readErrorBody extracts a short diagnostic string from an error response.
func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(b) == 0 {
		return "no response body"
	}
	return string(b)
}
