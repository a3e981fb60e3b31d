package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"showtix/models"
	"showtix/utils"
)

// ErrInvoiceNotFound is returned for a 404 on invoice lookups.
var ErrInvoiceNotFound = errors.New("invoice not found")

// ErrPayoutNotFound is returned for a 404 on payout lookups.
var ErrPayoutNotFound = errors.New("payout not found")

type ClientConfig struct {
	BaseURL   string
	AuthToken string
	StoreID   string
	// NotificationURL is registered on created invoices so the processor
	// calls back into the webhook server.
	NotificationURL string
}

// Client talks to the payment processor's REST API. Requests run behind a
// shared circuit breaker so a flapping processor fails fast instead of
// tying up worker goroutines.
type Client struct {
	baseURL         string
	authToken       string
	storeID         string
	notificationURL string

	breaker *utils.CircuitBreaker
	hc      *http.Client
}

func NewClient(config *ClientConfig) *Client {
	return &Client{
		baseURL:         config.BaseURL,
		authToken:       config.AuthToken,
		storeID:         config.StoreID,
		notificationURL: config.NotificationURL,
		breaker:         utils.NewCircuitBreaker("payment-processor"),
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	return c.breaker.Execute(func() error {
		return c.doOnce(ctx, method, path, body, out)
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("payment: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("payment: parse base url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("payment: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("payment: http.Do: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("payment: %s %s: %w", method, path, errNotFoundFor(path))
	case resp.StatusCode >= 400:
		var apiErr struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("payment: %s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Detail)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payment: json.Decode: %w", err)
	}
	return nil
}

func errNotFoundFor(path string) error {
	if len(path) >= 9 && path[:9] == "/invoices" {
		return ErrInvoiceNotFound
	}
	return ErrPayoutNotFound
}

type invoiceReply struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Rate      string `json:"rate"`
	CreatedAt string `json:"created"`
	Payments  []struct {
		PaymentAddress string `json:"payment_address"`
		Amount         string `json:"amount"`
		Currency       string `json:"currency"`
		Rate           string `json:"rate"`
	} `json:"payments"`
}

func (r *invoiceReply) toInvoice() (*Invoice, error) {
	amount, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("payment: invoice price %q: %w", r.Price, err)
	}
	rate := decimal.Zero
	if r.Rate != "" {
		if rate, err = decimal.NewFromString(r.Rate); err != nil {
			return nil, fmt.Errorf("payment: invoice rate %q: %w", r.Rate, err)
		}
	}
	invoice := &Invoice{
		ID:       r.ID,
		Status:   r.Status,
		Amount:   amount,
		Currency: models.CurrencyType(r.Currency),
		Rate:     rate,
	}
	if len(r.Payments) > 0 {
		invoice.PaymentAddress = r.Payments[0].PaymentAddress
	}
	if ts, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		invoice.CreatedAt = ts
	}
	return invoice, nil
}

func (c *Client) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	notificationURL := c.notificationURL
	if params.NotificationURL != "" {
		notificationURL = params.NotificationURL
	}
	body := map[string]any{
		"price":            decimal.New(params.Amount, -params.Currency.Exponent()),
		"currency":         string(params.Currency),
		"order_id":         params.OrderID,
		"buyer_email":      params.BuyerEmail,
		"store_id":         c.storeID,
		"notification_url": notificationURL,
		"redirect_url":     params.RedirectURL,
	}
	var reply invoiceReply
	if err := c.do(ctx, http.MethodPost, "/invoices", body, &reply); err != nil {
		return nil, err
	}
	return reply.toInvoice()
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var reply invoiceReply
	if err := c.do(ctx, http.MethodGet, "/invoices/"+invoiceID, nil, &reply); err != nil {
		return nil, err
	}
	return reply.toInvoice()
}

func (c *Client) InvoicePayments(ctx context.Context, invoiceID string) ([]PaymentDetail, error) {
	var reply invoiceReply
	if err := c.do(ctx, http.MethodGet, "/invoices/"+invoiceID, nil, &reply); err != nil {
		return nil, err
	}
	details := make([]PaymentDetail, 0, len(reply.Payments))
	for _, p := range reply.Payments {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("payment: payment amount %q: %w", p.Amount, err)
		}
		rate, err := decimal.NewFromString(p.Rate)
		if err != nil {
			return nil, fmt.Errorf("payment: payment rate %q: %w", p.Rate, err)
		}
		details = append(details, PaymentDetail{
			Amount:   amount,
			Currency: models.CurrencyType(p.Currency),
			Rate:     rate,
			Address:  p.PaymentAddress,
		})
	}
	return details, nil
}

type payoutReply struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	MaxFee      string `json:"max_fee"`
	TxHash      string `json:"tx_hash"`
}

func (r *payoutReply) toPayout() (*Payout, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("payment: payout amount %q: %w", r.Amount, err)
	}
	maxFee := decimal.Zero
	if r.MaxFee != "" {
		if maxFee, err = decimal.NewFromString(r.MaxFee); err != nil {
			return nil, fmt.Errorf("payment: payout max_fee %q: %w", r.MaxFee, err)
		}
	}
	return &Payout{
		ID:          r.ID,
		Status:      r.Status,
		Amount:      amount,
		Currency:    models.CurrencyType(r.Currency),
		Destination: r.Destination,
		MaxFee:      maxFee,
		TxHash:      r.TxHash,
	}, nil
}

// RefundInvoice opens a refund against the invoice, then submits the
// customer's destination to produce a payout.
func (c *Client) RefundInvoice(ctx context.Context, params RefundParams) (*Payout, error) {
	refundBody := map[string]any{
		"amount":   decimal.New(params.Amount, -params.Currency.Exponent()),
		"currency": string(params.Currency),
	}
	var refundReply struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/invoices/%s/refunds", params.InvoiceID)
	if err := c.do(ctx, http.MethodPost, path, refundBody, &refundReply); err != nil {
		return nil, err
	}

	submitBody := map[string]any{
		"destination": params.Destination,
	}
	var reply payoutReply
	path = fmt.Sprintf("/refunds/%s/submit", refundReply.ID)
	if err := c.do(ctx, http.MethodPost, path, submitBody, &reply); err != nil {
		return nil, err
	}
	return reply.toPayout()
}

func (c *Client) CreatePayout(ctx context.Context, params CreatePayoutParams) (*Payout, error) {
	storeID := params.StoreID
	if storeID == "" {
		storeID = c.storeID
	}
	body := map[string]any{
		"amount":      decimal.New(params.Amount, -params.Currency.Exponent()),
		"currency":    string(params.Currency),
		"destination": params.Destination,
		"store_id":    storeID,
	}
	var reply payoutReply
	if err := c.do(ctx, http.MethodPost, "/payouts", body, &reply); err != nil {
		return nil, err
	}
	return reply.toPayout()
}

func (c *Client) GetPayout(ctx context.Context, payoutID string) (*Payout, error) {
	var reply payoutReply
	if err := c.do(ctx, http.MethodGet, "/payouts/"+payoutID, nil, &reply); err != nil {
		return nil, err
	}
	return reply.toPayout()
}

func (c *Client) ModifyPayout(ctx context.Context, payoutID string, maxFee decimal.Decimal) error {
	body := map[string]any{"max_fee": maxFee}
	return c.do(ctx, http.MethodPatch, "/payouts/"+payoutID, body, nil)
}

func (c *Client) ApprovePayout(ctx context.Context, payoutID string) (*Payout, error) {
	var reply payoutReply
	if err := c.do(ctx, http.MethodPost, "/payouts/"+payoutID+"/approve", nil, &reply); err != nil {
		return nil, err
	}
	return reply.toPayout()
}

func (c *Client) SendPayout(ctx context.Context, payoutID string) (*Payout, error) {
	var reply payoutReply
	if err := c.do(ctx, http.MethodPost, "/payouts/"+payoutID+"/send", nil, &reply); err != nil {
		return nil, err
	}
	return reply.toPayout()
}

func (c *Client) CancelPayout(ctx context.Context, payoutID string) error {
	return c.do(ctx, http.MethodPost, "/payouts/"+payoutID+"/cancel", nil, nil)
}
