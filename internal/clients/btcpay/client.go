// Package btcpay is a client for the BTCPay Server Greenfield API. It covers
// the invoice operations the checkout needs plus webhook signature checks.
package btcpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"funnel-server/internal/observability"
)

var ErrInvoiceNotFound = errors.New("btcpay invoice not found")

// Invoice statuses as BTCPay reports them.
const (
	InvoiceStatusNew        = "New"
	InvoiceStatusProcessing = "Processing"
	InvoiceStatusSettled    = "Settled"
	InvoiceStatusExpired    = "Expired"
	InvoiceStatusInvalid    = "Invalid"
)

// Client talks to a BTCPay Server store.
type Client struct {
	baseURL       string
	storeID       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
	logger        *observability.Logger
}

// NewClient creates a BTCPay client. An empty base URL produces a disabled
// client so environments without a BTCPay store still boot.
func NewClient(baseURL, storeID, apiKey, webhookSecret string, logger *observability.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		storeID:       storeID,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// IsEnabled reports whether the client is configured to reach a store.
func (c *Client) IsEnabled() bool {
	return c.baseURL != "" && c.storeID != "" && c.apiKey != ""
}

// CreateInvoiceParams describes a new invoice. Amount is in display units
// with a dot separator ("300.00"); the API rejects numeric JSON here.
type CreateInvoiceParams struct {
	Amount      string
	Currency    string
	OrderID     string
	Metadata    map[string]string
	RedirectURL string
}

// Invoice is the subset of the Greenfield invoice document the funnel uses.
type Invoice struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CheckoutLink string `json:"checkoutLink"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
}

type createInvoiceRequest struct {
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	OrderID  string            `json:"orderId"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Checkout invoiceCheckout   `json:"checkout"`
}

type invoiceCheckout struct {
	RedirectURL       string   `json:"redirectURL,omitempty"`
	SpeedPolicy       string   `json:"speedPolicy"`
	ExpirationMinutes int      `json:"expirationMinutes"`
	PaymentMethods    []string `json:"paymentMethods"`
}

// CreateInvoice creates an invoice accepting on-chain BTC and Lightning.
// MediumSpeed waits for one confirmation before settling.
func (c *Client) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (Invoice, error) {
	body := createInvoiceRequest{
		Amount:   params.Amount,
		Currency: params.Currency,
		OrderID:  params.OrderID,
		Metadata: params.Metadata,
		Checkout: invoiceCheckout{
			RedirectURL:       params.RedirectURL,
			SpeedPolicy:       "MediumSpeed",
			ExpirationMinutes: 15,
			PaymentMethods:    []string{"BTC", "BTC-LightningNetwork"},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Invoice{}, fmt.Errorf("failed to marshal invoice request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/stores/%s/invoices", c.baseURL, c.storeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Invoice{}, fmt.Errorf("failed to build invoice request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error(ctx, "btcpay invoice request failed", err)
		return Invoice{}, fmt.Errorf("btcpay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("btcpay returned status %d: %s", resp.StatusCode, respBody)
		c.logger.Error(ctx, "btcpay rejected invoice creation", err)
		return Invoice{}, err
	}

	var invoice Invoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return Invoice{}, fmt.Errorf("failed to decode invoice response: %w", err)
	}

	c.logger.Info(ctx, "created btcpay invoice",
		observability.Field{Key: "invoice_id", Value: invoice.ID},
		observability.Field{Key: "order_id", Value: params.OrderID},
	)
	return invoice, nil
}

// GetInvoice retrieves an invoice by ID.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	url := fmt.Sprintf("%s/api/v1/stores/%s/invoices/%s", c.baseURL, c.storeID, invoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Invoice{}, fmt.Errorf("failed to build invoice request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error(ctx, "btcpay invoice lookup failed", err)
		return Invoice{}, fmt.Errorf("btcpay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Invoice{}, ErrInvoiceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Invoice{}, fmt.Errorf("btcpay returned status %d: %s", resp.StatusCode, respBody)
	}

	var invoice Invoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return Invoice{}, fmt.Errorf("failed to decode invoice response: %w", err)
	}
	return invoice, nil
}

// VerifyWebhookSignature checks the BTCPAY-SIG header ("sha256=<hex>")
// against the raw request body.
func (c *Client) VerifyWebhookSignature(payload []byte, header string) bool {
	provided := strings.TrimPrefix(header, "sha256=")

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(provided))
}
