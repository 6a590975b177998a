package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrUnavailable indicates a retryable failure: network error, timeout or 5xx
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrInvalidSignature indicates a notification whose check value does not match
	ErrInvalidSignature = errors.New("invalid notification signature")
)

// Config holds hosted gateway credentials and endpoints
type Config struct {
	BaseURL        string
	MerchantKey    string
	MerchantSecret string // used only for check values, never sent
	ReturnURL      string
	WebhookURL     string
	Timeout        time.Duration
}

// Client talks to a hosted-checkout payment gateway
type Client struct {
	config Config
	client *http.Client
	logger *logrus.Logger
}

// TransactionRequest describes a checkout to open
type TransactionRequest struct {
	IdempotencyKey string
	InvoiceID      string
	Amount         float64
	Currency       string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	Description    string
}

// Transaction is an opened gateway checkout
type Transaction struct {
	TransactionID string
	CheckoutURL   string
}

// Notification is a completion signal reported by the gateway or the guest's browser
type Notification struct {
	TransactionID string
	InvoiceID     string
	Outcome       string
	Amount        string
	Signature     string
}

// createRequest is the JSON body sent to the gateway
type createRequest struct {
	MerchantKey   string `json:"merchantKey"`
	InvoiceID     string `json:"invoiceId"`
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode"`
	Description   string `json:"orderDescription,omitempty"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	CustomerPhone string `json:"customerMobilePhone,omitempty"`
	ReturnURL     string `json:"returnUrl"`
	WebhookURL    string `json:"webhookUrl,omitempty"`
	CheckValue    string `json:"checkValue"`
}

// createResponse is the gateway's answer to a create request
type createResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"uid"`
	PaymentPage   string `json:"paymentPage"`
	Message       string `json:"message,omitempty"`
}

// NewClient creates a new gateway client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.client = client
	return c
}

// FormatAmount renders an amount the way the gateway signs it
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// secretHash is SHA512(merchantSecret) as upper-case hex
func (c *Client) secretHash() string {
	sum := sha512.Sum512([]byte(c.config.MerchantSecret))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (c *Client) checkValue(fields ...string) string {
	data := strings.Join(append([]string{c.config.MerchantKey}, append(fields, c.secretHash())...), "|")
	sum := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// GenerateCheckValue signs a create request:
// SHA512("merchantKey|invoiceId|amount|currencyCode|SHA512(secret)")
func (c *Client) GenerateCheckValue(invoiceID, amount, currency string) string {
	return c.checkValue(invoiceID, amount, currency)
}

// SignNotification computes the signature the gateway attaches to a notification:
// SHA512("merchantKey|transactionId|invoiceId|amount|outcome|SHA512(secret)")
func (c *Client) SignNotification(n Notification) string {
	return c.checkValue(n.TransactionID, n.InvoiceID, n.Amount, n.Outcome)
}

// VerifyNotification checks the notification signature in constant time
func (c *Client) VerifyNotification(n Notification) error {
	expected := c.SignNotification(n)
	provided := strings.ToUpper(strings.TrimSpace(n.Signature))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// CreateTransaction opens a hosted checkout. The idempotency key is forwarded
// so a retried request never opens a second transaction at the gateway.
func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error) {
	if c.config.MerchantKey == "" || c.config.MerchantSecret == "" {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	amount := FormatAmount(req.Amount)
	body := &createRequest{
		MerchantKey:   c.config.MerchantKey,
		InvoiceID:     req.InvoiceID,
		Amount:        amount,
		CurrencyCode:  req.Currency,
		Description:   req.Description,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		ReturnURL:     c.config.ReturnURL,
		WebhookURL:    c.config.WebhookURL,
		CheckValue:    c.GenerateCheckValue(req.InvoiceID, amount, req.Currency),
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/transactions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	c.logger.WithFields(logrus.Fields{
		"invoice_id": req.InvoiceID,
		"amount":     amount,
		"currency":   req.Currency,
		"endpoint":   endpoint,
	}).Info("Opening gateway transaction")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.WithError(err).Error("Failed to call payment gateway")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: gateway returned status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed createResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.logger.WithFields(logrus.Fields{
			"body":  string(respBody),
			"error": err.Error(),
		}).Error("Failed to parse gateway response")
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// The gateway answers PENDING when the checkout page is ready
	if parsed.Status != "success" && parsed.Status != "PENDING" {
		errMsg := parsed.Message
		if errMsg == "" {
			errMsg = fmt.Sprintf("status=%s", parsed.Status)
		}
		return nil, fmt.Errorf("payment initiation failed: %s", errMsg)
	}

	if parsed.TransactionID == "" || parsed.PaymentPage == "" {
		return nil, fmt.Errorf("payment initiation failed: no transaction id or payment page returned")
	}

	c.logger.WithFields(logrus.Fields{
		"transaction_id": parsed.TransactionID,
		"invoice_id":     req.InvoiceID,
	}).Info("Gateway transaction opened")

	return &Transaction{
		TransactionID: parsed.TransactionID,
		CheckoutURL:   parsed.PaymentPage,
	}, nil
}
