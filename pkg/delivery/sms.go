package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// SMSSender sends codes through an HTTP SMS gateway using the URL campaign API
type SMSSender struct {
	apiURL   string
	apiKey   string
	senderID string
	client   *http.Client
	logger   *logrus.Logger
}

// NewSMSSender creates a new SMS sender. The client should carry a timeout.
func NewSMSSender(apiURL, apiKey, senderID string, client *http.Client, logger *logrus.Logger) *SMSSender {
	return &SMSSender{
		apiURL:   strings.TrimRight(apiURL, "/"),
		apiKey:   apiKey,
		senderID: senderID,
		client:   client,
		logger:   logger,
	}
}

// Send implements Sender
func (s *SMSSender) Send(ctx context.Context, msg Message) error {
	params := url.Values{}
	params.Add("key", s.apiKey)
	params.Add("to", strings.TrimPrefix(msg.Identifier, "+"))
	params.Add("sender_id", s.senderID)
	params.Add("message", msg.Body())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create SMS request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read SMS response: %w", err)
	}
	responseStr := strings.TrimSpace(string(body))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("SMS API returned status %d: %s", resp.StatusCode, responseStr)
	}

	// The gateway answers "1" on success and an error id otherwise
	if responseStr != "1" {
		return fmt.Errorf("SMS sending failed with error code: %s", responseStr)
	}

	s.logger.WithFields(logrus.Fields{
		"recipient": maskIdentifier(msg.Identifier),
		"gateway":   s.Name(),
	}).Info("Verification SMS sent")

	return nil
}

// Name implements Sender
func (s *SMSSender) Name() string {
	return "sms-url-gateway"
}
