package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// EmailSender sends codes through a transactional email HTTP API
type EmailSender struct {
	apiURL string
	apiKey string
	from   string
	client *http.Client
	logger *logrus.Logger
}

// emailRequest is the JSON body accepted by the email API
type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// NewEmailSender creates a new email sender. The client should carry a timeout.
func NewEmailSender(apiURL, apiKey, from string, client *http.Client, logger *logrus.Logger) *EmailSender {
	return &EmailSender{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		from:   from,
		client: client,
		logger: logger,
	}
}

// Send implements Sender
func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	jsonBody, err := json.Marshal(emailRequest{
		From:    s.from,
		To:      msg.Identifier,
		Subject: "Your booking verification code",
		Text:    msg.Body(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("email API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	s.logger.WithFields(logrus.Fields{
		"recipient": maskIdentifier(msg.Identifier),
		"gateway":   s.Name(),
	}).Info("Verification email sent")

	return nil
}

// Name implements Sender
func (s *EmailSender) Name() string {
	return "email-api"
}
