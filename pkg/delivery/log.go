package delivery

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogSender writes codes to the log instead of delivering them (dev mode)
type LogSender struct {
	logger *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		"identifier": msg.Identifier,
		"channel":    msg.Channel,
		"code":       msg.Code,
	}).Warn("DEV MODE: verification code not delivered")
	return nil
}

// Name implements Sender
func (s *LogSender) Name() string {
	return "dev-log"
}

// maskIdentifier keeps the last characters of a phone number or the domain of an email
func maskIdentifier(identifier string) string {
	if at := strings.LastIndex(identifier, "@"); at > 0 {
		return identifier[:1] + "***" + identifier[at:]
	}
	if len(identifier) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(identifier)-4) + identifier[len(identifier)-4:]
}
