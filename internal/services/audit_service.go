package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/clock"
	"github.com/travelcore/booking-core/internal/models"
	"github.com/travelcore/booking-core/internal/requestinfo"
	"github.com/travelcore/booking-core/internal/utils"
)

// AuditStore persists audit events
type AuditStore interface {
	Log(ctx context.Context, event *models.AuditEvent) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditService records security and payment events
type AuditService struct {
	store   AuditStore
	enabled bool
	logger  *logrus.Logger
	clock   clock.Clock
}

// NewAuditService creates a new audit service
func NewAuditService(store AuditStore, enabled bool, logger *logrus.Logger, clk clock.Clock) *AuditService {
	return &AuditService{
		store:   store,
		enabled: enabled,
		logger:  logger,
		clock:   clk,
	}
}

// Record writes an event. Client details missing from the event are taken from ctx.
// Failures are logged and never returned: auditing must not fail the audited operation.
func (s *AuditService) Record(ctx context.Context, event *models.AuditEvent) {
	if s == nil || !s.enabled {
		return
	}

	if event.IPAddress == nil && event.UserAgent == nil {
		client := requestinfo.FromContext(ctx)
		event.SetClient(client.IP, client.UserAgent)
	}
	if event.UserAgent != nil {
		event.With("device_info", utils.ParseUserAgent(*event.UserAgent).Fields())
	}
	event.CreatedAt = s.clock.Now()

	if err := s.store.Log(context.WithoutCancel(ctx), event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":      event.Action,
			"entity_type": event.EntityType,
		}).Error("Failed to write audit event")
	}
}

// CleanupOldEvents removes audit events older than the retention period
func (s *AuditService) CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.DeleteOlderThan(ctx, s.clock.Now().Add(-retention))
}
