package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/travelcore/booking-core/internal/clock"
	"github.com/travelcore/booking-core/internal/models"
)

func newTestLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

// memoryAuditStore keeps audit events in memory
type memoryAuditStore struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (m *memoryAuditStore) Log(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memoryAuditStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*models.AuditEvent
	var deleted int64
	for _, e := range m.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}

func (m *memoryAuditStore) actions() []models.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]models.AuditAction, len(m.events))
	for i, e := range m.events {
		actions[i] = e.Action
	}
	return actions
}

func (m *memoryAuditStore) last(action models.AuditAction) *models.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Action == action {
			return m.events[i]
		}
	}
	return nil
}

func newTestAudit(clk clock.Clock) (*AuditService, *memoryAuditStore) {
	store := &memoryAuditStore{}
	return NewAuditService(store, true, newTestLogger(), clk), store
}
