package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StaleBookingExpirer cancels bookings whose checkout window elapsed
type StaleBookingExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// HoldSweeper releases tentative holds past their TTL
type HoldSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// ExpirationService periodically expires stale bookings and sweeps expired holds
type ExpirationService struct {
	bookings  StaleBookingExpirer
	holds     HoldSweeper
	logger    *logrus.Logger
	interval  time.Duration
	batchSize int
}

// NewExpirationService creates a new expiration service
func NewExpirationService(bookings StaleBookingExpirer, holds HoldSweeper, interval time.Duration, batchSize int, logger *logrus.Logger) *ExpirationService {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirationService{
		bookings:  bookings,
		holds:     holds,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled
func (s *ExpirationService) Run(ctx context.Context) error {
	s.logger.WithField("interval", s.interval.String()).Info("Starting expiration sweeper")

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("Expiration sweeper stopped")
			return nil
		}
	}
}

// RunOnce runs a single expiration cycle
func (s *ExpirationService) RunOnce(ctx context.Context) {
	// Bookings first: their expiry releases holds and publishes cancellations,
	// the hold sweep only catches holds whose booking was missed
	expired, err := s.bookings.ExpireStale(ctx, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to expire stale bookings")
	} else if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired stale bookings")
	}

	released, err := s.holds.SweepExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to release expired holds")
	} else if released > 0 {
		s.logger.WithField("count", released).Warn("Released expired holds without an expired booking")
	}
}
