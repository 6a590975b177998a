package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SessionCleaner purges expired verification sessions
type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
}

// RateLimitCleaner purges request records outside every window
type RateLimitCleaner interface {
	CleanupExpiredRecords(ctx context.Context) (int64, error)
}

// AuditCleaner purges audit events past retention
type AuditCleaner interface {
	CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error)
}

// Housekeeping job names
const (
	JobCleanupSessions   = "cleanup_verification_sessions"
	JobCleanupRateLimits = "cleanup_rate_limits"
	JobCleanupAudit      = "cleanup_audit_events"
)

// CronService manages scheduled housekeeping jobs
type CronService struct {
	cron           *cron.Cron
	sessions       SessionCleaner
	rateLimits     RateLimitCleaner
	audit          AuditCleaner
	auditRetention time.Duration
	logger         *logrus.Logger

	jobs map[string]func(ctx context.Context) (int64, error)
}

// NewCronService creates a new CronService
func NewCronService(sessions SessionCleaner, rateLimits RateLimitCleaner, audit AuditCleaner, auditRetention time.Duration, logger *logrus.Logger) *CronService {
	s := &CronService{
		cron:           cron.New(cron.WithSeconds()),
		sessions:       sessions,
		rateLimits:     rateLimits,
		audit:          audit,
		auditRetention: auditRetention,
		logger:         logger,
	}
	s.jobs = map[string]func(ctx context.Context) (int64, error){
		JobCleanupSessions:   s.sessions.CleanupExpiredSessions,
		JobCleanupRateLimits: s.rateLimits.CleanupExpiredRecords,
		JobCleanupAudit: func(ctx context.Context) (int64, error) {
			return s.audit.CleanupOldEvents(ctx, s.auditRetention)
		},
	}
	return s
}

// Start schedules all jobs and starts the scheduler
func (s *CronService) Start() error {
	// Cron format: second minute hour day month weekday
	schedule := []struct {
		spec string
		job  string
	}{
		{"0 */15 * * * *", JobCleanupSessions}, // every 15 minutes
		{"0 5 * * * *", JobCleanupRateLimits},  // hourly at :05
		{"0 0 3 * * *", JobCleanupAudit},       // daily at 3:00 AM
	}

	for _, entry := range schedule {
		name := entry.job
		if _, err := s.cron.AddFunc(entry.spec, func() { s.runJob(name) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		s.logger.WithFields(logrus.Fields{"job": name, "schedule": entry.spec}).Info("Scheduled housekeeping job")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Run starts the scheduler and stops it when ctx is cancelled
func (s *CronService) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// RunJobNow runs a job immediately
func (s *CronService) RunJobNow(ctx context.Context, name string) (int64, error) {
	job, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("unknown job %q", name)
	}
	return job(ctx)
}

func (s *CronService) runJob(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	startTime := time.Now()
	removed, err := s.RunJobNow(ctx, name)
	if err != nil {
		s.logger.WithError(err).WithField("job", name).Error("Housekeeping job failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"job":      name,
		"removed":  removed,
		"duration": time.Since(startTime).String(),
	}).Info("Housekeeping job finished")
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
