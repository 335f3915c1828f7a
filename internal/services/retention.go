package services

import (
	"time"

	"github.com/robfig/cron/v3"

	"tabscope/internal/db/repositories"
	"tabscope/internal/logging"
)

const (
	// ContextTTL is how long context records live before expiry.
	ContextTTL = 7 * 24 * time.Hour
	// EventTTL is how long event records live before expiry.
	EventTTL = 30 * 24 * time.Hour
)

// RetentionService emulates TTL indexes: a cron job deletes contexts and
// events past their retention window.
type RetentionService struct {
	repos *repositories.Repositories
	cron  *cron.Cron
}

func NewRetentionService(repos *repositories.Repositories) *RetentionService {
	return &RetentionService{
		repos: repos,
		cron:  cron.New(),
	}
}

// Start schedules the cleanup job. The spec string uses robfig/cron syntax,
// e.g. "@hourly".
func (s *RetentionService) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return err
	}
	s.cron.Start()
	logging.Info("Retention cleanup scheduled (%s)", spec)
	return nil
}

// Stop halts the scheduler. Running jobs finish.
func (s *RetentionService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs one cleanup pass.
func (s *RetentionService) RunOnce() {
	now := time.Now()

	deleted, err := s.repos.Contexts.DeleteOlderThan(now.Add(-ContextTTL))
	if err != nil {
		logging.Error("Retention: context cleanup failed: %v", err)
	} else if deleted > 0 {
		logging.Info("Retention: deleted %d expired contexts", deleted)
	}

	deleted, err = s.repos.Events.DeleteOlderThan(now.Add(-EventTTL))
	if err != nil {
		logging.Error("Retention: event cleanup failed: %v", err)
	} else if deleted > 0 {
		logging.Info("Retention: deleted %d expired events", deleted)
	}
}
