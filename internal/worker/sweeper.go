package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/models"
	"github.com/noah-isme/ai-check-api/internal/observability"
	"github.com/noah-isme/ai-check-api/internal/repository"
)

// Messages stored on records the sweeper fails.
const (
	StaleProcessingMessage = "processing timed out"
	StalePendingMessage    = "grading job was not picked up"
)

// Sweeper fails records stuck in processing, for example after a worker crash, and
// pending records whose job never ran. Both become retryable from the grading page.
// With an activity repository attached it also purges expired audit entries.
type Sweeper struct {
	records        repository.GradingRecordRepository
	timeout        time.Duration
	pendingTimeout time.Duration
	activity       repository.ActivityLogRepository
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
	cron      *cron.Cron
}

// NewSweeper constructs a sweeper for processing records older than timeout. Pending
// records are failed after an hour unless WithPendingTimeout says otherwise.
func NewSweeper(records repository.GradingRecordRepository, timeout time.Duration, logger zerolog.Logger) *Sweeper {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}

	return &Sweeper{
		records:        records,
		timeout:        timeout,
		pendingTimeout: time.Hour,
		logger:         logger.With().Str("component", "stale_sweeper").Logger(),
		now:            time.Now,
	}
}

// WithPendingTimeout sets how long a record may stay pending before it is failed.
func (s *Sweeper) WithPendingTimeout(timeout time.Duration) *Sweeper {
	if timeout > 0 {
		s.pendingTimeout = timeout
	}
	return s
}

// WithActivityRetention enables purging activity entries older than retention.
func (s *Sweeper) WithActivityRetention(activity repository.ActivityLogRepository, retention time.Duration) *Sweeper {
	if activity == nil || retention <= 0 {
		return s
	}
	s.activity = activity
	s.retention = retention
	return s
}

// Sweep fails every processing record not modified within the timeout and every
// pending record not modified within the pending timeout. It returns how many
// records were failed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.now()
	if err := s.purgeActivity(ctx, now); err != nil {
		s.logger.Error().Err(err).Msg("activity purge failed")
	}

	var total int64
	for _, stale := range []struct {
		status  models.GradingStatus
		timeout time.Duration
		message string
	}{
		{models.GradingStatusProcessing, s.timeout, StaleProcessingMessage},
		{models.GradingStatusPending, s.pendingTimeout, StalePendingMessage},
	} {
		failed, err := s.records.FailStale(ctx, stale.status, now.Add(-stale.timeout), stale.message, now)
		if err != nil {
			return total, err
		}
		if failed > 0 {
			observability.StaleRecordsFailed().Add(float64(failed))
			s.logger.Warn().Int64("records", failed).Str("status", string(stale.status)).Dur("timeout", stale.timeout).Msg("failed stale records")
		}
		total += failed
	}
	return total, nil
}

func (s *Sweeper) purgeActivity(ctx context.Context, now time.Time) error {
	if s.activity == nil {
		return nil
	}
	removed, err := s.activity.DeleteBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info().Int64("entries", removed).Dur("retention", s.retention).Msg("purged activity log")
	}
	return nil
}

// Start schedules Sweep. Overlapping runs are skipped.
func (s *Sweeper) Start(schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("stale sweep failed")
		}
	}); err != nil {
		return err
	}

	s.cron = c
	c.Start()
	s.logger.Info().Str("schedule", schedule).Dur("timeout", s.timeout).Dur("pending_timeout", s.pendingTimeout).Msg("stale sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
