package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/observability"
	"github.com/noah-isme/ai-check-api/internal/queue"
)

// Source is the job stream the runner consumes.
type Source interface {
	Read(ctx context.Context) (*queue.Message, error)
	Ack(ctx context.Context, messageID string) error
	MoveToDLQ(ctx context.Context, message *queue.Message, reason string) error
	PromoteDue(ctx context.Context, now time.Time) (int, error)
}

// JobProcessor handles one decoded job.
type JobProcessor interface {
	Process(ctx context.Context, job queue.Job) error
}

// Runner pulls messages from the stream and hands them to the processor.
type Runner struct {
	source          Source
	processor       JobProcessor
	promoteInterval time.Duration
	logger          zerolog.Logger
}

// NewRunner constructs a runner.
func NewRunner(source Source, processor JobProcessor, promoteInterval time.Duration, logger zerolog.Logger) *Runner {
	if promoteInterval <= 0 {
		promoteInterval = time.Second
	}

	return &Runner{
		source:          source,
		processor:       processor,
		promoteInterval: promoteInterval,
		logger:          logger.With().Str("component", "grading_runner").Logger(),
	}
}

// Run consumes until ctx is cancelled. Delayed jobs are promoted on a ticker in the
// background so a long grading call does not hold back due retries.
func (r *Runner) Run(ctx context.Context) error {
	go r.promoteLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error().Err(err).Msg("worker iteration failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (r *Runner) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(r.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			promoted, err := r.source.PromoteDue(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn().Err(err).Msg("failed to promote delayed jobs")
				}
				continue
			}
			if promoted > 0 {
				r.logger.Debug().Int("promoted", promoted).Msg("promoted delayed jobs")
			}
		}
	}
}

// RunOnce reads and handles at most one message. It reports whether a message was read.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	message, err := r.source.Read(ctx)
	if err != nil {
		return false, err
	}
	if message == nil {
		return false, nil
	}

	logger := r.logger.With().Str("message_id", message.ID).Str("job_id", message.Job.JobID).Logger()
	if message.Redelivered {
		logger.Info().Uint("submission_id", message.Job.SubmissionID).Msg("replaying unacknowledged job")
	}

	if message.DecodeErr != nil {
		logger.Warn().Err(message.DecodeErr).Msg("undecodable job moved to dead letter stream")
		r.deadLetter(ctx, message, message.DecodeErr, logger)
		return true, r.ack(ctx, message, logger)
	}

	if err := r.safeProcess(ctx, message.Job); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// left unacked; Read replays it after a restart or another worker claims it
			return true, err
		}
		logger.Error().Err(err).Uint("submission_id", message.Job.SubmissionID).Msg("job failed, moved to dead letter stream")
		r.deadLetter(ctx, message, err, logger)
	}

	return true, r.ack(ctx, message, logger)
}

func (r *Runner) safeProcess(ctx context.Context, job queue.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError{value: rec}
		}
	}()
	return r.processor.Process(ctx, job)
}

func (r *Runner) deadLetter(ctx context.Context, message *queue.Message, cause error, logger zerolog.Logger) {
	observability.JobsProcessed().WithLabelValues("dead_letter").Inc()
	if err := r.source.MoveToDLQ(ctx, message, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to write dead letter entry")
	}
}

func (r *Runner) ack(ctx context.Context, message *queue.Message, logger zerolog.Logger) error {
	if err := r.source.Ack(ctx, message.ID); err != nil {
		logger.Error().Err(err).Msg("failed to ack message")
		return err
	}
	return nil
}

type panicError struct {
	value interface{}
}

func (e panicError) Error() string {
	return "panic while processing job: " + formatPanic(e.value)
}

func formatPanic(value interface{}) string {
	switch v := value.(type) {
	case error:
		return v.Error()
	case string:
		return v
	default:
		return "unknown panic"
	}
}
