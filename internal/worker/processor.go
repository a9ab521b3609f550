package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/ai-check-api/internal/events"
	"github.com/noah-isme/ai-check-api/internal/host"
	"github.com/noah-isme/ai-check-api/internal/models"
	"github.com/noah-isme/ai-check-api/internal/observability"
	"github.com/noah-isme/ai-check-api/internal/queue"
	"github.com/noah-isme/ai-check-api/internal/repository"
	"github.com/noah-isme/ai-check-api/internal/service"
	"github.com/noah-isme/ai-check-api/pkg/ai"
)

// DefaultMaxGrade is used when the assignment has no positive maximum grade.
const DefaultMaxGrade = 100.0

var (
	// ErrUnsupportedFile indicates the submitted file is not text the evaluator can read.
	ErrUnsupportedFile = errors.New("unsupported file type")
	// ErrFileTooLarge indicates the submitted file exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")
)

// StatusPublisher announces record transitions.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, change events.StatusChange) error
}

// Config tunes the processor.
type Config struct {
	MaxDeferrals int
	MaxAttempts  int
	RetryDelay   time.Duration
	MaxFileSize  int64
	GraderUserID int64
}

// Processor grades one job at a time. It is safe to deliver the same job twice:
// only the delivery that moves the record from pending to processing does any work.
type Processor struct {
	host       host.Adapter
	records    repository.GradingRecordRepository
	dispatcher *service.AICheckDispatcher
	queue      queue.Enqueuer
	evaluator  ai.Evaluator
	publisher  StatusPublisher
	sanitizer  *bluemonday.Policy
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
}

// NewProcessor constructs a processor. publisher may be nil.
func NewProcessor(adapter host.Adapter, records repository.GradingRecordRepository, dispatcher *service.AICheckDispatcher, enqueuer queue.Enqueuer, evaluator ai.Evaluator, publisher StatusPublisher, cfg Config, logger zerolog.Logger) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 5 * 1024 * 1024
	}
	if evaluator == nil {
		evaluator = ai.Unavailable{}
	}

	return &Processor{
		host:       adapter,
		records:    records,
		dispatcher: dispatcher,
		queue:      enqueuer,
		evaluator:  evaluator,
		publisher:  publisher,
		sanitizer:  bluemonday.UGCPolicy(),
		cfg:        cfg,
		logger:     logger.With().Str("component", "grading_processor").Logger(),
		now:        time.Now,
	}
}

// Process handles one job. A returned error means the job could not be handled at all
// and belongs in the dead letter stream; grading failures are recorded on the record.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	if job.Type != "" && job.Type != queue.JobTypeProcessSubmission {
		return fmt.Errorf("unsupported job type %q", job.Type)
	}

	tracer := otel.Tracer("github.com/noah-isme/ai-check-api/internal/worker/processor")
	ctx, span := tracer.Start(ctx, "ai_check.process")
	span.SetAttributes(
		attribute.Int("submission.id", int(job.SubmissionID)),
		attribute.String("job.id", job.JobID),
		attribute.Bool("job.deferred", job.Deferred()),
	)
	defer span.End()

	if job.Deferred() {
		return p.recheck(ctx, job)
	}

	record, claimed, err := p.records.Claim(ctx, job.SubmissionID, p.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim_failed")
		return fmt.Errorf("claim record: %w", err)
	}
	if !claimed {
		p.logger.Info().Uint("submission_id", job.SubmissionID).Str("job_id", job.JobID).Msg("record not pending, skipping duplicate delivery")
		observability.JobsProcessed().WithLabelValues("duplicate").Inc()
		return nil
	}
	p.publish(ctx, record)

	if err := p.grade(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading_failed")
		p.fail(ctx, job, record, err)
	}
	return nil
}

// recheck looks for files again on behalf of a deferred job.
func (p *Processor) recheck(ctx context.Context, job queue.Job) error {
	opts := service.DispatchOptions{
		DeferWhenNoFiles: job.Deferrals < p.cfg.MaxDeferrals,
		Deferrals:        job.Deferrals + 1,
	}

	result, err := p.dispatcher.Dispatch(ctx, job.SubmissionID, opts)
	switch {
	case errors.Is(err, service.ErrNoFiles):
		p.logger.Warn().Uint("submission_id", job.SubmissionID).Int("deferrals", job.Deferrals).Msg("no files after deferrals, giving up")
		observability.JobsProcessed().WithLabelValues("gave_up").Inc()
		return nil
	case errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrAssignmentNotFound),
		errors.Is(err, service.ErrPluginDisabled),
		errors.Is(err, service.ErrAutoGradingDisabled):
		p.logger.Info().Err(err).Uint("submission_id", job.SubmissionID).Msg("deferred job no longer applies")
		observability.JobsProcessed().WithLabelValues("skipped").Inc()
		return nil
	case err != nil:
		return err
	case result.Deferred:
		observability.JobsProcessed().WithLabelValues("redeferred").Inc()
	default:
		observability.JobsProcessed().WithLabelValues("file_found").Inc()
	}
	return nil
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func retryable(err error) bool {
	var p permanentError
	return !errors.As(err, &p)
}

func (p *Processor) grade(ctx context.Context, job queue.Job) error {
	submission, err := p.host.GetSubmission(ctx, job.SubmissionID)
	if err != nil {
		return permanent(fmt.Errorf("load submission: %w", err))
	}

	assignmentID := job.AssignmentID
	if assignmentID == 0 {
		assignmentID = submission.Assignment
	}
	assignment, err := p.host.GetAssignment(ctx, assignmentID)
	if err != nil {
		return permanent(fmt.Errorf("load assignment: %w", err))
	}

	settings, err := p.host.PluginSettings(ctx, assignment.ID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	file, err := p.host.GetFile(ctx, submission.ID, *job.FileID)
	if err != nil {
		return permanent(fmt.Errorf("load file %d: %w", *job.FileID, err))
	}
	if file.FileSize > p.cfg.MaxFileSize {
		return permanent(fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, file.FileName, file.FileSize))
	}

	content, mimeType, err := p.readText(ctx, file)
	if err != nil {
		return err
	}

	result, err := p.evaluator.Evaluate(ctx, ai.EvaluationInput{
		AssignmentName: assignment.Name,
		Instructions:   assignment.Intro,
		StandardAnswer: settings.StandardAnswer,
		GradingRubric:  settings.GradingRubric,
		FileName:       file.FileName,
		MimeType:       mimeType,
		SubmissionText: content,
	})
	if err != nil {
		if errors.Is(err, ai.ErrEvaluatorUnavailable) {
			return permanent(err)
		}
		return fmt.Errorf("evaluate submission: %w", err)
	}

	maxGrade := assignment.Grade
	if maxGrade <= 0 {
		maxGrade = DefaultMaxGrade
	}
	score := math.Round(result.Score*maxGrade*100) / 100
	feedback := p.sanitizer.Sanitize(result.Feedback)

	completed, err := p.records.Complete(ctx, submission.ID, &score, feedback, p.now())
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	if !completed {
		p.logger.Warn().Uint("submission_id", submission.ID).Msg("record left processing before grading finished, result dropped")
		observability.JobsProcessed().WithLabelValues("dropped").Inc()
		return nil
	}

	if settings.GradingMode == host.GradingModePublish {
		if err := p.host.PublishGrade(ctx, host.GradeUpdate{
			AssignmentID:  assignment.ID,
			UserID:        submission.UserID,
			AttemptNumber: submission.AttemptNumber,
			Grade:         score,
			GraderID:      p.cfg.GraderUserID,
		}); err != nil {
			p.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("failed to publish grade")
		}
	}

	observability.JobsProcessed().WithLabelValues("completed").Inc()
	p.logger.Info().
		Uint("submission_id", submission.ID).
		Float64("score", score).
		Str("grading_mode", settings.GradingMode).
		Msg("submission graded")

	if record, err := p.records.GetBySubmission(ctx, submission.ID); err == nil {
		p.publish(ctx, record)
	}
	return nil
}

func (p *Processor) readText(ctx context.Context, file models.File) (string, string, error) {
	reader, err := p.host.OpenFile(ctx, file)
	if err != nil {
		return "", "", fmt.Errorf("open file %s: %w", file.FileName, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(io.LimitReader(reader, p.cfg.MaxFileSize+1))
	if err != nil {
		return "", "", fmt.Errorf("read file %s: %w", file.FileName, err)
	}
	if int64(len(content)) > p.cfg.MaxFileSize {
		return "", "", permanent(fmt.Errorf("%w: %s", ErrFileTooLarge, file.FileName))
	}

	detected := mimetype.Detect(content)
	if !isText(detected) {
		return "", "", permanent(fmt.Errorf("%w: %s is %s", ErrUnsupportedFile, file.FileName, detected.String()))
	}
	return string(bytes.ToValidUTF8(content, []byte("�"))), detected.String(), nil
}

func isText(detected *mimetype.MIME) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func (p *Processor) fail(ctx context.Context, job queue.Job, record models.GradingRecord, cause error) {
	now := p.now()
	message := cause.Error()
	if _, err := p.records.MarkFailed(ctx, job.SubmissionID, message, now); err != nil {
		p.logger.Error().Err(err).Uint("submission_id", job.SubmissionID).Msg("failed to mark record failed")
		return
	}
	record.Status = models.GradingStatusFailed
	record.ErrorMessage = message
	p.publish(ctx, record)

	if !retryable(cause) || record.ProcessingAttempts >= p.cfg.MaxAttempts {
		p.logger.Warn().Err(cause).Uint("submission_id", job.SubmissionID).Int("attempts", record.ProcessingAttempts).Msg("grading failed")
		observability.JobsProcessed().WithLabelValues("failed").Inc()
		return
	}

	requeued, err := p.records.Requeue(ctx, job.SubmissionID, now)
	if err != nil || !requeued {
		p.logger.Error().Err(err).Uint("submission_id", job.SubmissionID).Msg("failed to requeue record")
		observability.JobsProcessed().WithLabelValues("failed").Inc()
		return
	}

	retry := job
	retry.JobID = ""
	retry.Attempt = record.ProcessingAttempts
	delay := time.Duration(record.ProcessingAttempts) * p.cfg.RetryDelay
	if _, err := p.queue.Enqueue(ctx, retry, delay); err != nil {
		p.logger.Error().Err(err).Uint("submission_id", job.SubmissionID).Msg("failed to schedule retry")
		if _, markErr := p.records.MarkFailed(ctx, job.SubmissionID, fmt.Sprintf("%s; retry not scheduled: %v", message, err), p.now(), models.GradingStatusPending); markErr != nil {
			p.logger.Error().Err(markErr).Uint("submission_id", job.SubmissionID).Msg("failed to mark record failed")
		}
		observability.JobsProcessed().WithLabelValues("failed").Inc()
		return
	}

	p.logger.Warn().Err(cause).
		Uint("submission_id", job.SubmissionID).
		Int("attempts", record.ProcessingAttempts).
		Dur("retry_in", delay).
		Msg("grading failed, retry scheduled")
	observability.JobsProcessed().WithLabelValues("retry").Inc()
}

func (p *Processor) publish(ctx context.Context, record models.GradingRecord) {
	if p.publisher == nil {
		return
	}

	change := events.StatusChange{
		SubmissionID: record.SubmissionID,
		RecordID:     record.ID,
		Status:       string(record.Status),
		Score:        record.AIScore,
		Error:        record.ErrorMessage,
		Attempts:     record.ProcessingAttempts,
		OccurredAt:   p.now().UTC(),
	}
	if err := p.publisher.PublishStatus(ctx, change); err != nil {
		p.logger.Warn().Err(err).Uint("submission_id", record.SubmissionID).Msg("failed to publish status change")
	}
}
