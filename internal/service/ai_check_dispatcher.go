package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/noah-isme/ai-check-api/internal/host"
	"github.com/noah-isme/ai-check-api/internal/models"
	"github.com/noah-isme/ai-check-api/internal/queue"
	"github.com/noah-isme/ai-check-api/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates the host has no such submission.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrAssignmentNotFound indicates the submission's assignment is missing.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrPluginDisabled indicates the AI check plugin is not enabled for the assignment.
	ErrPluginDisabled = errors.New("ai check plugin not enabled")
	// ErrAutoGradingDisabled indicates the assignment's enabled setting is off.
	ErrAutoGradingDisabled = errors.New("ai auto-grading not enabled in settings")
	// ErrNoFiles indicates the submission has no uploaded files yet.
	ErrNoFiles = errors.New("no files found in submission")
	// ErrEnqueueFailed indicates the grading job could not be handed to the queue.
	ErrEnqueueFailed = errors.New("unable to queue grading job")
)

// DispatchOptions tunes how Dispatch reacts to a submission without files.
type DispatchOptions struct {
	// DeferWhenNoFiles schedules a delayed re-check instead of returning ErrNoFiles.
	DeferWhenNoFiles bool
	// Deferrals is stored on the deferred job so the worker can stop re-deferring.
	Deferrals int
}

// DispatchResult describes what Dispatch did.
type DispatchResult struct {
	Submission models.AssignSubmission
	Assignment models.Assign
	Record     *models.GradingRecord
	Job        queue.Job
	Deferred   bool
}

// AICheckDispatcher holds the precondition, upsert and enqueue steps shared by the
// event path, the manual trigger and the worker's deferred re-check.
type AICheckDispatcher struct {
	host       host.Adapter
	records    repository.GradingRecordRepository
	queue      queue.Enqueuer
	deferDelay time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewAICheckDispatcher constructs the dispatch core.
func NewAICheckDispatcher(adapter host.Adapter, records repository.GradingRecordRepository, enqueuer queue.Enqueuer, deferDelay time.Duration, logger zerolog.Logger) *AICheckDispatcher {
	if deferDelay <= 0 {
		deferDelay = 10 * time.Second
	}

	return &AICheckDispatcher{
		host:       adapter,
		records:    records,
		queue:      enqueuer,
		deferDelay: deferDelay,
		logger:     logger.With().Str("component", "ai_check_dispatcher").Logger(),
		now:        time.Now,
	}
}

// Resolve loads the submission and its assignment and checks that AI grading is on.
func (d *AICheckDispatcher) Resolve(ctx context.Context, submissionID uint) (models.AssignSubmission, models.Assign, error) {
	submission, err := d.host.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.AssignSubmission{}, models.Assign{}, ErrSubmissionNotFound
		}
		return models.AssignSubmission{}, models.Assign{}, fmt.Errorf("load submission %d: %w", submissionID, err)
	}

	assignment, err := d.host.GetAssignment(ctx, submission.Assignment)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return submission, models.Assign{}, ErrAssignmentNotFound
		}
		return submission, models.Assign{}, fmt.Errorf("load assignment %d: %w", submission.Assignment, err)
	}

	enabled, err := d.host.SubmissionPluginEnabled(ctx, assignment.ID)
	if err != nil {
		return submission, assignment, fmt.Errorf("check plugin for assignment %d: %w", assignment.ID, err)
	}
	if !enabled {
		return submission, assignment, ErrPluginDisabled
	}

	settings, err := d.host.PluginSettings(ctx, assignment.ID)
	if err != nil {
		return submission, assignment, fmt.Errorf("load settings for assignment %d: %w", assignment.ID, err)
	}
	if !settings.Enabled {
		return submission, assignment, ErrAutoGradingDisabled
	}

	return submission, assignment, nil
}

// Dispatch runs the full handoff for one submission: resolve, look for files, then
// either defer a re-check or reset the record to pending and queue the first file.
func (d *AICheckDispatcher) Dispatch(ctx context.Context, submissionID uint, opts DispatchOptions) (DispatchResult, error) {
	tracer := otel.Tracer("github.com/noah-isme/ai-check-api/internal/service/ai_check_dispatcher")
	ctx, span := tracer.Start(ctx, "ai_check.dispatch")
	span.SetAttributes(attribute.Int("submission.id", int(submissionID)))
	defer span.End()

	submission, assignment, err := d.Resolve(ctx, submissionID)
	result := DispatchResult{Submission: submission, Assignment: assignment}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	files, err := d.host.ListSubmissionFiles(ctx, submission.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "file_lookup_failed")
		return result, fmt.Errorf("list files for submission %d: %w", submission.ID, err)
	}

	if len(files) == 0 {
		if !opts.DeferWhenNoFiles {
			return result, ErrNoFiles
		}

		job, err := d.queue.Enqueue(ctx, queue.Job{
			SubmissionID: submission.ID,
			AssignmentID: submission.Assignment,
			Deferrals:    opts.Deferrals,
		}, d.deferDelay)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "defer_failed")
			return result, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
		}

		d.logger.Info().
			Uint("submission_id", submission.ID).
			Int("deferrals", opts.Deferrals).
			Dur("delay", d.deferDelay).
			Msg("no files yet, deferred re-check")
		result.Job = job
		result.Deferred = true
		span.SetAttributes(attribute.Bool("dispatch.deferred", true))
		return result, nil
	}

	record, job, err := d.queueFile(ctx, submission, files[0])
	if record.ID != 0 {
		result.Record = &record
	}
	result.Job = job
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "queue_failed")
		return result, err
	}

	span.SetAttributes(attribute.String("job.id", job.JobID), attribute.Int("record.id", int(record.ID)))
	return result, nil
}

func (d *AICheckDispatcher) queueFile(ctx context.Context, submission models.AssignSubmission, file models.File) (models.GradingRecord, queue.Job, error) {
	record, err := d.records.ResetPending(ctx, submission.ID, d.now())
	if err != nil {
		return models.GradingRecord{}, queue.Job{}, fmt.Errorf("upsert grading record: %w", err)
	}

	fileID := file.ID
	job, err := d.queue.Enqueue(ctx, queue.Job{
		SubmissionID: submission.ID,
		AssignmentID: submission.Assignment,
		FileID:       &fileID,
	}, 0)
	if err != nil {
		message := fmt.Sprintf("%s: %v", ErrEnqueueFailed.Error(), err)
		if _, markErr := d.records.MarkFailed(ctx, submission.ID, message, d.now(), models.GradingStatusPending); markErr != nil {
			d.logger.Error().Err(markErr).Uint("submission_id", submission.ID).Msg("failed to mark record failed after enqueue error")
		} else {
			record.Status = models.GradingStatusFailed
			record.ErrorMessage = message
		}
		return record, queue.Job{}, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	d.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("file_id", file.ID).
		Str("file_name", file.FileName).
		Uint("record_id", record.ID).
		Str("job_id", job.JobID).
		Msg("queued grading job")
	return record, job, nil
}
