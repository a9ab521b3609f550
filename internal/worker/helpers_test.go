package worker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/ai-check-api/internal/database"
	"github.com/noah-isme/ai-check-api/internal/events"
	"github.com/noah-isme/ai-check-api/internal/host"
	"github.com/noah-isme/ai-check-api/internal/models"
	"github.com/noah-isme/ai-check-api/internal/queue"
	"github.com/noah-isme/ai-check-api/internal/repository"
	"github.com/noah-isme/ai-check-api/internal/service"
	"github.com/noah-isme/ai-check-api/pkg/ai"
)

type stubHost struct {
	submission models.AssignSubmission
	assignment models.Assign
	settings   host.PluginSettings
	files      []models.File
	content    map[uint]string
	published  []host.GradeUpdate
}

func newStubHost() *stubHost {
	return &stubHost{
		submission: models.AssignSubmission{ID: 42, Assignment: 7, UserID: 5, AttemptNumber: 0},
		assignment: models.Assign{ID: 7, Name: "Essay", Intro: "Describe the water cycle.", Grade: 100},
		settings:   host.PluginSettings{Enabled: true, GradingMode: host.GradingModeDraft, StandardAnswer: "Evaporation, condensation, precipitation."},
		content:    map[uint]string{},
	}
}

func (h *stubHost) withFile(id uint, name, content string) *stubHost {
	h.files = append(h.files, models.File{
		ID:        id,
		Component: models.FileSubmissionComponent,
		FileArea:  models.FileSubmissionArea,
		ItemID:    h.submission.ID,
		FileName:  name,
		FileSize:  int64(len(content)),
	})
	h.content[id] = content
	return h
}

func (h *stubHost) Capabilities() host.Capabilities {
	return host.Capabilities{Release: host.ReleasePluginInstanceCheck, TablePrefix: "mdl_", PerAssignmentPluginCheck: true}
}

func (h *stubHost) GetSubmission(_ context.Context, id uint) (models.AssignSubmission, error) {
	if id != h.submission.ID {
		return models.AssignSubmission{}, gorm.ErrRecordNotFound
	}
	return h.submission, nil
}

func (h *stubHost) GetAssignment(_ context.Context, id uint) (models.Assign, error) {
	if id != h.assignment.ID {
		return models.Assign{}, gorm.ErrRecordNotFound
	}
	return h.assignment, nil
}

func (h *stubHost) SubmissionPluginEnabled(context.Context, uint) (bool, error) {
	return true, nil
}

func (h *stubHost) PluginSettings(context.Context, uint) (host.PluginSettings, error) {
	return h.settings, nil
}

func (h *stubHost) SavePluginSettings(_ context.Context, _ uint, settings host.PluginSettings) error {
	h.settings = settings
	return nil
}

func (h *stubHost) ListSubmissionFiles(context.Context, uint) ([]models.File, error) {
	return append([]models.File(nil), h.files...), nil
}

func (h *stubHost) GetFile(_ context.Context, _ uint, fileID uint) (models.File, error) {
	for _, file := range h.files {
		if file.ID == fileID {
			return file, nil
		}
	}
	return models.File{}, host.ErrFileNotInSubmission
}

func (h *stubHost) OpenFile(_ context.Context, file models.File) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(h.content[file.ID])), nil
}

func (h *stubHost) PublishGrade(_ context.Context, update host.GradeUpdate) error {
	h.published = append(h.published, update)
	return nil
}

type stubEvaluator struct {
	result ai.EvaluationResult
	err    error
	calls  []ai.EvaluationInput
}

func (e *stubEvaluator) Evaluate(_ context.Context, input ai.EvaluationInput) (ai.EvaluationResult, error) {
	e.calls = append(e.calls, input)
	if e.err != nil {
		return ai.EvaluationResult{}, e.err
	}
	return e.result, nil
}

type queuedJob struct {
	job      queue.Job
	runAfter time.Duration
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []queuedJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job, runAfter time.Duration) (queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return queue.Job{}, q.err
	}
	job.JobID = fmt.Sprintf("job-%d", len(q.jobs)+1)
	job.Type = queue.JobTypeProcessSubmission
	q.jobs = append(q.jobs, queuedJob{job: job, runAfter: runAfter})
	return job, nil
}

type recordingPublisher struct {
	changes []events.StatusChange
}

func (p *recordingPublisher) PublishStatus(_ context.Context, change events.StatusChange) error {
	p.changes = append(p.changes, change)
	return nil
}

func (p *recordingPublisher) statuses() []string {
	out := make([]string, 0, len(p.changes))
	for _, change := range p.changes {
		out = append(out, change.Status)
	}
	return out
}

func setupRecords(t *testing.T) repository.GradingRecordRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig("mdl_"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.GradingRecord{}))
	return repository.NewGradingRecordRepository(db)
}

type processorFixture struct {
	host      *stubHost
	records   repository.GradingRecordRepository
	queue     *recordingQueue
	evaluator *stubEvaluator
	publisher *recordingPublisher
	processor *Processor
}

func newProcessorFixture(t *testing.T, h *stubHost, cfg Config) *processorFixture {
	t.Helper()
	records := setupRecords(t)
	q := &recordingQueue{}
	evaluator := &stubEvaluator{result: ai.EvaluationResult{Score: 0.8, Feedback: "Clear explanation."}}
	publisher := &recordingPublisher{}
	logger := zerolog.Nop()

	dispatcher := service.NewAICheckDispatcher(h, records, q, 10*time.Second, logger)
	processor := NewProcessor(h, records, dispatcher, q, evaluator, publisher, cfg, logger)

	return &processorFixture{
		host:      h,
		records:   records,
		queue:     q,
		evaluator: evaluator,
		publisher: publisher,
		processor: processor,
	}
}

// pendingJob resets the record to pending the way the dispatcher does and returns its job.
func (f *processorFixture) pendingJob(t *testing.T, fileID uint) queue.Job {
	t.Helper()
	_, err := f.records.ResetPending(context.Background(), f.host.submission.ID, time.Now())
	require.NoError(t, err)
	return queue.Job{
		JobID:        "job-initial",
		Type:         queue.JobTypeProcessSubmission,
		SubmissionID: f.host.submission.ID,
		AssignmentID: f.host.assignment.ID,
		FileID:       &fileID,
	}
}
