package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/ai-check-api/internal/database"
	"github.com/noah-isme/ai-check-api/internal/host"
	"github.com/noah-isme/ai-check-api/internal/models"
	"github.com/noah-isme/ai-check-api/internal/queue"
	"github.com/noah-isme/ai-check-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func ptrUint(v uint) *uint {
	return &v
}

type fakeHost struct {
	submissions map[uint]models.AssignSubmission
	assignments map[uint]models.Assign
	pluginOn    map[uint]bool
	settings    map[uint]host.PluginSettings
	files       map[uint][]models.File
	lookupErr   error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		submissions: map[uint]models.AssignSubmission{},
		assignments: map[uint]models.Assign{},
		pluginOn:    map[uint]bool{},
		settings:    map[uint]host.PluginSettings{},
		files:       map[uint][]models.File{},
	}
}

// withSubmission registers submission 42 of assignment 7 style fixtures with AI check enabled.
func (f *fakeHost) withSubmission(submissionID, assignmentID uint) *fakeHost {
	f.submissions[submissionID] = models.AssignSubmission{ID: submissionID, Assignment: assignmentID, UserID: 5}
	f.assignments[assignmentID] = models.Assign{ID: assignmentID, Name: "Essay", Grade: 100}
	f.pluginOn[assignmentID] = true
	f.settings[assignmentID] = host.PluginSettings{Enabled: true, GradingMode: host.GradingModeDraft}
	return f
}

func (f *fakeHost) withFile(submissionID, fileID uint, name string) *fakeHost {
	f.files[submissionID] = append(f.files[submissionID], models.File{
		ID:          fileID,
		Component:   models.FileSubmissionComponent,
		FileArea:    models.FileSubmissionArea,
		ItemID:      submissionID,
		FileName:    name,
		ContentHash: "da39a3ee5e6b4b0d3255bfef95601890afd80709",
	})
	return f
}

func (f *fakeHost) Capabilities() host.Capabilities {
	return host.Capabilities{Release: host.ReleasePluginInstanceCheck, TablePrefix: "mdl_", PerAssignmentPluginCheck: true}
}

func (f *fakeHost) GetSubmission(_ context.Context, id uint) (models.AssignSubmission, error) {
	if f.lookupErr != nil {
		return models.AssignSubmission{}, f.lookupErr
	}
	submission, ok := f.submissions[id]
	if !ok {
		return models.AssignSubmission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (f *fakeHost) GetAssignment(_ context.Context, id uint) (models.Assign, error) {
	assignment, ok := f.assignments[id]
	if !ok {
		return models.Assign{}, gorm.ErrRecordNotFound
	}
	return assignment, nil
}

func (f *fakeHost) SubmissionPluginEnabled(_ context.Context, assignmentID uint) (bool, error) {
	return f.pluginOn[assignmentID], nil
}

func (f *fakeHost) PluginSettings(_ context.Context, assignmentID uint) (host.PluginSettings, error) {
	settings, ok := f.settings[assignmentID]
	if !ok {
		return host.PluginSettings{GradingMode: host.GradingModeDraft}, nil
	}
	return settings, nil
}

func (f *fakeHost) SavePluginSettings(_ context.Context, assignmentID uint, settings host.PluginSettings) error {
	current := f.settings[assignmentID]
	current.Enabled = settings.Enabled
	if settings.Enabled {
		current.StandardAnswer = settings.StandardAnswer
		current.GradingRubric = settings.GradingRubric
		current.GradingMode = settings.GradingMode
		if current.GradingMode == "" {
			current.GradingMode = host.GradingModeDraft
		}
	}
	f.settings[assignmentID] = current
	return nil
}

func (f *fakeHost) ListSubmissionFiles(_ context.Context, submissionID uint) ([]models.File, error) {
	return append([]models.File(nil), f.files[submissionID]...), nil
}

func (f *fakeHost) GetFile(_ context.Context, submissionID, fileID uint) (models.File, error) {
	for _, file := range f.files[submissionID] {
		if file.ID == fileID {
			return file, nil
		}
	}
	return models.File{}, host.ErrFileNotInSubmission
}

func (f *fakeHost) OpenFile(context.Context, models.File) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeHost) PublishGrade(context.Context, host.GradeUpdate) error {
	return nil
}

type queuedJob struct {
	job      queue.Job
	runAfter time.Duration
}

type recordingQueue struct {
	jobs []queuedJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job, runAfter time.Duration) (queue.Job, error) {
	if q.err != nil {
		return queue.Job{}, q.err
	}
	job.JobID = fmt.Sprintf("job-%d", len(q.jobs)+1)
	job.Type = queue.JobTypeProcessSubmission
	q.jobs = append(q.jobs, queuedJob{job: job, runAfter: runAfter})
	return job, nil
}

var errQueueDown = errors.New("redis: connection refused")

func setupRecordStore(t *testing.T) (*gorm.DB, repository.GradingRecordRepository) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig("mdl_"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.GradingRecord{}, &models.ActivityLog{}))
	return db, repository.NewGradingRecordRepository(db)
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func countRecords(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var total int64
	require.NoError(t, db.Model(&models.GradingRecord{}).Count(&total).Error)
	return total
}
