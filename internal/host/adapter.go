package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/ai-check-api/internal/models"
)

// ReleasePluginInstanceCheck is the first host release whose assignments expose a
// per-assignment submission plugin toggle.
const ReleasePluginInstanceCheck = 2022112800

// Grading modes stored in the plugin settings.
const (
	GradingModeDraft   = "draft"
	GradingModePublish = "publish"
)

// Plugin setting names persisted in assign_plugin_config.
const (
	SettingEnabled        = "enabled"
	SettingStandardAnswer = "standard_answer"
	SettingGradingRubric  = "grading_rubric"
	SettingGradingMode    = "grading_mode"
)

// ErrFileNotInSubmission is returned when a file id does not belong to the submission's file area.
var ErrFileNotInSubmission = errors.New("file does not belong to submission")

// Options selects the host release and storage layout the adapter talks to.
type Options struct {
	Release     int
	TablePrefix string
	DataRoot    string
}

// Capabilities describes what the configured host release supports. It is resolved once in New.
type Capabilities struct {
	Release                  int    `json:"release"`
	TablePrefix              string `json:"table_prefix"`
	PerAssignmentPluginCheck bool   `json:"per_assignment_plugin_check"`
}

// PluginSettings holds the per-assignment AI check configuration.
type PluginSettings struct {
	Enabled        bool   `json:"enabled"`
	StandardAnswer string `json:"standard_answer"`
	GradingRubric  string `json:"grading_rubric"`
	GradingMode    string `json:"grading_mode"`
}

// GradeUpdate is a grade the worker publishes to the host gradebook.
type GradeUpdate struct {
	AssignmentID  uint
	UserID        int64
	AttemptNumber int
	Grade         float64
	GraderID      int64
}

// Adapter is the single entry point to host data. Callers never branch on the host release.
type Adapter interface {
	Capabilities() Capabilities
	GetSubmission(ctx context.Context, id uint) (models.AssignSubmission, error)
	GetAssignment(ctx context.Context, id uint) (models.Assign, error)
	SubmissionPluginEnabled(ctx context.Context, assignmentID uint) (bool, error)
	PluginSettings(ctx context.Context, assignmentID uint) (PluginSettings, error)
	SavePluginSettings(ctx context.Context, assignmentID uint, settings PluginSettings) error
	ListSubmissionFiles(ctx context.Context, submissionID uint) ([]models.File, error)
	GetFile(ctx context.Context, submissionID, fileID uint) (models.File, error)
	OpenFile(ctx context.Context, file models.File) (io.ReadCloser, error)
	PublishGrade(ctx context.Context, update GradeUpdate) error
}

type moodleAdapter struct {
	db   *gorm.DB
	fs   afero.Fs
	opts Options
	caps Capabilities
}

// New resolves the host capabilities for the configured release and returns the adapter.
func New(db *gorm.DB, fs afero.Fs, opts Options) Adapter {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &moodleAdapter{
		db:   db,
		fs:   fs,
		opts: opts,
		caps: Capabilities{
			Release:                  opts.Release,
			TablePrefix:              opts.TablePrefix,
			PerAssignmentPluginCheck: opts.Release >= ReleasePluginInstanceCheck,
		},
	}
}

func (a *moodleAdapter) Capabilities() Capabilities {
	return a.caps
}

func (a *moodleAdapter) table(name string) string {
	return a.opts.TablePrefix + name
}

func (a *moodleAdapter) GetSubmission(ctx context.Context, id uint) (models.AssignSubmission, error) {
	var submission models.AssignSubmission
	if err := a.db.WithContext(ctx).Table(a.table("assign_submission")).Where("id = ?", id).First(&submission).Error; err != nil {
		return models.AssignSubmission{}, err
	}
	return submission, nil
}

func (a *moodleAdapter) GetAssignment(ctx context.Context, id uint) (models.Assign, error) {
	var assignment models.Assign
	if err := a.db.WithContext(ctx).Table(a.table("assign")).Where("id = ?", id).First(&assignment).Error; err != nil {
		return models.Assign{}, err
	}
	return assignment, nil
}

// SubmissionPluginEnabled reports whether the AI check plugin may run for the assignment.
// The site-wide disabled flag always applies. Releases with per-assignment plugin
// instances additionally require the assignment to carry AI check configuration.
func (a *moodleAdapter) SubmissionPluginEnabled(ctx context.Context, assignmentID uint) (bool, error) {
	var site models.ConfigPlugin
	err := a.db.WithContext(ctx).Table(a.table("config_plugins")).
		Where("plugin = ? AND name = ?", models.AICheckComponent, "disabled").
		First(&site).Error
	switch {
	case err == nil:
		if isTruthy(site.Value) {
			return false, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, err
	}

	if !a.caps.PerAssignmentPluginCheck {
		return true, nil
	}

	var count int64
	if err := a.pluginConfigQuery(ctx, assignmentID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *moodleAdapter) pluginConfigQuery(ctx context.Context, assignmentID uint) *gorm.DB {
	return a.db.WithContext(ctx).Table(a.table("assign_plugin_config")).
		Where("assignment = ? AND plugin = ? AND subtype = ?", assignmentID, models.AICheckPluginName, models.AICheckPluginSubtype)
}

func (a *moodleAdapter) PluginSettings(ctx context.Context, assignmentID uint) (PluginSettings, error) {
	var rows []models.AssignPluginConfig
	if err := a.pluginConfigQuery(ctx, assignmentID).Find(&rows).Error; err != nil {
		return PluginSettings{}, err
	}

	settings := PluginSettings{GradingMode: GradingModeDraft}
	for _, row := range rows {
		switch row.Name {
		case SettingEnabled:
			settings.Enabled = isTruthy(row.Value)
		case SettingStandardAnswer:
			settings.StandardAnswer = row.Value
		case SettingGradingRubric:
			settings.GradingRubric = row.Value
		case SettingGradingMode:
			if row.Value != "" {
				settings.GradingMode = row.Value
			}
		}
	}
	return settings, nil
}

// SavePluginSettings always stores the enabled flag; the remaining fields are only
// stored while the plugin is enabled so a disabled assignment keeps its last values.
func (a *moodleAdapter) SavePluginSettings(ctx context.Context, assignmentID uint, settings PluginSettings) error {
	values := []struct{ name, value string }{
		{SettingEnabled, boolValue(settings.Enabled)},
	}
	if settings.Enabled {
		mode := settings.GradingMode
		if mode == "" {
			mode = GradingModeDraft
		}
		values = append(values,
			struct{ name, value string }{SettingStandardAnswer, settings.StandardAnswer},
			struct{ name, value string }{SettingGradingRubric, settings.GradingRubric},
			struct{ name, value string }{SettingGradingMode, mode},
		)
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, v := range values {
			if err := a.setConfig(tx, assignmentID, v.name, v.value); err != nil {
				return fmt.Errorf("save %s: %w", v.name, err)
			}
		}
		return nil
	})
}

func (a *moodleAdapter) setConfig(tx *gorm.DB, assignmentID uint, name, value string) error {
	var existing models.AssignPluginConfig
	err := tx.Table(a.table("assign_plugin_config")).
		Where("assignment = ? AND plugin = ? AND subtype = ? AND name = ?", assignmentID, models.AICheckPluginName, models.AICheckPluginSubtype, name).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := models.AssignPluginConfig{
			Assignment: assignmentID,
			Plugin:     models.AICheckPluginName,
			Subtype:    models.AICheckPluginSubtype,
			Name:       name,
			Value:      value,
		}
		return tx.Table(a.table("assign_plugin_config")).Create(&row).Error
	}
	if err != nil {
		return err
	}

	return tx.Table(a.table("assign_plugin_config")).Where("id = ?", existing.ID).Update("value", value).Error
}

// ListSubmissionFiles returns the uploaded files of a submission ordered by filename,
// excluding directory entries.
func (a *moodleAdapter) ListSubmissionFiles(ctx context.Context, submissionID uint) ([]models.File, error) {
	var files []models.File
	err := a.db.WithContext(ctx).Table(a.table("files")).
		Where("component = ? AND filearea = ? AND itemid = ? AND filename <> ?",
			models.FileSubmissionComponent, models.FileSubmissionArea, submissionID, ".").
		Order("filename ASC").Order("id ASC").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (a *moodleAdapter) GetFile(ctx context.Context, submissionID, fileID uint) (models.File, error) {
	var file models.File
	if err := a.db.WithContext(ctx).Table(a.table("files")).Where("id = ?", fileID).First(&file).Error; err != nil {
		return models.File{}, err
	}

	if file.Component != models.FileSubmissionComponent || file.FileArea != models.FileSubmissionArea ||
		file.ItemID != submissionID || file.IsDirectory() {
		return models.File{}, ErrFileNotInSubmission
	}
	return file, nil
}

// OpenFile opens the stored content of a file from the host's content-addressed filedir.
func (a *moodleAdapter) OpenFile(_ context.Context, file models.File) (io.ReadCloser, error) {
	hash := strings.ToLower(strings.TrimSpace(file.ContentHash))
	if len(hash) < 4 {
		return nil, fmt.Errorf("invalid content hash %q", file.ContentHash)
	}

	return a.fs.Open(ContentPath(a.opts.DataRoot, hash))
}

// ContentPath returns the filedir location of a content hash.
func ContentPath(dataRoot, hash string) string {
	return path.Join(dataRoot, "filedir", hash[0:2], hash[2:4], hash)
}

// PublishGrade writes the grade for the submission's attempt into the host gradebook.
func (a *moodleAdapter) PublishGrade(ctx context.Context, update GradeUpdate) error {
	now := time.Now().Unix()
	grade := models.AssignGrade{
		Assignment:    update.AssignmentID,
		UserID:        update.UserID,
		AttemptNumber: update.AttemptNumber,
		Grade:         update.Grade,
		Grader:        update.GraderID,
		TimeCreated:   now,
		TimeModified:  now,
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.AssignGrade
		err := tx.Table(a.table("assign_grades")).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("assignment = ? AND userid = ? AND attemptnumber = ?", update.AssignmentID, update.UserID, update.AttemptNumber).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Table(a.table("assign_grades")).Create(&grade).Error
		}
		if err != nil {
			return err
		}

		return tx.Table(a.table("assign_grades")).Where("id = ?", existing.ID).Updates(map[string]interface{}{
			"grade":        update.Grade,
			"grader":       update.GraderID,
			"timemodified": now,
		}).Error
	})
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func boolValue(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
