package models

import "gorm.io/gorm/schema"

// Component and file area names used by the host for uploaded submission files.
const (
	FileSubmissionComponent = "assignsubmission_file"
	FileSubmissionArea      = "submission_files"

	AICheckPluginName    = "ai_check"
	AICheckPluginSubtype = "assignsubmission"
	AICheckComponent     = "assignsubmission_ai_check"
)

// AssignSubmission mirrors the host's assign_submission table.
type AssignSubmission struct {
	ID            uint   `gorm:"primaryKey"`
	Assignment    uint   `gorm:"column:assignment;not null;index"`
	UserID        int64  `gorm:"column:userid;not null"`
	Status        string `gorm:"size:10"`
	AttemptNumber int    `gorm:"column:attemptnumber;not null"`
	Latest        int    `gorm:"column:latest;not null"`
	TimeCreated   int64  `gorm:"column:timecreated"`
	TimeModified  int64  `gorm:"column:timemodified"`
}

func (AssignSubmission) TableName(namer schema.Namer) string {
	return namer.TableName("assign_submission")
}

// Assign mirrors the host's assign table.
type Assign struct {
	ID     uint    `gorm:"primaryKey"`
	Course uint    `gorm:"column:course;not null"`
	Name   string  `gorm:"size:255"`
	Intro  string  `gorm:"type:text"`
	Grade  float64 `gorm:"column:grade"`
}

func (Assign) TableName(namer schema.Namer) string {
	return namer.TableName("assign")
}

// AssignPluginConfig mirrors assign_plugin_config, the per assignment plugin settings.
type AssignPluginConfig struct {
	ID         uint   `gorm:"primaryKey"`
	Assignment uint   `gorm:"column:assignment;not null;index"`
	Plugin     string `gorm:"size:28;not null"`
	Subtype    string `gorm:"size:28;not null"`
	Name       string `gorm:"size:28;not null"`
	Value      string `gorm:"type:text"`
}

func (AssignPluginConfig) TableName(namer schema.Namer) string {
	return namer.TableName("assign_plugin_config")
}

// ConfigPlugin mirrors config_plugins, the site wide plugin settings.
type ConfigPlugin struct {
	ID     uint   `gorm:"primaryKey"`
	Plugin string `gorm:"size:100;not null"`
	Name   string `gorm:"size:100;not null"`
	Value  string `gorm:"type:text"`
}

func (ConfigPlugin) TableName(namer schema.Namer) string {
	return namer.TableName("config_plugins")
}

// File mirrors the host's files table. Directory entries use the filename ".".
type File struct {
	ID           uint   `gorm:"primaryKey"`
	ContentHash  string `gorm:"column:contenthash;size:40"`
	ContextID    uint   `gorm:"column:contextid"`
	Component    string `gorm:"size:100"`
	FileArea     string `gorm:"column:filearea;size:50"`
	ItemID       uint   `gorm:"column:itemid;index"`
	FilePath     string `gorm:"column:filepath;size:255"`
	FileName     string `gorm:"column:filename;size:255"`
	FileSize     int64  `gorm:"column:filesize"`
	MimeType     string `gorm:"column:mimetype;size:100"`
	UserID       int64  `gorm:"column:userid"`
	TimeCreated  int64  `gorm:"column:timecreated"`
	TimeModified int64  `gorm:"column:timemodified"`
}

func (File) TableName(namer schema.Namer) string {
	return namer.TableName("files")
}

// IsDirectory reports whether the entry is a directory placeholder.
func (f File) IsDirectory() bool {
	return f.FileName == "."
}

// AssignGrade mirrors the host's assign_grades table.
type AssignGrade struct {
	ID            uint    `gorm:"primaryKey"`
	Assignment    uint    `gorm:"column:assignment;not null;index"`
	UserID        int64   `gorm:"column:userid;not null"`
	AttemptNumber int     `gorm:"column:attemptnumber;not null"`
	Grade         float64 `gorm:"column:grade"`
	Grader        int64   `gorm:"column:grader"`
	TimeCreated   int64   `gorm:"column:timecreated"`
	TimeModified  int64   `gorm:"column:timemodified"`
}

func (AssignGrade) TableName(namer schema.Namer) string {
	return namer.TableName("assign_grades")
}
