package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobTypeProcessSubmission is the only job type the grading worker understands.
const JobTypeProcessSubmission = "process_submission"

// Job is the payload carried by one stream entry.
// A nil FileID marks a deferred re-check: the worker looks the file up again.
type Job struct {
	JobID        string    `json:"job_id"`
	Type         string    `json:"type"`
	SubmissionID uint      `json:"submission_id"`
	AssignmentID uint      `json:"assignment_id"`
	FileID       *uint     `json:"file_id"`
	Deferrals    int       `json:"deferrals"`
	Attempt      int       `json:"attempt"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Deferred reports whether the job still has to locate its file.
func (j Job) Deferred() bool {
	return j.FileID == nil
}

// Message is a job read from the stream together with its stream entry id.
type Message struct {
	ID  string
	Job Job
	// DecodeErr is set when the entry payload could not be parsed. Such messages
	// are only fit for the dead letter stream.
	DecodeErr error
	Raw       string
	// Redelivered marks an entry read before, by this consumer or by one that stopped.
	Redelivered bool
}

func encodeJob(job Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(payload), nil
}

func decodeJob(raw string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.SubmissionID == 0 {
		return Job{}, fmt.Errorf("decode job: missing submission_id")
	}
	return job, nil
}
