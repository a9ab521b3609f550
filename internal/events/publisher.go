package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// StatusChange announces a grading record transition to interested services.
type StatusChange struct {
	SubmissionID uint      `json:"submission_id"`
	RecordID     uint      `json:"record_id"`
	Status       string    `json:"status"`
	Score        *float64  `json:"ai_score,omitempty"`
	Error        string    `json:"error_message,omitempty"`
	Attempts     int       `json:"processing_attempts"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// StatusPublisher publishes record transitions on a NATS subject.
type StatusPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewStatusPublisher constructs a publisher. A nil connection turns publishing into a no-op.
func NewStatusPublisher(conn *nats.Conn, subject string) *StatusPublisher {
	return &StatusPublisher{conn: conn, subject: subject}
}

// PublishStatus sends the change. It is a no-op when NATS is not configured.
func (p *StatusPublisher) PublishStatus(_ context.Context, change StatusChange) error {
	if p == nil || p.conn == nil || p.subject == "" {
		return nil
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode status change: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish status change: %w", err)
	}
	return nil
}
