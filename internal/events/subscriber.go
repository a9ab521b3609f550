package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/dto"
	"github.com/noah-isme/ai-check-api/internal/service"
)

// QueueGroup spreads host events across API replicas.
const QueueGroup = "ai-check"

// Subscriber feeds host submission events from NATS into the event service.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	handler service.SubmissionEventService
	timeout time.Duration
	logger  zerolog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewSubscriber constructs a subscriber. A nil connection yields an inactive subscriber.
func NewSubscriber(conn *nats.Conn, subject string, handler service.SubmissionEventService, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		conn:    conn,
		subject: subject,
		handler: handler,
		timeout: 30 * time.Second,
		logger:  logger.With().Str("component", "event_subscriber").Str("subject", subject).Logger(),
	}
}

// Start joins the queue group on the event subject.
func (s *Subscriber) Start() error {
	if s.conn == nil || s.subject == "" {
		s.logger.Warn().Msg("nats not configured, host events only arrive through the webhook")
		return nil
	}

	sub, err := s.conn.QueueSubscribe(s.subject, QueueGroup, func(msg *nats.Msg) {
		outcome := s.HandleMessage(msg.Data)
		if msg.Reply == "" {
			return
		}
		payload, err := json.Marshal(outcome)
		if err != nil {
			return
		}
		if err := msg.Respond(payload); err != nil {
			s.logger.Warn().Err(err).Msg("failed to reply to host event")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.subject, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.logger.Info().Str("queue_group", QueueGroup).Msg("subscribed to host events")
	return nil
}

// HandleMessage decodes one event payload and hands it to the event service.
// Malformed payloads are logged and reported as ignored.
func (s *Subscriber) HandleMessage(data []byte) service.EventOutcome {
	var event dto.SubmissionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed host event")
		return service.EventOutcome{Outcome: service.OutcomeIgnored, Reason: "malformed payload"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.handler.Handle(ctx, event)
}

// Active reports whether the subscription is live.
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil && s.sub.IsValid() && s.conn.IsConnected()
}

// Stop drains the subscription.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return
	}
	if err := s.sub.Drain(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to drain host event subscription")
	}
	s.sub = nil
}
