package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/dto"
	"github.com/noah-isme/ai-check-api/internal/observability"
)

// Event outcomes. Every handled event resolves to exactly one.
const (
	OutcomeIgnored            = "ignored"
	OutcomeNoSubmissionID     = "no_submission_id"
	OutcomeSubmissionNotFound = "submission_not_found"
	OutcomeAssignmentNotFound = "assignment_not_found"
	OutcomePluginDisabled     = "plugin_disabled"
	OutcomeAutoGradeDisabled  = "autograde_disabled"
	OutcomeDeferred           = "deferred"
	OutcomeQueued             = "queued"
	OutcomeFailed             = "failed"
)

var submissionEventPattern = regexp.MustCompile(`^\\?(?:mod_assign|assignsubmission_[a-z0-9_]+)\\event\\submission_(?:created|updated)$`)

// EventOutcome is the result of handling one host submission event.
type EventOutcome struct {
	Outcome      string `json:"outcome"`
	EventName    string `json:"event_name,omitempty"`
	SubmissionID uint   `json:"submission_id,omitempty"`
	RecordID     uint   `json:"record_id,omitempty"`
	JobID        string `json:"job_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// SubmissionEventService reacts to host submission events. Handle never returns an
// error so a transport can always acknowledge the host.
type SubmissionEventService interface {
	Handle(ctx context.Context, event dto.SubmissionEvent) EventOutcome
}

type submissionEventService struct {
	dispatcher *AICheckDispatcher
	logger     zerolog.Logger
}

// NewSubmissionEventService constructs the event handler.
func NewSubmissionEventService(dispatcher *AICheckDispatcher, logger zerolog.Logger) SubmissionEventService {
	return &submissionEventService{
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "submission_event_service").Logger(),
	}
}

// IsSubmissionEvent reports whether the event name is a submission create or update.
func IsSubmissionEvent(name string) bool {
	return submissionEventPattern.MatchString(strings.TrimSpace(name))
}

// SubmissionIDFromEvent prefers other.submissionid and falls back to objectid.
func SubmissionIDFromEvent(event dto.SubmissionEvent) uint {
	if event.Other != nil {
		if raw, ok := event.Other["submissionid"]; ok {
			if id, ok := toUint(raw); ok && id > 0 {
				return id
			}
		}
	}
	return event.ObjectID
}

func (s *submissionEventService) Handle(ctx context.Context, event dto.SubmissionEvent) (outcome EventOutcome) {
	outcome.EventName = event.EventName
	defer func() {
		if r := recover(); r != nil {
			outcome.Outcome = OutcomeFailed
			outcome.Reason = fmt.Sprintf("panic: %v", r)
			s.logger.Error().Interface("panic", r).Str("event", event.EventName).Msg("submission event handler panicked")
		}
		observability.EventsHandled().WithLabelValues(outcome.Outcome).Inc()
	}()

	outcome = s.handle(ctx, event)
	outcome.EventName = event.EventName

	entry := s.logger.Info()
	if outcome.Outcome == OutcomeFailed {
		entry = s.logger.Error()
	} else if outcome.Outcome == OutcomeIgnored {
		entry = s.logger.Debug()
	}
	entry.
		Str("event", event.EventName).
		Str("outcome", outcome.Outcome).
		Uint("submission_id", outcome.SubmissionID).
		Uint("record_id", outcome.RecordID).
		Str("reason", outcome.Reason).
		Msg("submission event handled")
	return outcome
}

func (s *submissionEventService) handle(ctx context.Context, event dto.SubmissionEvent) EventOutcome {
	if !IsSubmissionEvent(event.EventName) {
		return EventOutcome{Outcome: OutcomeIgnored}
	}

	submissionID := SubmissionIDFromEvent(event)
	if submissionID == 0 {
		return EventOutcome{Outcome: OutcomeNoSubmissionID}
	}

	result, err := s.dispatcher.Dispatch(ctx, submissionID, DispatchOptions{DeferWhenNoFiles: true})
	outcome := EventOutcome{SubmissionID: submissionID, JobID: result.Job.JobID}
	if result.Record != nil {
		outcome.RecordID = result.Record.ID
	}

	switch {
	case err == nil && result.Deferred:
		outcome.Outcome = OutcomeDeferred
	case err == nil:
		outcome.Outcome = OutcomeQueued
	case errors.Is(err, ErrSubmissionNotFound):
		outcome.Outcome = OutcomeSubmissionNotFound
	case errors.Is(err, ErrAssignmentNotFound):
		outcome.Outcome = OutcomeAssignmentNotFound
	case errors.Is(err, ErrPluginDisabled):
		outcome.Outcome = OutcomePluginDisabled
	case errors.Is(err, ErrAutoGradingDisabled):
		outcome.Outcome = OutcomeAutoGradeDisabled
	default:
		outcome.Outcome = OutcomeFailed
		outcome.Reason = err.Error()
	}
	return outcome
}

func toUint(value interface{}) (uint, bool) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint:
		return v, true
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return uint(parsed), true
	default:
		return 0, false
	}
}
