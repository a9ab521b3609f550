package ai

import (
	"context"
	"errors"
)

// ErrEvaluatorUnavailable is returned when no AI provider is configured.
var ErrEvaluatorUnavailable = errors.New("ai evaluator unavailable")

// EvaluationInput contains the artefacts needed to grade one submitted file.
type EvaluationInput struct {
	AssignmentName  string
	Instructions    string
	StandardAnswer  string
	GradingRubric   string
	FileName        string
	MimeType        string
	SubmissionText  string
	AdditionalNotes string
}

// EvaluationResult is the structured feedback returned by the AI evaluator.
// Score is normalised to the 0..1 range.
type EvaluationResult struct {
	Score    float64                `json:"score"`
	Feedback string                 `json:"feedback"`
	Verdict  string                 `json:"verdict"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Raw      map[string]interface{} `json:"raw,omitempty"`
}

// Evaluator describes an AI model capable of grading a submitted file.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error)
}

// Unavailable is the evaluator used when no provider is configured. Every call fails.
type Unavailable struct{}

func (Unavailable) Evaluate(context.Context, EvaluationInput) (EvaluationResult, error) {
	return EvaluationResult{}, ErrEvaluatorUnavailable
}
