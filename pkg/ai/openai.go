package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aicheck",
		Subsystem: "ai",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of AI evaluation requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aicheck",
		Subsystem: "ai",
		Name:      "evaluation_failures_total",
		Help:      "Number of AI evaluation failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI evaluator.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	// MaxInputChars caps the submission text sent to the model. Zero means 24000.
	MaxInputChars int
	Logger        zerolog.Logger
}

// OpenAIEvaluator implements Evaluator against the OpenAI chat completion API.
type OpenAIEvaluator struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIEvaluator builds a new evaluator using the provided configuration.
func NewOpenAIEvaluator(cfg OpenAIConfig) (*OpenAIEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	if cfg.MaxInputChars == 0 {
		cfg.MaxInputChars = 24000
	}

	tracer := otel.Tracer("github.com/noah-isme/ai-check-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	return &OpenAIEvaluator{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Evaluate asks the model to grade one submitted file and returns the parsed verdict.
func (e *OpenAIEvaluator) Evaluate(parent context.Context, input EvaluationInput) (EvaluationResult, error) {
	ctx, span := e.tracer.Start(parent, "openai.evaluate", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.String("file_name", input.FileName),
		attribute.Int("submission.chars", len(input.SubmissionText)),
	))
	defer span.End()

	input = truncateSubmission(input, e.cfg.MaxInputChars)

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: graderSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(input)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	aiDuration.WithLabelValues(e.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return EvaluationResult{}, e.fail(span, fmt.Errorf("openai evaluate: %w", err))
	}
	if len(resp.Choices) == 0 {
		return EvaluationResult{}, e.fail(span, fmt.Errorf("openai evaluate: no choices returned"))
	}

	result, err := parseEvaluationResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return EvaluationResult{}, e.fail(span, err)
	}

	result.Raw = map[string]interface{}{
		"usage":         resp.Usage,
		"finish_reason": resp.Choices[0].FinishReason,
	}
	span.SetAttributes(attribute.Float64("evaluation.score", result.Score))
	e.logger.Debug().
		Str("file_name", input.FileName).
		Float64("score", result.Score).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("submission evaluated")
	return result, nil
}

func (e *OpenAIEvaluator) fail(span trace.Span, err error) error {
	aiFailures.WithLabelValues(e.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const graderSystemPrompt = "You grade student assignment submissions. Compare the submission with the standard answer " +
	"and apply the grading rubric when one is given. Respond with a JSON object containing score (0-1), verdict, " +
	"feedback addressed to the student, and an optional details object breaking down the score."

// truncateSubmission cuts the submission text to limit runes and notes the cut for the model.
func truncateSubmission(input EvaluationInput, limit int) EvaluationInput {
	if limit <= 0 {
		return input
	}
	runes := []rune(input.SubmissionText)
	if len(runes) <= limit {
		return input
	}

	input.SubmissionText = string(runes[:limit])
	note := fmt.Sprintf("The submission was truncated to its first %d characters.", limit)
	if input.AdditionalNotes == "" {
		input.AdditionalNotes = note
	} else {
		input.AdditionalNotes += "\n" + note
	}
	return input
}

func buildUserPrompt(input EvaluationInput) string {
	fileLabel := input.FileName
	if input.MimeType != "" {
		fileLabel = fmt.Sprintf("%s (%s)", input.FileName, input.MimeType)
	}

	sections := []struct{ title, body string }{
		{"# Assignment", input.AssignmentName},
		{"## Instructions", input.Instructions},
		{"## Standard Answer", input.StandardAnswer},
		{"## Grading Rubric", input.GradingRubric},
		{"## Submitted File", fileLabel},
		{"## Submission", input.SubmissionText},
		{"## Notes", input.AdditionalNotes},
	}

	var builder strings.Builder
	for _, section := range sections {
		if strings.TrimSpace(section.body) == "" && section.title != "## Submission" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(section.title)
		builder.WriteString("\n")
		builder.WriteString(section.body)
	}
	builder.WriteString("\n\nReturn JSON.")
	return builder.String()
}

// parseEvaluationResponse accepts a bare or fenced JSON object. Scores above 1 are read
// as percentages; the result is clamped to 0..1.
func parseEvaluationResponse(content string) (EvaluationResult, error) {
	var data struct {
		Score    float64                `json:"score"`
		Feedback string                 `json:"feedback"`
		Verdict  string                 `json:"verdict"`
		Details  map[string]interface{} `json:"details"`
	}

	body := strings.TrimSpace(content)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return EvaluationResult{}, fmt.Errorf("parse evaluation json: %w", err)
	}

	score := data.Score
	if score > 1 {
		score /= 100
	}
	switch {
	case score < 0:
		score = 0
	case score > 1:
		score = 1
	}

	return EvaluationResult{
		Score:    score,
		Feedback: strings.TrimSpace(data.Feedback),
		Verdict:  data.Verdict,
		Details:  data.Details,
	}, nil
}
