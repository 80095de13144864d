// Package llm asks an OpenAI-compatible model for an advisory essay grade.
// Suggestions are shown to the grader and never saved on their own.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bosla-edu/desk/internal/llm/prompts"
)

// ErrNoAnswer is returned when there is nothing to grade.
var ErrNoAnswer = errors.New("answer has no text to grade")

// EssayInput is one essay answer with its question.
type EssayInput struct {
	Question    string
	ModelAnswer string
	Answer      string
	MaxScore    float64
	Lang        string
}

// GradeResult holds the model's suggestion for a single answer.
type GradeResult struct {
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client. An unknown variant falls back to standard.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if !prompts.IsValidVariant(string(variant)) {
		variant = prompts.PromptStandard
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}
}

// SuggestGrade asks the model to grade an essay answer. The score is clamped
// to [0, MaxScore].
func (c *Client) SuggestGrade(ctx context.Context, in EssayInput) (*GradeResult, error) {
	if prompts.SanitizeAnswer(in.Answer) == "[No answer provided]" {
		return nil, ErrNoAnswer
	}
	system, err := prompts.BuildGradePrompt(c.variant, in.Question, in.ModelAnswer, in.Answer, in.MaxScore, in.Lang)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices for grading")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	var result GradeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}
	result.MaxScore = in.MaxScore
	result.Score = clampScore(result.Score, in.MaxScore)
	return &result, nil
}

func clampScore(v, max float64) float64 {
	if math.IsNaN(v) || v < 0 || max <= 0 {
		return 0
	}
	return math.Min(v, max)
}
