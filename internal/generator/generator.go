package generator

import (
	"context"
	"errors"
)

var (
	// ErrEmptyPrompt is returned when the system or user prompt is missing
	ErrEmptyPrompt = errors.New("missing prompts")
	// ErrEmptyResponse is returned when the service answers without text
	ErrEmptyResponse = errors.New("empty response from generator")
)

// Prompt is one generation request. User must already be scrubbed.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Validate checks that both prompts are present
func (p Prompt) Validate() error {
	if p.System == "" || p.User == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Generator produces a document from a scrubbed prompt
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Func adapts a function to the Generator interface
type Func func(ctx context.Context, prompt Prompt) (string, error)

// Generate calls f
func (f Func) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
