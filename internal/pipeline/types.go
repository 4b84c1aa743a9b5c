package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
)

var (
	// ErrEmptyInput is returned when the request carries no text
	ErrEmptyInput = errors.New("input text is empty")
	// ErrMissingProject is returned when the request names no project
	ErrMissingProject = errors.New("project is required")
	// ErrGeneration wraps every failure of the generator call
	ErrGeneration = errors.New("generation failed")
)

// Source supplies the per-project substitution data
type Source interface {
	ListEntries(ctx context.Context, project string) ([]privacy.Entry, error)
	ListMemory(ctx context.Context, project string) ([]memory.Entry, error)
}

// GeneratorObserver is told about every generator call
type GeneratorObserver interface {
	ObserveGenerator(elapsed time.Duration, err error)
}

// Request is one document generation request
type Request struct {
	Project      string `json:"project"`
	DocumentType string `json:"document_type"`
	Input        string `json:"input"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
}

// Validate checks the fields every request needs
func (r Request) Validate() error {
	if r.Project == "" {
		return ErrMissingProject
	}
	if r.Input == "" {
		return ErrEmptyInput
	}
	return nil
}

// StageReport counts the outcome of one substitution stage
type StageReport struct {
	Stage    privacy.Stage `json:"stage"`
	Replaced int           `json:"replaced"`
	NoMatch  int           `json:"no_match"`
}

// Report summarizes a run without exposing any original value
type Report struct {
	Project         string        `json:"project"`
	DocumentType    string        `json:"document_type"`
	Entries         int           `json:"entries"`
	MemoryEntries   int           `json:"memory_entries"`
	ProtectedBlocks int           `json:"protected_blocks"`
	Stages          []StageReport `json:"stages"`
	Generated       bool          `json:"generated"`
	Duration        time.Duration `json:"duration"`
}

func (r *Report) add(stage privacy.Stage, result privacy.Result) {
	r.Stages = append(r.Stages, StageReport{
		Stage:    stage,
		Replaced: result.Replaced(),
		NoMatch:  result.Misses(),
	})
}

// Response is the restored generator output
type Response struct {
	Content        string `json:"content"`
	OneNoteVersion string `json:"onenote_version"`
	WordVersion    string `json:"word_version"`
	Report         Report `json:"report"`
}

// Preview is the outbound prompt exactly as the generator would receive it
type Preview struct {
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
	Report       Report `json:"report"`
}
