package privacy

import (
	"go.uber.org/zap"
)

// Stage names a substitution step of the pipeline
type Stage string

const (
	StageAnonymize Stage = "anonymize"
	StageRestore   Stage = "restore"
	StageMemory    Stage = "memory"
	StageExpand    Stage = "expand"
	StageProtected Stage = "protected"
	StageUnwrap    Stage = "unwrap"
)

// Observer receives the outcome of every substitution pass.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveSubstitution(stage Stage, result Result)
}

// Engine applies and reverses anonymization codes over free text.
// It holds no per-call state and is safe for concurrent use.
type Engine struct {
	logger   *zap.Logger
	observer Observer
}

// NewEngine creates a substitution engine. A nil logger disables logging and
// a nil observer disables reporting.
func NewEngine(logger *zap.Logger, observer Observer) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger, observer: observer}
}

// ApplyCodes replaces every original value in text with its code
func (e *Engine) ApplyCodes(text string, entries []Entry) string {
	return e.Anonymize(text, entries).Text
}

// RestoreCodes replaces every code in text with its original value
func (e *Engine) RestoreCodes(text string, entries []Entry) string {
	return e.Restore(text, entries).Text
}

// Anonymize is ApplyCodes with per-entry findings
func (e *Engine) Anonymize(text string, entries []Entry) Result {
	if text == "" || len(entries) == 0 {
		e.logger.Debug("Anonymization skipped",
			zap.Bool("empty_text", text == ""),
			zap.Int("entries", len(entries)),
		)
		return Result{Text: text}
	}

	pairs := make([]Pair, len(entries))
	for i, entry := range entries {
		pairs[i] = Pair{From: entry.OriginalValue, To: entry.AnonymizedCode}
	}

	result := ReplaceWords(text, pairs)
	e.report(StageAnonymize, result)
	return result
}

// Restore is RestoreCodes with per-entry findings
func (e *Engine) Restore(text string, entries []Entry) Result {
	if text == "" || len(entries) == 0 {
		e.logger.Debug("Restore skipped",
			zap.Bool("empty_text", text == ""),
			zap.Int("entries", len(entries)),
		)
		return Result{Text: text}
	}

	pairs := make([]Pair, len(entries))
	for i, entry := range entries {
		pairs[i] = Pair{From: entry.AnonymizedCode, To: entry.OriginalValue}
	}

	result := ReplaceLiterals(text, pairs)
	e.report(StageRestore, result)
	return result
}

// Unwrap removes stray braces around anonymization codes before restoring
// and returns the number of codes unwrapped
func (e *Engine) Unwrap(text string) (string, int) {
	unwrapped, count := NormalizeCodeWrapping(text)
	if count > 0 {
		e.logger.Debug("Unwrapped anonymization codes", zap.Int("count", count))
	}
	if e.observer != nil && count > 0 {
		e.observer.ObserveSubstitution(StageUnwrap, Result{
			Text:     unwrapped,
			Findings: []Finding{{To: "unwrapped", Count: count}},
		})
	}
	return unwrapped, count
}

// Report logs and forwards the findings of a pass run outside the engine
func (e *Engine) Report(stage Stage, result Result) {
	e.report(stage, result)
}

func (e *Engine) report(stage Stage, result Result) {
	for _, f := range result.Findings {
		if f.Count == 0 {
			e.logger.Debug("No match for substitution",
				zap.String("stage", string(stage)),
				zap.String("code", codeOf(stage, f)),
			)
			continue
		}
		e.logger.Debug("Substitution applied",
			zap.String("stage", string(stage)),
			zap.String("code", codeOf(stage, f)),
			zap.Int("count", f.Count),
		)
	}

	if e.observer != nil {
		e.observer.ObserveSubstitution(stage, result)
	}
}

// codeOf picks the side of a finding that is safe to log
func codeOf(stage Stage, f Finding) string {
	if stage == StageRestore || stage == StageExpand || stage == StageProtected {
		return f.From
	}
	return f.To
}
