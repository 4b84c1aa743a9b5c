package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pmo-sentinel/internal/config"
	"github.com/raaihank/pmo-sentinel/internal/generator"
	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
	"github.com/raaihank/pmo-sentinel/internal/protected"
)

// Pipeline scrubs a document, sends it to the generator and restores the reply
type Pipeline struct {
	source    Source
	generator generator.Generator
	engine    *privacy.Engine
	quiet     *privacy.Engine
	options   config.PrivacyConfig
	logger    *zap.Logger
	observer  GeneratorObserver
}

// New creates a pipeline. engine carries the substitution logging and
// observer; observer may be nil.
func New(source Source, gen generator.Generator, engine *privacy.Engine, options config.PrivacyConfig, logger *zap.Logger, observer GeneratorObserver) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = privacy.NewEngine(logger, nil)
	}
	return &Pipeline{
		source:    source,
		generator: gen,
		engine:    engine,
		quiet:     privacy.NewEngine(nil, nil),
		options:   options,
		logger:    logger,
		observer:  observer,
	}
}

// outbound is everything prepared before the generator call
type outbound struct {
	prompt  generator.Prompt
	entries []privacy.Entry
	codeMap memory.CodeMap
	blocks  []protected.Block
	report  Report
	started time.Time
	docType string
}

// Run executes the full round trip for one request
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	out, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := p.generator.Generate(ctx, out.prompt)
	if p.observer != nil {
		p.observer.ObserveGenerator(time.Since(start), err)
	}
	if err != nil {
		p.logger.Warn("Generation failed",
			zap.String("project", req.Project),
			zap.String("document_type", out.docType),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	out.report.Generated = true

	content := raw
	if p.options.CleanOutput {
		content = generator.Clean(raw)
	}
	content = p.restore(p.engine, content, out, &out.report)

	resp := &Response{Content: content, OneNoteVersion: content, WordVersion: content}
	if versions, ok := generator.SplitVersions(raw); ok {
		resp.OneNoteVersion = p.restoreVersion(versions.OneNote, out)
		resp.WordVersion = p.restoreVersion(versions.Word, out)
	}

	out.report.Duration = time.Since(out.started)
	resp.Report = out.report

	p.logger.Info("Document generated",
		zap.String("project", req.Project),
		zap.String("document_type", out.docType),
		zap.Int("protected_blocks", out.report.ProtectedBlocks),
		zap.Int("output_chars", len(resp.Content)),
		zap.Duration("duration", out.report.Duration))

	return resp, nil
}

// Preview returns the scrubbed prompts without calling the generator
func (p *Pipeline) Preview(ctx context.Context, req Request) (*Preview, error) {
	out, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	out.report.Duration = time.Since(out.started)
	return &Preview{
		SystemPrompt: out.prompt.System,
		UserPrompt:   out.prompt.User,
		Report:       out.report,
	}, nil
}

func (p *Pipeline) prepare(ctx context.Context, req Request) (*outbound, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	docType, err := generator.LookupDocumentType(req.DocumentType)
	if err != nil {
		return nil, err
	}

	out := &outbound{
		started: time.Now(),
		docType: docType.ID,
		report:  Report{Project: req.Project, DocumentType: docType.ID},
	}

	if p.options.Anonymize {
		out.entries, err = p.source.ListEntries(ctx, req.Project)
		if err != nil {
			return nil, fmt.Errorf("load entries: %w", err)
		}
	}
	var memEntries []memory.Entry
	if p.options.ProjectMemory {
		memEntries, err = p.source.ListMemory(ctx, req.Project)
		if err != nil {
			return nil, fmt.Errorf("load memory: %w", err)
		}
	}
	out.report.Entries = len(out.entries)
	out.report.MemoryEntries = len(memEntries)

	extracted := protected.Extract(req.Input)
	out.blocks = extracted.Blocks
	out.report.ProtectedBlocks = len(extracted.Blocks)

	anonymized := p.engine.Anonymize(extracted.Text, out.entries)
	out.report.add(privacy.StageAnonymize, anonymized)
	text := anonymized.Text

	mapping := memory.Build(memEntries)
	out.codeMap = mapping.CodeMap
	named := memory.ApplyNames(text, mapping.CodeMap)
	p.engine.Report(privacy.StageMemory, named)
	out.report.add(privacy.StageMemory, named)
	text = named.Text

	system := req.SystemPrompt
	if system == "" {
		system = docType.SystemPrompt()
	}
	if mapping.Text != "" {
		// the legend names stakeholders, so it is scrubbed like the document
		system += p.quiet.ApplyCodes(mapping.Text, out.entries)
	}

	out.prompt = generator.Prompt{System: system, User: text, MaxTokens: req.MaxTokens}
	return out, nil
}

// restore reverses every outbound substitution in order: memory codes,
// stray code wrapping, anonymization codes, then protected blocks
func (p *Pipeline) restore(engine *privacy.Engine, text string, out *outbound, report *Report) string {
	if p.options.ExpandMemoryCodes {
		expanded := memory.ExpandCodes(text, out.codeMap)
		engine.Report(privacy.StageExpand, expanded)
		report.add(privacy.StageExpand, expanded)
		text = expanded.Text
	}

	if p.options.UnwrapCodes {
		var n int
		text, n = engine.Unwrap(text)
		report.Stages = append(report.Stages, StageReport{Stage: privacy.StageUnwrap, Replaced: n})
	}

	restored := engine.Restore(text, privacy.RestoreOrder(out.entries))
	report.add(privacy.StageRestore, restored)
	text = restored.Text

	if len(out.blocks) > 0 {
		findings := make([]privacy.Finding, len(out.blocks))
		for i, b := range out.blocks {
			findings[i] = privacy.Finding{From: b.Placeholder, To: b.ID, Count: strings.Count(text, b.Placeholder)}
		}
		merged := privacy.Result{Text: protected.Merge(text, out.blocks), Findings: findings}
		engine.Report(privacy.StageProtected, merged)
		report.add(privacy.StageProtected, merged)
		text = merged.Text
	}

	return text
}

func (p *Pipeline) restoreVersion(text string, out *outbound) string {
	if p.options.CleanOutput {
		text = generator.Clean(text)
	}
	return p.restore(p.quiet, text, out, &Report{})
}
