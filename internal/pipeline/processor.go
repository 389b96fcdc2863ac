package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/keepsake/internal/generation"
	"github.com/kalambet/keepsake/internal/storage"
)

// RecordStore is the persistence the pipeline needs.
type RecordStore interface {
	GetMemoryForOwner(ctx context.Context, id, userID string) (storage.Memory, error)
	UpdateMemoryDerived(ctx context.Context, id, processedText, title string, generatedAt time.Time) error
	MarkProcessing(ctx context.Context, memoryID string, at time.Time, meta map[string]string) error
	MarkComplete(ctx context.Context, memoryID string, at time.Time, meta map[string]string) error
	MarkFailed(ctx context.Context, memoryID, errMsg string, at time.Time, meta map[string]string) (int, error)
}

// Generator produces text for a prompt, or reports that it could not.
type Generator interface {
	Generate(ctx context.Context, p generation.Prompt) (string, bool)
}

// Outcome distinguishes full success from degraded output.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomePartial  Outcome = "partial"
	OutcomeFallback Outcome = "fallback"
)

// Status metadata keys.
const (
	metaPhase                = "phase"
	metaStrategy             = "strategy"
	metaOutcome              = "outcome"
	metaNarrativeGeneratedAt = "narrative_generated_at"

	phaseValidating = "validating"
	phaseGenerating = "generating"
	phasePersisting = "persisting"
	phaseDone       = "done"
)

// Result is the outcome of a successful run.
type Result struct {
	Title         string
	ProcessedText string
	Status        Outcome
	GeneratedAt   time.Time

	// StatusWrites lists status updates that failed. They are logged and
	// never change the result.
	StatusWrites []StatusWrite
}

// StatusWrite is a best-effort status update that did not persist.
type StatusWrite struct {
	Op  string
	Err error
}

// Config configures a Processor.
type Config struct {
	Strategy StoryStrategy
}

// Processor runs the generation pipeline for memories.
type Processor struct {
	store    RecordStore
	gen      Generator
	strategy StoryStrategy
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(store RecordStore, gen Generator, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    store,
		gen:      gen,
		strategy: cfg.Strategy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Strategy returns the story strategy in use.
func (p *Processor) Strategy() StoryStrategy { return p.strategy }

// Process loads the memory and runs the pipeline for its type.
func (p *Processor) Process(ctx context.Context, owner, memoryID string) (Result, error) {
	mem, err := p.load(ctx, owner, memoryID)
	if err != nil {
		return Result{}, err
	}
	switch mem.Type {
	case storage.MemoryMoment:
		return p.processMoment(ctx, mem)
	case storage.MemoryStory:
		return p.processStory(ctx, mem)
	}
	return Result{}, newError(CodeInvalidRequest, "Memories of type "+string(mem.Type)+" are not processed", nil)
}

// ProcessMoment runs the moment pipeline: clean the text, then title it.
// Both steps fall back rather than fail.
func (p *Processor) ProcessMoment(ctx context.Context, owner, memoryID string) (Result, error) {
	mem, err := p.load(ctx, owner, memoryID)
	if err != nil {
		return Result{}, err
	}
	if mem.Type != storage.MemoryMoment {
		return Result{}, newError(CodeInvalidRequest, "This function only processes moments", nil)
	}
	return p.processMoment(ctx, mem)
}

// ProcessStory runs the story pipeline with the configured strategy.
func (p *Processor) ProcessStory(ctx context.Context, owner, memoryID string) (Result, error) {
	mem, err := p.load(ctx, owner, memoryID)
	if err != nil {
		return Result{}, err
	}
	if mem.Type != storage.MemoryStory {
		return Result{}, newError(CodeInvalidRequest, "This function only processes stories", nil)
	}
	return p.processStory(ctx, mem)
}

func (p *Processor) load(ctx context.Context, owner, memoryID string) (storage.Memory, error) {
	mem, err := p.store.GetMemoryForOwner(ctx, memoryID, owner)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Memory{}, newError(CodeNotFound, "Memory not found or access denied", err)
	}
	if err != nil {
		return storage.Memory{}, newError(CodeInternal, "Failed to load memory", err)
	}
	return mem, nil
}

func (p *Processor) processMoment(ctx context.Context, mem storage.Memory) (Result, error) {
	var res Result
	input := strings.TrimSpace(mem.InputText)
	if input == "" {
		const msg = "Memory has no input_text to process"
		p.markFailed(ctx, &res, mem.ID, msg, map[string]string{metaPhase: phaseValidating})
		return Result{}, newError(CodeInvalidRequest, msg, nil)
	}

	start := time.Now()
	p.markProcessing(ctx, &res, mem.ID, map[string]string{metaPhase: phaseGenerating})

	processed, textOK := p.gen.Generate(ctx, generation.MomentTextPrompt(input))
	if !textOK {
		processed = input
	}
	title, titleOK := p.title(ctx, generation.MomentTitlePrompt(processed))
	if !titleOK {
		title = generation.FallbackTitle(storage.MemoryMoment)
	}

	switch {
	case textOK && titleOK:
		res.Status = OutcomeSuccess
	case textOK:
		res.Status = OutcomePartial
	default:
		res.Status = OutcomeFallback
	}

	at := p.now()
	if err := p.store.UpdateMemoryDerived(ctx, mem.ID, processed, title, at); err != nil {
		const msg = "Failed to update memory"
		p.logger.Error("updating memory", "memory_id", mem.ID, "error", err)
		p.markFailed(ctx, &res, mem.ID, msg, map[string]string{metaPhase: phasePersisting})
		return Result{}, newError(CodeInternal, msg, err)
	}
	p.markComplete(ctx, &res, mem.ID, map[string]string{metaPhase: phaseDone, metaOutcome: string(res.Status)})

	res.Title = title
	res.ProcessedText = processed
	res.GeneratedAt = at
	p.logger.Info("moment processed",
		"event", "moment_processing",
		"user_id", mem.UserID,
		"memory_id", mem.ID,
		"status", res.Status,
		"title_length", utf8.RuneCountInString(title),
		"processed_text_length", utf8.RuneCountInString(processed),
		"input_text_length", utf8.RuneCountInString(input),
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", uuid.NewString(),
	)
	return res, nil
}

func (p *Processor) processStory(ctx context.Context, mem storage.Memory) (Result, error) {
	var res Result
	input := strings.TrimSpace(mem.InputText)
	if msg, ok := validateStory(input); !ok {
		p.markFailed(ctx, &res, mem.ID, msg, map[string]string{metaPhase: phaseValidating})
		return Result{}, newError(CodeInvalidRequest, msg, nil)
	}

	start := time.Now()
	strategy := p.strategy.String()
	p.markProcessing(ctx, &res, mem.ID, map[string]string{metaPhase: phaseGenerating, metaStrategy: strategy})

	var (
		narrative, title string
		narrativeAt      time.Time
		failMsg          string
	)
	switch p.strategy {
	case ParallelNarrativeAndTitle:
		var narrativeOK, titleOK bool
		var g errgroup.Group
		g.Go(func() error {
			narrative, narrativeOK = p.gen.Generate(ctx, generation.NarrativePrompt(input))
			return nil
		})
		g.Go(func() error {
			title, titleOK = p.title(ctx, generation.StoryTitlePrompt(input))
			return nil
		})
		_ = g.Wait()
		narrativeAt = p.now()
		if !narrativeOK || !titleOK {
			failMsg = "Failed to process story"
		}
		res.Status = OutcomeSuccess
	default:
		var ok bool
		narrative, ok = p.gen.Generate(ctx, generation.NarrativePrompt(input))
		if !ok {
			failMsg = "Failed to generate narrative"
			break
		}
		narrativeAt = p.now()
		title, ok = p.title(ctx, generation.StoryTitlePrompt(narrative))
		res.Status = OutcomeSuccess
		if !ok {
			title = generation.FallbackTitle(storage.MemoryStory)
			res.Status = OutcomeFallback
		}
	}
	if failMsg != "" {
		return Result{}, p.failStory(ctx, &res, mem, failMsg, phaseGenerating, start, nil)
	}

	at := p.now()
	if err := p.store.UpdateMemoryDerived(ctx, mem.ID, narrative, title, at); err != nil {
		return Result{}, p.failStory(ctx, &res, mem, "Failed to process story", phasePersisting, start, err)
	}
	p.markComplete(ctx, &res, mem.ID, map[string]string{
		metaPhase:                phaseDone,
		metaOutcome:              string(res.Status),
		metaNarrativeGeneratedAt: narrativeAt.Format(time.RFC3339Nano),
	})

	res.Title = title
	res.ProcessedText = narrative
	res.GeneratedAt = at
	p.logger.Info("story processed",
		"event", "story_processing",
		"user_id", mem.UserID,
		"memory_id", mem.ID,
		"strategy", strategy,
		"status", res.Status,
		"title_length", utf8.RuneCountInString(title),
		"narrative_length", utf8.RuneCountInString(narrative),
		"input_text_length", utf8.RuneCountInString(input),
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", uuid.NewString(),
	)
	return res, nil
}

func (p *Processor) failStory(ctx context.Context, res *Result, mem storage.Memory, msg, phase string, start time.Time, cause error) error {
	attempts := p.markFailed(ctx, res, mem.ID, msg, map[string]string{metaPhase: phase})
	attrs := []any{
		"event", "story_processing_failed",
		"user_id", mem.UserID,
		"memory_id", mem.ID,
		"strategy", p.strategy.String(),
		"reason", msg,
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", uuid.NewString(),
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	p.logger.Error("story processing failed", attrs...)
	return newError(CodeProcessingFailed, msg, cause)
}

// title generates and cleans a title; false means the caller must fall back.
func (p *Processor) title(ctx context.Context, prompt generation.Prompt) (string, bool) {
	raw, ok := p.gen.Generate(ctx, prompt)
	if !ok {
		return "", false
	}
	return generation.CleanTitle(raw)
}

// validateStory requires at least two non-whitespace characters.
func validateStory(input string) (string, bool) {
	if input == "" {
		return "Story has no input_text to process", false
	}
	n := 0
	for _, r := range input {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	if n < 2 {
		return "Story input_text is too short or contains no meaningful content", false
	}
	return "", true
}

func (p *Processor) markProcessing(ctx context.Context, res *Result, id string, meta map[string]string) {
	p.record(res, id, "mark_processing", p.store.MarkProcessing(ctx, id, p.now(), meta))
}

// Terminal status writes run detached from ctx so a cancelled caller cannot
// leave the status in processing.
func (p *Processor) markComplete(ctx context.Context, res *Result, id string, meta map[string]string) {
	p.record(res, id, "mark_complete", p.store.MarkComplete(context.WithoutCancel(ctx), id, p.now(), meta))
}

func (p *Processor) markFailed(ctx context.Context, res *Result, id, msg string, meta map[string]string) int {
	attempts, err := p.store.MarkFailed(context.WithoutCancel(ctx), id, msg, p.now(), meta)
	p.record(res, id, "mark_failed", err)
	return attempts
}

func (p *Processor) record(res *Result, id, op string, err error) {
	if err == nil {
		return
	}
	res.StatusWrites = append(res.StatusWrites, StatusWrite{Op: op, Err: err})
	p.logger.Warn("status write failed", "op", op, "memory_id", id, "error", err)
}
