package pipeline

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/keepsake/internal/generation"
	"github.com/kalambet/keepsake/internal/storage"
)

// TitleResult is the outcome of a standalone title request.
type TitleResult struct {
	Title       string
	Status      Outcome // success or fallback
	GeneratedAt time.Time
}

// GenerateTitle titles a raw transcript without touching any stored memory.
func (p *Processor) GenerateTitle(ctx context.Context, transcript string, memoryType storage.MemoryType) (TitleResult, error) {
	if !memoryType.Valid() {
		return TitleResult{}, newError(CodeInvalidRequest, "memoryType must be one of: moment, story, memento", nil)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return TitleResult{}, newError(CodeInvalidRequest, "transcript cannot be empty", nil)
	}

	start := time.Now()
	res := TitleResult{Status: OutcomeSuccess}
	title, ok := p.title(ctx, generation.QuickTitlePrompt(transcript, memoryType))
	if !ok {
		title = generation.FallbackTitle(memoryType)
		res.Status = OutcomeFallback
	}
	res.Title = title
	res.GeneratedAt = p.now()

	p.logger.Info("title generated",
		"event", "title_generation",
		"memory_type", memoryType,
		"status", res.Status,
		"title_length", utf8.RuneCountInString(title),
		"transcript_length", utf8.RuneCountInString(transcript),
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", uuid.NewString(),
	)
	return res, nil
}
