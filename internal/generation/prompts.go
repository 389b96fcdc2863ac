package generation

import (
	"fmt"

	"github.com/kalambet/keepsake/internal/storage"
)

// Completion token budgets per step.
const (
	MomentTextTokens  = 1000
	MomentTitleTokens = 500
	NarrativeTokens   = 2000
	StoryTitleTokens  = 100
	QuickTitleTokens  = 50

	// titleInputRunes caps how much source text a title prompt sees.
	titleInputRunes = 1000
)

// MomentTextPrompt rewrites dictated text into readable prose.
func MomentTextPrompt(input string) Prompt {
	return Prompt{
		Event:     "text_processing",
		System:    "You are a helpful assistant that processes transcribed text into clean, readable format while preserving all information.",
		MaxTokens: MomentTextTokens,
		User: `Transform this transcribed text into clean, readable text optimized for human reading. The text comes from voice dictation and may contain run-on sentences, incomplete thoughts, and filler words. Your task is to:

- Break up run-on sentences into proper sentence structure
- Ensure sentences are complete and grammatically coherent
- Remove filler words that don't convey meaningful information (e.g., "um", "uh", "like", "you know", "I mean")
- Preserve all information and meaning from the original
- Maintain the natural flow and voice of the speaker
- Do not add information that wasn't in the original
- Keep the tone and style consistent

The output should be readable and well-structured, but doesn't need to be perfectly grammatically correct. Focus on readability and information preservation.

Original text: ` + input + `

Return only the cleaned text, nothing else.`,
	}
}

// MomentTitlePrompt titles a moment from its processed text.
func MomentTitlePrompt(text string) Prompt {
	return Prompt{
		Event:     "title_generation",
		System:    "You are a helpful assistant that generates concise, engaging titles for personal memories.",
		MaxTokens: MomentTitleTokens,
		User: fmt.Sprintf(`Generate a concise, engaging title (maximum %d characters) for a brief moment or memory based on this cleaned text. The title should be descriptive but brief, capturing the essence of what happened. Return only the title text, nothing else.

Text: %s`, MaxTitleLength, Head(text, titleInputRunes)),
	}
}

// NarrativePrompt turns a story transcript into a narrative.
func NarrativePrompt(input string) Prompt {
	return Prompt{
		Event:     "narrative_generation",
		System:    "You are a helpful assistant that transforms transcripts into polished, engaging narrative stories while preserving the speaker's voice and meaning.",
		MaxTokens: NarrativeTokens,
		User: `Transform this transcript into a polished, engaging narrative story. The transcript comes from voice dictation and may contain filler words and incomplete thoughts. The narrative should:
- Be written in first or third person as appropriate
- Flow naturally with proper paragraphs
- Remove filler words that don't convey meaningful information (e.g., "um", "uh", "like", "you know", "I mean")
- Capture the emotion and context of the memory
- Be engaging and readable
- Preserve the key details and meaning

Transcript: ` + input + `

Return only the narrative text, nothing else.`,
	}
}

// StoryTitlePrompt titles a story from its narrative or raw transcript.
func StoryTitlePrompt(text string) Prompt {
	return Prompt{
		Event:     "story_title_generation",
		System:    "You are a helpful assistant that generates concise, engaging titles for narrative stories.",
		MaxTokens: StoryTitleTokens,
		User: fmt.Sprintf(`Generate a concise, engaging title (maximum %d characters) for this story narrative. The title should capture the essence and emotion of the story. Return only the title text, nothing else.

Narrative: %s`, MaxTitleLength, Head(text, titleInputRunes)),
	}
}

// QuickTitlePrompt titles a raw transcript of any memory type.
func QuickTitlePrompt(transcript string, t storage.MemoryType) Prompt {
	return Prompt{
		Event:     "quick_title_generation",
		System:    "You are a helpful assistant that generates concise, engaging titles for personal memories.",
		MaxTokens: QuickTitleTokens,
		User: fmt.Sprintf(`Generate a concise, engaging title (maximum %d characters) for %s based on this transcript. The title should be descriptive but brief, capturing the essence of what happened. Return only the title text, nothing else.

Transcript: %s`, MaxTitleLength, typeContext(t), Head(transcript, titleInputRunes)),
	}
}

func typeContext(t storage.MemoryType) string {
	switch t {
	case storage.MemoryMoment:
		return "a brief moment or memory"
	case storage.MemoryStory:
		return "a longer narrative story"
	case storage.MemoryMemento:
		return "a special memento or keepsake"
	}
	return "a memory"
}
