package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// MemoryType is the kind of captured memory.
type MemoryType string

const (
	MemoryMoment  MemoryType = "moment"
	MemoryStory   MemoryType = "story"
	MemoryMemento MemoryType = "memento"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryMoment, MemoryStory, MemoryMemento:
		return true
	}
	return false
}

type Memory struct {
	ID               string
	UserID           string
	Type             MemoryType
	InputText        string
	ProcessedText    *string
	Title            *string
	TitleGeneratedAt *time.Time
	CreatedAt        time.Time
}

// ProcessingState is the lifecycle of one pipeline run for a memory.
type ProcessingState string

const (
	StatePending    ProcessingState = "pending"
	StateProcessing ProcessingState = "processing"
	StateComplete   ProcessingState = "complete"
	StateFailed     ProcessingState = "failed"
)

// ProcessingStatus tracks pipeline runs for one memory. Type-specific details
// (story strategy, narrative timestamps, phase markers) live in Metadata.
type ProcessingStatus struct {
	MemoryID    string
	State       ProcessingState
	StartedAt   *time.Time
	CompletedAt *time.Time
	Attempts    int
	LastError   string
	LastErrorAt *time.Time
	Metadata    map[string]string
	UpdatedAt   time.Time
}

// CleanupStatus is the state of a media cleanup queue item.
type CleanupStatus string

const (
	CleanupPending    CleanupStatus = "pending"
	CleanupProcessing CleanupStatus = "processing"
	CleanupCompleted  CleanupStatus = "completed"
	CleanupFailed     CleanupStatus = "failed"
)

type CleanupItem struct {
	ID           string
	MediaURL     string
	BucketName   string
	FilePath     string
	MomentID     *string // back-reference only; the moment may already be gone
	Status       CleanupStatus
	RetryCount   int
	ErrorMessage *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}
