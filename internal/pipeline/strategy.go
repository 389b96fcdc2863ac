package pipeline

import "fmt"

// StoryStrategy selects how a story's narrative and title are produced.
type StoryStrategy int

const (
	// SequentialNarrativeFirst generates the narrative, then titles it. A
	// missing narrative fails the run; a missing title falls back.
	SequentialNarrativeFirst StoryStrategy = iota
	// ParallelNarrativeAndTitle generates both from the raw input at once.
	// Either one missing fails the run.
	ParallelNarrativeAndTitle
)

func (s StoryStrategy) String() string {
	switch s {
	case SequentialNarrativeFirst:
		return "sequential"
	case ParallelNarrativeAndTitle:
		return "parallel"
	}
	return fmt.Sprintf("StoryStrategy(%d)", int(s))
}

// ParseStoryStrategy parses the config value "sequential" or "parallel".
// Empty selects SequentialNarrativeFirst.
func ParseStoryStrategy(v string) (StoryStrategy, error) {
	switch v {
	case "", "sequential":
		return SequentialNarrativeFirst, nil
	case "parallel":
		return ParallelNarrativeAndTitle, nil
	}
	return 0, fmt.Errorf("unknown story strategy %q (want sequential or parallel)", v)
}
