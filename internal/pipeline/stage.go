package pipeline

import (
	"context"
	"time"
)

// Stage timeouts follow the cost of the external tools: extraction and
// dedupe are LLM-bound, the graph build also clusters and embeds.
const (
	ExtractTimeout = 30 * time.Minute
	DedupeTimeout  = 30 * time.Minute
	BuildTimeout   = 2 * time.Hour
)

// Stage is one pipeline stage runner. ValidateInputs is pure: it reads
// state and configuration and returns the reasons the stage cannot run.
// Run writes artifacts into the run's work directory and returns an opaque
// outputs map recorded on the stage state.
type Stage interface {
	Name() StageName
	ValidateInputs(r *Run) []error
	Run(ctx context.Context, r *Run) (map[string]any, error)
}
