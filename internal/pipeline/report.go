package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/watercooler/internal/llm"
)

// Report summarizes one run: per-stage outcomes and durations, LLM and
// embedding call stats, and accumulated warnings.
type Report struct {
	RunID    string        `json:"run_id"`
	Stages   []StageReport `json:"stages"`
	LLM      *llm.Snapshot `json:"llm,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Total    time.Duration `json:"total"`
}

// StageReport is one stage's line in the report.
type StageReport struct {
	Name           StageName     `json:"name"`
	Status         StageStatus   `json:"status"`
	Duration       time.Duration `json:"duration"`
	ProcessedItems int           `json:"processed_items"`
	Error          string        `json:"error,omitempty"`
}

// BuildReport assembles the report from the run's durable state and live
// counters.
func BuildReport(r *Run) *Report {
	rep := &Report{RunID: r.State.RunID, Warnings: r.Warnings()}
	for _, name := range StageOrder {
		ss := r.State.Stage(name)
		sr := StageReport{
			Name:           name,
			Status:         ss.Status,
			ProcessedItems: ss.ProcessedItems,
			Error:          ss.Error,
		}
		if ss.StartedAt != nil && ss.FinishedAt != nil {
			sr.Duration = ss.FinishedAt.Sub(*ss.StartedAt)
			rep.Total += sr.Duration
		}
		rep.Stages = append(rep.Stages, sr)
	}
	if r.Opts.LLMStats != nil {
		snap := r.Opts.LLMStats.Snapshot()
		rep.LLM = &snap
	}
	return rep
}

// Write renders the report as aligned text.
func (rep *Report) Write(w io.Writer) {
	fmt.Fprintf(w, "run %s\n", rep.RunID)
	for _, sr := range rep.Stages {
		line := fmt.Sprintf("  %-8s %-10s", sr.Name, sr.Status)
		if sr.Duration > 0 {
			line += fmt.Sprintf(" %10s", sr.Duration.Round(time.Millisecond))
		}
		if sr.ProcessedItems > 0 {
			line += fmt.Sprintf("  %d items", sr.ProcessedItems)
		}
		fmt.Fprintln(w, line)
		if sr.Error != "" {
			fmt.Fprintf(w, "           error: %s\n", sr.Error)
		}
	}
	fmt.Fprintf(w, "  total    %s\n", rep.Total.Round(time.Millisecond))

	if rep.LLM != nil && rep.LLM.Count > 0 {
		s := rep.LLM
		fmt.Fprintf(w, "calls: %d (%d failed), avg %s, min %s, max %s\n",
			s.Count, s.Failed,
			s.Avg.Round(time.Millisecond),
			s.Min.Round(time.Millisecond),
			s.Max.Round(time.Millisecond))
		slowest := append([]llm.SlowCall(nil), s.Slowest...)
		sort.Slice(slowest, func(i, j int) bool {
			return slowest[i].Duration > slowest[j].Duration
		})
		if len(slowest) > 0 {
			fmt.Fprintln(w, "slowest calls:")
			for _, c := range slowest {
				fmt.Fprintf(w, "  %10s  %s\n", c.Duration.Round(time.Millisecond), c.Label)
			}
		}
	}

	if len(rep.Warnings) > 0 {
		fmt.Fprintf(w, "warnings (%d):\n", len(rep.Warnings))
		for _, warn := range rep.Warnings {
			fmt.Fprintf(w, "  %s\n", strings.TrimSpace(warn))
		}
	}
}
