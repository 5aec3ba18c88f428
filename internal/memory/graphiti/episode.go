package graphiti

import (
	"fmt"
	"time"

	"github.com/steveyegge/watercooler/internal/types"
)

// Episode is the engine's ingestion unit: one entry, framed as something
// that happened at a point in time within a group (the thread).
type Episode struct {
	Name              string
	EpisodeBody       string
	SourceDescription string
	ReferenceTime     time.Time
	GroupID           string
}

// EpisodesFromEntries maps entries to episodes in entry order. The body
// prefers the summary so extraction works on condensed text; entries with
// neither summary nor body are dropped. A zero timestamp falls back to the
// current time because the engine requires a reference time on every
// episode.
func EpisodesFromEntries(entries []*types.Entry) []Episode {
	now := time.Now().UTC()
	episodes := make([]Episode, 0, len(entries))
	for _, e := range entries {
		body := e.Summary
		if body == "" {
			body = e.Body
		}
		if body == "" {
			continue
		}
		ref := e.Timestamp
		if ref.IsZero() {
			ref = now
		}
		episodes = append(episodes, Episode{
			Name:              e.EntryID,
			EpisodeBody:       body,
			SourceDescription: sourceDescription(e),
			ReferenceTime:     ref,
			GroupID:           e.ThreadID,
		})
	}
	return episodes
}

func sourceDescription(e *types.Entry) string {
	desc := fmt.Sprintf("%s entry by %s", e.EntryType, e.Agent)
	if e.Role != "" {
		desc = fmt.Sprintf("%s (%s)", desc, e.Role)
	}
	if e.Title != "" {
		desc = fmt.Sprintf("%s: %s", desc, e.Title)
	}
	return desc
}
