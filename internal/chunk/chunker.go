// Package chunk splits entry bodies into token-bounded overlapping chunks,
// preferring paragraph and sentence boundaries over hard cuts.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/steveyegge/watercooler/internal/types"
)

// Default chunker settings. The token estimate is len(text)/4, the standard
// approximation for BPE-tokenized English; exactness only affects where
// boundaries land, not correctness.
const (
	DefaultMaxTokens = 512
	DefaultOverlap   = 64

	// PresetWatercooler prepends a synthetic provenance header chunk per
	// entry so retrieval can key on agent/role/type without the caller
	// embedding metadata into every text chunk.
	PresetWatercooler = "watercooler"
)

var (
	sentenceBoundary = regexp.MustCompile(`([.!?])\s+`)
	paragraphBreak   = regexp.MustCompile(`\n\s*\n`)
)

// Config controls chunk boundaries. The zero value is not valid; use
// DefaultConfig.
type Config struct {
	MaxTokens int
	Overlap   int
	Preset    string
}

// DefaultConfig returns the standard chunker configuration.
func DefaultConfig() Config {
	return Config{MaxTokens: DefaultMaxTokens, Overlap: DefaultOverlap}
}

// WatercoolerConfig returns the provenance-header preset.
func WatercoolerConfig() Config {
	cfg := DefaultConfig()
	cfg.Preset = PresetWatercooler
	return cfg
}

// Info describes this configuration for payload manifests.
func (c Config) Info() *types.ChunkerInfo {
	return &types.ChunkerInfo{MaxTokens: c.MaxTokens, Overlap: c.Overlap, Preset: c.Preset}
}

// CountTokens estimates the BPE token count of text as len(text)/4.
func CountTokens(text string) int {
	return len(text) / 4
}

// ChunkID derives the stable content hash for a chunk:
// sha256(entry_id || index || text) truncated to 16 hex chars.
func ChunkID(entryID string, index int, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s%d%s", entryID, index, text)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ChunkEntry splits one entry's body into chunks and returns them along with
// the CONTAINS edges from the entry. Output is deterministic for a given
// (entry, config) pair.
func ChunkEntry(cfg Config, e *types.Entry) ([]*types.Chunk, []types.Edge) {
	var texts []string

	if cfg.Preset == PresetWatercooler {
		texts = append(texts, provenanceHeader(e))
	}
	texts = append(texts, splitText(cfg, e.Body)...)

	chunks := make([]*types.Chunk, 0, len(texts))
	edges := make([]types.Edge, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		idx := len(chunks)
		c := &types.Chunk{
			ChunkID:    ChunkID(e.EntryID, idx, text),
			EntryID:    e.EntryID,
			ThreadID:   e.ThreadID,
			Index:      idx,
			Text:       text,
			TokenCount: CountTokens(text),
		}
		if !e.Timestamp.IsZero() {
			ts := e.Timestamp
			c.EventTime = &ts
		}
		chunks = append(chunks, c)
		edges = append(edges, types.Edge{Kind: types.EdgeContains, Source: e.EntryID, Target: c.ChunkID})
	}
	return chunks, edges
}

// provenanceHeader renders entry metadata as newline-separated key: value
// lines for the watercooler preset's header chunk.
func provenanceHeader(e *types.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent: %s\n", e.Agent)
	fmt.Fprintf(&b, "role: %s\n", e.Role)
	fmt.Fprintf(&b, "type: %s\n", e.EntryType)
	fmt.Fprintf(&b, "title: %s\n", e.Title)
	fmt.Fprintf(&b, "timestamp: %s", e.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"))
	return b.String()
}

// splitText produces the chunk texts for a body.
func splitText(cfg Config, body string) []string {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if CountTokens(body) <= cfg.MaxTokens {
		return []string{body}
	}

	paragraphs := splitParagraphs(body)
	return accumulate(cfg, paragraphs, "\n\n", func(p string) []string {
		// Oversized paragraph: fall back to sentence boundaries.
		return splitSentences(p)
	})
}

// accumulate packs units into chunks not exceeding MaxTokens, seeding each
// new chunk with trailing units whose combined token count stays within
// Overlap. Units that alone exceed MaxTokens are re-split via overflow and
// packed at the finer granularity.
func accumulate(cfg Config, units []string, sep string, overflow func(string) []string) []string {
	var out []string
	var buf []string
	bufTokens := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, strings.Join(buf, sep))
		// Seed the next buffer with overlap from the tail.
		var seed []string
		seedTokens := 0
		for i := len(buf) - 1; i >= 0; i-- {
			t := CountTokens(buf[i])
			if seedTokens+t > cfg.Overlap {
				break
			}
			seed = append([]string{buf[i]}, seed...)
			seedTokens += t
		}
		buf = seed
		bufTokens = seedTokens
	}

	for _, unit := range units {
		t := CountTokens(unit)
		if t > cfg.MaxTokens && overflow != nil {
			// Flush what we have, then pack the oversized unit's pieces
			// with sentence-level overlap.
			if len(buf) > 0 {
				out = append(out, strings.Join(buf, sep))
				buf = nil
				bufTokens = 0
			}
			out = append(out, accumulate(cfg, overflow(unit), " ", nil)...)
			continue
		}
		if bufTokens+t > cfg.MaxTokens && len(buf) > 0 {
			flush()
			// Overlap seed plus this unit may still overflow; drop the seed
			// rather than exceed the budget.
			if bufTokens+t > cfg.MaxTokens {
				buf = nil
				bufTokens = 0
			}
		}
		buf = append(buf, unit)
		bufTokens += t
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, sep))
	}
	return out
}

// splitParagraphs splits on blank lines, preserving inner line breaks.
func splitParagraphs(text string) []string {
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences splits a paragraph at sentence terminators followed by
// whitespace. The terminator stays attached to its sentence.
func splitSentences(p string) []string {
	marked := sentenceBoundary.ReplaceAllString(p, "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
