// Package thread parses append-only markdown thread files into the node/edge
// model used by the graph builder.
//
// A thread file is an RFC-822-style header block (Title/Status/Ball/Updated)
// terminated by a blank line, followed by entries appended after "---"
// separators. Each entry begins with "Entry: <agent> <timestamp>" and may
// carry Role:, Type:, and Title: lines plus an idempotency marker of the form
// <!-- Entry-ID: ... -->. The legacy format uses "- Updated: <ts> by <agent>"
// in place of the Entry: line.
package thread

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/watercooler/internal/debug"
	"github.com/steveyegge/watercooler/internal/types"
)

// ParseResult bundles everything extracted from one thread file.
type ParseResult struct {
	Thread     *types.Thread
	Entries    []*types.Entry
	Edges      []types.Edge
	Hyperedges []types.Hyperedge
}

var (
	entryIDMarker = regexp.MustCompile(`<!--\s*Entry-ID:\s*(\S+)\s*-->`)
	entryLine     = regexp.MustCompile(`^Entry:\s+(\S+)\s+(.+)$`)
	legacyLine    = regexp.MustCompile(`^-\s*Updated:\s+(.+?)\s+by\s+(\S+)\s*$`)
	headerLine    = regexp.MustCompile(`^([A-Za-z][A-Za-z-]*):\s*(.*)$`)
)

// timestampLayouts are tried in order when parsing entry and header times.
// RFC-3339 UTC is canonical; the others tolerate hand-edited files.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseThread converts one markdown thread file into a Thread plus its
// ordered entries and derived edges. Malformed input never fails the parse:
// an empty or headerless file yields a thread with defaulted metadata and no
// entries, and a single bad entry is skipped with a warning.
func ParseThread(path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thread file: %w", err)
	}

	topic := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	th := &types.Thread{
		ThreadID: topic,
		Title:    topic,
		Status:   types.StatusOpen,
	}

	lines := strings.Split(string(data), "\n")
	rest := parseHeader(th, lines)
	if th.Title == topic && th.Status == types.StatusOpen && len(rest) == len(lines) {
		debug.Logf("thread %s: no header block, using defaults\n", topic)
	}

	entries := parseEntries(topic, rest)

	// Second pass: contiguous indexes and the preceding/following chain.
	for i, e := range entries {
		e.Index = i
		e.SequenceIndex = i
		if i > 0 {
			e.PrecedingEntryID = entries[i-1].EntryID
			entries[i-1].FollowingEntryID = e.EntryID
		}
		th.EntryIDs = append(th.EntryIDs, e.EntryID)
	}

	if len(entries) > 0 {
		if th.CreatedAt.IsZero() {
			th.CreatedAt = entries[0].Timestamp
		}
		if th.UpdatedAt.IsZero() {
			th.UpdatedAt = entries[len(entries)-1].Timestamp
		}
	}

	res := &ParseResult{Thread: th, Entries: entries}
	for i, e := range entries {
		res.Edges = append(res.Edges, types.Edge{Kind: types.EdgeContains, Source: th.ThreadID, Target: e.EntryID})
		if i+1 < len(entries) {
			res.Edges = append(res.Edges, types.Edge{Kind: types.EdgeFollows, Source: e.EntryID, Target: entries[i+1].EntryID})
		}
	}
	if len(entries) > 0 {
		res.Hyperedges = append(res.Hyperedges, types.Hyperedge{
			Kind:    types.EdgeContains,
			Source:  th.ThreadID,
			Targets: append([]string(nil), th.EntryIDs...),
		})
	}

	return res, nil
}

// parseHeader consumes the leading key/value block and returns the remaining
// lines. The block ends at the first blank line or the first line that is not
// a "Key: value" pair.
func parseHeader(th *types.Thread, lines []string) []string {
	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			i++
			break
		}
		m := headerLine.FindStringSubmatch(line)
		if m == nil {
			break
		}
		key, value := m[1], strings.TrimSpace(m[2])
		switch strings.ToLower(key) {
		case "title":
			if value != "" {
				th.Title = value
			}
		case "status":
			if value != "" {
				th.Status = types.NormalizeStatus(value)
			}
		case "ball":
			th.Ball = value
		case "updated":
			if ts, ok := parseTimestamp(value); ok {
				th.UpdatedAt = ts
			}
		case "branch":
			th.BranchContext = value
		default:
			// Unknown header keys are preserved nowhere; tolerated silently.
		}
	}
	return lines[i:]
}

// rawEntry is one "---"-delimited section before validation.
type rawEntry struct {
	lines []string
}

// parseEntries splits the body into separator-delimited sections and converts
// each section carrying an entry marker into an Entry. Sections without a
// marker (e.g. the thread preamble) are ignored; sections whose marker cannot
// be parsed are skipped with a warning.
func parseEntries(topic string, lines []string) []*types.Entry {
	var sections []rawEntry
	current := rawEntry{}
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "---" {
			sections = append(sections, current)
			current = rawEntry{}
			continue
		}
		current.lines = append(current.lines, line)
	}
	sections = append(sections, current)

	var entries []*types.Entry
	for _, sec := range sections {
		e, ok := parseEntrySection(topic, sec.lines)
		if !ok {
			continue
		}
		if e == nil {
			continue
		}
		entries = append(entries, e)
	}

	// Assign synthesized IDs after ordering is known.
	for i, e := range entries {
		if e.EntryID == "" {
			e.EntryID = fmt.Sprintf("%s:%d", topic, i)
		}
	}
	return entries
}

// parseEntrySection returns (nil, true) for sections that carry no entry
// marker and (nil, false) for sections whose marker is malformed.
func parseEntrySection(topic string, lines []string) (*types.Entry, bool) {
	e := &types.Entry{ThreadID: topic}
	sawMarker := false
	bodyStart := len(lines)

scan:
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			if sawMarker {
				bodyStart = i + 1
				break scan
			}
		case entryIDMarker.MatchString(trimmed):
			e.EntryID = entryIDMarker.FindStringSubmatch(trimmed)[1]
		case entryLine.MatchString(trimmed):
			m := entryLine.FindStringSubmatch(trimmed)
			e.Agent = m[1]
			ts, ok := parseTimestamp(strings.TrimSpace(m[2]))
			if !ok {
				debug.Warnf("thread %s: unparsable entry timestamp %q, skipping entry\n", topic, m[2])
				return nil, false
			}
			e.Timestamp = ts
			sawMarker = true
		case legacyLine.MatchString(trimmed):
			m := legacyLine.FindStringSubmatch(trimmed)
			ts, ok := parseTimestamp(strings.TrimSpace(m[1]))
			if !ok {
				debug.Warnf("thread %s: unparsable legacy timestamp %q, skipping entry\n", topic, m[1])
				return nil, false
			}
			e.Timestamp = ts
			e.Agent = m[2]
			sawMarker = true
		case sawMarker && strings.HasPrefix(trimmed, "Role:"):
			e.Role = types.Role(strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "Role:"))))
		case sawMarker && strings.HasPrefix(trimmed, "Type:"):
			e.EntryType = types.EntryType(strings.TrimSpace(strings.TrimPrefix(trimmed, "Type:")))
		case sawMarker && strings.HasPrefix(trimmed, "Title:"):
			e.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, "Title:"))
		default:
			if sawMarker {
				// Marker block ended without a blank line; body starts here.
				bodyStart = i
				break scan
			}
			// Pre-marker content (thread preamble); keep scanning for a marker.
		}
	}

	if !sawMarker {
		return nil, true
	}

	body := strings.Join(lines[bodyStart:], "\n")
	e.Body = strings.Trim(body, "\n")
	return e, true
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseThreads walks dir for *.md thread files and parses each one. Files
// whose names start with "_" and index.md are skipped, as are files that fail
// to read; the walk always returns the successfully parsed threads. The
// optional filter receives the topic (filename stem) and can exclude files
// before they are read.
func ParseThreads(dir string, filter func(topic string) bool) ([]*ParseResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read threads dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		if strings.HasPrefix(name, "_") || name == "index.md" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var results []*ParseResult
	for _, name := range names {
		topic := strings.TrimSuffix(name, ".md")
		if filter != nil && !filter(topic) {
			continue
		}
		res, err := ParseThread(filepath.Join(dir, name))
		if err != nil {
			debug.Warnf("skipping thread %s: %v\n", name, err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}
