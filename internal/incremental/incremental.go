// Package incremental decides which thread topics need reprocessing between
// runs. Detection is file-level only: a topic changed when its mtime or
// entry count differs from the cached record. No content hashing, so an
// unchanged thread is skipped without a full reparse.
package incremental

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/watercooler/internal/utils"
)

// StateVersion permits future schema evolution of the state file.
const StateVersion = 1

const stateFile = "state.json"

// TopicRecord is the cached metadata for one thread file.
type TopicRecord struct {
	MTime      time.Time `json:"mtime"`
	EntryCount int       `json:"entry_count"`
}

// State is the persistent change-detection record, one per output
// directory.
type State struct {
	Version int                    `json:"version"`
	Topics  map[string]TopicRecord `json:"topics"`

	dir string
}

// Load reads state.json from dir, returning empty state when the file does
// not exist or does not parse. Corrupt state degrades to a full run rather
// than failing it.
func Load(dir string) *State {
	s := &State{Version: StateVersion, Topics: make(map[string]TopicRecord), dir: dir}
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		return s
	}
	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil || loaded.Version != StateVersion {
		return s
	}
	if loaded.Topics == nil {
		loaded.Topics = make(map[string]TopicRecord)
	}
	loaded.dir = dir
	return &loaded
}

// Save writes the state atomically.
func (s *State) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal incremental state: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return utils.WriteFileAtomic(filepath.Join(s.dir, stateFile), data, 0o600)
}

// Changes summarizes one detection pass.
type Changes struct {
	Changed []string // topics needing reprocessing, sorted
	Cached  []string // unchanged topics, sorted
	Deleted []string // topics in state but no longer on disk, sorted
}

// Detect scans threadsDir and classifies every topic. entryCounts gives the
// current entry count per topic for the files the caller parsed; topics
// absent from the map are compared on mtime alone.
func (s *State) Detect(threadsDir string, entryCounts map[string]int) (*Changes, error) {
	files, err := listThreadFiles(threadsDir)
	if err != nil {
		return nil, err
	}

	ch := &Changes{}
	present := make(map[string]bool, len(files))
	for topic, info := range files {
		present[topic] = true
		rec, ok := s.Topics[topic]
		if !ok {
			ch.Changed = append(ch.Changed, topic)
			continue
		}
		if !rec.MTime.Equal(info.ModTime()) {
			ch.Changed = append(ch.Changed, topic)
			continue
		}
		if count, have := entryCounts[topic]; have && count != rec.EntryCount {
			ch.Changed = append(ch.Changed, topic)
			continue
		}
		ch.Cached = append(ch.Cached, topic)
	}
	for topic := range s.Topics {
		if !present[topic] {
			ch.Deleted = append(ch.Deleted, topic)
		}
	}

	sort.Strings(ch.Changed)
	sort.Strings(ch.Cached)
	sort.Strings(ch.Deleted)
	return ch, nil
}

// Record updates the state for one processed topic.
func (s *State) Record(threadsDir, topic string, entryCount int) error {
	info, err := os.Stat(filepath.Join(threadsDir, topic+".md"))
	if err != nil {
		return fmt.Errorf("stat thread file: %w", err)
	}
	s.Topics[topic] = TopicRecord{MTime: info.ModTime(), EntryCount: entryCount}
	return nil
}

// Prune drops topics whose files are gone. Called after a successful run.
func (s *State) Prune(deleted []string) {
	for _, topic := range deleted {
		delete(s.Topics, topic)
	}
}

func listThreadFiles(dir string) (map[string]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read threads dir: %w", err)
	}
	out := make(map[string]os.FileInfo)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		if strings.HasPrefix(name, "_") || name == "index.md" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out[strings.TrimSuffix(name, ".md")] = info
	}
	return out, nil
}
