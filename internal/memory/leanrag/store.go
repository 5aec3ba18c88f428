package leanrag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steveyegge/watercooler/internal/memory"
)

// entity is one node of the built hierarchy. Level 0 holds the extracted
// entities; higher levels are cluster aggregates. Parent names the entity's
// aggregate in the next level up.
type entity struct {
	EntityName  string    `json:"entity_name"`
	Description string    `json:"description,omitempty"`
	Embedding   []float64 `json:"embedding,omitempty"`
	Parent      string    `json:"parent,omitempty"`
	Level       int       `json:"level"`
}

// relation is one extracted fact between two entities.
type relation struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Description string `json:"description,omitempty"`
}

// store is an in-memory snapshot of the built artifacts.
type store struct {
	entities  []entity
	byName    map[string]*entity
	relations []relation
}

const (
	allEntitiesFile = "all_entities.json"
	relationsFile   = "relation.jsonl"
)

// ensureStore loads the built artifacts on first use.
func (b *Backend) ensureStore() (*store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.store != nil {
		return b.store, nil
	}
	s, err := loadStore(b.processedDir())
	if err != nil {
		return nil, err
	}
	b.store = s
	return s, nil
}

func loadStore(dir string) (*store, error) {
	s := &store{byName: make(map[string]*entity)}

	if err := loadEntities(filepath.Join(dir, allEntitiesFile), s); err != nil {
		return nil, err
	}
	if err := loadRelations(filepath.Join(dir, relationsFile), s); err != nil {
		return nil, err
	}
	return s, nil
}

// loadEntities reads the multi-layer entity file: one JSON array per line,
// each line one hierarchy level.
func loadEntities(path string, s *store) error {
	f, err := os.Open(path)
	if err != nil {
		return &memory.ConfigError{Msg: "leanrag: graph not built (run index first)", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	level := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var layer []entity
		if err := json.Unmarshal(line, &layer); err != nil {
			return &memory.BackendError{Backend: BackendName, Op: "load entities",
				Err: fmt.Errorf("level %d: %w", level, err)}
		}
		for i := range layer {
			layer[i].Level = level
		}
		s.entities = append(s.entities, layer...)
		level++
	}
	if err := scanner.Err(); err != nil {
		return &memory.BackendError{Backend: BackendName, Op: "load entities", Err: err}
	}

	for i := range s.entities {
		e := &s.entities[i]
		if _, dup := s.byName[e.EntityName]; !dup {
			s.byName[e.EntityName] = e
		}
	}
	return nil
}

// loadRelations reads the processed relation file, one JSON object per line.
// A missing file is tolerated: a graph can be built before any relations
// were extracted.
func loadRelations(path string, s *store) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &memory.BackendError{Backend: BackendName, Op: "load relations", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r relation
		if err := json.Unmarshal(line, &r); err != nil {
			return &memory.BackendError{Backend: BackendName, Op: "load relations", Err: err}
		}
		s.relations = append(s.relations, r)
	}
	return scanner.Err()
}

// ancestors walks the parent chain of name, including name itself. Cycles
// (bad parent data) are cut off by the visited set.
func (s *store) ancestors(name string) []string {
	var chain []string
	visited := make(map[string]bool)
	for cur := name; cur != "" && !visited[cur]; {
		visited[cur] = true
		chain = append(chain, cur)
		e, ok := s.byName[cur]
		if !ok {
			break
		}
		cur = e.Parent
	}
	return chain
}
