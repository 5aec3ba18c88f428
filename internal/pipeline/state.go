// Package pipeline executes the four canonical ingestion stages, EXPORT,
// EXTRACT, DEDUPE, and BUILD, in order, with durable per-run state so an
// interrupted run resumes from the first non-completed stage.
package pipeline

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/steveyegge/watercooler/internal/utils"
)

// StageName identifies one pipeline stage.
type StageName string

const (
	StageExport  StageName = "export"
	StageExtract StageName = "extract"
	StageDedupe  StageName = "dedupe"
	StageBuild   StageName = "build"
)

// StageOrder is the fixed execution order.
var StageOrder = []StageName{StageExport, StageExtract, StageDedupe, StageBuild}

// StageStatus is a stage lifecycle state.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// StageState records one stage's progress within a run.
type StageState struct {
	Status         StageStatus    `json:"status"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	Error          string         `json:"error,omitempty"`
	Outputs        map[string]any `json:"outputs,omitempty"`
	TotalItems     int            `json:"total_items"`
	ProcessedItems int            `json:"processed_items"`
	FailedItems    int            `json:"failed_items"`
}

// State is the durable record of one run. It is written atomically after
// every transition; only the orchestrator writes it. ThreadsDir and WorkDir
// record where the run was started so a resume against different paths is
// detectable.
type State struct {
	RunID      string                    `json:"run_id"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
	ThreadsDir string                    `json:"threads_dir,omitempty"`
	WorkDir    string                    `json:"work_dir,omitempty"`
	TestMode   bool                      `json:"test_mode,omitempty"`
	Stages     map[StageName]*StageState `json:"stages"`

	workDir string
}

// NewRunID returns a fresh ULID run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func statePath(workDir, runID string) string {
	return filepath.Join(workDir, "state", runID+".json")
}

// LoadOrCreateState resumes a run's state from disk or starts a new one.
// A missing file creates clean state; a corrupt file is an error rather
// than silent truncation, so a damaged run is never half-resumed.
func LoadOrCreateState(workDir, runID string) (*State, error) {
	path := statePath(workDir, runID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		now := time.Now().UTC()
		s := &State{
			RunID:     runID,
			CreatedAt: now,
			UpdatedAt: now,
			Stages:    make(map[StageName]*StageState),
			workDir:   workDir,
		}
		for _, name := range StageOrder {
			s.Stages[name] = &StageState{Status: StatusPending}
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state file %s is corrupt: %w", path, err)
	}
	s.workDir = workDir
	if s.Stages == nil {
		s.Stages = make(map[StageName]*StageState)
	}
	for _, name := range StageOrder {
		if s.Stages[name] == nil {
			s.Stages[name] = &StageState{Status: StatusPending}
		}
	}
	return &s, nil
}

// Save writes the state atomically.
func (s *State) Save() error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	path := statePath(s.workDir, s.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return utils.WriteFileAtomic(path, data, 0o600)
}

// Stage returns the state record for a stage.
func (s *State) Stage(name StageName) *StageState {
	return s.Stages[name]
}

// Done reports whether a stage needs no further work. A skipped stage was
// complete in an earlier invocation of the same run.
func (st *StageState) Done() bool {
	return st.Status == StatusCompleted || st.Status == StatusSkipped
}

// FirstPending returns the first stage that still needs work, or "" when
// every stage is done.
func (s *State) FirstPending() StageName {
	for _, name := range StageOrder {
		if !s.Stages[name].Done() {
			return name
		}
	}
	return ""
}

// PriorStagesComplete reports whether every stage before name is done.
func (s *State) PriorStagesComplete(name StageName) bool {
	for _, n := range StageOrder {
		if n == name {
			return true
		}
		if !s.Stages[n].Done() {
			return false
		}
	}
	return true
}
