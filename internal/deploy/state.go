package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateStore persists the last failed step index per target, the only state
// that outlives a run. A later `--resume` picks it up as the start step.
type StateStore struct {
	dir string
}

type runState struct {
	FailedStep int       `json:"failed_step"`
	RunID      string    `json:"run_id"`
	FailedAt   time.Time `json:"failed_at"`
}

// NewStateStore uses dir, defaulting to ~/.nwp/state.
func NewStateStore(dir string) (*StateStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve state dir: %w", err)
		}
		dir = filepath.Join(home, ".nwp", "state")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &StateStore{dir: dir}, nil
}

// Save records the resume point for target.
func (s *StateStore) Save(target string, failedStep int, runID string) error {
	raw, err := json.Marshal(runState{FailedStep: failedStep, RunID: runID, FailedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(target), raw, 0o644); err != nil {
		return fmt.Errorf("save resume state: %w", err)
	}
	return nil
}

// Load returns the recorded resume point for target, if any.
func (s *StateStore) Load(target string) (int, bool) {
	raw, err := os.ReadFile(s.path(target))
	if err != nil {
		return 0, false
	}
	var st runState
	if err := json.Unmarshal(raw, &st); err != nil || st.FailedStep < 1 {
		return 0, false
	}
	return st.FailedStep, true
}

// Clear removes the resume point after a completed run.
func (s *StateStore) Clear(target string) error {
	err := os.Remove(s.path(target))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *StateStore) path(target string) string {
	return filepath.Join(s.dir, target+".json")
}
