// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrHashMismatch is returned by Open when a stage resumes against
// an input file whose content hash no longer matches the checkpoint's
// recorded input_file_hash (spec.md §4.2, §7: "fail fast, never silently
// restart").
var ErrHashMismatch = errors.New("checkpoint: input file hash mismatch on resume")

// saveEveryN is the default write cadence: force a flush every N processed
// items between status-transition saves (spec.md §4.2).
const saveEveryN = 10

// Manager indexes per-stage checkpoint files under one directory and is the
// single writer for every stage's State (spec.md §4.2 "Unified management").
type Manager struct {
	dir string

	mu       sync.Mutex
	states   map[string]*State
	dirty    map[string]int64 // items processed since last forced save, per stage
	pid      int
}

// NewManager returns a Manager rooted at dir, creating it if necessary.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir %s: %w", dir, err)
	}
	return &Manager{
		dir:    dir,
		states: map[string]*State{},
		dirty:  map[string]int64{},
		pid:    os.Getpid(),
	}, nil
}

func (m *Manager) paths(stageID string) (primary, backup, tmp string) {
	base := filepath.Join(m.dir, stageID+".checkpoint")
	return base + ".json", base + ".backup", base + ".tmp"
}

// Open loads stageID's checkpoint, applying crash detection: if the loaded
// state is StatusRunning and its recorded PID is not this process's PID (or
// absent), the state moves to StatusRecovering on open rather than being
// silently resumed (spec.md §4.2). If no checkpoint file exists, Open
// initializes a fresh State via New and returns it without writing to disk.
func (m *Manager) Open(stageID, inputFilePath, inputFileHash string, totalItems int64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	primary, backup, _ := m.paths(stageID)
	state, err := loadFile(primary)
	if err != nil {
		if loadedBackup, berr := loadFile(backup); berr == nil {
			state = loadedBackup
		} else if os.IsNotExist(err) {
			fresh := New(stageID, inputFilePath, inputFileHash, totalItems)
			m.states[stageID] = &fresh
			return fresh, nil
		} else {
			return State{}, fmt.Errorf("checkpoint: load %s: %w", primary, err)
		}
	}

	if state.Status == StatusRunning && state.PID != m.pid {
		state.Status = StatusRecovering
	}
	if state.Status == StatusRecovering {
		if state.InputFileHash != inputFileHash {
			return state, ErrHashMismatch
		}
	}
	m.states[stageID] = &state
	return state, nil
}

// Transition moves stageID's in-memory state from its current status to to,
// rejecting illegal edges, and force-saves (spec.md §4.2: "force-save on
// status transitions").
func (m *Manager) Transition(stageID string, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stageID]
	if !ok {
		return fmt.Errorf("checkpoint: unknown stage %q", stageID)
	}
	if !CanTransition(st.Status, to) {
		return fmt.Errorf("checkpoint: illegal transition %s -> %s", st.Status, to)
	}
	st.Status = to
	if to == StatusRunning {
		st.PID = m.pid
	}
	st.LastUpdateTime = time.Now().UTC()
	return m.saveLocked(stageID)
}

// RecordItem advances stageID's progress by one item, classified outcome
// (successful, failed, or skipped), and force-saves every saveEveryN items
// (spec.md §4.2). last_processed_index is advanced only after the caller
// confirms the record was durably written, so callers must call RecordItem
// after the Append/Flush that makes the item durable, never before.
func (m *Manager) RecordItem(stageID string, index int64, itemKey string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stageID]
	if !ok {
		return fmt.Errorf("checkpoint: unknown stage %q", stageID)
	}
	st.ProcessedItems++
	switch outcome {
	case OutcomeSuccess:
		st.SuccessfulItems++
	case OutcomeFailed:
		st.FailedItems++
	case OutcomeSkipped:
		st.SkippedItems++
	}
	if index > st.LastProcessedIndex {
		st.LastProcessedIndex = index
	}
	st.LastProcessedItem = itemKey
	st.LastUpdateTime = time.Now().UTC()

	m.dirty[stageID]++
	if m.dirty[stageID] >= saveEveryN {
		m.dirty[stageID] = 0
		return m.saveLocked(stageID)
	}
	return nil
}

// GrowTotal raises stageID's total_items to newTotal when newTotal exceeds
// the current value, without forcing a save. Stages whose item count is
// discovered as they run (S1's BFS traversal, unlike S2/S3's fixed input
// stream) call this as each new item is enqueued so the
// last_processed_index <= total_items invariant (spec.md §3) never trips.
func (m *Manager) GrowTotal(stageID string, newTotal int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[stageID]; ok && newTotal > st.TotalItems {
		st.TotalItems = newTotal
	}
}

// RecordError appends msg to stageID's bounded error ring without forcing a
// save; the next cadence or transition save will carry it to disk.
func (m *Manager) RecordError(stageID, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[stageID]; ok {
		st.recordError(msg)
	}
}

// Flush force-saves stageID regardless of cadence, used on graceful
// shutdown (spec.md §4.2, §5).
func (m *Manager) Flush(stageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(stageID)
}

// State returns a copy of stageID's current in-memory state.
func (m *Manager) State(stageID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stageID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// saveLocked implements the atomic write protocol from spec.md §4.2:
// serialize to .tmp, rename the existing primary to .backup, then rename
// .tmp to primary. Caller must hold m.mu.
func (m *Manager) saveLocked(stageID string) error {
	st, ok := m.states[stageID]
	if !ok {
		return fmt.Errorf("checkpoint: unknown stage %q", stageID)
	}
	if err := st.Validate(); err != nil {
		return err
	}
	primary, backup, tmp := m.paths(stageID)

	payload, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write tmp: %w", err)
	}
	if _, err := os.Stat(primary); err == nil {
		if err := os.Rename(primary, backup); err != nil {
			return fmt.Errorf("checkpoint: rotate backup: %w", err)
		}
	}
	if err := os.Rename(tmp, primary); err != nil {
		return fmt.Errorf("checkpoint: commit: %w", err)
	}
	return nil
}

func loadFile(path string) (State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("checkpoint: unmarshal %s: %w", path, err)
	}
	return st, nil
}

// Outcome classifies one processed item for RecordItem.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

// List returns the stage ids known to this manager, either because they
// were Open'd this run or because a .checkpoint.json file for them exists
// on disk.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: readdir %s: %w", m.dir, err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		const suffix = ".checkpoint.json"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			id := name[:len(name)-len(suffix)]
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// Reset deletes stageID's checkpoint files (primary, backup, tmp) and its
// in-memory state, so the next Open starts a fresh run.
func (m *Manager) Reset(stageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	primary, backup, tmp := m.paths(stageID)
	for _, p := range []string{primary, backup, tmp} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("checkpoint: reset remove %s: %w", p, err)
		}
	}
	delete(m.states, stageID)
	delete(m.dirty, stageID)
	return nil
}

// Cleanup removes any stage's .backup file whose modification time is older
// than olderThan, bounding backup retention to the most recent rotation
// (spec.md §12 "Retention policy for checkpoint backup files" resolution).
func (m *Manager) Cleanup(olderThan time.Duration) error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("checkpoint: readdir %s: %w", m.dir, err)
	}
	cutoff := time.Now().Add(-olderThan)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".checkpoint.backup"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(m.dir, name))
		}
	}
	return nil
}

// Progress is one stage's contribution to an aggregated pipeline-progress
// report.
type Progress struct {
	StageID     string  `json:"stage_id"`
	Status      Status  `json:"status"`
	Processed   int64   `json:"processed_items"`
	Total       int64   `json:"total_items"`
	SuccessRate float64 `json:"success_rate"`
	Throughput  float64 `json:"throughput"`
}

// AggregatedProgress reports every known stage's own progress (unweighted,
// one entry per stage), and an overall ETA computed as the summed remaining
// items over the summed throughput of the stages whose own ETA is defined
// (spec.md §4.2 "aggregated pipeline-progress report").
func (m *Manager) AggregatedProgress() ([]Progress, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Progress
	var totalRemaining, totalThroughput float64
	anyDefined := false
	for id, st := range m.states {
		out = append(out, Progress{
			StageID:     id,
			Status:      st.Status,
			Processed:   st.ProcessedItems,
			Total:       st.TotalItems,
			SuccessRate: st.SuccessRate(),
			Throughput:  st.Throughput(),
		})
		if _, ok := st.ETA(); ok {
			anyDefined = true
			totalRemaining += float64(st.TotalItems - st.ProcessedItems)
			totalThroughput += st.Throughput()
		}
	}
	if !anyDefined || totalThroughput <= 0 {
		return out, 0, false
	}
	return out, time.Duration(totalRemaining/totalThroughput) * time.Second, true
}
