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
	"os"
	"path/filepath"
	"testing"
)

func TestOpenFreshStageInitializes(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	st, err := m.Open("discovery", "seeds.txt", "deadbeef", 100)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusInitialized {
		t.Errorf("got status %q, want initialized", st.Status)
	}
	if _, err := os.Stat(filepath.Join(dir, "discovery.checkpoint.json")); !os.IsNotExist(err) {
		t.Errorf("Open must not write to disk before the first transition")
	}
}

func TestTransitionWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)
	if _, err := m.Open("s1", "seeds.txt", "hash1", 10); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition("s1", StatusRunning); err != nil {
		t.Fatal(err)
	}
	primary := filepath.Join(dir, "s1.checkpoint.json")
	if _, err := os.Stat(primary); err != nil {
		t.Fatalf("expected checkpoint file, got %v", err)
	}

	if err := m.Transition("s1", StatusCompleted); err != nil {
		t.Fatal(err)
	}
	backup := filepath.Join(dir, "s1.checkpoint.backup")
	if _, err := os.Stat(backup); err != nil {
		t.Fatalf("expected backup file after second save, got %v", err)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)
	m.Open("s1", "seeds.txt", "hash1", 10)
	if err := m.Transition("s1", StatusCompleted); err == nil {
		t.Errorf("expected error transitioning initialized -> completed directly")
	}
}

func TestRecordItemInvariant(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)
	m.Open("s1", "seeds.txt", "hash1", 3)
	m.Transition("s1", StatusRunning)
	m.RecordItem("s1", 0, "a", OutcomeSuccess)
	m.RecordItem("s1", 1, "b", OutcomeFailed)
	m.RecordItem("s1", 2, "c", OutcomeSkipped)

	st, _ := m.State("s1")
	if st.ProcessedItems != st.SuccessfulItems+st.FailedItems+st.SkippedItems {
		t.Errorf("processed/successful+failed+skipped invariant violated: %+v", st)
	}
	if st.LastProcessedIndex != 2 {
		t.Errorf("got last_processed_index %d, want 2", st.LastProcessedIndex)
	}
}

func TestCrashDetectionTransitionsToRecovering(t *testing.T) {
	dir := t.TempDir()
	m1, _ := NewManager(dir)
	m1.pid = 99999999 // simulate a stale PID belonging to another process
	m1.Open("s1", "seeds.txt", "hash1", 10)
	m1.Transition("s1", StatusRunning)
	m1.Flush("s1")

	m2, _ := NewManager(dir)
	st, err := m2.Open("s1", "seeds.txt", "hash1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusRecovering {
		t.Errorf("got status %q, want recovering after simulated crash", st.Status)
	}
}

func TestResumeHashMismatchFailsFast(t *testing.T) {
	dir := t.TempDir()
	m1, _ := NewManager(dir)
	m1.pid = 99999999
	m1.Open("s1", "seeds.txt", "hash1", 10)
	m1.Transition("s1", StatusRunning)
	m1.Flush("s1")

	m2, _ := NewManager(dir)
	_, err := m2.Open("s1", "seeds.txt", "different-hash", 10)
	if err != ErrHashMismatch {
		t.Errorf("got %v, want ErrHashMismatch", err)
	}
}

func TestETAUndefinedBeforeTenItems(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)
	m.Open("s1", "seeds.txt", "hash1", 100)
	m.Transition("s1", StatusRunning)
	for i := 0; i < 5; i++ {
		m.RecordItem("s1", int64(i), "x", OutcomeSuccess)
	}
	st, _ := m.State("s1")
	if _, ok := st.ETA(); ok {
		t.Errorf("expected ETA undefined before 10 processed items")
	}
}

func TestResetRemovesCheckpointFiles(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)
	m.Open("s1", "seeds.txt", "hash1", 10)
	m.Transition("s1", StatusRunning)
	m.Transition("s1", StatusCompleted)

	if err := m.Reset("s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.checkpoint.json")); !os.IsNotExist(err) {
		t.Errorf("expected primary checkpoint removed after Reset")
	}
}
