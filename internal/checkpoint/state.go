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

// Package checkpoint implements crash-safe, resumable progress tracking for
// a pipeline stage: a CheckpointState value plus the CheckpointManager that
// persists it with an atomic tmp-then-rename write protocol.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is one of CheckpointState's fixed state-machine positions.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusRecovering  Status = "recovering"
)

// transitions enumerates the fixed state machine. A transition not listed
// here is rejected by Manager.Transition.
var transitions = map[Status][]Status{
	StatusInitialized: {StatusRunning, StatusFailed},
	StatusRunning:     {StatusPaused, StatusCompleted, StatusFailed, StatusRecovering},
	StatusPaused:      {StatusRunning, StatusFailed},
	StatusRecovering:  {StatusRunning, StatusFailed},
	StatusCompleted:   {},
	StatusFailed:      {},
}

// CanTransition reports whether moving from from to to is a legal edge in
// the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const schemaVersion = 1

// maxErrorMessages bounds the error_messages ring so a long, error-heavy run
// never grows the checkpoint file without limit.
const maxErrorMessages = 50

// State is the CheckpointState record (spec.md §3): the single persisted
// fact about a stage's progress.
type State struct {
	StageID             string    `json:"stage_id"`
	Status              Status    `json:"status"`
	TotalItems          int64     `json:"total_items"`
	ProcessedItems      int64     `json:"processed_items"`
	SuccessfulItems     int64     `json:"successful_items"`
	FailedItems         int64     `json:"failed_items"`
	SkippedItems        int64     `json:"skipped_items"`
	LastProcessedIndex  int64     `json:"last_processed_index"`
	LastProcessedItem   string    `json:"last_processed_item"`
	StartTime           time.Time `json:"start_time"`
	LastUpdateTime      time.Time `json:"last_update_time"`
	InputFilePath       string    `json:"input_file_path"`
	InputFileHash       string    `json:"input_file_hash"`
	ErrorCount          int64     `json:"error_count"`
	ErrorMessages       []string  `json:"error_messages"`
	BatchID             string    `json:"batch_id"`
	SchemaVersion       int       `json:"schema_version"`
	PID                 int       `json:"pid"`
}

// New returns an initialized State for stageID reading inputFilePath, whose
// content hash is inputFileHash (computed once, at stage start). BatchID is
// a fresh UUID identifying this run of the stage, distinct from the recurring
// stageID; a run resumed through Manager.Open keeps the BatchID already
// persisted for it, so every attempt of one run shares a log-correlation key.
func New(stageID, inputFilePath, inputFileHash string, totalItems int64) State {
	now := time.Now().UTC()
	return State{
		StageID:        stageID,
		Status:         StatusInitialized,
		TotalItems:     totalItems,
		StartTime:      now,
		LastUpdateTime: now,
		InputFilePath:  inputFilePath,
		InputFileHash:  inputFileHash,
		BatchID:        uuid.NewString(),
		SchemaVersion:  schemaVersion,
	}
}

// Validate enforces the invariants named in spec.md §3 and §8.
func (s State) Validate() error {
	if s.ProcessedItems != s.SuccessfulItems+s.FailedItems+s.SkippedItems {
		return fmt.Errorf("checkpoint: processed_items (%d) != successful+failed+skipped (%d)",
			s.ProcessedItems, s.SuccessfulItems+s.FailedItems+s.SkippedItems)
	}
	if s.LastProcessedIndex > s.TotalItems {
		return fmt.Errorf("checkpoint: last_processed_index (%d) > total_items (%d)",
			s.LastProcessedIndex, s.TotalItems)
	}
	return nil
}

// recordError appends msg to the bounded error ring and bumps error_count.
func (s *State) recordError(msg string) {
	s.ErrorCount++
	s.ErrorMessages = append(s.ErrorMessages, msg)
	if len(s.ErrorMessages) > maxErrorMessages {
		s.ErrorMessages = s.ErrorMessages[len(s.ErrorMessages)-maxErrorMessages:]
	}
}

// Throughput returns processed_items / elapsed seconds since start_time, the
// first of the three derived, read-only metrics named in spec.md §4.2.
func (s State) Throughput() float64 {
	elapsed := s.LastUpdateTime.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.ProcessedItems) / elapsed
}

// SuccessRate returns successful_items / processed_items, or 0 when nothing
// has been processed yet.
func (s State) SuccessRate() float64 {
	if s.ProcessedItems == 0 {
		return 0
	}
	return float64(s.SuccessfulItems) / float64(s.ProcessedItems)
}

// ETA returns the estimated remaining duration, and false when fewer than 10
// items have been processed (spec.md §4.2: "undefined until at least 10
// items processed").
func (s State) ETA() (time.Duration, bool) {
	if s.ProcessedItems < 10 {
		return 0, false
	}
	tp := s.Throughput()
	if tp <= 0 {
		return 0, false
	}
	remaining := float64(s.TotalItems - s.ProcessedItems)
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining/tp) * time.Second, true
}
