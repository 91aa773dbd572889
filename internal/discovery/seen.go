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

package discovery

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// seenSet is the in-memory url_hash dedup set checkpointed to disk (spec.md
// §4.3.1), one hash per line, append-only during a run and reloaded on
// resume.
type seenSet struct {
	mu   sync.Mutex
	seen map[string]bool
	f    *os.File
	w    *bufio.Writer
}

// openSeenSet loads path if it exists and opens it for append.
func openSeenSet(path string) (*seenSet, error) {
	seen := map[string]bool{}
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			seen[scanner.Text()] = true
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("discovery: read seen set %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("discovery: open seen set %s: %w", path, err)
	}
	return &seenSet{seen: seen, f: f, w: bufio.NewWriter(f)}, nil
}

// addIfNew reports whether hash was newly added (false if already seen).
func (s *seenSet) addIfNew(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[hash] {
		return false
	}
	s.seen[hash] = true
	fmt.Fprintln(s.w, hash)
	return true
}

func (s *seenSet) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

func (s *seenSet) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}
