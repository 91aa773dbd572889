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

// Package recordlog implements the append-only, line-delimited JSON record
// log shared by all three pipeline stages (spec.md §4.1). It is grounded on
// the teacher's buffered JSONL sinks (internal/sinks/sbatch_file_sink.go,
// internal/sinks/venv_file_sink.go): a single writer, a bufio.Writer flushed
// on a time boundary, and a companion "read everything back" helper — here
// generalized to a streaming, schema-validating reader and promoted to a
// reusable generic type since DiscoveryRecord, ValidationRecord, and
// EnrichmentRecord all share the same on-disk shape.
package recordlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"os"
	"strings"
	"sync"
	"time"
)

// Validatable is implemented by every record type in pkg/records; it is the
// seam the schema guard hooks cross-field invariant checks through.
type Validatable interface {
	Validate() []FieldError
}

// FieldError names one schema-guard failure against a specific record field.
// pkg/records aliases this type rather than declaring its own, so every
// Validate() method satisfies Validatable directly.
type FieldError struct {
	Field    string
	Category string
	Detail   string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Detail, e.Category)
}

// flushInterval matches the teacher's sink flush cadence: bound data loss on
// crash while avoiding an fsync-per-record hot path.
const flushInterval = 100 * time.Millisecond

// Log is an append-only JSONL record log for one stage's output.
type Log[T Validatable] struct {
	mu        sync.Mutex
	f         *os.File
	w         *bufio.Writer
	path      string
	lastFlush time.Time
}

// Open opens (or creates) the record log at path in append mode.
func Open[T Validatable](path string) (*Log[T], error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log[T]{f: f, w: bufio.NewWriterSize(f, 1<<20), path: path, lastFlush: time.Now()}, nil
}

// Append serializes rec as a single JSON line terminated by \n. Appends from
// a single Log are ordered; recordlog does not support concurrent writers
// against the same path (spec.md §4.1).
func (l *Log[T]) Append(rec T) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	enc := json.NewEncoder(l.w)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("recordlog: encode: %w", err)
	}
	if time.Since(l.lastFlush) > flushInterval {
		if err := l.w.Flush(); err != nil {
			return fmt.Errorf("recordlog: flush: %w", err)
		}
		l.lastFlush = time.Now()
	}
	return nil
}

// Flush forces buffered data to disk, used at batch boundaries and on
// graceful shutdown (spec.md §4.1, §5).
func (l *Log[T]) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastFlush = time.Now()
	return l.w.Flush()
}

// Close flushes and closes the underlying file.
func (l *Log[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.w.Flush()
	return l.f.Close()
}

// Path returns the filesystem path backing this log, used by the checkpoint
// manager to compute input_file_hash.
func (l *Log[T]) Path() string { return l.path }

// StreamResult is one element of a Stream sequence: either a decoded,
// schema-valid record or a line number plus the error that made the line
// unusable.
type StreamResult[T Validatable] struct {
	LineNo int
	Record T
	Err    error
}

// Stream returns a fresh, restartable, finite sequence over every line
// currently in the log: each call re-opens the file from the start, so two
// concurrent Stream() calls never interfere and a consumer can always
// restart from line 1. Malformed lines are surfaced as StreamResult.Err
// without terminating the sequence (spec.md §4.1). Stream only decodes each
// line; it never calls Validate() itself, so a caller streaming a large log
// for routing (not auditing) pays decode cost alone. Deep schema validation,
// and the sample_rate that bounds its cost on large logs, belongs to
// ValidateFile.
func Stream[T Validatable](path string) iter.Seq[StreamResult[T]] {
	return func(yield func(StreamResult[T]) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(StreamResult[T]{Err: fmt.Errorf("recordlog: open: %w", err)})
			return
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var rec T
			dec := json.NewDecoder(bytes.NewReader(line))
			dec.DisallowUnknownFields()
			res := StreamResult[T]{LineNo: lineNo}
			if err := dec.Decode(&rec); err != nil {
				res.Err = fmt.Errorf("line %d: %w", lineNo, err)
			} else {
				res.Record = rec
			}
			if !yield(res) {
				return
			}
		}
	}
}

// decodeErrorCategory buckets a Stream decode failure the way
// records.Validate()'s own FieldErrors are bucketed (spec.md §4.1: "broken
// down by error category"): encoding/json reports unknown fields as a plain
// error string and type mismatches as *json.UnmarshalTypeError, so these are
// the two categories a failed decode can produce; anything else (truncated
// or non-object JSON) falls back to a generic decode-error bucket.
func decodeErrorCategory(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return "type-error"
	}
	if strings.Contains(err.Error(), "unknown field") {
		return "unknown-field"
	}
	return "decode-error"
}

// ValidationReport summarizes a validate_file pass (spec.md §4.1).
type ValidationReport struct {
	Total          int
	Valid          int
	Invalid        int
	ByCategory     map[string]int
	SampleMessages []string
}

// ValidateFile streams the entire log once, classifying each malformed or
// invalid line and sampling up to maxSamples error messages along with their
// line numbers. sampleRate in (0,1] deterministically subsamples which lines
// are deep-validated (via Validate()) to bound cost on very large logs;
// decode and DisallowUnknownFields checks always run on every line.
func ValidateFile[T Validatable](path string, sampleRate float64, maxSamples int) (ValidationReport, error) {
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}
	report := ValidationReport{ByCategory: map[string]int{}}
	for res := range Stream[T](path) {
		report.Total++
		if res.Err != nil {
			report.Invalid++
			report.ByCategory[decodeErrorCategory(res.Err)]++
			if len(report.SampleMessages) < maxSamples {
				report.SampleMessages = append(report.SampleMessages, fmt.Sprintf("line %d: %v", res.LineNo, res.Err))
			}
			continue
		}
		if !sampled(res.LineNo, sampleRate) {
			report.Valid++
			continue
		}
		if errs := res.Record.Validate(); len(errs) > 0 {
			report.Invalid++
			for _, e := range errs {
				report.ByCategory[e.Category]++
			}
			if len(report.SampleMessages) < maxSamples {
				report.SampleMessages = append(report.SampleMessages, fmt.Sprintf("line %d: %v", res.LineNo, errs[0]))
			}
			continue
		}
		report.Valid++
	}
	return report, nil
}

func sampled(lineNo int, rate float64) bool {
	if rate >= 1 {
		return true
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%d", lineNo)
	return float64(h.Sum32()%10000)/10000.0 < rate
}

