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

package recordlog

import (
	"os"
	"path/filepath"
	"testing"
)

// testRecord is a minimal Validatable used only by this package's own tests,
// so they do not need to import pkg/records.
type testRecord struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func (r testRecord) Validate() []FieldError {
	var errs []FieldError
	if r.Name == "" {
		errs = append(errs, FieldError{Field: "name", Category: "missing-field", Detail: "must be set"})
	}
	if r.N < 0 {
		errs = append(errs, FieldError{Field: "n", Category: "value-error", Detail: "must be >= 0"})
	}
	return errs
}

func writeRaw(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLogAppendThenStreamRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	log, err := Open[testRecord](path)
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append(testRecord{Name: "a", N: 1}); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(testRecord{Name: "b", N: 2}); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	var got []testRecord
	for res := range Stream[testRecord](path) {
		if res.Err != nil {
			t.Fatalf("unexpected stream error: %v", res.Err)
		}
		got = append(got, res.Record)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("got %+v, want [a,b]", got)
	}
}

func TestStreamDoesNotValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	writeRaw(t, path, `{"name":"","n":-1}`)

	for res := range Stream[testRecord](path) {
		if res.Err != nil {
			t.Fatalf("Stream must not invoke Validate() itself; got error %v for a structurally valid line", res.Err)
		}
		if res.Record.Name != "" || res.Record.N != -1 {
			t.Errorf("got %+v, want the decoded record as-is", res.Record)
		}
	}
}

func TestStreamSurfacesDecodeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	writeRaw(t, path,
		`{"name":"ok","n":1}`,
		`{"name":"bad","n":"not-a-number"}`,
		`{"name":"extra","n":1,"unknown_field":true}`,
	)

	var results []StreamResult[testRecord]
	for res := range Stream[testRecord](path) {
		results = append(results, res)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("line 1: got error %v, want nil", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("line 2: want a type-mismatch decode error")
	}
	if results[2].Err == nil {
		t.Error("line 3: want an unknown-field decode error")
	}
}

func TestValidateFileCategorizesDecodeAndInvariantFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	writeRaw(t, path,
		`{"name":"ok","n":1}`,
		`{"name":"bad","n":"not-a-number"}`,
		`{"name":"extra","n":1,"unknown_field":true}`,
		`{"name":"","n":1}`,
		`{"name":"neg","n":-1}`,
	)

	report, err := ValidateFile[testRecord](path, 1.0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 5 {
		t.Errorf("got total %d, want 5", report.Total)
	}
	if report.Valid != 1 {
		t.Errorf("got valid %d, want 1", report.Valid)
	}
	if report.Invalid != 4 {
		t.Errorf("got invalid %d, want 4", report.Invalid)
	}
	want := map[string]int{
		"type-error":    1,
		"unknown-field": 1,
		"missing-field": 1,
		"value-error":   1,
	}
	for category, count := range want {
		if report.ByCategory[category] != count {
			t.Errorf("category %q: got %d, want %d (full breakdown: %+v)", category, report.ByCategory[category], count, report.ByCategory)
		}
	}
}

func TestValidateFileSampleRateSkipsDeepValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	const n = 50
	var lines []string
	for i := 0; i < n; i++ {
		// Every line is structurally decodable but schema-invalid (empty name).
		lines = append(lines, `{"name":"","n":1}`)
	}
	writeRaw(t, path, lines...)

	const rate = 0.3
	wantInvalid := 0
	for lineNo := 1; lineNo <= n; lineNo++ {
		if sampled(lineNo, rate) {
			wantInvalid++
		}
	}
	if wantInvalid == n {
		t.Fatalf("test setup: rate %v sampled every line, cannot demonstrate cost-bounding", rate)
	}

	report, err := ValidateFile[testRecord](path, rate, n)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != n {
		t.Errorf("got total %d, want %d", report.Total, n)
	}
	if report.Invalid != wantInvalid {
		t.Errorf("got %d invalid, want %d (sample_rate %v must bound how many lines get deep-validated)", report.Invalid, wantInvalid, rate)
	}
	if report.Valid != n-wantInvalid {
		t.Errorf("got %d valid, want %d", report.Valid, n-wantInvalid)
	}
}
