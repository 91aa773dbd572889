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

// Package integrity implements the cross-stage inter-stage validator
// (spec.md §3 "Cross-stage integrity"): given two record logs, every
// downstream url_hash must be present upstream (zero orphans), and coverage
// is reported as the ratio of downstream to upstream hash counts. The
// full-scan shape is grounded on the teacher's Store.ForEach pattern
// (internal/ratelimiter/core/store.go), adapted here to a read-only,
// two-log streaming scan instead of an in-memory shard walk.
package integrity

import (
	"fmt"

	"crawlpipe/internal/classify"
	"crawlpipe/pkg/records"
	"crawlpipe/pkg/recordlog"
)

// Report is the result of one cross-stage integrity check.
type Report struct {
	UpstreamCount   int
	DownstreamCount int
	OrphanCount     int
	OrphanHashes    []string
	Coverage        float64
}

// CheckDiscoveryVsValidation verifies every ValidationRecord's url_hash in
// validationPath is present in discoveryPath (spec.md §3's "S1/S2" rule).
func CheckDiscoveryVsValidation(discoveryPath, validationPath string) (Report, error) {
	upstream, err := hashSet[records.DiscoveryRecord](discoveryPath)
	if err != nil {
		return Report{}, classify.Wrap(err, classify.Integrity, "integrity.CheckDiscoveryVsValidation:read-upstream")
	}
	return check(upstream, recordlog.Stream[records.ValidationRecord](validationPath), func(r records.ValidationRecord) string {
		return r.URLHash
	})
}

// CheckValidationVsEnrichment verifies every EnrichmentRecord's url_hash in
// enrichmentPath corresponds to a validation record with is_valid == true
// (spec.md §3's "S2 valid ⇒ S3" rule).
func CheckValidationVsEnrichment(validationPath, enrichmentPath string) (Report, error) {
	upstream := map[string]struct{}{}
	for res := range recordlog.Stream[records.ValidationRecord](validationPath) {
		if res.Err != nil {
			continue
		}
		if res.Record.IsValid {
			upstream[res.Record.URLHash] = struct{}{}
		}
	}
	return check(upstream, recordlog.Stream[records.EnrichmentRecord](enrichmentPath), func(r records.EnrichmentRecord) string {
		return r.URLHash
	})
}

func hashSet[T recordlog.Validatable](path string) (map[string]struct{}, error) {
	set := map[string]struct{}{}
	for res := range recordlog.Stream[T](path) {
		if res.Err != nil {
			continue
		}
		if h, ok := anyHash(res.Record); ok {
			set[h] = struct{}{}
		}
	}
	return set, nil
}

// anyHash extracts url_hash from any record type that carries one; used only
// by hashSet's generic instantiation for DiscoveryRecord.
func anyHash(rec any) (string, bool) {
	switch r := rec.(type) {
	case records.DiscoveryRecord:
		return r.URLHash, true
	case records.ValidationRecord:
		return r.URLHash, true
	case records.EnrichmentRecord:
		return r.URLHash, true
	default:
		return "", false
	}
}

func check[T recordlog.Validatable](upstream map[string]struct{}, stream func(func(recordlog.StreamResult[T]) bool), hashOf func(T) string) (Report, error) {
	report := Report{UpstreamCount: len(upstream)}
	downstream := map[string]struct{}{}
	for res := range stream {
		if res.Err != nil {
			continue
		}
		report.DownstreamCount++
		h := hashOf(res.Record)
		downstream[h] = struct{}{}
		if _, ok := upstream[h]; !ok {
			report.OrphanCount++
			report.OrphanHashes = append(report.OrphanHashes, h)
		}
	}
	if report.UpstreamCount > 0 {
		report.Coverage = float64(len(downstream)) / float64(report.UpstreamCount)
	}
	return report, nil
}

// StrictModeErr is returned by EnforceStrict when orphans are found and
// strict mode demands a hard failure instead of a logged warning.
type StrictModeErr struct {
	Report Report
}

func (e *StrictModeErr) Error() string {
	return fmt.Sprintf("integrity: %d orphan hash(es) found (coverage %.4f)", e.Report.OrphanCount, e.Report.Coverage)
}

// EnforceStrict returns a classified *StrictModeErr when report has any
// orphans and strict is true; otherwise nil. Used by the CLI's
// --validate-only / strict exit-code path (spec.md §6).
func EnforceStrict(report Report, strict bool) error {
	if strict && report.OrphanCount > 0 {
		return classify.Wrap(&StrictModeErr{Report: report}, classify.Integrity, "integrity.EnforceStrict")
	}
	return nil
}
