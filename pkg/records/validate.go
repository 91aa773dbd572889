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

package records

import (
	"strings"

	"crawlpipe/pkg/recordlog"
	"crawlpipe/pkg/urlcanon"
)

// ErrorCategory buckets a validation failure the way spec.md §4.1's
// validate_file report breaks errors down: missing-field, unknown-field,
// type-error, value-error, invariant-violation. Unknown-field and type-error
// are caught earlier by recordlog's strict JSON decoder; the categories here
// cover everything a decoded struct can still get wrong.
const (
	CategoryMissingField       = "missing-field"
	CategoryValueError         = "value-error"
	CategoryInvariantViolation = "invariant-violation"
)

// FieldError names one schema-guard failure against a specific record field.
// It is recordlog.FieldError itself, not a parallel type, so DiscoveryRecord,
// ValidationRecord, and EnrichmentRecord satisfy recordlog.Validatable
// directly.
type FieldError = recordlog.FieldError

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Validate enforces DiscoveryRecord's field and cross-field rules, including
// the url_hash == sha256(canonical(discovered_url)) invariant from spec.md §3.
func (d DiscoveryRecord) Validate() []FieldError {
	var errs []FieldError
	if d.SourceURL == "" {
		errs = append(errs, FieldError{"source_url", CategoryMissingField, "must be set"})
	} else if !isURL(d.SourceURL) {
		errs = append(errs, FieldError{"source_url", CategoryValueError, "must begin http:// or https://"})
	}
	if !isURL(d.DiscoveredURL) {
		errs = append(errs, FieldError{"discovered_url", CategoryValueError, "must begin http:// or https://"})
	}
	if !urlcanon.IsHexHash(d.URLHash) {
		errs = append(errs, FieldError{"url_hash", CategoryValueError, "must be 64 hex chars"})
	} else if canon, err := urlcanon.Canonicalize(d.DiscoveredURL); err == nil {
		if want := urlcanon.Hash(canon); want != d.URLHash {
			errs = append(errs, FieldError{"url_hash", CategoryInvariantViolation, "url_hash != sha256(canonical(discovered_url))"})
		}
	}
	if d.DiscoveryDepth < 0 || d.DiscoveryDepth > 10 {
		errs = append(errs, FieldError{"discovery_depth", CategoryValueError, "must be in [0, 10]"})
	}
	switch d.DiscoverySource {
	case SourceSeed, SourceLink, SourceSitemap, SourceInlineJSON, SourceDataAttribute, SourceForm, SourcePagination:
	default:
		errs = append(errs, FieldError{"discovery_source", CategoryValueError, "unrecognized discovery_source tag"})
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		errs = append(errs, FieldError{"confidence", CategoryValueError, "must be in [0, 1]"})
	}
	if d.ImportanceScore < 0 || d.ImportanceScore > 1 {
		errs = append(errs, FieldError{"importance_score", CategoryValueError, "must be in [0, 1]"})
	}
	if d.FirstSeen.IsZero() {
		errs = append(errs, FieldError{"first_seen", CategoryMissingField, "must be set"})
	}
	return errs
}

// Validate enforces ValidationRecord's rules, notably that is_valid == false
// implies a non-empty error_message (spec.md §3).
func (v ValidationRecord) Validate() []FieldError {
	var errs []FieldError
	if !isURL(v.URL) {
		errs = append(errs, FieldError{"url", CategoryValueError, "must begin http:// or https://"})
	}
	if !urlcanon.IsHexHash(v.URLHash) {
		errs = append(errs, FieldError{"url_hash", CategoryValueError, "must be 64 hex chars"})
	}
	if v.StatusCode < 0 || v.StatusCode > 999 {
		errs = append(errs, FieldError{"status_code", CategoryValueError, "must be in [0, 999]"})
	}
	if v.ContentLength < 0 {
		errs = append(errs, FieldError{"content_length", CategoryValueError, "must be >= 0"})
	}
	if v.ResponseTimeMs < 0 {
		errs = append(errs, FieldError{"response_time_ms", CategoryValueError, "must be >= 0"})
	}
	if !v.IsValid && strings.TrimSpace(v.ErrorMessage) == "" {
		errs = append(errs, FieldError{"error_message", CategoryInvariantViolation, "required when is_valid == false"})
	}
	wantValid := v.StatusCode >= 200 && v.StatusCode < 400
	if wantValid != v.IsValid && v.ErrorMessage == "" {
		// Content-type acceptability can also drive is_valid to false even on a
		// 2xx/3xx status; only flag the pure status-range mismatch as a hint,
		// never treat it as fatal since content-type policy is external input.
		errs = append(errs, FieldError{"is_valid", CategoryValueError, "inconsistent with status_code and no error_message explaining why"})
	}
	return errs
}

// Validate enforces EnrichmentRecord's rules, including the word_count vs
// text_content token-count tolerance from spec.md §3.
func (e EnrichmentRecord) Validate() []FieldError {
	var errs []FieldError
	if !isURL(e.URL) {
		errs = append(errs, FieldError{"url", CategoryValueError, "must begin http:// or https://"})
	}
	if !urlcanon.IsHexHash(e.URLHash) {
		errs = append(errs, FieldError{"url_hash", CategoryValueError, "must be 64 hex chars"})
	}
	if e.WordCount < 0 {
		errs = append(errs, FieldError{"word_count", CategoryValueError, "must be >= 0"})
	} else if e.Error == nil {
		actual := len(strings.Fields(e.TextContent))
		if !withinTolerance(e.WordCount, actual, 0.10) {
			errs = append(errs, FieldError{"word_count", CategoryInvariantViolation, "does not match text_content token count within ±10%"})
		}
	}
	return errs
}

func withinTolerance(reported, actual int, frac float64) bool {
	if actual == 0 {
		return reported == 0
	}
	delta := float64(reported-actual) / float64(actual)
	if delta < 0 {
		delta = -delta
	}
	return delta <= frac
}
