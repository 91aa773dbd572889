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

package freshness

import (
	"strings"
	"time"

	"crawlpipe/pkg/records"
)

const (
	ageWeight            = 0.4
	changeFrequencyWeight = 0.3
	contentTypeWeight     = 0.3

	ageSaturationHours = 720 // 720h ≈ 30d
)

// contentHeuristic maps a path-pattern family to "unlikely to change"
// confidence (spec.md §4.5): higher means less likely to change.
var contentHeuristics = []struct {
	markers []string
	value   float64
}{
	{[]string{"/news", "/events", "/blog"}, 0.0},
	{[]string{"/research", "/faculty"}, 0.1},
	{[]string{"/about", "/contact", "/history"}, 0.3},
	{[]string{"/static", "/media", "/assets", "/images"}, 0.3},
}

// pathHeuristic returns the content-type heuristic component for a URL by
// matching known path-pattern families; unmatched paths default to 0.0 (no
// bonus, treated as equally likely to change as news/events content).
func pathHeuristic(url string) float64 {
	lower := strings.ToLower(url)
	for _, h := range contentHeuristics {
		for _, marker := range h.markers {
			if strings.Contains(lower, marker) {
				return h.value
			}
		}
	}
	return 0.0
}

// StalenessScore computes the weighted [0,1] staleness score from spec.md
// §4.5 given a freshness record (already updated with the latest validation
// counts) and the time the last validation ran.
func StalenessScore(rec records.FreshnessRecord, now time.Time) float64 {
	age := ageComponent(rec.LastModified, now)
	changeFreq := float64(rec.ContentChangedCount) / float64(max64(rec.ValidationCount, 1))
	heuristic := pathHeuristic(rec.URL)
	contentTypeComponent := 1 - heuristic

	score := ageWeight*age + changeFrequencyWeight*changeFreq + contentTypeWeight*contentTypeComponent
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func ageComponent(lastModified string, now time.Time) float64 {
	if lastModified == "" {
		return 1 // unknown last-modified: treat as maximally stale on this component
	}
	t, err := http1123OrRFC3339(lastModified)
	if err != nil {
		return 1
	}
	hours := now.Sub(t).Hours()
	if hours < 0 {
		hours = 0
	}
	v := hours / ageSaturationHours
	if v > 1 {
		v = 1
	}
	return v
}

// http1123OrRFC3339 parses the formats Last-Modified headers and
// checkpoint-stored timestamps actually arrive in.
func http1123OrRFC3339(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC1123, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
