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
	"strings"

	"crawlpipe/pkg/records"
)

const (
	weightConfidence     = 0.30
	weightAnchorText     = 0.20
	weightSameDomain     = 0.15
	weightDepthPenalty   = 0.15
	weightSourcePriority = 0.20
)

// sourceConfidence is the discovery-source reliability table (spec.md
// §4.3.1); the same table doubles as the discovery-source-priority signal.
var sourceConfidence = map[records.DiscoverySource]float64{
	records.SourceSeed:          1.0,
	records.SourceSitemap:       0.9,
	records.SourceLink:          0.7,
	records.SourceInlineJSON:    0.5,
	records.SourcePagination:    0.4,
	records.SourceDataAttribute: 0.4,
	records.SourceForm:          0.3,
}

// DefaultHighValueKeywords seeds the configurable anchor-text keyword set
// (spec.md §4.3.1).
var DefaultHighValueKeywords = []string{
	"report", "research", "data", "download", "documentation", "api", "guide",
}

// Scorer computes the importance score for one discovered edge.
type Scorer struct {
	HighValueKeywords []string
}

// NewScorer returns a Scorer seeded with DefaultHighValueKeywords.
func NewScorer() *Scorer {
	return &Scorer{HighValueKeywords: DefaultHighValueKeywords}
}

// Score combines the five weighted signals from spec.md §4.3.1 into the
// DiscoveryRecord's importance_score.
func (s *Scorer) Score(source records.DiscoverySource, anchorText string, isSameDomain bool, pathSegments int) float64 {
	confidence := sourceConfidence[source]
	anchor := 0.3
	if s.hasHighValueKeyword(anchorText) {
		anchor = 1.0
	}
	sameDomain := 0.0
	if isSameDomain {
		sameDomain = 1.0
	}
	depthPenalty := 1.0 / (1.0 + float64(pathSegments))
	sourcePriority := confidence

	return weightConfidence*confidence +
		weightAnchorText*anchor +
		weightSameDomain*sameDomain +
		weightDepthPenalty*depthPenalty +
		weightSourcePriority*sourcePriority
}

func (s *Scorer) hasHighValueKeyword(anchorText string) bool {
	lower := strings.ToLower(anchorText)
	for _, kw := range s.HighValueKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Confidence returns the discovery-source reliability value used both
// directly as the confidence signal and as the source-priority signal.
func Confidence(source records.DiscoverySource) float64 {
	return sourceConfidence[source]
}

// PathSegments counts non-empty path segments, used for the URL-depth
// penalty signal.
func PathSegments(path string) int {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	n := 0
	for _, p := range parts {
		if p != "" {
			n++
		}
	}
	return n
}
