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

package validation

import (
	"hash/fnv"
	"sort"

	"crawlpipe/internal/linkgraph"
)

const (
	weightPageRank  = 0.4
	weightAuthority = 0.4
	weightInlinks   = 0.2
)

// candidate pairs one queued URL with the link-graph scores needed to
// compute its composite priority (spec.md §4.3.2).
type candidate struct {
	urlHash string
	scores  linkgraph.Scores
	inDeg   int
}

// priority returns the composite ordering key from spec.md §4.3.2:
// 0.4*pagerank + 0.4*authority + 0.2*normalized_inlink_count.
func priority(c candidate, maxInDeg int) float64 {
	normalizedInlinks := 0.0
	if maxInDeg > 0 {
		normalizedInlinks = float64(c.inDeg) / float64(maxInDeg)
	}
	return weightPageRank*c.scores.PageRank + weightAuthority*c.scores.Authority + weightInlinks*normalizedInlinks
}

// OrderBatch reorders urlHashes by descending composite priority when
// scores is non-empty; when scores is empty (no link-graph available) it
// returns the input unchanged (FIFO), per spec.md §4.3.2. abTestFraction in
// [0,1] deterministically routes that fraction of distinct batchID values
// to FIFO regardless of scores, the measurement knob named in spec.md
// §4.3.2 ("An A/B knob splits a fraction of batches into FIFO").
func OrderBatch(batchID string, urlHashes []string, scores map[string]linkgraph.Scores, inDegree map[string]int, abTestFraction float64) []string {
	if len(scores) == 0 || isABControlBatch(batchID, abTestFraction) {
		return urlHashes
	}

	maxInDeg := 0
	for _, h := range urlHashes {
		if d := inDegree[h]; d > maxInDeg {
			maxInDeg = d
		}
	}

	ordered := make([]string, len(urlHashes))
	copy(ordered, urlHashes)
	priorities := make(map[string]float64, len(urlHashes))
	for _, h := range ordered {
		priorities[h] = priority(candidate{urlHash: h, scores: scores[h], inDeg: inDegree[h]}, maxInDeg)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return priorities[ordered[i]] > priorities[ordered[j]]
	})
	return ordered
}

// isABControlBatch deterministically assigns batchID to the FIFO control
// group so a given batch always lands in the same arm across resumes.
func isABControlBatch(batchID string, fraction float64) bool {
	if fraction <= 0 {
		return false
	}
	if fraction >= 1 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(batchID))
	return float64(h.Sum32()%10000)/10000.0 < fraction
}
