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

package linkgraph

import (
	"testing"

	"crawlpipe/pkg/records"
)

func TestPageRankSumsToOne(t *testing.T) {
	nodes := []records.LinkGraphNode{{URLHash: "a"}, {URLHash: "b"}, {URLHash: "c"}}
	edges := []records.LinkGraphEdge{
		{SourceHash: "a", TargetHash: "b"},
		{SourceHash: "b", TargetHash: "c"},
		{SourceHash: "c", TargetHash: "a"},
	}
	scores := Rank(nodes, edges)
	var sum float64
	for _, s := range scores {
		sum += s.PageRank
	}
	if diff := sum - 1.0; diff > 1e-3 || diff < -1e-3 {
		t.Errorf("pagerank sum = %v, want within 1e-3 of 1.0", sum)
	}
}

func TestPageRankIgnoresSelfLoops(t *testing.T) {
	nodes := []records.LinkGraphNode{{URLHash: "a"}, {URLHash: "b"}}
	edges := []records.LinkGraphEdge{
		{SourceHash: "a", TargetHash: "a"},
		{SourceHash: "a", TargetHash: "b"},
	}
	scores := Rank(nodes, edges)
	if scores["b"].PageRank <= scores["a"].PageRank {
		t.Errorf("expected b (the only real sink) to outrank a with a self-loop ignored: %+v", scores)
	}
}

func TestHITSScoresWithinUnitRange(t *testing.T) {
	nodes := []records.LinkGraphNode{{URLHash: "hub"}, {URLHash: "auth1"}, {URLHash: "auth2"}}
	edges := []records.LinkGraphEdge{
		{SourceHash: "hub", TargetHash: "auth1"},
		{SourceHash: "hub", TargetHash: "auth2"},
	}
	scores := Rank(nodes, edges)
	for hash, s := range scores {
		if s.Authority < 0 || s.Authority > 1 {
			t.Errorf("%s authority %v out of [0,1]", hash, s.Authority)
		}
		if s.Hub < 0 || s.Hub > 1 {
			t.Errorf("%s hub %v out of [0,1]", hash, s.Hub)
		}
	}
	if scores["hub"].Hub <= scores["auth1"].Hub {
		t.Errorf("expected hub node to have the higher hub score")
	}
	if scores["auth1"].Authority <= scores["hub"].Authority {
		t.Errorf("expected auth1 to have the higher authority score")
	}
}

func TestRankEmptyGraph(t *testing.T) {
	scores := Rank(nil, nil)
	if len(scores) != 0 {
		t.Errorf("expected empty scores for empty graph, got %v", scores)
	}
}
