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
	"context"
	"testing"
)

func TestAddEdgeUpdatesDegrees(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.AddEdge(ctx, "a", "https://u.example/a", "b", "https://u.example/b", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.AddEdge(ctx, "a", "https://u.example/a", "b", "https://u.example/b", 1); err != nil {
		t.Fatal(err) // duplicate edge must be a no-op, not an error
	}

	nodes, err := s.Nodes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	byHash := map[string]int{}
	for _, n := range nodes {
		if n.URLHash == "a" {
			if n.OutDegree != 1 {
				t.Errorf("got out_degree %d, want 1 (duplicate edge must not double-count)", n.OutDegree)
			}
		}
		byHash[n.URLHash]++
	}
	if byHash["a"] != 1 || byHash["b"] != 1 {
		t.Errorf("expected exactly one row per node, got %v", byHash)
	}

	edges, err := s.Edges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Errorf("got %d edges, want 1", len(edges))
	}
}

func TestApplyScoresAndStats(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	s.AddEdge(ctx, "a", "https://u.example/a", "b", "https://u.example/b", 1)
	s.AddEdge(ctx, "b", "https://u.example/b", "c", "https://u.example/c", 2)

	nodes, _ := s.Nodes(ctx)
	edges, _ := s.Edges(ctx)
	scores := Rank(nodes, edges)
	if err := s.ApplyScores(ctx, scores); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Nodes != 3 || stats.Edges != 2 {
		t.Errorf("got stats %+v, want 3 nodes / 2 edges", stats)
	}
}
