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
	"math"

	"crawlpipe/pkg/records"
)

// Scores bundles one node's three link-analysis outputs.
type Scores struct {
	PageRank  float64
	Authority float64
	Hub       float64
}

const (
	damping       = 0.85
	tolerance     = 1e-6
	maxIterations = 100
)

// Rank computes PageRank and HITS (hub/authority) over the given node and
// edge set (spec.md §4.3.1), both by power iteration to the same
// convergence rule: stop when the L1 delta between iterations falls below
// tolerance, or after maxIterations. Self-loops are ignored by scoring
// (spec.md §3) by excluding edges where source == target from the
// adjacency lists consulted here.
func Rank(nodes []records.LinkGraphNode, edges []records.LinkGraphEdge) map[string]Scores {
	n := len(nodes)
	out := make(map[string]Scores, n)
	if n == 0 {
		return out
	}

	index := make(map[string]int, n)
	for i, node := range nodes {
		index[node.URLHash] = i
	}

	outLinks := make([][]int, n) // outLinks[i] = targets of node i
	inLinks := make([][]int, n)  // inLinks[i] = sources pointing to node i
	for _, e := range edges {
		if e.SourceHash == e.TargetHash {
			continue
		}
		si, sok := index[e.SourceHash]
		ti, tok := index[e.TargetHash]
		if !sok || !tok {
			continue
		}
		outLinks[si] = append(outLinks[si], ti)
		inLinks[ti] = append(inLinks[ti], si)
	}

	pr := pageRank(n, outLinks, inLinks)
	auth, hub := hits(n, outLinks, inLinks)

	for i, node := range nodes {
		out[node.URLHash] = Scores{PageRank: pr[i], Authority: auth[i], Hub: hub[i]}
	}
	return out
}

// pageRank runs the classical power-iteration method with uniform
// teleportation across dangling nodes (out-degree 0), so the output
// distribution sums to 1.0 within 1e-3 (spec.md §8).
func pageRank(n int, outLinks, inLinks [][]int) []float64 {
	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}
	outDegree := make([]int, n)
	for i := range outLinks {
		outDegree[i] = len(outLinks[i])
	}

	next := make([]float64, n)
	for iter := 0; iter < maxIterations; iter++ {
		var danglingMass float64
		for i, deg := range outDegree {
			if deg == 0 {
				danglingMass += rank[i]
			}
		}
		base := (1 - damping) / float64(n)
		danglingShare := damping * danglingMass / float64(n)
		for i := range next {
			next[i] = base + danglingShare
		}
		for i, targets := range outLinks {
			if len(targets) == 0 {
				continue
			}
			share := damping * rank[i] / float64(len(targets))
			for _, t := range targets {
				next[t] += share
			}
		}

		delta := l1Delta(rank, next)
		copy(rank, next)
		if delta < tolerance {
			break
		}
	}
	normalize(rank)
	return rank
}

// hits runs Kleinberg's HITS algorithm: authority scores accumulate
// in-link hub mass, hub scores accumulate out-link authority mass, each
// re-normalized to unit L2 norm every iteration, then rescaled to [0,1] by
// max value at the end to match the node table's stated [0,1] range.
func hits(n int, outLinks, inLinks [][]int) (authority, hub []float64) {
	authority = make([]float64, n)
	hub = make([]float64, n)
	for i := range authority {
		authority[i] = 1
		hub[i] = 1
	}

	nextAuth := make([]float64, n)
	nextHub := make([]float64, n)
	for iter := 0; iter < maxIterations; iter++ {
		for i := range nextAuth {
			var sum float64
			for _, src := range inLinks[i] {
				sum += hub[src]
			}
			nextAuth[i] = sum
		}
		for i := range nextHub {
			var sum float64
			for _, dst := range outLinks[i] {
				sum += authority[dst]
			}
			nextHub[i] = sum
		}
		normalizeL2(nextAuth)
		normalizeL2(nextHub)

		deltaA := l1Delta(authority, nextAuth)
		deltaH := l1Delta(hub, nextHub)
		copy(authority, nextAuth)
		copy(hub, nextHub)
		if deltaA < tolerance && deltaH < tolerance {
			break
		}
	}
	rescaleToUnitRange(authority)
	rescaleToUnitRange(hub)
	return authority, hub
}

func l1Delta(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := b[i] - a[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}

func normalizeL2(v []float64) {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq <= 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] /= norm
	}
}

func rescaleToUnitRange(v []float64) {
	var max float64
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	if max <= 0 {
		return
	}
	for i := range v {
		v[i] /= max
	}
}
