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

// Package linkgraph persists the S1 link graph in an embedded SQLite
// database (spec.md §5: "any implementation meeting SQLite-level ACID
// per-statement is acceptable") and computes PageRank and HITS over it.
//
// Schema (reference, mirrors spec.md §6):
//
//	CREATE TABLE IF NOT EXISTS nodes (
//	  url_hash TEXT PRIMARY KEY,
//	  url TEXT NOT NULL,
//	  out_degree INTEGER NOT NULL DEFAULT 0,
//	  in_degree INTEGER NOT NULL DEFAULT 0,
//	  pagerank_score REAL NOT NULL DEFAULT 0,
//	  authority_score REAL NOT NULL DEFAULT 0,
//	  hub_score REAL NOT NULL DEFAULT 0
//	);
//	CREATE TABLE IF NOT EXISTS edges (
//	  source_hash TEXT NOT NULL,
//	  target_hash TEXT NOT NULL,
//	  discovery_depth INTEGER NOT NULL,
//	  PRIMARY KEY (source_hash, target_hash)
//	);
//	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_hash);
//	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_hash);
package linkgraph

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"crawlpipe/pkg/records"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS nodes (
  url_hash TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  out_degree INTEGER NOT NULL DEFAULT 0,
  in_degree INTEGER NOT NULL DEFAULT 0,
  pagerank_score REAL NOT NULL DEFAULT 0,
  authority_score REAL NOT NULL DEFAULT 0,
  hub_score REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS edges (
  source_hash TEXT NOT NULL,
  target_hash TEXT NOT NULL,
  discovery_depth INTEGER NOT NULL,
  PRIMARY KEY (source_hash, target_hash)
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_hash);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_hash);
`

// Store is the link-graph store: written only by S1, read-only to every
// later stage once S1 completes (spec.md §5).
type Store struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// Open opens (creating if necessary) a SQLite-backed Store at path. Use
// ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("linkgraph: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock storms
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("linkgraph: migrate: %w", err)
	}
	return &Store{db: db, defaultTimeout: 10 * time.Second}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ctx(parent context.Context) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	if _, ok := parent.Deadline(); ok {
		return parent, func() {}
	}
	return context.WithTimeout(parent, s.defaultTimeout)
}

// AddEdge records one discovery edge (source_hash -> target_hash) and
// upserts both endpoint nodes, incrementing out_degree/in_degree. Self-loops
// are stored (spec.md §3: "self-loops permitted but ignored by scoring").
func (s *Store) AddEdge(ctx context.Context, sourceHash, sourceURL, targetHash, targetURL string, depth int) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("linkgraph: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes(url_hash, url) VALUES (?, ?) ON CONFLICT(url_hash) DO NOTHING`,
		sourceHash, sourceURL); err != nil {
		return fmt.Errorf("linkgraph: upsert source node: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes(url_hash, url) VALUES (?, ?) ON CONFLICT(url_hash) DO NOTHING`,
		targetHash, targetURL); err != nil {
		return fmt.Errorf("linkgraph: upsert target node: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO edges(source_hash, target_hash, discovery_depth) VALUES (?, ?, ?)
		   ON CONFLICT(source_hash, target_hash) DO NOTHING`,
		sourceHash, targetHash, depth)
	if err != nil {
		return fmt.Errorf("linkgraph: insert edge: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET out_degree = out_degree + 1 WHERE url_hash = ?`, sourceHash); err != nil {
			return fmt.Errorf("linkgraph: bump out_degree: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET in_degree = in_degree + 1 WHERE url_hash = ?`, targetHash); err != nil {
			return fmt.Errorf("linkgraph: bump in_degree: %w", err)
		}
	}
	return tx.Commit()
}

// Nodes returns every node currently in the store.
func (s *Store) Nodes(ctx context.Context) ([]records.LinkGraphNode, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT url_hash, url, out_degree, in_degree, pagerank_score, authority_score, hub_score FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("linkgraph: query nodes: %w", err)
	}
	defer rows.Close()
	var out []records.LinkGraphNode
	for rows.Next() {
		var n records.LinkGraphNode
		if err := rows.Scan(&n.URLHash, &n.URL, &n.OutDegree, &n.InDegree, &n.PageRankScore, &n.AuthorityScore, &n.HubScore); err != nil {
			return nil, fmt.Errorf("linkgraph: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Edges returns every edge currently in the store.
func (s *Store) Edges(ctx context.Context) ([]records.LinkGraphEdge, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT source_hash, target_hash, discovery_depth FROM edges`)
	if err != nil {
		return nil, fmt.Errorf("linkgraph: query edges: %w", err)
	}
	defer rows.Close()
	var out []records.LinkGraphEdge
	for rows.Next() {
		var e records.LinkGraphEdge
		if err := rows.Scan(&e.SourceHash, &e.TargetHash, &e.DiscoveryDepth); err != nil {
			return nil, fmt.Errorf("linkgraph: scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ApplyScores writes back the PageRank/HITS scores computed by Rank over the
// current node set (spec.md §3: "scores are recomputed once before S2
// consumes them").
func (s *Store) ApplyScores(ctx context.Context, scores map[string]Scores) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("linkgraph: begin: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`UPDATE nodes SET pagerank_score = ?, authority_score = ?, hub_score = ? WHERE url_hash = ?`)
	if err != nil {
		return fmt.Errorf("linkgraph: prepare score update: %w", err)
	}
	defer stmt.Close()
	for hash, sc := range scores {
		if _, err := stmt.ExecContext(ctx, sc.PageRank, sc.Authority, sc.Hub, hash); err != nil {
			return fmt.Errorf("linkgraph: update scores(%s): %w", hash, err)
		}
	}
	return tx.Commit()
}

// Stats returns the structural gauges named in spec.md §4.6: node/edge
// counts, average and max out-degree, and the top-scoring node by PageRank
// and by authority.
func (s *Store) Stats(ctx context.Context) (GraphStats, error) {
	nodes, err := s.Nodes(ctx)
	if err != nil {
		return GraphStats{}, err
	}
	edges, err := s.Edges(ctx)
	if err != nil {
		return GraphStats{}, err
	}
	stats := GraphStats{Nodes: len(nodes), Edges: len(edges)}
	if len(nodes) == 0 {
		return stats, nil
	}
	var totalDegree int
	for _, n := range nodes {
		totalDegree += n.OutDegree
		if n.OutDegree > stats.MaxDegree {
			stats.MaxDegree = n.OutDegree
		}
		if n.PageRankScore > stats.TopPageRank {
			stats.TopPageRank = n.PageRankScore
			stats.TopPageRankHash = n.URLHash
		}
		if n.AuthorityScore > stats.TopAuthority {
			stats.TopAuthority = n.AuthorityScore
			stats.TopAuthorityHash = n.URLHash
		}
	}
	stats.AvgDegree = float64(totalDegree) / float64(len(nodes))
	return stats, nil
}

// GraphStats is the structural summary exposed through the metrics
// collector (spec.md §4.6).
type GraphStats struct {
	Nodes            int
	Edges            int
	AvgDegree        float64
	MaxDegree        int
	TopPageRank      float64
	TopPageRankHash  string
	TopAuthority     float64
	TopAuthorityHash string
}
