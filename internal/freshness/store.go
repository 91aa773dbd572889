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

// Package freshness tracks per-URL HTTP validators (Last-Modified, ETag)
// and derives staleness and churn, backed by the same embedded SQLite store
// shape as internal/linkgraph (spec.md §5: single writer — S2 — per active
// stage; reads from any stage must tolerate concurrent writes).
package freshness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"crawlpipe/pkg/records"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS freshness (
  url_hash TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  last_modified TEXT,
  etag TEXT,
  last_validated TEXT NOT NULL,
  validation_count INTEGER NOT NULL DEFAULT 0,
  content_changed_count INTEGER NOT NULL DEFAULT 0,
  staleness_score REAL NOT NULL DEFAULT 0,
  domain TEXT NOT NULL,
  content_type TEXT
);
CREATE INDEX IF NOT EXISTS idx_freshness_domain ON freshness(domain);
`

// Store is the freshness store (spec.md §3, §6).
type Store struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// Open opens (creating if necessary) a SQLite-backed Store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("freshness: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("freshness: migrate: %w", err)
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

// Get returns the current FreshnessRecord for urlHash, and false if none
// exists yet (the URL has never been validated).
func (s *Store) Get(ctx context.Context, urlHash string) (records.FreshnessRecord, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`SELECT url_hash, url, last_modified, etag, last_validated, validation_count,
		        content_changed_count, staleness_score, domain, content_type
		   FROM freshness WHERE url_hash = ?`, urlHash)

	var rec records.FreshnessRecord
	var lastValidated string
	var lastModified, etag, contentType sql.NullString
	err := row.Scan(&rec.URLHash, &rec.URL, &lastModified, &etag, &lastValidated,
		&rec.ValidationCount, &rec.ContentChangedCount, &rec.StalenessScore, &rec.Domain, &contentType)
	if err == sql.ErrNoRows {
		return records.FreshnessRecord{}, false, nil
	}
	if err != nil {
		return records.FreshnessRecord{}, false, fmt.Errorf("freshness: get %s: %w", urlHash, err)
	}
	rec.LastModified = lastModified.String
	rec.ETag = etag.String
	rec.ContentType = contentType.String
	rec.LastValidated, _ = time.Parse(time.RFC3339, lastValidated)
	return rec, true, nil
}

// Observe folds one validation outcome into urlHash's freshness record: it
// increments validation_count, increments content_changed_count when
// lastModified or etag differ from the stored value, recomputes
// staleness_score, and upserts the row (spec.md §4.3.2 step 6).
func (s *Store) Observe(ctx context.Context, urlHash, url, domain, contentType, lastModified, etag string, validatedAt time.Time) (records.FreshnessRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	prior, existed, err := s.Get(ctx, urlHash)
	if err != nil {
		return records.FreshnessRecord{}, err
	}

	rec := prior
	rec.URLHash = urlHash
	rec.URL = url
	rec.Domain = domain
	rec.ContentType = contentType
	rec.ValidationCount++
	if existed && (prior.LastModified != lastModified || prior.ETag != etag) && (lastModified != "" || etag != "") {
		rec.ContentChangedCount++
	}
	rec.LastModified = lastModified
	rec.ETag = etag
	rec.LastValidated = validatedAt
	rec.StalenessScore = StalenessScore(rec, validatedAt)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO freshness(url_hash, url, last_modified, etag, last_validated, validation_count,
		                       content_changed_count, staleness_score, domain, content_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
		  url = excluded.url, last_modified = excluded.last_modified, etag = excluded.etag,
		  last_validated = excluded.last_validated, validation_count = excluded.validation_count,
		  content_changed_count = excluded.content_changed_count, staleness_score = excluded.staleness_score,
		  domain = excluded.domain, content_type = excluded.content_type`,
		rec.URLHash, rec.URL, rec.LastModified, rec.ETag, rec.LastValidated.UTC().Format(time.RFC3339),
		rec.ValidationCount, rec.ContentChangedCount, rec.StalenessScore, rec.Domain, rec.ContentType)
	if err != nil {
		return records.FreshnessRecord{}, fmt.Errorf("freshness: upsert %s: %w", urlHash, err)
	}
	return rec, nil
}

// ShouldRevalidate reports whether urlHash is due for revalidation (spec.md
// §4.5): hours since last_validated >= minFreshHours, or staleness_score >=
// 0.8. A URL never validated is always due.
func (s *Store) ShouldRevalidate(ctx context.Context, urlHash string, minFreshHours float64) (bool, error) {
	rec, ok, err := s.Get(ctx, urlHash)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	hours := time.Since(rec.LastValidated).Hours()
	return hours >= minFreshHours || rec.StalenessScore >= 0.8, nil
}

// DomainChurnRates returns the per-domain content_changed_count /
// validation_count gauge for every domain present, the DomainChurnRate
// metric wired in internal/obs (spec.md §4.6).
func (s *Store) DomainChurnRates(ctx context.Context) (map[string]float64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, SUM(content_changed_count), SUM(validation_count)
		  FROM freshness GROUP BY domain`)
	if err != nil {
		return nil, fmt.Errorf("freshness: query churn: %w", err)
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var domain string
		var changed, validated int64
		if err := rows.Scan(&domain, &changed, &validated); err != nil {
			return nil, fmt.Errorf("freshness: scan churn: %w", err)
		}
		if validated == 0 {
			out[domain] = 0
			continue
		}
		out[domain] = float64(changed) / float64(validated)
	}
	return out, rows.Err()
}
