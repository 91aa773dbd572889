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

package enrichment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"crawlpipe/pkg/records"
	"crawlpipe/pkg/recordlog"
)

// Sink is the polymorphic S3 output capability set named in spec.md §4.3.3:
// append(record), flush(), rotate_if_needed(). Every variant below
// implements it; the runner is written against the interface only.
type Sink interface {
	Append(rec records.EnrichmentRecord) error
	Flush() error
	RotateIfNeeded() error
	Close() error
}

// JSONLSink is the append-only line-oriented log variant, backed by
// pkg/recordlog the same way S1/S2 write their output, with an optional
// rotating-chunk mode (rotateEvery > 0 cuts a new numbered file once the
// current one holds that many records), grounded on
// internal/sinks/sbatch_file_sink.go's buffered-JSONL shape.
type JSONLSink struct {
	mu          sync.Mutex
	basePath    string
	rotateEvery int
	chunk       int
	written     int
	log         *recordlog.Log[records.EnrichmentRecord]
}

// NewJSONLSink opens basePath for appending. rotateEvery <= 0 disables
// rotation (plain append-only log).
func NewJSONLSink(basePath string, rotateEvery int) (*JSONLSink, error) {
	log, err := recordlog.Open[records.EnrichmentRecord](basePath)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{basePath: basePath, rotateEvery: rotateEvery, log: log}, nil
}

func (s *JSONLSink) Append(rec records.EnrichmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.log.Append(rec); err != nil {
		return err
	}
	s.written++
	return nil
}

func (s *JSONLSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Flush()
}

// RotateIfNeeded cuts a new chunk file once the current one has reached
// rotateEvery records (spec.md §4.3.3 "rotating chunks at N items").
func (s *JSONLSink) RotateIfNeeded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rotateEvery <= 0 || s.written < s.rotateEvery {
		return nil
	}
	if err := s.log.Flush(); err != nil {
		return err
	}
	if err := s.log.Close(); err != nil {
		return err
	}
	s.chunk++
	next := chunkPath(s.basePath, s.chunk)
	log, err := recordlog.Open[records.EnrichmentRecord](next)
	if err != nil {
		return err
	}
	s.log = log
	s.written = 0
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Close()
}

func chunkPath(base string, n int) string {
	if idx := strings.LastIndex(base, "."); idx > 0 {
		return base[:idx] + ".chunk" + strconv.Itoa(n) + base[idx:]
	}
	return base + ".chunk" + strconv.Itoa(n)
}

// SQLiteSink is the relational row-insert variant, embedded SQLite the same
// way internal/linkgraph and internal/freshness persist their state
// (spec.md §4.3.3 "relational row insert").
type SQLiteSink struct {
	mu sync.Mutex
	db *sql.DB
}

const enrichmentSchemaDDL = `
CREATE TABLE IF NOT EXISTS enrichment (
  url_hash TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  title TEXT,
  word_count INTEGER NOT NULL,
  entities TEXT,
  keywords TEXT,
  content_tags TEXT,
  has_pdf_links INTEGER NOT NULL DEFAULT 0,
  has_audio_links INTEGER NOT NULL DEFAULT 0,
  error_class TEXT,
  error_message TEXT,
  enriched_at TEXT NOT NULL
);
`

// NewSQLiteSink opens (creating if necessary) a SQLite-backed Sink at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("enrichment: open sqlite sink %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(enrichmentSchemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("enrichment: migrate sqlite sink: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Append(rec records.EnrichmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errClass, errMessage string
	if rec.Error != nil {
		errClass, errMessage = rec.Error.Class, rec.Error.Message
	}
	_, err := s.db.Exec(`
		INSERT INTO enrichment(url_hash, url, title, word_count, entities, keywords, content_tags,
		                        has_pdf_links, has_audio_links, error_class, error_message, enriched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
		  url=excluded.url, title=excluded.title, word_count=excluded.word_count,
		  entities=excluded.entities, keywords=excluded.keywords, content_tags=excluded.content_tags,
		  has_pdf_links=excluded.has_pdf_links, has_audio_links=excluded.has_audio_links,
		  error_class=excluded.error_class, error_message=excluded.error_message, enriched_at=excluded.enriched_at`,
		rec.URLHash, rec.URL, rec.Title, rec.WordCount,
		strings.Join(rec.Entities, "\x1f"), strings.Join(rec.Keywords, "\x1f"), strings.Join(rec.ContentTags, "\x1f"),
		boolToInt(rec.HasPDFLinks), boolToInt(rec.HasAudioLinks), errClass, errMessage,
		rec.EnrichedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	if err != nil {
		return fmt.Errorf("enrichment: insert %s: %w", rec.URLHash, err)
	}
	return nil
}

func (s *SQLiteSink) Flush() error          { return nil }
func (s *SQLiteSink) RotateIfNeeded() error { return nil }
func (s *SQLiteSink) Close() error          { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RedisSink is the remote-object-style push variant: every EnrichmentRecord
// is pushed as a JSON blob onto a capped Redis list, grounded on
// internal/obs/remote.go's RedisPusher (same go-redis/v9 client, same
// "at-most-once push, bounded list" shape).
type RedisSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisSink builds a RedisSink pushing onto key, trimmed to maxLen
// entries.
func NewRedisSink(addr, key string, maxLen int64) *RedisSink {
	return &RedisSink{client: redis.NewClient(&redis.Options{Addr: addr}), key: key, maxLen: maxLen}
}

func (s *RedisSink) Append(rec records.EnrichmentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("enrichment: marshal for redis sink: %w", err)
	}
	ctx := context.Background()
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, payload)
	if s.maxLen > 0 {
		pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("enrichment: redis sink push: %w", err)
	}
	return nil
}

func (s *RedisSink) Flush() error          { return nil }
func (s *RedisSink) RotateIfNeeded() error { return nil }
func (s *RedisSink) Close() error          { return s.client.Close() }
