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

// Package discovery implements the S1 breadth-first crawl runner (spec.md
// §4.3.1): it walks outbound links starting from a seed list, bounded by
// max_depth, scoring and recording every discovered edge, and builds the
// link graph consumed by S2's priority ordering. Its pipeline shape — bounded
// channels, a fixed-size pool of worker goroutines, atomic counters, periodic
// progress records — is grounded on the teacher's lister/matcher/writer
// crawl loop (other_examples 3leaps-gonimbus crawler.go).
package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"crawlpipe/internal/checkpoint"
	"crawlpipe/internal/classify"
	"crawlpipe/internal/httpx"
	"crawlpipe/internal/linkgraph"
	"crawlpipe/internal/obs"
	"crawlpipe/pkg/records"
	"crawlpipe/pkg/recordlog"
	"crawlpipe/pkg/urlcanon"
)

const stageID = "discovery"

// maxBodyBytes caps how much of a fetched page is read for link extraction;
// pages are for link discovery only here, so a generous but bounded cap
// avoids a single huge page stalling the stage.
const maxBodyBytes = 4 << 20

// Config parameterizes a Runner (spec.md §4.3.1, §6).
type Config struct {
	SeedPath           string
	MaxDepth           int // 0..10
	Concurrency        int // global concurrent request cap
	ChannelBuffer      int
	ExcludedExtensions []string
	MaxPaginationPages int
	StrictHostPolicy   bool // use urlcanon.StrictHostMatch instead of SameRegisteredDomain
	HostRateLimit      float64
}

// DefaultConfig returns the stage's defaults (spec.md §4.3.1, §6).
func DefaultConfig() Config {
	return Config{
		MaxDepth:           5,
		Concurrency:        16,
		ChannelBuffer:      1000,
		ExcludedExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".css", ".js", ".zip", ".exe"},
		MaxPaginationPages: 3,
	}
}

// Summary reports aggregate S1 statistics (spec.md §4.3.1; shape grounded on
// the teacher's crawler.Summary).
type Summary struct {
	URLsDiscovered int64
	URLsFetched    int64
	FetchErrors    int64
	Duration       time.Duration
}

// Runner executes one discovery crawl. Runner is safe for single use only.
type Runner struct {
	cfg       Config
	client    *httpx.Client
	extractor HTMLExtractor
	scorer    *Scorer
	graph     *linkgraph.Store
	out       *recordlog.Log[records.DiscoveryRecord]
	ckpt      *checkpoint.Manager
	metrics   *obs.Metrics
	log       zerolog.Logger
	seen      *seenSet

	discovered atomic.Int64
	fetched    atomic.Int64
	fetchErrs  atomic.Int64
}

// New constructs a Runner. seenPath is the on-disk dedup set location,
// conventionally <checkpoint-dir>/discovery.seen.
func New(cfg Config, client *httpx.Client, extractor HTMLExtractor, graph *linkgraph.Store,
	out *recordlog.Log[records.DiscoveryRecord], ckpt *checkpoint.Manager, metrics *obs.Metrics,
	log zerolog.Logger, seenPath string) (*Runner, error) {

	seen, err := openSeenSet(seenPath)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:       cfg,
		client:    client,
		extractor: extractor,
		scorer:    NewScorer(),
		graph:     graph,
		out:       out,
		ckpt:      ckpt,
		metrics:   metrics,
		log:       obs.Stage(log, stageID),
		seen:      seen,
	}, nil
}

// LoadSeeds reads one URL per line from path; blank lines and lines starting
// with '#' are ignored (spec.md §6 "Seed input format").
func LoadSeeds(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, classify.Wrap(err, classify.Input, "discovery.LoadSeeds")
	}
	defer f.Close()
	var seeds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	return seeds, scanner.Err()
}

// item is one unit of crawl work flowing through the frontier channel.
type item struct {
	url        string
	depth      int
	sourceURL  string
	source     records.DiscoverySource
	anchorText string
}

// Run executes the BFS crawl against seeds and returns aggregate statistics.
// The caller must already have opened stageID ("discovery") against r.ckpt
// via Manager.Open before calling Run; total_items starts at whatever Open
// reported and grows as the traversal discovers new candidates (GrowTotal).
// Cancelling ctx aborts at the next batch boundary: in-flight fetches
// complete, already-extracted candidates are recorded, and the output log
// and checkpoint are flushed before Run returns (spec.md §4.3.1).
func (r *Runner) Run(ctx context.Context, seeds []string) (*Summary, error) {
	start := time.Now()
	defer r.seen.close()

	if err := r.ckpt.Transition(stageID, checkpoint.StatusRunning); err != nil {
		return nil, classify.Wrap(err, classify.Persistence, "discovery.Run:transition-running")
	}

	primaryDomain := ""
	if len(seeds) > 0 {
		if u, err := url.Parse(seeds[0]); err == nil {
			primaryDomain = u.Hostname()
		}
	}
	excluded := map[string]bool{}
	for _, ext := range r.cfg.ExcludedExtensions {
		excluded[strings.ToLower(ext)] = true
	}

	work := make(chan item, r.cfg.ChannelBuffer)
	var inFlight atomic.Int64
	var index atomic.Int64

	enqueue := func(it item) {
		inFlight.Add(1)
		select {
		case work <- it:
		case <-ctx.Done():
			inFlight.Add(-1)
		}
	}

	for _, s := range seeds {
		enqueue(item{url: s, depth: 0, source: records.SourceSeed})
	}

	closeWhenDrained := make(chan struct{})
	go func() {
		defer close(closeWhenDrained)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if inFlight.Load() == 0 {
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	concurrency := r.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConfig().Concurrency
	}
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-closeWhenDrained:
					return
				case <-ctx.Done():
					return
				case it, ok := <-work:
					if !ok {
						return
					}
					r.process(ctx, it, primaryDomain, excluded, &index, enqueue)
					inFlight.Add(-1)
				}
			}
		}()
	}

	<-closeWhenDrained
	wg.Wait()
	close(work)

	if err := r.finalize(ctx); err != nil {
		return nil, err
	}

	status := checkpoint.StatusCompleted
	if ctx.Err() != nil {
		status = checkpoint.StatusPaused
	}
	if err := r.ckpt.Transition(stageID, status); err != nil {
		return nil, classify.Wrap(err, classify.Persistence, "discovery.Run:transition-final")
	}

	return &Summary{
		URLsDiscovered: r.discovered.Load(),
		URLsFetched:    r.fetched.Load(),
		FetchErrors:    r.fetchErrs.Load(),
		Duration:       time.Since(start),
	}, ctx.Err()
}

// process fetches one URL, extracts candidate links, canonicalizes and
// filters them, records the resulting discovery edges, and enqueues
// within-depth children.
func (r *Runner) process(ctx context.Context, it item, primaryDomain string, excluded map[string]bool,
	index *atomic.Int64, enqueue func(item)) {

	canonical, hash, err := urlcanon.CanonicalHash(it.url)
	if err != nil {
		return // non-http(s) or unparseable: silently dropped per filter rule
	}
	if hasExcludedExtension(canonical, excluded) {
		return
	}
	sourceURL := it.sourceURL
	if sourceURL == "" {
		// Seeds have no parent page; self-reference so source_url still
		// satisfies DiscoveryRecord's non-empty, well-formed-URL invariant.
		sourceURL = canonical
	}
	if !r.seen.addIfNew(hash) {
		return
	}

	isSameDomain := r.isSameDomain(primaryDomain, canonical)
	idx := index.Add(1)
	r.ckpt.GrowTotal(stageID, idx)

	confidence := Confidence(it.source)
	pathSegments := PathSegments(mustPath(canonical))
	score := r.scorer.Score(it.source, it.anchorText, isSameDomain, pathSegments)

	rec := records.DiscoveryRecord{
		SourceURL:       sourceURL,
		DiscoveredURL:   canonical,
		URLHash:         hash,
		FirstSeen:       time.Now().UTC(),
		DiscoveryDepth:  it.depth,
		DiscoverySource: it.source,
		AnchorText:      it.anchorText,
		IsSameDomain:    isSameDomain,
		Confidence:      confidence,
		ImportanceScore: score,
		SchemaVersion:   records.SchemaVersion,
	}
	if errs := rec.Validate(); len(errs) > 0 {
		r.log.Warn().Str("url_hash", hash).Interface("errors", errs).Msg("discovery record failed schema guard")
		_ = r.ckpt.RecordItem(stageID, idx, hash, checkpoint.OutcomeFailed)
		return
	}
	if err := r.out.Append(rec); err != nil {
		r.log.Error().Err(err).Msg("failed to append discovery record")
		_ = r.ckpt.RecordItem(stageID, idx, hash, checkpoint.OutcomeFailed)
		return
	}
	r.discovered.Add(1)
	if r.metrics != nil {
		r.metrics.URLsDiscoveredTotal.Inc()
	}
	_ = r.ckpt.RecordItem(stageID, idx, hash, checkpoint.OutcomeSuccess)

	if it.sourceURL != "" {
		if _, sourceHash, err := urlcanon.CanonicalHash(it.sourceURL); err == nil {
			if err := r.graph.AddEdge(ctx, sourceHash, it.sourceURL, hash, canonical, it.depth); err != nil {
				r.log.Warn().Err(err).Msg("failed to record link-graph edge")
			}
		}
	}

	if it.depth >= r.cfg.MaxDepth || !isSameDomain {
		return
	}
	if ctx.Err() != nil {
		return
	}

	body, contentType, fetchErr := r.fetch(ctx, canonical)
	if fetchErr != nil {
		r.fetchErrs.Add(1)
		if r.metrics != nil {
			r.metrics.FetchErrorsTotal.WithLabelValues(classify.Of(fetchErr).String()).Inc()
		}
		r.log.Debug().Err(fetchErr).Str("url", canonical).Msg("fetch failed during discovery traversal")
		return
	}
	r.fetched.Add(1)
	if !strings.Contains(contentType, "html") {
		return
	}

	for _, cand := range r.extractor.Extract(canonical, body) {
		resolved := resolveURL(canonical, cand.URL)
		if resolved == "" {
			continue
		}
		enqueue(item{
			url:        resolved,
			depth:      it.depth + 1,
			sourceURL:  canonical,
			source:     cand.Source,
			anchorText: cand.AnchorText,
		})
	}
}

func (r *Runner) fetch(ctx context.Context, u string) ([]byte, string, error) {
	resp, err := r.client.Get(ctx, u)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, "", classify.Wrap(fmt.Errorf("status %d", resp.StatusCode), classify.Protocol, "discovery.fetch")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", classify.Wrap(err, classify.Transport, "discovery.fetch:read-body")
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (r *Runner) isSameDomain(primaryDomain, candidate string) bool {
	if primaryDomain == "" {
		return true
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	if r.cfg.StrictHostPolicy {
		return urlcanon.StrictHostMatch(primaryDomain, u.Hostname())
	}
	return urlcanon.SameRegisteredDomain(primaryDomain, u.Hostname())
}

// finalize flushes the output log, computes PageRank/HITS over the
// finished graph, and writes the scores back (spec.md §4.3.1: "At stage
// end, compute PageRank ... and HITS").
func (r *Runner) finalize(ctx context.Context) error {
	if err := r.out.Flush(); err != nil {
		return classify.Wrap(err, classify.Persistence, "discovery.finalize:flush-output")
	}
	if err := r.seen.flush(); err != nil {
		return classify.Wrap(err, classify.Persistence, "discovery.finalize:flush-seen")
	}
	if err := r.ckpt.Flush(stageID); err != nil {
		return classify.Wrap(err, classify.Persistence, "discovery.finalize:flush-checkpoint")
	}

	nodes, err := r.graph.Nodes(ctx)
	if err != nil {
		return classify.Wrap(err, classify.Persistence, "discovery.finalize:load-nodes")
	}
	edges, err := r.graph.Edges(ctx)
	if err != nil {
		return classify.Wrap(err, classify.Persistence, "discovery.finalize:load-edges")
	}
	scores := linkgraph.Rank(nodes, edges)
	if err := r.graph.ApplyScores(ctx, scores); err != nil {
		return classify.Wrap(err, classify.Persistence, "discovery.finalize:apply-scores")
	}
	if r.metrics != nil {
		r.metrics.LinkGraphNodes.Set(float64(len(nodes)))
		r.metrics.LinkGraphEdges.Set(float64(len(edges)))
	}
	return nil
}

func hasExcludedExtension(canonical string, excluded map[string]bool) bool {
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for ext := range excluded {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}

func mustPath(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	return u.Path
}
