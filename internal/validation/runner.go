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

// Package validation implements the S2 runner (spec.md §4.3.2): it issues a
// HEAD-then-GET validation protocol per URL, with retry/backoff on transient
// failures, updates the freshness store, and orders each batch by link-graph
// priority when scores are available.
package validation

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crawlpipe/internal/adaptive"
	"crawlpipe/internal/checkpoint"
	"crawlpipe/internal/classify"
	"crawlpipe/internal/freshness"
	"crawlpipe/internal/httpx"
	"crawlpipe/internal/linkgraph"
	"crawlpipe/internal/obs"
	"crawlpipe/pkg/records"
	"crawlpipe/pkg/recordlog"
)

const stageID = "validation"

// contentLengthSanityCap bounds how many streamed bytes are counted toward
// content_length when the header is absent or malformed (spec.md §4.3.2
// "Content-Length governance").
const contentLengthSanityCap = 100 << 20

// DefaultAcceptableContentTypes is the configurable is_valid content-type
// allow-list (SPEC_FULL.md §12 resolution of the acceptable-Content-Type
// Open Question).
var DefaultAcceptableContentTypes = []string{"text/html", "application/xhtml+xml", "text/plain"}

// Config parameterizes a Runner (spec.md §4.3.2, §6).
type Config struct {
	MaxConcurrency          int           // 1..500
	Timeout                 time.Duration // per-attempt timeout; 1s..300s
	MaxRetries              int           // R
	BatchSize               int
	ABTestFraction          float64
	AcceptableContentTypes  []string
}

// DefaultConfig returns the stage's defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:         50,
		Timeout:                30 * time.Second,
		MaxRetries:             2,
		BatchSize:              100,
		AcceptableContentTypes: DefaultAcceptableContentTypes,
	}
}

// Runner executes one validation pass. Runner is safe for single use only.
type Runner struct {
	cfg        Config
	client     *httpx.Client
	controller *adaptive.Controller
	fresh      *freshness.Store
	graph      *linkgraph.Store
	out        *recordlog.Log[records.ValidationRecord]
	ckpt       *checkpoint.Manager
	metrics    *obs.Metrics
	log        zerolog.Logger
	acceptable map[string]bool
}

// New constructs a Runner. graph may be nil, in which case batches are
// always processed FIFO (spec.md §4.3.2 "otherwise FIFO").
func New(cfg Config, client *httpx.Client, controller *adaptive.Controller, fresh *freshness.Store,
	graph *linkgraph.Store, out *recordlog.Log[records.ValidationRecord], ckpt *checkpoint.Manager,
	metrics *obs.Metrics, log zerolog.Logger) *Runner {

	if len(cfg.AcceptableContentTypes) == 0 {
		cfg.AcceptableContentTypes = DefaultAcceptableContentTypes
	}
	acceptable := map[string]bool{}
	for _, ct := range cfg.AcceptableContentTypes {
		acceptable[ct] = true
	}
	return &Runner{
		cfg: cfg, client: client, controller: controller, fresh: fresh, graph: graph,
		out: out, ckpt: ckpt, metrics: metrics, log: obs.Stage(log, stageID), acceptable: acceptable,
	}
}

// Input is one S1 record flowing into S2, carrying only what validation
// needs from the upstream DiscoveryRecord.
type Input struct {
	URL     string
	URLHash string
}

// Run validates every item in items, batching by cfg.BatchSize and ordering
// each batch by link-graph priority when scores are present (spec.md
// §4.3.2). Cancelling ctx aborts at the next batch boundary.
func (r *Runner) Run(ctx context.Context, items []Input) (int64, error) {
	if err := r.ckpt.Transition(stageID, checkpoint.StatusRunning); err != nil {
		return 0, classify.Wrap(err, classify.Persistence, "validation.Run:transition-running")
	}

	scores, inDegree := r.loadGraphContext(ctx)

	byHash := make(map[string]Input, len(items))
	for _, it := range items {
		byHash[it.URLHash] = it
	}

	var index int64
	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultConfig().BatchSize
	}
	for start := 0; start < len(items); start += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]
		hashes := make([]string, len(batch))
		for i, it := range batch {
			hashes[i] = it.URLHash
		}
		batchID := strconv.Itoa(start / batchSize)
		ordered := OrderBatch(batchID, hashes, scores, inDegree, r.cfg.ABTestFraction)

		var wg sync.WaitGroup
		for _, hash := range ordered {
			if ctx.Err() != nil {
				break
			}
			it, ok := byHash[hash]
			if !ok {
				continue
			}
			index++
			r.ckpt.GrowTotal(stageID, index)
			if err := r.controller.Acquire(ctx); err != nil {
				break
			}
			wg.Add(1)
			go func(idx int64, in Input) {
				defer wg.Done()
				defer r.controller.Release()
				r.validateOne(ctx, idx, in)
			}(index, it)
		}
		wg.Wait()
	}

	if err := r.finalize(ctx); err != nil {
		return index, err
	}
	status := checkpoint.StatusCompleted
	if ctx.Err() != nil {
		status = checkpoint.StatusPaused
	}
	if err := r.ckpt.Transition(stageID, status); err != nil {
		return index, classify.Wrap(err, classify.Persistence, "validation.Run:transition-final")
	}
	return index, ctx.Err()
}

func (r *Runner) loadGraphContext(ctx context.Context) (map[string]linkgraph.Scores, map[string]int) {
	if r.graph == nil {
		return nil, nil
	}
	nodes, err := r.graph.Nodes(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to load link-graph nodes for priority ordering; falling back to FIFO")
		return nil, nil
	}
	scores := make(map[string]linkgraph.Scores, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		scores[n.URLHash] = linkgraph.Scores{PageRank: n.PageRankScore, Authority: n.AuthorityScore, Hub: n.HubScore}
		inDegree[n.URLHash] = n.InDegree
	}
	return scores, inDegree
}

// validateOne runs the HEAD-then-GET protocol with retry/backoff for one
// URL and appends the resulting ValidationRecord.
func (r *Runner) validateOne(ctx context.Context, index int64, in Input) {
	start := time.Now()
	domain := ""
	if u, err := url.Parse(in.URL); err == nil {
		domain = u.Hostname()
	}

	var (
		attemptResult attemptOutcome
		attemptErr    error
	)
	for attempt := 1; ; attempt++ {
		attemptResult, attemptErr = r.attempt(ctx, in.URL)

		retryable := false
		if attemptErr != nil {
			retryable = classify.Of(attemptErr).Retryable()
		} else if retryableStatus(attemptResult.statusCode) {
			retryable = true
		}
		if !retryable || attempt > r.cfg.MaxRetries || ctx.Err() != nil {
			break
		}
		if r.metrics != nil {
			r.metrics.RetryAttemptsTotal.Inc()
		}
		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
		}
	}

	elapsed := time.Since(start)
	rec := records.ValidationRecord{
		URL:            in.URL,
		URLHash:        in.URLHash,
		ResponseTimeMs: elapsed.Milliseconds(),
		ValidatedAt:    time.Now().UTC(),
		SchemaVersion:  records.SchemaVersion,
	}
	r.controller.Complete(attemptErr == nil, elapsed)

	if attemptErr != nil {
		rec.StatusCode = 0
		rec.IsValid = false
		rec.ErrorMessage = attemptErr.Error()
		if r.metrics != nil {
			r.metrics.FetchErrorsTotal.WithLabelValues(classify.Of(attemptErr).String()).Inc()
		}
	} else {
		rec.StatusCode = attemptResult.statusCode
		rec.ContentType = attemptResult.contentType
		rec.ContentLength = attemptResult.contentLength
		rec.RedirectChain = attemptResult.redirectChain
		rec.LastModified = attemptResult.lastModified
		rec.ETag = attemptResult.etag
		rec.CacheControl = attemptResult.cacheControl
		rec.IsValid = attemptResult.statusCode >= 200 && attemptResult.statusCode < 400 && r.acceptable[baseContentType(attemptResult.contentType)]
		if !rec.IsValid {
			rec.ErrorMessage = "status or content-type not acceptable"
		}
	}

	if r.fresh != nil {
		if fr, err := r.fresh.Observe(ctx, in.URLHash, in.URL, domain, rec.ContentType, rec.LastModified, rec.ETag, rec.ValidatedAt); err == nil {
			rec.StalenessScore = fr.StalenessScore
			if r.metrics != nil {
				if rates, err := r.fresh.DomainChurnRates(ctx); err == nil {
					r.metrics.DomainChurnRate.WithLabelValues(domain).Set(rates[domain])
				}
			}
		} else {
			r.log.Warn().Err(err).Str("url_hash", in.URLHash).Msg("failed to update freshness store")
		}
	}

	outcome := checkpoint.OutcomeSuccess
	if errs := rec.Validate(); len(errs) > 0 {
		r.log.Warn().Str("url_hash", in.URLHash).Interface("errors", errs).Msg("validation record failed schema guard")
		outcome = checkpoint.OutcomeFailed
	} else if err := r.out.Append(rec); err != nil {
		r.log.Error().Err(err).Msg("failed to append validation record")
		outcome = checkpoint.OutcomeFailed
	} else {
		if r.metrics != nil {
			r.metrics.URLsValidatedTotal.Inc()
			r.metrics.ValidationLatency.Observe(elapsed.Seconds())
		}
		if !rec.IsValid {
			outcome = checkpoint.OutcomeSkipped
		}
	}
	_ = r.ckpt.RecordItem(stageID, index, in.URLHash, outcome)
}

// attemptOutcome carries one validation attempt's raw metadata.
type attemptOutcome struct {
	statusCode    int
	contentType   string
	contentLength int64
	redirectChain []records.RedirectHop
	lastModified  string
	etag          string
	cacheControl  string
}

// attempt runs the HEAD-then-GET protocol steps 1-5 of spec.md §4.3.2 once
// (no retry loop here; that lives in validateOne).
func (r *Runner) attempt(ctx context.Context, target string) (attemptOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeoutOrDefault())
	defer cancel()

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return attemptOutcome{}, classify.Wrap(err, classify.Input, "validation.attempt:build-head")
	}
	headResp, hops, headErr := r.client.DoFollowingRedirects(headReq)
	if headErr == nil {
		defer headResp.Body.Close()
		if headResp.StatusCode >= 200 && headResp.StatusCode < 400 && r.acceptable[baseContentType(headResp.Header.Get("Content-Type"))] {
			return outcomeFromResponse(headResp, hops, 0), nil
		}
	}

	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return attemptOutcome{}, classify.Wrap(err, classify.Input, "validation.attempt:build-get")
	}
	getResp, getHops, getErr := r.client.DoFollowingRedirects(getReq)
	if getErr != nil {
		return attemptOutcome{}, getErr
	}
	defer getResp.Body.Close()
	n, _ := io.Copy(io.Discard, io.LimitReader(getResp.Body, contentLengthSanityCap))
	return outcomeFromResponse(getResp, getHops, n), nil
}

func outcomeFromResponse(resp *http.Response, hops []httpx.Hop, streamedBytes int64) attemptOutcome {
	chain := make([]records.RedirectHop, len(hops))
	for i, h := range hops {
		chain[i] = records.RedirectHop{URL: h.URL, StatusCode: h.StatusCode}
	}
	contentLength := resp.ContentLength
	if contentLength < 0 || contentLength > contentLengthSanityCap {
		contentLength = streamedBytes
	}
	return attemptOutcome{
		statusCode:    resp.StatusCode,
		contentType:   resp.Header.Get("Content-Type"),
		contentLength: contentLength,
		redirectChain: chain,
		lastModified:  resp.Header.Get("Last-Modified"),
		etag:          resp.Header.Get("ETag"),
		cacheControl:  resp.Header.Get("Cache-Control"),
	}
}

func baseContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(strings.ToLower(contentType))
}

func (c Config) timeoutOrDefault() time.Duration {
	if c.Timeout <= 0 {
		return DefaultConfig().Timeout
	}
	return c.Timeout
}

// finalize flushes the output log and checkpoint.
func (r *Runner) finalize(ctx context.Context) error {
	if err := r.out.Flush(); err != nil {
		return classify.Wrap(err, classify.Persistence, "validation.finalize:flush-output")
	}
	if err := r.ckpt.Flush(stageID); err != nil {
		return classify.Wrap(err, classify.Persistence, "validation.finalize:flush-checkpoint")
	}
	return nil
}
