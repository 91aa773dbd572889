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
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crawlpipe/internal/adaptive"
	"crawlpipe/internal/checkpoint"
	"crawlpipe/internal/classify"
	"crawlpipe/internal/httpx"
	"crawlpipe/internal/obs"
	"crawlpipe/internal/validation"
	"crawlpipe/pkg/records"
)

const stageID = "enrichment"

// defaultMaxTextBytes caps extracted text per spec.md §4.3.3 step 2.
const defaultMaxTextBytes = 200_000

// Config parameterizes a Runner.
type Config struct {
	MaxConcurrency   int
	AnalyzerWorkers  int // size of the off-loop analyzer pool
	Timeout          time.Duration
	MaxRetries       int
	MaxTextBytes     int
}

// DefaultConfig returns the stage's defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:  30,
		AnalyzerWorkers: 4,
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		MaxTextBytes:    defaultMaxTextBytes,
	}
}

// Input is one S2 record, already filtered to is_valid == true, flowing into
// S3 (spec.md §4.3.3 "Inputs").
type Input struct {
	URL     string
	URLHash string
}

// analyzeJob is dispatched onto the off-loop analyzer worker pool (spec.md
// §4.3.3 "runs in a non-blocking off-loop worker pool so it does not stall
// async I/O").
type analyzeJob struct {
	text  string
	reply chan Analysis
}

// Runner executes one enrichment pass. Runner is safe for single use only.
type Runner struct {
	cfg        Config
	client     *httpx.Client
	controller *adaptive.Controller
	analyzer   Analyzer
	sink       Sink
	ckpt       *checkpoint.Manager
	metrics    *obs.Metrics
	log        zerolog.Logger

	jobs    chan analyzeJob
	workers sync.WaitGroup
}

// New constructs a Runner and starts its analyzer worker pool.
func New(cfg Config, client *httpx.Client, controller *adaptive.Controller, analyzer Analyzer,
	sink Sink, ckpt *checkpoint.Manager, metrics *obs.Metrics, log zerolog.Logger) *Runner {

	if cfg.AnalyzerWorkers <= 0 {
		cfg.AnalyzerWorkers = DefaultConfig().AnalyzerWorkers
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = defaultMaxTextBytes
	}
	r := &Runner{
		cfg: cfg, client: client, controller: controller, analyzer: analyzer, sink: sink,
		ckpt: ckpt, metrics: metrics, log: obs.Stage(log, stageID),
		jobs: make(chan analyzeJob, cfg.AnalyzerWorkers*4),
	}
	for i := 0; i < cfg.AnalyzerWorkers; i++ {
		r.workers.Add(1)
		go r.analyzeWorker()
	}
	return r
}

func (r *Runner) analyzeWorker() {
	defer r.workers.Done()
	for job := range r.jobs {
		result, err := r.analyzer.Analyze(job.text)
		if err != nil {
			r.log.Warn().Err(err).Msg("analyzer failed; proceeding with empty entities/keywords/tags")
			result = Analysis{}
		}
		job.reply <- result
	}
}

// Run enriches every item in items (spec.md §4.3.3 pipeline). Cancelling ctx
// aborts at the next item boundary; in-flight items are allowed to finish.
func (r *Runner) Run(ctx context.Context, items []Input) (int64, error) {
	if err := r.ckpt.Transition(stageID, checkpoint.StatusRunning); err != nil {
		return 0, classify.Wrap(err, classify.Persistence, "enrichment.Run:transition-running")
	}

	var index int64
	var wg sync.WaitGroup
	for _, it := range items {
		if ctx.Err() != nil {
			break
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
			r.enrichOne(ctx, idx, in)
		}(index, it)
	}
	wg.Wait()

	close(r.jobs)
	r.workers.Wait()

	if err := r.finalize(); err != nil {
		return index, err
	}
	status := checkpoint.StatusCompleted
	if ctx.Err() != nil {
		status = checkpoint.StatusPaused
	}
	if err := r.ckpt.Transition(stageID, status); err != nil {
		return index, classify.Wrap(err, classify.Persistence, "enrichment.Run:transition-final")
	}
	return index, ctx.Err()
}

// enrichOne runs steps 1-5 of spec.md §4.3.3 for one URL.
func (r *Runner) enrichOne(ctx context.Context, index int64, in Input) {
	start := time.Now()
	rec := records.EnrichmentRecord{
		URL: in.URL, URLHash: in.URLHash, EnrichedAt: time.Now().UTC(), SchemaVersion: records.SchemaVersion,
	}

	body, fetchErr := r.fetchWithRetry(ctx, in.URL)
	outcome := checkpoint.OutcomeSuccess
	if fetchErr != nil {
		rec.Error = &records.EnrichmentError{Class: classify.Of(fetchErr).String(), Message: fetchErr.Error()}
		if r.metrics != nil {
			r.metrics.FetchErrorsTotal.WithLabelValues(classify.Of(fetchErr).String()).Inc()
		}
		outcome = checkpoint.OutcomeFailed
	} else {
		content := ExtractContent(body, r.cfg.MaxTextBytes)
		rec.Title = content.Title
		rec.TextContent = content.Text
		rec.WordCount = len(strings.Fields(content.Text))
		rec.HasPDFLinks = content.HasPDFLinks
		rec.HasAudioLinks = content.HasAudioLinks

		reply := make(chan Analysis, 1)
		select {
		case r.jobs <- analyzeJob{text: content.Text, reply: reply}:
			select {
			case analysis := <-reply:
				rec.Entities = analysis.Entities
				rec.Keywords = analysis.Keywords
				rec.ContentTags = analysis.ContentTags
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}

	if errs := rec.Validate(); len(errs) > 0 {
		r.log.Warn().Str("url_hash", in.URLHash).Interface("errors", errs).Msg("enrichment record failed schema guard")
		outcome = checkpoint.OutcomeFailed
	} else if err := r.sink.Append(rec); err != nil {
		r.log.Error().Err(err).Msg("failed to append enrichment record")
		outcome = checkpoint.OutcomeFailed
	} else {
		if err := r.sink.RotateIfNeeded(); err != nil {
			r.log.Warn().Err(err).Msg("sink rotation failed")
		}
		if r.metrics != nil {
			r.metrics.URLsEnrichedTotal.WithLabelValues("ok").Inc()
			r.metrics.EnrichmentLatency.Observe(time.Since(start).Seconds())
		}
	}
	_ = r.ckpt.RecordItem(stageID, index, in.URLHash, outcome)
}

// fetchWithRetry applies S2's retry/backoff model to the S3 body fetch
// (spec.md §4.3.3 step 1: "same retry/backoff/timeout model as S2").
func (r *Runner) fetchWithRetry(ctx context.Context, target string) ([]byte, error) {
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	var body []byte
	var err error
	for attempt := 1; ; attempt++ {
		body, err = r.fetchOnce(ctx, target, timeout)
		retryable := false
		if err != nil {
			var statusErr *httpStatusError
			if errors.As(err, &statusErr) {
				retryable = statusErr.retryable
			} else {
				retryable = classify.Of(err).Retryable()
			}
		}
		if !retryable || attempt > r.cfg.MaxRetries || ctx.Err() != nil {
			return body, err
		}
		if r.metrics != nil {
			r.metrics.RetryAttemptsTotal.Inc()
		}
		select {
		case <-time.After(validation.BackoffDelay(attempt)):
		case <-ctx.Done():
			return body, err
		}
	}
}

func (r *Runner) fetchOnce(ctx context.Context, target string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := r.client.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, classify.Wrap(
			&httpStatusError{status: resp.StatusCode, retryable: validation.RetryableStatus(resp.StatusCode)},
			classify.Protocol, "enrichment.fetchOnce")
	}
	return io.ReadAll(io.LimitReader(resp.Body, int64(r.cfg.MaxTextBytes)*4))
}

// httpStatusError records a non-2xx/3xx response (spec.md §7: "4xx (except
// 408/429) non-retryable... Recorded with actual status"). retryable mirrors
// validation.RetryableStatus so fetchWithRetry only spends retry budget on
// 408/429/5xx, while every other 4xx is still surfaced as a fetch error
// rather than treated as successfully fetched content.
type httpStatusError struct {
	status    int
	retryable bool
}

func (e *httpStatusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.status)
}

func (r *Runner) finalize() error {
	if err := r.sink.Flush(); err != nil {
		return classify.Wrap(err, classify.Persistence, "enrichment.finalize:flush-sink")
	}
	if err := r.ckpt.Flush(stageID); err != nil {
		return classify.Wrap(err, classify.Persistence, "enrichment.finalize:flush-checkpoint")
	}
	return nil
}
