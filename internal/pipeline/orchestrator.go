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

// Package pipeline wires the three stage runners (discovery, validation,
// enrichment) plus the shared stores each one depends on into a single
// sequential run, and enforces the cross-stage integrity checks between
// them (spec.md §3, §5). It is the composition root: no stage package
// imports another, and pipeline is the only package that imports all three.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crawlpipe/internal/adaptive"
	"crawlpipe/internal/checkpoint"
	"crawlpipe/internal/classify"
	"crawlpipe/internal/discovery"
	"crawlpipe/internal/enrichment"
	"crawlpipe/internal/freshness"
	"crawlpipe/internal/httpx"
	"crawlpipe/internal/integrity"
	"crawlpipe/internal/linkgraph"
	"crawlpipe/internal/obs"
	"crawlpipe/internal/pipelinecfg"
	"crawlpipe/internal/validation"
	"crawlpipe/pkg/recordlog"
	"crawlpipe/pkg/records"
)

// Stage identifies one of the three sequential runs a Pipeline can execute.
type Stage int

const (
	StageDiscovery Stage = iota
	StageValidation
	StageEnrichment
)

// fileNames centralizes the on-disk layout one Pipeline run produces under
// its checkpoint directory, so every stage and the integrity checks agree
// on where to look.
const (
	discoveryFile  = "discovery.jsonl"
	validationFile = "validation.jsonl"
	enrichmentFile = "enrichment.jsonl"
	seenFile       = "discovery.seen"
	linkGraphFile  = "linkgraph.db"
	freshnessFile  = "freshness.db"
)

// snapshotPushInterval paces the optional remote progress push: frequent
// enough to watch a run live, far below a typical stage's own save cadence
// so it never competes with checkpoint.Manager's own disk I/O.
const snapshotPushInterval = 5 * time.Second

// defaultSnapshotKey is used when cfg.Redis.Key is empty.
const defaultSnapshotKey = "crawlpipe:progress"

// Result aggregates what a Pipeline run produced, for the CLI to report and
// the caller to decide an exit code from.
type Result struct {
	Discovery        *discovery.Summary
	ValidationCount  int64
	EnrichmentCount  int64
	DiscoveryVsValid integrity.Report
	ValidVsEnriched  integrity.Report
	Duration         time.Duration
}

// Pipeline owns the shared stores a crawl run needs across all three stages
// and the lifecycle (open/close) of each. One Pipeline runs one crawl.
type Pipeline struct {
	cfg     pipelinecfg.Config
	dataDir string
	strict  bool
	runID   string

	client  *httpx.Client
	graph   *linkgraph.Store
	fresh   *freshness.Store
	ckpt    *checkpoint.Manager
	metrics *obs.Metrics
	pusher  obs.RemotePusher
	log     zerolog.Logger
}

// Open constructs a Pipeline, opening the link-graph store, freshness
// store, and checkpoint manager rooted at cfg.CheckpointDir. When
// cfg.Redis.Addr is set, Open also dials a RedisPusher so each stage's
// progress is pushed to that Redis list as it runs (spec.md §11 "remote
// metrics/progress snapshot push"); otherwise pushes are a no-op. Callers
// must call Close when done.
func Open(cfg pipelinecfg.Config, log zerolog.Logger, strict bool) (*Pipeline, error) {
	client, err := httpx.New(httpx.Config{
		MaxConcurrency: cfg.Scrapy.ConcurrentRequests,
		RequestTimeout: time.Duration(cfg.Stages.Validation.TimeoutMs) * time.Millisecond,
		HostRateLimit:  0,
	})
	if err != nil {
		return nil, classify.Wrap(err, classify.Input, "pipeline.Open:httpx")
	}

	graph, err := linkgraph.Open(filepath.Join(cfg.CheckpointDir, linkGraphFile))
	if err != nil {
		return nil, classify.Wrap(err, classify.Persistence, "pipeline.Open:linkgraph")
	}
	fresh, err := freshness.Open(filepath.Join(cfg.CheckpointDir, freshnessFile))
	if err != nil {
		graph.Close()
		return nil, classify.Wrap(err, classify.Persistence, "pipeline.Open:freshness")
	}
	ckpt, err := checkpoint.NewManager(cfg.CheckpointDir)
	if err != nil {
		graph.Close()
		fresh.Close()
		return nil, classify.Wrap(err, classify.Persistence, "pipeline.Open:checkpoint")
	}

	var pusher obs.RemotePusher = obs.NoopPusher{}
	if cfg.Redis.Addr != "" {
		pusher = obs.NewRedisPusher(cfg.Redis.Addr, cfg.Redis.MaxLen)
	}

	return &Pipeline{
		cfg:     cfg,
		dataDir: cfg.CheckpointDir,
		strict:  strict,
		runID:   uuid.NewString(),
		client:  client,
		graph:   graph,
		fresh:   fresh,
		ckpt:    ckpt,
		metrics: obs.NewMetrics(),
		pusher:  pusher,
		log:     log,
	}, nil
}

// Close releases every store the Pipeline opened.
func (p *Pipeline) Close() {
	p.client.CloseIdleConnections()
	p.graph.Close()
	p.fresh.Close()
	if closer, ok := p.pusher.(*obs.RedisPusher); ok {
		closer.Close()
	}
}

// startSnapshotPush begins pushing stageID's checkpoint progress to
// p.pusher every snapshotPushInterval until the returned stop func is
// called. The ticker stops itself once ctx is done.
func (p *Pipeline) startSnapshotPush(ctx context.Context, stageID string) (stop func()) {
	pushCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(snapshotPushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.pushSnapshot(pushCtx, stageID)
			case <-pushCtx.Done():
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// pushSnapshot sends stageID's current checkpoint state to p.pusher,
// logging (but not failing the run on) a push error, since remote progress
// push is best-effort observability, never a pipeline correctness concern.
func (p *Pipeline) pushSnapshot(ctx context.Context, stageID string) {
	st, ok := p.ckpt.State(stageID)
	if !ok {
		return
	}
	key := p.cfg.Redis.Key
	if key == "" {
		key = defaultSnapshotKey
	}
	snap := obs.Snapshot{
		RunID:         p.runID,
		Stage:         stageID,
		Processed:     st.ProcessedItems,
		Successful:    st.SuccessfulItems,
		Failed:        st.FailedItems,
		ThroughputQPS: st.Throughput(),
		SuccessRate:   st.SuccessRate(),
		SampledAt:     time.Now().UTC(),
	}
	if err := p.pusher.Push(ctx, key, snap); err != nil {
		p.log.Warn().Err(err).Str("stage", stageID).Msg("remote snapshot push failed")
	}
}

func (p *Pipeline) path(name string) string {
	return filepath.Join(p.dataDir, name)
}

// Metrics exposes the Pipeline's registry so the CLI can optionally serve
// it over HTTP without pipeline itself knowing about net/http.
func (p *Pipeline) Metrics() *obs.Metrics {
	return p.metrics
}

// RunAll executes discovery, validation, and enrichment in sequence,
// enforcing the cross-stage integrity checks between each hop (spec.md §3).
// A strict-mode integrity failure stops the run before the next stage.
func (p *Pipeline) RunAll(ctx context.Context, seedPath string) (Result, error) {
	start := time.Now()
	result := Result{}

	summary, err := p.RunDiscovery(ctx, seedPath)
	if err != nil {
		return result, err
	}
	result.Discovery = summary

	n, err := p.RunValidation(ctx)
	if err != nil {
		return result, err
	}
	result.ValidationCount = n

	discToValid, err := integrity.CheckDiscoveryVsValidation(p.path(discoveryFile), p.path(validationFile))
	if err != nil {
		return result, err
	}
	result.DiscoveryVsValid = discToValid
	if err := integrity.EnforceStrict(discToValid, p.strict); err != nil {
		return result, err
	}

	m, err := p.RunEnrichment(ctx)
	if err != nil {
		return result, err
	}
	result.EnrichmentCount = m

	validToEnriched, err := integrity.CheckValidationVsEnrichment(p.path(validationFile), p.path(enrichmentFile))
	if err != nil {
		return result, err
	}
	result.ValidVsEnriched = validToEnriched
	if err := integrity.EnforceStrict(validToEnriched, p.strict); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

// RunDiscovery executes S1 against the seeds at seedPath.
func (p *Pipeline) RunDiscovery(ctx context.Context, seedPath string) (*discovery.Summary, error) {
	seeds, err := discovery.LoadSeeds(seedPath)
	if err != nil {
		return nil, err
	}

	out, err := recordlog.Open[records.DiscoveryRecord](p.path(discoveryFile))
	if err != nil {
		return nil, classify.Wrap(err, classify.Persistence, "pipeline.RunDiscovery:open-output")
	}
	defer out.Close()

	dcfg := discovery.Config{
		MaxDepth:           p.cfg.Stages.Discovery.MaxDepth,
		Concurrency:        p.cfg.Scrapy.ConcurrentRequests,
		ChannelBuffer:      p.cfg.Queue.MaxQueueSize,
		ExcludedExtensions: p.cfg.Stages.Discovery.ExcludedExtensions,
		MaxPaginationPages: p.cfg.Stages.Discovery.MaxPaginationPages,
		StrictHostPolicy:   p.cfg.Stages.Discovery.SubdomainPolicy == pipelinecfg.SubdomainStrictHost,
	}
	if _, err := p.ckpt.Open("discovery", seedPath, "", int64(len(seeds))); err != nil {
		return nil, classify.Wrap(err, classify.Persistence, "pipeline.RunDiscovery:open-checkpoint")
	}
	defer p.startSnapshotPush(ctx, "discovery")()

	runner, err := discovery.New(dcfg, p.client, discovery.NewDefaultExtractor(p.cfg.Stages.Discovery.MaxPaginationPages), p.graph, out,
		p.ckpt, p.metrics, p.log, p.path(seenFile))
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, seeds)
}

// RunValidation executes S2 against every S1 record, ordering batches by
// link-graph priority once scores are available (spec.md §4.3.2). PageRank
// and HITS are recomputed against the current graph before this stage runs,
// so priority ordering reflects the crawl that just completed.
func (p *Pipeline) RunValidation(ctx context.Context) (int64, error) {
	nodes, err := p.graph.Nodes(ctx)
	if err != nil {
		return 0, classify.Wrap(err, classify.Persistence, "pipeline.RunValidation:load-nodes")
	}
	edges, err := p.graph.Edges(ctx)
	if err != nil {
		return 0, classify.Wrap(err, classify.Persistence, "pipeline.RunValidation:load-edges")
	}
	if len(nodes) > 0 {
		scores := linkgraph.Rank(nodes, edges)
		if err := p.graph.ApplyScores(ctx, scores); err != nil {
			return 0, classify.Wrap(err, classify.Persistence, "pipeline.RunValidation:apply-scores")
		}
	}

	items, inputHash, err := loadValidationInputs(p.path(discoveryFile))
	if err != nil {
		return 0, err
	}
	if _, err := p.ckpt.Open("validation", p.path(discoveryFile), inputHash, int64(len(items))); err != nil {
		return 0, classify.Wrap(err, classify.Persistence, "pipeline.RunValidation:open-checkpoint")
	}
	defer p.startSnapshotPush(ctx, "validation")()

	out, err := recordlog.Open[records.ValidationRecord](p.path(validationFile))
	if err != nil {
		return 0, classify.Wrap(err, classify.Persistence, "pipeline.RunValidation:open-output")
	}
	defer out.Close()

	vcfg := validation.Config{
		MaxConcurrency:         p.cfg.Stages.Validation.MaxWorkers,
		Timeout:                time.Duration(p.cfg.Stages.Validation.TimeoutMs) * time.Millisecond,
		MaxRetries:             p.cfg.Stages.Validation.MaxRetries,
		BatchSize:              100,
		ABTestFraction:         p.cfg.Stages.Validation.ABTestFraction,
		AcceptableContentTypes: p.cfg.Stages.Validation.AcceptableContentTypes,
	}
	controller := adaptive.New(adaptive.Config{
		Min: 1, Max: int64(p.cfg.Stages.Validation.MaxWorkers), Initial: int64(p.cfg.Stages.Validation.MaxWorkers) / 2,
	})
	defer controller.Stop()

	runner := validation.New(vcfg, p.client, controller, p.fresh, p.graph, out, p.ckpt, p.metrics, p.log)
	return runner.Run(ctx, items)
}

// RunEnrichment executes S3 against every S2 record whose is_valid is true.
func (p *Pipeline) RunEnrichment(ctx context.Context) (int64, error) {
	items, inputHash, err := loadEnrichmentInputs(p.path(validationFile))
	if err != nil {
		return 0, err
	}
	if _, err := p.ckpt.Open("enrichment", p.path(validationFile), inputHash, int64(len(items))); err != nil {
		return 0, classify.Wrap(err, classify.Persistence, "pipeline.RunEnrichment:open-checkpoint")
	}
	defer p.startSnapshotPush(ctx, "enrichment")()

	sink, err := p.openEnrichmentSink()
	if err != nil {
		return 0, err
	}
	defer sink.Close()

	ecfg := enrichment.Config{
		MaxConcurrency:  p.cfg.Scrapy.ConcurrentRequests,
		AnalyzerWorkers: p.cfg.Stages.Enrichment.AnalyzerWorkers,
		Timeout:         time.Duration(p.cfg.Stages.Validation.TimeoutMs) * time.Millisecond,
		MaxRetries:      p.cfg.Stages.Validation.MaxRetries,
		MaxTextBytes:    p.cfg.Stages.Enrichment.MaxTextBytes,
	}
	controller := adaptive.New(adaptive.Config{
		Min: 1, Max: int64(p.cfg.Scrapy.ConcurrentRequests), Initial: int64(p.cfg.Scrapy.ConcurrentRequests) / 2,
	})
	defer controller.Stop()

	runner := enrichment.New(ecfg, p.client, controller, enrichment.NewRuleBasedAnalyzer(nil), sink, p.ckpt, p.metrics, p.log)
	return runner.Run(ctx, items)
}

// openEnrichmentSink selects the S3 output sink named by
// stages.enrichment.storage.backend (spec.md §4.3.3 "Storage backends").
func (p *Pipeline) openEnrichmentSink() (enrichment.Sink, error) {
	storage := p.cfg.Stages.Enrichment.Storage
	switch storage.Backend {
	case "sqlite":
		return enrichment.NewSQLiteSink(p.path("enrichment.db"))
	case "redis":
		addr := storage.Options["redis_addr"]
		key := storage.Options["redis_key"]
		if key == "" {
			key = "crawlpipe:enrichment"
		}
		maxLen := int64(storage.Rotation.MaxItems)
		return enrichment.NewRedisSink(addr, key, maxLen), nil
	case "jsonl", "":
		return enrichment.NewJSONLSink(p.path(enrichmentFile), storage.Rotation.MaxItems)
	default:
		return nil, classify.Wrap(fmt.Errorf("unknown storage backend %q", storage.Backend), classify.Input, "pipeline.openEnrichmentSink")
	}
}

func loadValidationInputs(path string) ([]validation.Input, string, error) {
	var items []validation.Input
	for res := range recordlog.Stream[records.DiscoveryRecord](path) {
		if res.Err != nil {
			continue
		}
		items = append(items, validation.Input{URL: res.Record.DiscoveredURL, URLHash: res.Record.URLHash})
	}
	hash, err := fileHash(path)
	if err != nil {
		return nil, "", classify.Wrap(err, classify.Persistence, "pipeline.loadValidationInputs:hash")
	}
	return items, hash, nil
}

func loadEnrichmentInputs(path string) ([]enrichment.Input, string, error) {
	var items []enrichment.Input
	for res := range recordlog.Stream[records.ValidationRecord](path) {
		if res.Err != nil || !res.Record.IsValid {
			continue
		}
		items = append(items, enrichment.Input{URL: res.Record.URL, URLHash: res.Record.URLHash})
	}
	hash, err := fileHash(path)
	if err != nil {
		return nil, "", classify.Wrap(err, classify.Persistence, "pipeline.loadEnrichmentInputs:hash")
	}
	return items, hash, nil
}

// fileHash returns the sha256 hex digest of path's contents, used as the
// checkpoint's input_file_hash so a resumed run detects an upstream file
// that changed underneath it (spec.md §4.2).
func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
