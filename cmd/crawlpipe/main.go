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

// Package main provides the crawlpipe CLI entrypoint: it loads a pipeline
// configuration, opens the shared stores, and runs one or more of the
// discovery/validation/enrichment stages against a seed file, with a
// graceful shutdown path on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"crawlpipe/internal/integrity"
	"crawlpipe/internal/obs"
	"crawlpipe/internal/pipeline"
	"crawlpipe/internal/pipelinecfg"
)

func main() {
	os.Exit(run())
}

func run() int {
	stage := flag.String("stage", "all", "which stage to run: discovery|validation|enrichment|all")
	seedPath := flag.String("seeds", "seeds.txt", "path to the newline-delimited seed URL file (discovery/all only)")
	checkpointDir := flag.String("checkpoint_dir", "./checkpoints", "directory holding checkpoint state and record logs")
	logLevel := flag.String("log_level", "info", "log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics_addr", "", "if non-empty, expose Prometheus /metrics on this address")
	strict := flag.Bool("strict", false, "fail the run on any cross-stage integrity orphan instead of only logging it")
	configOnly := flag.Bool("config_only", false, "load and validate configuration, then exit without running any stage")
	validateOnly := flag.Bool("validate_only", false, "run the cross-stage integrity checks against existing record logs, then exit")
	maxWorkers := flag.Int("max_workers", 0, "override stages.validation.max_workers (0 keeps the default)")
	storageBackend := flag.String("storage_backend", "", "override stages.enrichment.storage.backend (jsonl|sqlite|redis)")
	redisPushAddr := flag.String("redis_push_addr", "", "if non-empty, push periodic progress snapshots to this Redis address")
	redisPushKey := flag.String("redis_push_key", "", "Redis list key for progress snapshots (defaults to crawlpipe:progress)")
	flag.Parse()

	log := obs.InitLogger(*logLevel, os.Stderr)

	cfg := pipelinecfg.Default()
	cfg.CheckpointDir = *checkpointDir
	if *maxWorkers > 0 {
		cfg.Stages.Validation.MaxWorkers = *maxWorkers
	}
	if *storageBackend != "" {
		cfg.Stages.Enrichment.Storage.Backend = *storageBackend
	}
	if *redisPushAddr != "" {
		cfg.Redis.Addr = *redisPushAddr
	}
	if *redisPushKey != "" {
		cfg.Redis.Key = *redisPushKey
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Error().Err(e).Msg("invalid configuration")
		}
		return 1
	}
	if *configOnly {
		fmt.Fprintln(os.Stdout, "configuration OK")
		return 0
	}

	if err := os.MkdirAll(*checkpointDir, 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create checkpoint directory")
		return 1
	}

	if *validateOnly {
		return runValidateOnly(*checkpointDir, *strict, log)
	}

	p, err := pipeline.Open(cfg, log, *strict)
	if err != nil {
		log.Error().Err(err).Msg("failed to open pipeline")
		return 1
	}
	defer p.Close()

	if *metricsAddr != "" {
		srv := p.Metrics().ServeBackground(*metricsAddr)
		defer srv.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Warn().Msg("received shutdown signal; finishing in-flight work and stopping at the next batch boundary")
		cancel()
	}()

	switch *stage {
	case "discovery":
		summary, err := p.RunDiscovery(ctx, *seedPath)
		if err != nil {
			log.Error().Err(err).Msg("discovery stage failed")
			return 1
		}
		log.Info().Int64("discovered", summary.URLsDiscovered).Int64("fetched", summary.URLsFetched).
			Int64("fetch_errors", summary.FetchErrors).Dur("duration", summary.Duration).Msg("discovery complete")
	case "validation":
		n, err := p.RunValidation(ctx)
		if err != nil {
			log.Error().Err(err).Msg("validation stage failed")
			return 1
		}
		log.Info().Int64("validated", n).Msg("validation complete")
	case "enrichment":
		n, err := p.RunEnrichment(ctx)
		if err != nil {
			log.Error().Err(err).Msg("enrichment stage failed")
			return 1
		}
		log.Info().Int64("enriched", n).Msg("enrichment complete")
	case "all":
		result, err := p.RunAll(ctx, *seedPath)
		if err != nil {
			log.Error().Err(err).Msg("pipeline run failed")
			return 1
		}
		log.Info().
			Int64("validated", result.ValidationCount).
			Int64("enriched", result.EnrichmentCount).
			Float64("discovery_to_validation_coverage", result.DiscoveryVsValid.Coverage).
			Float64("validation_to_enrichment_coverage", result.ValidVsEnriched.Coverage).
			Dur("duration", result.Duration).
			Msg("pipeline run complete")
	default:
		fmt.Fprintf(os.Stderr, "unknown -stage %q: want discovery, validation, enrichment, or all\n", *stage)
		return 1
	}
	return 0
}

// runValidateOnly runs the cross-stage integrity checks against whatever
// record logs already exist under dir, without executing any stage.
func runValidateOnly(dir string, strict bool, log zerolog.Logger) int {
	exitCode := 0
	discToValid, err := integrity.CheckDiscoveryVsValidation(filepath.Join(dir, "discovery.jsonl"), filepath.Join(dir, "validation.jsonl"))
	if err != nil {
		log.Error().Err(err).Msg("discovery-vs-validation check failed")
		return 1
	}
	log.Info().Int("orphans", discToValid.OrphanCount).Float64("coverage", discToValid.Coverage).
		Msg("discovery-vs-validation integrity")
	if err := integrity.EnforceStrict(discToValid, strict); err != nil {
		log.Error().Err(err).Msg("discovery-vs-validation integrity failed in strict mode")
		exitCode = 1
	}

	validToEnriched, err := integrity.CheckValidationVsEnrichment(filepath.Join(dir, "validation.jsonl"), filepath.Join(dir, "enrichment.jsonl"))
	if err != nil {
		log.Error().Err(err).Msg("validation-vs-enrichment check failed")
		return 1
	}
	log.Info().Int("orphans", validToEnriched.OrphanCount).Float64("coverage", validToEnriched.Coverage).
		Msg("validation-vs-enrichment integrity")
	if err := integrity.EnforceStrict(validToEnriched, strict); err != nil {
		log.Error().Err(err).Msg("validation-vs-enrichment integrity failed in strict mode")
		exitCode = 1
	}
	return exitCode
}
