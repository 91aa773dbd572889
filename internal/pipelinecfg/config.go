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

// Package pipelinecfg defines the already-validated, already-merged
// configuration struct the pipeline core accepts (spec.md §1 places
// "configuration file parsing and validation" out of scope; spec.md §6
// names the recognized option groups). No YAML/env parser lives here — only
// the struct, its range checks, and a FromMap seam an external loader can
// populate through.
package pipelinecfg

import "fmt"

// Config mirrors spec.md §6's option groups.
type Config struct {
	Scrapy    ScrapyConfig
	Stages    StagesConfig
	Queue     QueueConfig
	Logging   LoggingConfig
	Redis     RedisConfig
	CheckpointDir string
}

// ScrapyConfig is the `scrapy.*` group.
type ScrapyConfig struct {
	ConcurrentRequests int // 1..1000, global concurrent request cap for S1
}

// StagesConfig is the `stages.*` group.
type StagesConfig struct {
	Discovery  DiscoveryConfig
	Validation ValidationConfig
	Enrichment EnrichmentConfig
}

// DiscoveryConfig is `stages.discovery.*`.
type DiscoveryConfig struct {
	MaxDepth           int // 0..10
	AllowedDomain      string
	ExcludedExtensions []string
	MaxPaginationPages int
	SubdomainPolicy    SubdomainPolicy
}

// SubdomainPolicy resolves spec.md §9's "sub-domain policy" Open Question
// (SPEC_FULL.md §12): registered-domain match by default, strict host match
// selectable.
type SubdomainPolicy string

const (
	SubdomainRegisteredDomain SubdomainPolicy = "registered-domain"
	SubdomainStrictHost       SubdomainPolicy = "strict-host"
)

// ValidationConfig is `stages.validation.*`.
type ValidationConfig struct {
	MaxWorkers             int // 1..500
	TimeoutMs              int // 1000..300000
	MaxRetries             int
	ABTestFraction         float64
	AcceptableContentTypes []string
}

// EnrichmentConfig is `stages.enrichment.*`.
type EnrichmentConfig struct {
	AnalyzerWorkers int
	MaxTextBytes    int
	Storage         StorageConfig
}

// StorageConfig is `stages.enrichment.storage.*`.
type StorageConfig struct {
	Backend     string // "jsonl" | "sqlite" | "redis"
	Options     map[string]string
	Rotation    RotationConfig
	Compression CompressionConfig
}

// RotationConfig is `stages.enrichment.storage.rotation.*`.
type RotationConfig struct {
	MaxItems int
}

// CompressionConfig is `stages.enrichment.storage.compression.*`.
type CompressionConfig struct {
	Codec string // "none" | "gzip"
}

// QueueConfig is the `queue.*` group: cross-stage bounded-queue sizing
// (spec.md §5 "Deadlock avoidance").
type QueueConfig struct {
	MaxQueueSize         int
	BackpressureThreshold int
	CriticalThreshold     int
}

// LoggingConfig is the `logging.*` group.
type LoggingConfig struct {
	Level  string // "debug" | "info" | "warn" | "error"
	Format string // "plain" | "json"
	Path   string // not read by obs.InitLogger; the CLI always logs to stderr
}

// RedisConfig configures the optional remote metrics/snapshot push
// (internal/obs/remote.go).
type RedisConfig struct {
	Addr   string
	Key    string
	MaxLen int64
}

// Default returns a Config populated with the pipeline's own defaults, so a
// caller that never touches pipelinecfg still gets a runnable configuration.
// These values are set here and differ in places from the stage runners'
// own DefaultConfig values (e.g. discovery's max depth and pagination).
func Default() Config {
	return Config{
		Scrapy: ScrapyConfig{ConcurrentRequests: 50},
		Stages: StagesConfig{
			Discovery: DiscoveryConfig{
				MaxDepth:           3,
				ExcludedExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".css", ".woff", ".woff2", ".ico", ".svg"},
				MaxPaginationPages: 0,
				SubdomainPolicy:    SubdomainRegisteredDomain,
			},
			Validation: ValidationConfig{
				MaxWorkers:             50,
				TimeoutMs:              30_000,
				MaxRetries:             2,
				AcceptableContentTypes: []string{"text/html", "application/xhtml+xml", "text/plain"},
			},
			Enrichment: EnrichmentConfig{
				AnalyzerWorkers: 4,
				MaxTextBytes:    200_000,
				Storage:         StorageConfig{Backend: "jsonl", Rotation: RotationConfig{MaxItems: 0}, Compression: CompressionConfig{Codec: "none"}},
			},
		},
		Queue:         QueueConfig{MaxQueueSize: 10_000, BackpressureThreshold: 7_000, CriticalThreshold: 9_000},
		Logging:       LoggingConfig{Level: "info", Format: "json"},
		CheckpointDir: "./checkpoints",
	}
}

// FromMap populates cfg's numeric/string fields from a generic map, the
// single seam spec.md §1 leaves for an out-of-scope external config loader
// to hand off a parsed YAML/env document. Unknown keys are ignored; callers
// needing "no unknown keys" enforcement (spec.md §6) do that check before
// calling FromMap.
func (c *Config) FromMap(m map[string]any) error {
	if v, ok := m["scrapy.concurrent_requests"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("pipelinecfg: scrapy.concurrent_requests: %w", err)
		}
		c.Scrapy.ConcurrentRequests = n
	}
	if v, ok := m["stages.discovery.max_depth"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("pipelinecfg: stages.discovery.max_depth: %w", err)
		}
		c.Stages.Discovery.MaxDepth = n
	}
	if v, ok := m["stages.validation.max_workers"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("pipelinecfg: stages.validation.max_workers: %w", err)
		}
		c.Stages.Validation.MaxWorkers = n
	}
	if v, ok := m["stages.validation.timeout_ms"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("pipelinecfg: stages.validation.timeout_ms: %w", err)
		}
		c.Stages.Validation.TimeoutMs = n
	}
	if v, ok := m["stages.enrichment.storage.backend"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("pipelinecfg: stages.enrichment.storage.backend: must be a string")
		}
		c.Stages.Enrichment.Storage.Backend = s
	}
	if v, ok := m["stages.enrichment.storage.rotation.max_items"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("pipelinecfg: stages.enrichment.storage.rotation.max_items: %w", err)
		}
		c.Stages.Enrichment.Storage.Rotation.MaxItems = n
	}
	if v, ok := m["queue.max_queue_size"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("pipelinecfg: queue.max_queue_size: %w", err)
		}
		c.Queue.MaxQueueSize = n
	}
	if v, ok := m["queue.backpressure_threshold"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("pipelinecfg: queue.backpressure_threshold: %w", err)
		}
		c.Queue.BackpressureThreshold = n
	}
	if v, ok := m["queue.critical_threshold"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("pipelinecfg: queue.critical_threshold: %w", err)
		}
		c.Queue.CriticalThreshold = n
	}
	if v, ok := m["logging.level"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("pipelinecfg: logging.level: must be a string")
		}
		c.Logging.Level = s
	}
	if v, ok := m["logging.format"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("pipelinecfg: logging.format: must be a string")
		}
		c.Logging.Format = s
	}
	if v, ok := m["logging.path"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("pipelinecfg: logging.path: must be a string")
		}
		c.Logging.Path = s
	}
	if v, ok := m["redis.addr"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("pipelinecfg: redis.addr: must be a string")
		}
		c.Redis.Addr = s
	}
	if v, ok := m["redis.key"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("pipelinecfg: redis.key: must be a string")
		}
		c.Redis.Key = s
	}
	if v, ok := m["redis.max_len"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("pipelinecfg: redis.max_len: %w", err)
		}
		c.Redis.MaxLen = int64(n)
	}
	return nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("must be numeric, got %T", v)
	}
}

// Validate enforces spec.md §6's range checks and cross-field consistency.
// It returns every violation found rather than stopping at the first, so a
// caller can report them all at once before any side effect.
func (c Config) Validate() []error {
	var errs []error
	if c.Scrapy.ConcurrentRequests < 1 || c.Scrapy.ConcurrentRequests > 1000 {
		errs = append(errs, fmt.Errorf("scrapy.concurrent_requests must be in [1, 1000], got %d", c.Scrapy.ConcurrentRequests))
	}
	if c.Stages.Discovery.MaxDepth < 0 || c.Stages.Discovery.MaxDepth > 10 {
		errs = append(errs, fmt.Errorf("stages.discovery.max_depth must be in [0, 10], got %d", c.Stages.Discovery.MaxDepth))
	}
	if c.Stages.Validation.MaxWorkers < 1 || c.Stages.Validation.MaxWorkers > 500 {
		errs = append(errs, fmt.Errorf("stages.validation.max_workers must be in [1, 500], got %d", c.Stages.Validation.MaxWorkers))
	}
	if c.Stages.Validation.TimeoutMs < 1000 || c.Stages.Validation.TimeoutMs > 300_000 {
		errs = append(errs, fmt.Errorf("stages.validation.timeout_ms must be in [1000, 300000], got %d", c.Stages.Validation.TimeoutMs))
	}
	if c.Stages.Validation.MaxWorkers > c.Scrapy.ConcurrentRequests {
		errs = append(errs, fmt.Errorf("stages.validation.max_workers (%d) must be <= scrapy.concurrent_requests (%d)",
			c.Stages.Validation.MaxWorkers, c.Scrapy.ConcurrentRequests))
	}
	if c.Queue.BackpressureThreshold >= c.Queue.CriticalThreshold || c.Queue.CriticalThreshold > c.Queue.MaxQueueSize {
		errs = append(errs, fmt.Errorf("queue thresholds must satisfy warn(%d) < critical(%d) <= max(%d)",
			c.Queue.BackpressureThreshold, c.Queue.CriticalThreshold, c.Queue.MaxQueueSize))
	}
	switch c.Logging.Format {
	case "plain", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be plain or json, got %q", c.Logging.Format))
	}
	switch c.Stages.Enrichment.Storage.Backend {
	case "jsonl", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("stages.enrichment.storage.backend must be jsonl, sqlite, or redis, got %q", c.Stages.Enrichment.Storage.Backend))
	}
	return errs
}
