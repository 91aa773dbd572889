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

// Package adaptive implements the AIMD admission controller (spec.md §4.4):
// it maintains the maximum in-flight request count for an I/O-bound stage,
// backed by a resizable semaphore the way pkg/vsa/vsa.go maintains a
// contention-free in-memory counter — here the "counter" is a 5-second
// rolling window of completion samples held in a mutex-guarded slice; the
// hot path (Complete) only appends under that lock, and a single adjustment
// goroutine does all the analysis.
package adaptive

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// defaultSuccessTarget and defaultSampleWindow are the S_target and
	// sample-window defaults from spec.md §4.4.
	defaultSuccessTarget = 0.95
	sampleWindow         = 5 * time.Second
	additiveStep         = 2
	multiplicativeFactor = 0.5
)

// Config parameterizes a Controller.
type Config struct {
	Min, Max      int64
	Initial       int64
	SuccessTarget float64       // default 0.95
	LatencyTarget time.Duration // p50 latency budget; 0 disables the latency gate
}

// sample is one completion observation recorded on the hot path.
type sample struct {
	at      int64 // UnixNano
	success bool
	latency time.Duration
}

// Controller owns a resizable semaphore.Weighted admission gate and
// periodically re-evaluates its size per the AIMD rule in spec.md §4.4.
type Controller struct {
	cfg Config

	sem     *semaphore.Weighted
	current atomic.Int64

	mu      sync.Mutex
	samples []sample

	lastAdjustment atomic.Int64 // UnixNano
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// New constructs a Controller, starting at cfg.Initial (clamped to
// [Min, Max]) in-flight slots, and starts its background adjustment loop.
func New(cfg Config) *Controller {
	if cfg.SuccessTarget <= 0 {
		cfg.SuccessTarget = defaultSuccessTarget
	}
	if cfg.Initial < cfg.Min {
		cfg.Initial = cfg.Min
	}
	if cfg.Initial > cfg.Max {
		cfg.Initial = cfg.Max
	}
	c := &Controller{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.Max),
		stopCh: make(chan struct{}),
	}
	c.current.Store(cfg.Initial)
	if cfg.Initial < cfg.Max {
		// Pre-acquire the headroom between Initial and Max so the live
		// admission limit starts at Initial, not Max; Resize releases or
		// re-acquires this reserve as the limit moves.
		_ = c.sem.Acquire(context.Background(), cfg.Max-cfg.Initial)
	}
	c.lastAdjustment.Store(time.Now().UnixNano())
	go c.loop()
	return c
}

// Acquire blocks until an admission slot is available or ctx is done.
func (c *Controller) Acquire(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

// Release returns an admission slot.
func (c *Controller) Release() {
	c.sem.Release(1)
}

// Current returns the live concurrency limit.
func (c *Controller) Current() int64 {
	return c.current.Load()
}

// Complete records one finished request's outcome; called on the hot path,
// so it only appends to a mutex-guarded slice rather than doing any
// analysis itself (the analysis runs on the 5-second adjustment loop).
func (c *Controller) Complete(success bool, latency time.Duration) {
	c.mu.Lock()
	c.samples = append(c.samples, sample{at: time.Now().UnixNano(), success: success, latency: latency})
	c.mu.Unlock()
}

// Stop halts the background adjustment loop.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) loop() {
	ticker := time.NewTicker(sampleWindow)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.adjust()
		}
	}
}

// adjust applies the AIMD rule over the trailing sampleWindow of
// completions (spec.md §4.4) and resizes the semaphore to match.
func (c *Controller) adjust() {
	cutoff := time.Now().Add(-sampleWindow).UnixNano()

	c.mu.Lock()
	kept := c.samples[:0]
	var successes, total int
	var latencies []time.Duration
	for _, s := range c.samples {
		if s.at < cutoff {
			continue
		}
		kept = append(kept, s)
		total++
		if s.success {
			successes++
		}
		latencies = append(latencies, s.latency)
	}
	c.samples = kept
	c.mu.Unlock()

	if total == 0 {
		return
	}
	successRate := float64(successes) / float64(total)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50Latency := latencies[len(latencies)/2]
	latencyOK := c.cfg.LatencyTarget == 0 || p50Latency <= c.cfg.LatencyTarget

	cur := c.current.Load()
	var next int64
	if successRate >= c.cfg.SuccessTarget && latencyOK {
		next = cur + additiveStep
		if next > c.cfg.Max {
			next = c.cfg.Max
		}
	} else {
		next = int64(float64(cur) * multiplicativeFactor)
		if next < c.cfg.Min {
			next = c.cfg.Min
		}
	}
	c.resize(cur, next)
	c.lastAdjustment.Store(time.Now().UnixNano())
}

// resize moves the live limit from cur to next by acquiring or releasing
// the delta against the semaphore's reserve, preserving the invariant
// min <= current <= max (spec.md §4.4, §8).
func (c *Controller) resize(cur, next int64) {
	if next == cur {
		return
	}
	if next > cur {
		c.sem.Release(next - cur)
	} else {
		// Best-effort: try to reclaim the delta without blocking the
		// adjustment loop indefinitely behind in-flight requests.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.sem.Acquire(ctx, cur-next); err != nil {
			return // in-flight load prevented shrinking this cycle; retry next tick
		}
	}
	c.current.Store(next)
}
