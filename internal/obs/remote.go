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

package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is the periodic progress sample pushed to a remote collector, the
// item counts plus two of a checkpoint's derived metrics (throughput and
// success_rate; no ETA) and the run identifier so a fleet of pipeline runs
// can be told apart downstream.
type Snapshot struct {
	RunID         string    `json:"run_id"`
	Stage         string    `json:"stage"`
	Processed     int64     `json:"processed"`
	Successful    int64     `json:"successful"`
	Failed        int64     `json:"failed"`
	ThroughputQPS float64   `json:"throughput_qps"`
	SuccessRate   float64   `json:"success_rate"`
	SampledAt     time.Time `json:"sampled_at"`
}

// RemotePusher abstracts the minimal surface needed to push a snapshot,
// mirroring the teacher's RedisEvaler seam so a test double never needs a
// live Redis server.
type RemotePusher interface {
	Push(ctx context.Context, key string, snap Snapshot) error
}

// RedisPusher publishes snapshots to a Redis list via RPUSH, trimmed to
// maxLen entries so a long-running pipeline never grows the list unbounded.
type RedisPusher struct {
	client *redis.Client
	maxLen int64
}

// NewRedisPusher dials addr lazily (go-redis clients are lazy by design) and
// returns a pusher capped at maxLen list entries per key.
func NewRedisPusher(addr string, maxLen int64) *RedisPusher {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisPusher{client: redis.NewClient(&redis.Options{Addr: addr}), maxLen: maxLen}
}

// Push serializes snap as JSON and appends it to key, trimming the list to
// the configured maxLen afterward.
func (p *RedisPusher) Push(ctx context.Context, key string, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("obs: marshal snapshot: %w", err)
	}
	if err := p.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("obs: rpush snapshot: %w", err)
	}
	return p.client.LTrim(ctx, key, -p.maxLen, -1).Err()
}

// Close releases the underlying connection pool.
func (p *RedisPusher) Close() error { return p.client.Close() }

// NoopPusher discards every snapshot; the default when no remote push
// endpoint is configured (spec.md's remote push is opt-in).
type NoopPusher struct{}

func (NoopPusher) Push(context.Context, string, Snapshot) error { return nil }
