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

package pipelinecfg

import "testing"

func TestDefaultPassesValidate(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("got %v, want no validation errors on defaults", errs)
	}
}

func TestValidateRejectsOutOfRangeFields(t *testing.T) {
	cfg := Default()
	cfg.Scrapy.ConcurrentRequests = 0
	cfg.Stages.Validation.MaxWorkers = 501
	errs := cfg.Validate()
	if len(errs) < 2 {
		t.Errorf("got %d errors, want at least 2", len(errs))
	}
}

func TestValidateRejectsInconsistentWorkerCap(t *testing.T) {
	cfg := Default()
	cfg.Scrapy.ConcurrentRequests = 10
	cfg.Stages.Validation.MaxWorkers = 20
	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected cross-field consistency error")
	}
}

func TestValidateRejectsBadQueueThresholds(t *testing.T) {
	cfg := Default()
	cfg.Queue.BackpressureThreshold = 9000
	cfg.Queue.CriticalThreshold = 8000
	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected queue threshold ordering error")
	}
}

func TestFromMapOverridesFields(t *testing.T) {
	cfg := Default()
	if err := cfg.FromMap(map[string]any{
		"stages.discovery.max_depth":    5,
		"stages.validation.timeout_ms": 15000,
		"logging.level":                 "debug",
	}); err != nil {
		t.Fatal(err)
	}
	if cfg.Stages.Discovery.MaxDepth != 5 {
		t.Errorf("got %d, want 5", cfg.Stages.Discovery.MaxDepth)
	}
	if cfg.Stages.Validation.TimeoutMs != 15000 {
		t.Errorf("got %d, want 15000", cfg.Stages.Validation.TimeoutMs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("got %q, want debug", cfg.Logging.Level)
	}
}

func TestFromMapRejectsWrongType(t *testing.T) {
	cfg := Default()
	if err := cfg.FromMap(map[string]any{"scrapy.concurrent_requests": "not-a-number"}); err == nil {
		t.Fatal("expected type error")
	}
}
