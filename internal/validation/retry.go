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

package validation

import (
	"math/rand"
	"time"
)

const (
	backoffBase   = 1 * time.Second
	backoffFactor = 2.0
	backoffJitter = 0.20
	backoffMax    = 30 * time.Second
)

// backoffDelay returns the exponential backoff delay for retry attempt
// (1-indexed), base 1s factor 2, ±20% jitter, capped at 30s (spec.md
// §4.3.2 "Retry policy").
func backoffDelay(attempt int) time.Duration {
	d := float64(backoffBase) * pow2(backoffFactor, attempt-1)
	if d > float64(backoffMax) {
		d = float64(backoffMax)
	}
	jitter := 1 + (rand.Float64()*2-1)*backoffJitter
	d *= jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow2(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// retryableStatus reports whether an HTTP status code is retryable per
// spec.md §7: 5xx, 408, and 429 are retryable; other 4xx are not.
func retryableStatus(status int) bool {
	if status == 408 || status == 429 {
		return true
	}
	return status >= 500 && status < 600
}

// BackoffDelay exports backoffDelay so internal/enrichment can share S2's
// retry/backoff model verbatim, per spec.md §4.3.3 "same retry/backoff/
// timeout model as S2".
func BackoffDelay(attempt int) time.Duration { return backoffDelay(attempt) }

// RetryableStatus exports retryableStatus for the same reason.
func RetryableStatus(status int) bool { return retryableStatus(status) }
