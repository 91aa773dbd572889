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

package freshness

import (
	"testing"
	"time"

	"crawlpipe/pkg/records"
)

func TestStalenessScoreWithinUnitRange(t *testing.T) {
	now := time.Now().UTC()
	rec := records.FreshnessRecord{
		URL:                 "https://u.example/news/2020/old-story",
		LastModified:        now.Add(-10000 * time.Hour).Format(time.RFC3339),
		ValidationCount:      10,
		ContentChangedCount: 1,
	}
	score := StalenessScore(rec, now)
	if score < 0 || score > 1 {
		t.Errorf("got score %v, want within [0,1]", score)
	}
}

func TestStalenessScoreHighChurnNewsPage(t *testing.T) {
	now := time.Now().UTC()
	news := StalenessScore(records.FreshnessRecord{
		URL: "https://u.example/news/today", LastModified: now.Format(time.RFC3339),
		ValidationCount: 10, ContentChangedCount: 8,
	}, now)
	about := StalenessScore(records.FreshnessRecord{
		URL: "https://u.example/about", LastModified: now.Format(time.RFC3339),
		ValidationCount: 10, ContentChangedCount: 8,
	}, now)
	if news <= about {
		t.Errorf("expected a frequently-changing news page to be staler than an about page with equal churn: news=%v about=%v", news, about)
	}
}

func TestStalenessScoreUnknownLastModifiedIsMaximallyStaleOnAge(t *testing.T) {
	now := time.Now().UTC()
	score := StalenessScore(records.FreshnessRecord{URL: "https://u.example/x", ValidationCount: 1}, now)
	if score < ageWeight {
		t.Errorf("expected age component alone to contribute at least %v, got %v", ageWeight, score)
	}
}
