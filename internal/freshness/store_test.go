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
	"context"
	"testing"
	"time"
)

func TestObserveIncrementsValidationCount(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := s.Observe(ctx, "h1", "https://u.example/a", "u.example", "text/html", "", "etag-1", now); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Observe(ctx, "h1", "https://u.example/a", "u.example", "text/html", "", "etag-2", now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if rec.ValidationCount != 2 {
		t.Errorf("got validation_count %d, want 2", rec.ValidationCount)
	}
	if rec.ContentChangedCount != 1 {
		t.Errorf("got content_changed_count %d, want 1 (etag changed)", rec.ContentChangedCount)
	}
}

func TestShouldRevalidateNeverValidatedIsDue(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	due, err := s.ShouldRevalidate(context.Background(), "missing", 24)
	if err != nil {
		t.Fatal(err)
	}
	if !due {
		t.Errorf("expected a never-validated URL to be due for revalidation")
	}
}

func TestDomainChurnRates(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	s.Observe(ctx, "h1", "https://u.example/a", "u.example", "text/html", "", "etag-1", now)
	s.Observe(ctx, "h1", "https://u.example/a", "u.example", "text/html", "", "etag-2", now.Add(time.Hour))

	rates, err := s.DomainChurnRates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rates["u.example"] != 0.5 {
		t.Errorf("got churn rate %v, want 0.5 (1 change / 2 validations)", rates["u.example"])
	}
}
