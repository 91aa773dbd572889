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
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crawlpipe/internal/adaptive"
	"crawlpipe/internal/checkpoint"
	"crawlpipe/internal/freshness"
	"crawlpipe/internal/httpx"
	"crawlpipe/pkg/records"
	"crawlpipe/pkg/recordlog"
	"crawlpipe/pkg/urlcanon"
)

func newTestRunner(t *testing.T, cfg Config) (*Runner, *recordlog.Log[records.ValidationRecord], *checkpoint.Manager, *freshness.Store) {
	t.Helper()
	dir := t.TempDir()

	client, err := httpx.New(httpx.Config{MaxConcurrency: 4, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	controller := adaptive.New(adaptive.Config{Min: 1, Max: 8, Initial: 4})
	t.Cleanup(controller.Stop)

	fresh, err := freshness.Open(filepath.Join(dir, "freshness.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fresh.Close() })

	out, err := recordlog.Open[records.ValidationRecord](filepath.Join(dir, "validation.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { out.Close() })

	ckpt, err := checkpoint.NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ckpt.Open(stageID, "discovery.jsonl", "deadbeef", 0); err != nil {
		t.Fatal(err)
	}

	r := New(cfg, client, controller, fresh, nil, out, ckpt, nil, zerolog.Nop())
	return r, out, ckpt, fresh
}

func hashOf(t *testing.T, raw string) string {
	t.Helper()
	canonical, err := urlcanon.Canonicalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	return urlcanon.Hash(canonical)
}

func TestRunValidatesOKAndBrokenURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	r, out, ckpt, _ := newTestRunner(t, cfg)

	items := []Input{
		{URL: srv.URL + "/ok", URLHash: hashOf(t, srv.URL+"/ok")},
		{URL: srv.URL + "/missing", URLHash: hashOf(t, srv.URL+"/missing")},
	}

	n, err := r.Run(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("got %d processed, want 2", n)
	}

	st, ok := ckpt.State(stageID)
	if !ok {
		t.Fatal("expected checkpoint state to exist")
	}
	if st.Status != checkpoint.StatusCompleted {
		t.Errorf("got status %v, want completed", st.Status)
	}
	if st.ProcessedItems != st.SuccessfulItems+st.FailedItems+st.SkippedItems {
		t.Errorf("processed/successful+failed+skipped invariant violated: %+v", st)
	}

	_ = out.Path()
}

func TestRunRetriesRetryableStatus(t *testing.T) {
	var hits int
	mux := http.NewServeMux()
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		// HEAD always fails so each attempt falls through to GET; only GETs
		// are counted, so a second hit can only come from a retried attempt.
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		hits++
		if hits < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	r, _, _, _ := newTestRunner(t, cfg)

	items := []Input{{URL: srv.URL + "/flaky", URLHash: hashOf(t, srv.URL+"/flaky")}}
	if _, err := r.Run(context.Background(), items); err != nil {
		t.Fatal(err)
	}
	if hits < 2 {
		t.Errorf("got %d hits, want at least 2 (retry after first 503)", hits)
	}
}

func TestRetryableStatusClassification(t *testing.T) {
	cases := map[int]bool{
		200: false,
		404: false,
		408: true,
		429: true,
		500: true,
		503: true,
		600: false,
	}
	for status, want := range cases {
		if got := retryableStatus(status); got != want {
			t.Errorf("retryableStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	d1 := backoffDelay(1)
	d5 := backoffDelay(5)
	d10 := backoffDelay(10)
	if d1 <= 0 {
		t.Fatal("expected positive delay")
	}
	if d5 <= d1 {
		t.Errorf("got d5 %v <= d1 %v, want the delay to grow with attempt", d5, d1)
	}
	if d10 > backoffMax+backoffMax/5 {
		t.Errorf("got %v, want capped near %v", d10, backoffMax)
	}
}
