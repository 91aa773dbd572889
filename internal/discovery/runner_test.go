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

package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crawlpipe/internal/checkpoint"
	"crawlpipe/internal/httpx"
	"crawlpipe/internal/linkgraph"
	"crawlpipe/pkg/records"
	"crawlpipe/pkg/recordlog"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/about">About us</a><a href="/report">Annual report</a></body></html>`))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>no more links here</body></html>`))
	})
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>a report page</body></html>`))
	})
	return httptest.NewServer(mux)
}

func newTestRunner(t *testing.T, cfg Config) (*Runner, *recordlog.Log[records.DiscoveryRecord], *checkpoint.Manager) {
	t.Helper()
	dir := t.TempDir()

	client, err := httpx.New(httpx.Config{MaxConcurrency: 4, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	graph, err := linkgraph.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { graph.Close() })

	out, err := recordlog.Open[records.DiscoveryRecord](filepath.Join(dir, "discovery.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { out.Close() })

	ckpt, err := checkpoint.NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ckpt.Open(stageID, "seeds.txt", "deadbeef", 0); err != nil {
		t.Fatal(err)
	}

	r, err := New(cfg, client, NewDefaultExtractor(0), graph, out, ckpt, nil, zerolog.Nop(), filepath.Join(dir, "discovery.seen"))
	if err != nil {
		t.Fatal(err)
	}
	return r, out, ckpt
}

func TestRunCrawlsWithinDepthAndDeduplicates(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxDepth = 1
	cfg.Concurrency = 2
	r, _, ckpt := newTestRunner(t, cfg)

	summary, err := r.Run(context.Background(), []string{srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.URLsDiscovered < 3 {
		t.Errorf("got %d discovered, want at least 3 (seed + 2 links)", summary.URLsDiscovered)
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
}

func TestRunRespectsMaxDepthZero(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxDepth = 0
	r, _, _ := newTestRunner(t, cfg)

	summary, err := r.Run(context.Background(), []string{srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.URLsDiscovered != 1 {
		t.Errorf("got %d discovered, want exactly 1 (seed only, depth 0)", summary.URLsDiscovered)
	}
}
