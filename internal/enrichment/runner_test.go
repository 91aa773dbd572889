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

package enrichment

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
	"crawlpipe/internal/httpx"
	"crawlpipe/pkg/urlcanon"
)

func newTestRunner(t *testing.T, cfg Config) (*Runner, *JSONLSink, *checkpoint.Manager) {
	t.Helper()
	dir := t.TempDir()

	client, err := httpx.New(httpx.Config{MaxConcurrency: 4, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	controller := adaptive.New(adaptive.Config{Min: 1, Max: 8, Initial: 4})
	t.Cleanup(controller.Stop)

	sink, err := NewJSONLSink(filepath.Join(dir, "enrichment.jsonl"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sink.Close() })

	ckpt, err := checkpoint.NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ckpt.Open(stageID, "validation.jsonl", "deadbeef", 0); err != nil {
		t.Fatal(err)
	}

	r := New(cfg, client, controller, NewRuleBasedAnalyzer(nil), sink, ckpt, nil, zerolog.Nop())
	return r, sink, ckpt
}

func hashOf(t *testing.T, raw string) string {
	t.Helper()
	canonical, err := urlcanon.Canonicalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	return urlcanon.Hash(canonical)
}

func TestRunEnrichesFetchedPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Annual Report</title></head>
			<body><nav>skip this</nav><main>Breaking news today about revenue.
			<a href="/file.pdf">download</a></main></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	r, _, ckpt := newTestRunner(t, cfg)

	items := []Input{{URL: srv.URL + "/report", URLHash: hashOf(t, srv.URL+"/report")}}
	n, err := r.Run(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d processed, want 1", n)
	}

	st, ok := ckpt.State(stageID)
	if !ok {
		t.Fatal("expected checkpoint state to exist")
	}
	if st.Status != checkpoint.StatusCompleted {
		t.Errorf("got status %v, want completed", st.Status)
	}
	if st.SuccessfulItems != 1 {
		t.Errorf("got %d successful, want 1", st.SuccessfulItems)
	}
}

func TestRunMarksFetchFailureNonFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	r, _, ckpt := newTestRunner(t, cfg)

	items := []Input{{URL: srv.URL + "/gone", URLHash: hashOf(t, srv.URL+"/gone")}}
	if _, err := r.Run(context.Background(), items); err != nil {
		t.Fatal(err)
	}
	st, _ := ckpt.State(stageID)
	if st.ProcessedItems != 1 {
		t.Errorf("got %d processed, want 1 (failure still counted, not dropped)", st.ProcessedItems)
	}
	if st.FailedItems != 1 {
		t.Errorf("got %d failed, want 1 (404 must be recorded as a fetch error, not a success)", st.FailedItems)
	}
	if st.SuccessfulItems != 0 {
		t.Errorf("got %d successful, want 0", st.SuccessfulItems)
	}
}

func TestRuleBasedAnalyzerDedupsCaseInsensitive(t *testing.T) {
	a := NewRuleBasedAnalyzer([]string{"report", "Report"})
	analysis, err := a.Analyze("This Report mentions a report twice.")
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, k := range analysis.Keywords {
		if k == "report" || k == "Report" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d keyword matches for report/Report, want 1 (case-insensitive dedup)", count)
	}
}
