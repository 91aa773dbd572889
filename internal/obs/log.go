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

// Package obs centralizes the pipeline's ambient observability concerns:
// structured logging, Prometheus metrics, and an optional Redis-backed
// remote push of periodic snapshots.
package obs

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger configures the global zerolog logger. level is any value
// zerolog.ParseLevel accepts ("debug", "info", "warn", "error"); an
// unrecognized value falls back to info rather than failing startup over a
// logging typo.
func InitLogger(level string, writer io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if writer == nil {
		writer = os.Stdout
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(writer).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

// Stage returns a sub-logger tagged with the owning stage name
// ("discovery", "validation", "enrichment"), the grouping every log line in
// a pipeline run is filtered by.
func Stage(base zerolog.Logger, stage string) zerolog.Logger {
	return base.With().Str("stage", stage).Logger()
}

// URLHash returns a sub-logger carrying a url_hash field, the join key that
// lets a log aggregator correlate discovery/validation/enrichment lines for
// the same URL.
func URLHash(base zerolog.Logger, hash string) zerolog.Logger {
	return base.With().Str("url_hash", hash).Logger()
}
