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

// Package classify gives every error raised inside the pipeline one of a
// fixed set of classes (spec.md §7 "Error Handling Design"), the way
// internal/transparency/error_classifier.go categorizes errors in the wider
// example pack: a small int enum plus a wrapper that carries the class
// alongside the underlying error without losing errors.Is/errors.As support.
package classify

import (
	"errors"
	"fmt"
)

// Class is one of the error categories named in spec.md §7.
type Class int

const (
	// Input covers malformed seed files, config, and CLI arguments.
	Input Class = iota
	// Transport covers network-level failures: dial, TLS, connection reset.
	Transport
	// Protocol covers HTTP-level failures: non-2xx status, bad redirects.
	Protocol
	// Parse covers malformed HTML, JSON, or sitemap content.
	Parse
	// Analyzer covers a failing EnrichmentAnalyzer implementation.
	Analyzer
	// Persistence covers checkpoint, recordlog, and link-graph store I/O.
	Persistence
	// Integrity covers cross-stage invariant violations caught after the
	// fact (orphan url_hash, schema_version mismatch, and similar).
	Integrity
	// Unknown is the fallback for errors nothing above claims.
	Unknown
)

var names = [...]string{
	Input:       "input",
	Transport:   "transport",
	Protocol:    "protocol",
	Parse:       "parse",
	Analyzer:    "analyzer",
	Persistence: "persistence",
	Integrity:   "integrity",
	Unknown:     "unknown",
}

// String returns the class's lowercase wire name, used in log fields and in
// the error class recorded alongside S3 fetch failures (EnrichmentError.Class).
func (c Class) String() string {
	if int(c) < 0 || int(c) >= len(names) {
		return "unknown"
	}
	return names[c]
}

// Retryable reports whether the validation and enrichment runners' retry
// policy should treat errors of this class as transient (spec.md §7). Input
// and Parse errors are never retried: retrying a malformed seed file or a
// broken HTML document just burns the retry budget for no gain.
func (c Class) Retryable() bool {
	switch c {
	case Transport, Protocol:
		return true
	default:
		return false
	}
}

// Error wraps an underlying error with the class that triggered it. It
// implements Unwrap so errors.Is and errors.As still see through to cause.
type Error struct {
	Class Class
	Op    string
	cause error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches class and op to cause. Wrap(nil, ...) returns nil so callers
// can write `return classify.Wrap(err, classify.Transport, "fetch")` on the
// same line that checks err without an extra nil guard.
func Wrap(cause error, class Class, op string) error {
	if cause == nil {
		return nil
	}
	return &Error{Class: class, Op: op, cause: cause}
}

// Of extracts the Class of err if it (or something it wraps) is a *Error,
// and Unknown otherwise.
func Of(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Unknown
}
