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

// Package enrichment implements the S3 runner: fetch, parse, analyze, detect
// auxiliary links, emit (spec.md §4.3.3).
package enrichment

import (
	"regexp"
	"strings"
)

// Analysis is what an EnrichmentAnalyzer returns for one document (spec.md
// §4.3.3 "EnrichmentAnalyzer contract").
type Analysis struct {
	Entities    []string
	Keywords    []string
	ContentTags []string
}

// Analyzer is the opaque capability S3 invokes on extracted text. The runner
// treats failures from it as non-fatal (spec.md §7 "Analyzer errors").
type Analyzer interface {
	Analyze(text string) (Analysis, error)
}

// RuleBasedAnalyzer is the default Analyzer: a stub, pattern-driven
// implementation standing in for the out-of-scope NLP capability named in
// spec.md §1. It is deliberately simple, the way plugin/tfd/classifier.go's
// Classify is a pure, rule-driven function rather than a model.
type RuleBasedAnalyzer struct {
	keywordVocabulary []string
}

// NewRuleBasedAnalyzer builds a RuleBasedAnalyzer. vocabulary is the set of
// lowercase terms it looks for when extracting keywords; a nil/empty
// vocabulary falls back to DefaultKeywordVocabulary.
func NewRuleBasedAnalyzer(vocabulary []string) *RuleBasedAnalyzer {
	if len(vocabulary) == 0 {
		vocabulary = DefaultKeywordVocabulary
	}
	return &RuleBasedAnalyzer{keywordVocabulary: vocabulary}
}

// DefaultKeywordVocabulary seeds the rule-based analyzer's keyword scan.
var DefaultKeywordVocabulary = []string{
	"report", "annual", "press", "release", "policy", "research", "dataset",
	"api", "documentation", "pricing", "contact", "careers", "privacy", "terms",
}

var (
	capitalizedWordPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]{2,}(?:\s[A-Z][a-zA-Z]{2,}){0,2}\b`)
	tagRules               = []tagRule{
		{tag: "news", terms: []string{"breaking", "today", "reported", "announced"}},
		{tag: "financial", terms: []string{"revenue", "earnings", "quarter", "fiscal"}},
		{tag: "legal", terms: []string{"terms", "privacy", "disclaimer", "copyright"}},
		{tag: "technical", terms: []string{"api", "sdk", "documentation", "reference"}},
		{tag: "careers", terms: []string{"careers", "hiring", "position", "apply"}},
	}
)

type tagRule struct {
	tag   string
	terms []string
}

// Analyze extracts entities (capitalized multi-word spans, a coarse proxy
// for named-entity recognition), keywords (vocabulary hits), and
// content_tags (rule matches against tagRules), each deduplicated
// case-insensitively while preserving first-seen order (SPEC_FULL.md §12).
func (a *RuleBasedAnalyzer) Analyze(text string) (Analysis, error) {
	lower := strings.ToLower(text)

	entities := dedupPreserveOrder(capitalizedWordPattern.FindAllString(text, -1))

	var keywords []string
	for _, term := range a.keywordVocabulary {
		if strings.Contains(lower, term) {
			keywords = append(keywords, term)
		}
	}
	keywords = dedupPreserveOrder(keywords)

	var tags []string
	for _, rule := range tagRules {
		for _, term := range rule.terms {
			if strings.Contains(lower, term) {
				tags = append(tags, rule.tag)
				break
			}
		}
	}
	tags = dedupPreserveOrder(tags)

	return Analysis{Entities: entities, Keywords: keywords, ContentTags: tags}, nil
}

// dedupPreserveOrder removes case-insensitive duplicates from items,
// keeping the first-seen casing and order (SPEC_FULL.md §12 "entities/keywords
// dedup" resolution).
func dedupPreserveOrder(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
