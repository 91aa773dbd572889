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
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"crawlpipe/pkg/records"
)

// Candidate is one URL surfaced from a fetched page, before canonicalization
// or domain/extension filtering.
type Candidate struct {
	URL        string
	AnchorText string
	Source     records.DiscoverySource
}

// HTMLExtractor is the pluggable capability that turns a fetched page into
// candidate outbound URLs (spec.md §4.3.1). The default implementation
// covers anchors, forms, data-* attributes, inline JSON, and a bounded
// pagination heuristic; deployments with a richer content model can swap in
// their own.
type HTMLExtractor interface {
	Extract(pageURL string, body []byte) []Candidate
}

// defaultExtractor is the stock HTMLExtractor grounded on the teacher's
// recursive html.Node walk (web_fetch.go's extractText/getAttr shape),
// redirected here at link discovery instead of markdown conversion.
type defaultExtractor struct {
	maxPaginationPages int
}

// NewDefaultExtractor returns the stock HTMLExtractor. maxPaginationPages
// bounds the synthetic ?page=N candidates generated for list-endpoint-shaped
// URLs; zero disables pagination-pattern generation.
func NewDefaultExtractor(maxPaginationPages int) HTMLExtractor {
	return &defaultExtractor{maxPaginationPages: maxPaginationPages}
}

var inlineURLPattern = regexp.MustCompile(`https?://[^\s"'<>\\]+`)

// listEndpointPattern flags URLs that look like a paginated listing: a path
// ending in a plural-ish segment with no existing page/offset query param.
var listEndpointPattern = regexp.MustCompile(`(?i)/(list|index|articles|posts|products|search|results)/?$`)

func (e *defaultExtractor) Extract(pageURL string, body []byte) []Candidate {
	doc, err := html.Parse(bytes.NewReader(body))
	var out []Candidate
	if err == nil {
		walk(doc, &out)
	}
	out = append(out, extractInlineJSON(body)...)
	if e.maxPaginationPages > 0 && listEndpointPattern.MatchString(pageURL) {
		out = append(out, paginationCandidates(pageURL, e.maxPaginationPages)...)
	}
	return out
}

func walk(n *html.Node, out *[]Candidate) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "a":
			if href := attr(n, "href"); href != "" {
				*out = append(*out, Candidate{URL: href, AnchorText: textContent(n), Source: records.SourceLink})
			}
		case "form":
			if action := attr(n, "action"); action != "" {
				*out = append(*out, Candidate{URL: action, Source: records.SourceForm})
			}
		}
		for _, a := range n.Attr {
			if strings.HasPrefix(a.Key, "data-") && looksLikeURL(a.Val) {
				*out = append(*out, Candidate{URL: a.Val, Source: records.SourceDataAttribute})
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, out)
	}
}

func extractInlineJSON(body []byte) []Candidate {
	var out []Candidate
	for _, m := range inlineURLPattern.FindAllString(string(body), -1) {
		out = append(out, Candidate{URL: m, Source: records.SourceInlineJSON})
	}
	return out
}

// paginationCandidates generates ?page=2..N synthetic candidates for URLs
// that match the list-endpoint heuristic (spec.md §4.3.1).
func paginationCandidates(pageURL string, maxPages int) []Candidate {
	out := make([]Candidate, 0, maxPages)
	sep := "?"
	if strings.Contains(pageURL, "?") {
		sep = "&"
	}
	for p := 2; p <= maxPages+1; p++ {
		out = append(out, Candidate{
			URL:    pageURL + sep + "page=" + strconv.Itoa(p),
			Source: records.SourcePagination,
		})
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walkText func(*html.Node)
	walkText = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkText(c)
		}
	}
	walkText(n)
	return strings.TrimSpace(sb.String())
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "/")
}
