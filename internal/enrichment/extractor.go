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
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// excludedTags are skipped entirely when walking for main-content text
// (spec.md §4.3.3 "Exclude navigation, footer, header, sidebar").
var excludedTags = map[string]bool{
	"nav": true, "footer": true, "header": true, "aside": true, "script": true, "style": true,
}

var excludedRoles = map[string]bool{
	"navigation": true, "menu": true, "banner": true,
}

var auxExtensions = map[string][]string{
	"pdf":   {".pdf"},
	"audio": {".mp3", ".wav", ".ogg", ".m4a", ".flac"},
}

// ExtractedContent is the title/body/aux-link-flags triple content
// extraction produces for the analyzer and the EnrichmentRecord (spec.md
// §4.3.3 steps 2 and 4).
type ExtractedContent struct {
	Title         string
	Text          string
	HasPDFLinks   bool
	HasAudioLinks bool
}

// ExtractContent parses body and returns its title, main-content text capped
// at maxTextBytes, and auxiliary-link flags, grounded on
// internal/discovery/extractor.go's html.Node walk, redirected here at
// content extraction instead of link discovery.
func ExtractContent(body []byte, maxTextBytes int) ExtractedContent {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ExtractedContent{}
	}
	var out ExtractedContent
	var sb strings.Builder
	walkContent(doc, &out, &sb)
	text := strings.Join(strings.Fields(sb.String()), " ")
	if maxTextBytes > 0 && len(text) > maxTextBytes {
		text = text[:maxTextBytes]
	}
	out.Text = text
	return out
}

func walkContent(n *html.Node, out *ExtractedContent, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		if n.Data == "title" && out.Title == "" {
			out.Title = strings.TrimSpace(textOf(n))
			return
		}
		if excludedTags[n.Data] {
			return
		}
		if role := attrOf(n, "role"); excludedRoles[strings.ToLower(role)] {
			return
		}
		if n.Data == "a" {
			href := attrOf(n, "href")
			classifyAux(href, out)
		}
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkContent(c, out, sb)
	}
}

func classifyAux(href string, out *ExtractedContent) {
	lower := strings.ToLower(href)
	for _, ext := range auxExtensions["pdf"] {
		if strings.HasSuffix(lower, ext) {
			out.HasPDFLinks = true
		}
	}
	for _, ext := range auxExtensions["audio"] {
		if strings.HasSuffix(lower, ext) {
			out.HasAudioLinks = true
		}
	}
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
