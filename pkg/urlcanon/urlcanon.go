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

// Package urlcanon canonicalizes URLs and derives the SHA-256 url_hash that
// is the primary key shared by every stage of the pipeline.
package urlcanon

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ErrUnsupportedScheme is returned when a URL's scheme is not http(s).
var ErrUnsupportedScheme = errors.New("urlcanon: unsupported scheme")

// defaultPorts maps scheme to the port that is implicit and therefore dropped
// during canonicalization.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Canonicalize normalizes a URL per spec.md §3: lowercased scheme/host,
// default ports stripped, fragment removed, query keys sorted, trailing
// slash rule applied. The result is deterministic and idempotent:
// Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrUnsupportedScheme
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); port != "" && port == defaultPorts[scheme] {
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
	}
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for i, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					sb.WriteByte('&')
				}
				sb.WriteString(url.QueryEscape(k))
				sb.WriteByte('=')
				sb.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = sb.String()
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	} else if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	u.RawPath = path
	u.Path, _ = url.PathUnescape(path)

	return u.String(), nil
}

// Hash returns the SHA-256 hex digest (url_hash) of a canonical URL string.
// Callers must pass an already-canonicalized URL; Hash does not canonicalize
// on your behalf so that callers can assert url_hash == sha256(canonical(u))
// without a redundant normalization pass.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// CanonicalHash canonicalizes raw and returns both the canonical form and its
// url_hash in one call, the common case for discovery and validation.
func CanonicalHash(raw string) (canonical string, hash string, err error) {
	canonical, err = Canonicalize(raw)
	if err != nil {
		return "", "", err
	}
	return canonical, Hash(canonical), nil
}

// IsHexHash reports whether s looks like a valid 64-char lowercase-hex
// SHA-256 digest, the format required by the schema guard for url_hash
// fields.
func IsHexHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// SameRegisteredDomain reports whether two hosts share the same registered
// domain (a simplified eTLD+1 match: last two labels), the default
// is_same_domain policy resolved in SPEC_FULL.md §12. StrictHostMatch should
// be used instead when the pipeline is configured for strict-host policy.
func SameRegisteredDomain(a, b string) bool {
	return registeredDomain(a) == registeredDomain(b) && registeredDomain(a) != ""
}

// StrictHostMatch reports whether two hosts are identical, the alternative
// sub-domain policy named in spec.md §9 as configurable.
func StrictHostMatch(a, b string) bool {
	return strings.EqualFold(a, b)
}

func registeredDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}
	return labels[len(labels)-2] + "." + labels[len(labels)-1]
}
