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

package urlcanon

import "testing"

func TestCanonicalizeIdempotent(t *testing.T) {
	cases := []string{
		"HTTPS://Example.EDU:443/Path/?b=2&a=1#frag",
		"http://example.edu/",
		"http://example.edu",
		"https://example.edu/path/",
	}
	for _, raw := range cases {
		first, err := Canonicalize(raw)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", raw, err)
		}
		second, err := Canonicalize(first)
		if err != nil {
			t.Fatalf("Canonicalize(%q) second pass: %v", first, err)
		}
		if first != second {
			t.Errorf("not idempotent: %q -> %q -> %q", raw, first, second)
		}
	}
}

func TestCanonicalizeDropsDefaultPort(t *testing.T) {
	got, err := Canonicalize("https://example.edu:443/a")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.edu/a" {
		t.Errorf("got %q", got)
	}
}

func TestCanonicalizeSortsQueryKeys(t *testing.T) {
	got, err := Canonicalize("http://example.edu/a?z=1&a=2")
	if err != nil {
		t.Fatal(err)
	}
	want := "http://example.edu/a?a=2&z=1"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCanonicalizeRejectsNonHTTP(t *testing.T) {
	if _, err := Canonicalize("ftp://example.edu/a"); err != ErrUnsupportedScheme {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestHashMatchesSHA256OfCanonical(t *testing.T) {
	canon, hash, err := CanonicalHash("HTTP://Example.edu/A/")
	if err != nil {
		t.Fatal(err)
	}
	if hash != Hash(canon) {
		t.Errorf("hash mismatch")
	}
	if !IsHexHash(hash) {
		t.Errorf("hash %q is not a valid hex digest", hash)
	}
}

func TestSameRegisteredDomain(t *testing.T) {
	if !SameRegisteredDomain("www.example.edu", "cs.example.edu") {
		t.Errorf("expected subdomains to share a registered domain")
	}
	if SameRegisteredDomain("example.edu", "example.com") {
		t.Errorf("expected different TLDs to differ")
	}
}

func TestStrictHostMatch(t *testing.T) {
	if StrictHostMatch("www.example.edu", "example.edu") {
		t.Errorf("strict match should not equate subdomain with apex")
	}
	if !StrictHostMatch("Example.EDU", "example.edu") {
		t.Errorf("strict match should be case-insensitive")
	}
}
