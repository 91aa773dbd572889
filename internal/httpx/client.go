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

// Package httpx provides the shared HTTP client pool used by every fetching
// stage (validation's HEAD/GET checks, enrichment's content fetch): one
// *http.Client per pipeline run, connection-pool-sized to the run's
// concurrency budget, with a per-host token-bucket limiter enforcing
// politeness independently of how many goroutines are in flight.
package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"crawlpipe/internal/classify"
)

const (
	defaultPerHostConns  = 8
	defaultTimeout       = 30 * time.Second
	defaultDialTimeout   = 10 * time.Second
	defaultIdleConnTTL   = 90 * time.Second
	defaultUserAgent     = "crawlpipe/1.0 (+https://crawlpipe.invalid/bot)"
)

// Config parameterizes the shared client pool (spec.md §4.3.2, §5).
type Config struct {
	// MaxConcurrency sizes the transport's connection pool to
	// 2*MaxConcurrency total idle connections. Required, must be > 0.
	MaxConcurrency int

	// PerHostConns caps idle connections held open to a single host.
	// Zero means defaultPerHostConns.
	PerHostConns int

	// RequestTimeout bounds one logical request (a HEAD+GET sequence in
	// validation counts as two requests, each independently timed out).
	// Zero means defaultTimeout.
	RequestTimeout time.Duration

	// HostRateLimit caps requests/sec issued to any single host. Zero
	// means unlimited (no limiter is constructed).
	HostRateLimit float64

	UserAgent string
}

// Client wraps a pooled *http.Client with a per-host politeness limiter.
// One Client is shared by every worker goroutine in a pipeline run.
type Client struct {
	hc        *http.Client
	userAgent string
	rateLimit float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Client from cfg, applying the defaults documented on
// Config's fields for any zero value.
func New(cfg Config) (*Client, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("httpx: MaxConcurrency must be > 0")
	}
	perHost := cfg.PerHostConns
	if perHost <= 0 {
		perHost = defaultPerHostConns
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        2 * cfg.MaxConcurrency,
		MaxIdleConnsPerHost: perHost,
		MaxConnsPerHost:     perHost,
		IdleConnTimeout:     defaultIdleConnTTL,
	}

	return &Client{
		hc: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			// Discovery and validation both need to observe redirect
			// chains (the final URL, and each hop for loop detection),
			// so redirects are followed by the transport's default
			// policy and the caller inspects resp.Request.URL.
		},
		userAgent: ua,
		rateLimit: cfg.HostRateLimit,
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

// limiterFor returns (creating if necessary) the token bucket for host, or
// nil when the pool is configured with no host rate limit.
func (c *Client) limiterFor(host string) *rate.Limiter {
	if c.rateLimit <= 0 {
		return nil
	}
	host = strings.ToLower(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.rateLimit), 1)
		c.limiters[host] = l
	}
	return l
}

// Do issues req after waiting for host politeness clearance, setting the
// pool's User-Agent if the request doesn't already carry one. The request's
// context governs both the rate-limiter wait and, via the client's fixed
// Timeout, the request itself.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if l := c.limiterFor(req.URL.Hostname()); l != nil {
		if err := l.Wait(req.Context()); err != nil {
			return nil, classify.Wrap(err, classify.Transport, "httpx.Do:rate-wait")
		}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, classify.Wrap(err, classify.Transport, "httpx.Do")
	}
	return resp, nil
}

// Head is a convenience wrapper building and issuing a HEAD request.
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, classify.Wrap(err, classify.Input, "httpx.Head:build-request")
	}
	return c.Do(req)
}

// Get is a convenience wrapper building and issuing a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, classify.Wrap(err, classify.Input, "httpx.Get:build-request")
	}
	return c.Do(req)
}

// Hop is one recorded redirect response, status plus the URL that produced
// it, in the order the client followed them.
type Hop struct {
	URL        string
	StatusCode int
}

// DoFollowingRedirects issues req against the shared transport (so it draws
// from the same pooled connections as Do) while recording every
// intermediate redirect response, the chain validation needs for its
// redirect_chain field (spec.md §4.3.2). It builds one throwaway *http.Client
// per call that reuses c's *http.Transport and Timeout, since Go's
// CheckRedirect hook is a per-Client, not per-request, setting.
func (c *Client) DoFollowingRedirects(req *http.Request) (*http.Response, []Hop, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if l := c.limiterFor(req.URL.Hostname()); l != nil {
		if err := l.Wait(req.Context()); err != nil {
			return nil, nil, classify.Wrap(err, classify.Transport, "httpx.DoFollowingRedirects:rate-wait")
		}
	}
	var hops []Hop
	redirectClient := &http.Client{
		Transport: c.hc.Transport,
		Timeout:   c.hc.Timeout,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if r.Response != nil {
				hops = append(hops, Hop{URL: r.Response.Request.URL.String(), StatusCode: r.Response.StatusCode})
			}
			if len(via) >= maxRedirectHops {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	resp, err := redirectClient.Do(req)
	if err != nil {
		return nil, hops, classify.Wrap(err, classify.Transport, "httpx.DoFollowingRedirects")
	}
	return resp, hops, nil
}

const maxRedirectHops = 10

// CloseIdleConnections releases pooled idle connections on shutdown.
func (c *Client) CloseIdleConnections() {
	c.hc.CloseIdleConnections()
}
