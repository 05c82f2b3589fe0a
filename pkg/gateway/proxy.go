// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/niura/neurostream/pkg/api"
	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/backoff"
	"github.com/niura/neurostream/pkg/util/log"
)

// response headers never forwarded to the client
var strippedResponseHeaders = []string{"Content-Encoding", "Transfer-Encoding", "Connection"}

// Upstream is one proxied back-end service
type Upstream struct {
	Name string
	Base *url.URL
}

// NewUpstream parses the base URL of a back-end service
func NewUpstream(name, rawURL string) (Upstream, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return Upstream{}, err
	}
	return Upstream{Name: name, Base: base}, nil
}

// Proxy forwards authenticated requests to the back-end services.
// Request bodies are streamed, never buffered. Upstreams that keep
// failing are blocked for an exponentially growing interval and fail
// fast while blocked.
type Proxy struct {
	client       *http.Client
	timeout      time.Duration
	mediaTimeout time.Duration
	policy       backoff.Policy
	clock        clock.Clock

	mu           sync.Mutex
	errCount     map[string]int
	blockedUntil map[string]time.Time
}

// ProxyConfig tunes the proxy timeouts and the blocked-upstream policy
type ProxyConfig struct {
	Timeout      time.Duration
	MediaTimeout time.Duration
	Policy       backoff.Policy
}

// NewProxy builds a Proxy
func NewProxy(cfg ProxyConfig) *Proxy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 120 * time.Second
	}
	if cfg.Policy == nil {
		cfg.Policy = backoff.NewExpBackoffPolicy(2, 2, 64, 2, false)
	}
	return &Proxy{
		client:       &http.Client{},
		timeout:      cfg.Timeout,
		mediaTimeout: cfg.MediaTimeout,
		policy:       cfg.Policy,
		clock:        clock.New(),
		errCount:     make(map[string]int),
		blockedUntil: make(map[string]time.Time),
	}
}

// Handler returns an http.Handler forwarding to the upstream. An empty
// targetPath keeps the request path; otherwise the path is rewritten.
// media selects the longer timeout used for upload routes.
func (p *Proxy) Handler(up Upstream, targetPath string, media bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.forward(w, r, up, targetPath, media)
	})
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, up Upstream, targetPath string, media bool) {
	if p.blocked(up.Name) {
		telemetry.ProxyRequests.WithLabelValues(up.Name, "blocked").Inc()
		api.WriteDetail(w, http.StatusBadGateway, "upstream temporarily unavailable")
		return
	}

	timeout := p.timeout
	if media {
		timeout = p.mediaTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	target := *up.Base
	target.Path = targetPath
	if targetPath == "" {
		target.Path = r.URL.Path
	}
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	out.Header = r.Header.Clone()
	// the gateway is the only credential authority past this point
	out.Header.Set("Authorization", "Bearer "+api.BearerToken(r))
	if userID, ok := api.UserID(r.Context()); ok {
		out.Header.Set("x-user-id", strconv.FormatInt(userID, 10))
	}
	out.Header.Set("x-request-id", uuid.NewString())

	resp, err := p.client.Do(out)
	if err != nil {
		switch {
		case r.Context().Err() != nil:
			// the client went away first; not the upstream's fault, so
			// it does not count against the blocking policy
			telemetry.ProxyRequests.WithLabelValues(up.Name, "499").Inc()
			api.WriteDetail(w, api.StatusClientClosedRequest, "client closed request")
		case errors.Is(err, context.DeadlineExceeded):
			p.recordFailure(up.Name)
			telemetry.ProxyRequests.WithLabelValues(up.Name, "504").Inc()
			api.WriteDetail(w, http.StatusGatewayTimeout, "upstream timeout")
		default:
			p.recordFailure(up.Name)
			log.Warnf("proxying to %s: %v", up.Name, err)
			telemetry.ProxyRequests.WithLabelValues(up.Name, "502").Inc()
			api.WriteDetail(w, http.StatusBadGateway, "upstream unreachable")
		}
		return
	}
	defer resp.Body.Close()
	p.recordSuccess(up.Name)

	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	for _, name := range strippedResponseHeaders {
		header.Del(name)
	}

	telemetry.ProxyRequests.WithLabelValues(up.Name, strconv.Itoa(resp.StatusCode)).Inc()
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debugf("streaming response from %s: %v", up.Name, err)
	}
}

func (p *Proxy) blocked(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.Now().Before(p.blockedUntil[name])
}

func (p *Proxy) recordFailure(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errCount[name] = p.policy.IncError(p.errCount[name])
	p.blockedUntil[name] = p.clock.Now().Add(p.policy.GetBackoffDuration(p.errCount[name]))
}

func (p *Proxy) recordSuccess(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errCount[name] = p.policy.DecError(p.errCount[name])
	delete(p.blockedUntil, name)
}
