package engine

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// UnknownHost is returned by ExtractHost when a URL cannot be parsed.
// Failures on unparseable URLs still count against a single shared bucket.
const UnknownHost = "unknown"

// ExtractHost returns the host identifier of a channel URL: the bracketed
// literal for IPv6, the host before the port for IPv4/hostnames, with any
// userinfo stripped. It never fails; parse errors yield UnknownHost.
func ExtractHost(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return UnknownHost
	}
	h := u.Hostname()
	if h == "" {
		return UnknownHost
	}
	// url.Hostname strips the brackets from IPv6 literals; put them back so
	// the identifier stays unambiguous next to host:port forms.
	if strings.Contains(h, ":") {
		return "[" + h + "]"
	}
	return h
}

// IPGuard tracks per-host failure counts and maintains a blocked-host set
// so chronically failing hosts stop consuming probe budget.
//
// A host enters the blocked set once its failure counter reaches
// maxFailures; the counter only grows until Reset. Cooldown timestamps are
// recorded per host but expiry is not applied automatically: Reset is the
// only unblock path between independent runs.
type IPGuard struct {
	mu          sync.Mutex
	failures    map[string]int
	blocked     map[string]struct{}
	lastFailure map[string]time.Time

	maxFailures int
	minInterval time.Duration
}

func NewIPGuard(maxFailures int, minInterval time.Duration) *IPGuard {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailuresPerIP
	}
	return &IPGuard{
		failures:    make(map[string]int),
		blocked:     make(map[string]struct{}),
		lastFailure: make(map[string]time.Time),
		maxFailures: maxFailures,
		minInterval: minInterval,
	}
}

// RecordFailure increments the host's failure counter and blocks the host
// once the counter reaches the configured threshold.
func (g *IPGuard) RecordFailure(host string) {
	if host == "" {
		host = UnknownHost
	}
	g.mu.Lock()
	g.failures[host]++
	g.lastFailure[host] = time.Now()
	if g.failures[host] >= g.maxFailures {
		g.blocked[host] = struct{}{}
	}
	g.mu.Unlock()
}

func (g *IPGuard) IsBlocked(host string) bool {
	g.mu.Lock()
	_, ok := g.blocked[host]
	g.mu.Unlock()
	return ok
}

// Failures returns the current failure count for a host.
func (g *IPGuard) Failures(host string) int {
	g.mu.Lock()
	n := g.failures[host]
	g.mu.Unlock()
	return n
}

// BlockedCount returns the number of currently blocked hosts.
func (g *IPGuard) BlockedCount() int {
	g.mu.Lock()
	n := len(g.blocked)
	g.mu.Unlock()
	return n
}

// Reset clears counters, the blocked set and the cooldown map. It is meant
// to run between independent batches, never mid-batch.
func (g *IPGuard) Reset() {
	g.mu.Lock()
	g.failures = make(map[string]int)
	g.blocked = make(map[string]struct{})
	g.lastFailure = make(map[string]time.Time)
	g.mu.Unlock()
}
