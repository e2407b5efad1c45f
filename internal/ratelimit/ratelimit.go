// Package ratelimit provides per-domain rate limiting for outbound HTTP
// requests, so feed sweeps behave as good citizens toward feed origins
// instead of hammering a single host.
package ratelimit

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Manager manages one token-bucket limiter per domain.
type Manager struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	limit    rate.Limit
	burst    int
}

// New creates a Manager. requestsPerMinute is the per-domain cap; burst
// allows temporary spikes above the steady rate.
func New(requestsPerMinute int, burst int) *Manager {
	reqPerSec := float64(requestsPerMinute) / 60.0
	return &Manager{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(reqPerSec),
		burst:    burst,
	}
}

// Wait blocks until a request to feedURL's domain is allowed, or returns
// an error if ctx is cancelled first. Fails open (returns nil immediately)
// if the domain cannot be extracted.
func (m *Manager) Wait(ctx context.Context, feedURL string) error {
	domain, err := extractDomain(feedURL)
	if err != nil {
		return nil
	}
	return m.getLimiter(domain).Wait(ctx)
}

// Allow reports whether a request to feedURL's domain would be allowed
// immediately, without blocking.
func (m *Manager) Allow(feedURL string) bool {
	domain, err := extractDomain(feedURL)
	if err != nil {
		return true
	}
	return m.getLimiter(domain).Allow()
}

func (m *Manager) getLimiter(domain string) *rate.Limiter {
	m.mu.RLock()
	limiter, exists := m.limiters[domain]
	m.mu.RUnlock()
	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if limiter, exists := m.limiters[domain]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(m.limit, m.burst)
	m.limiters[domain] = limiter
	return limiter
}

func extractDomain(feedURL string) (string, error) {
	parsed, err := url.Parse(feedURL)
	if err != nil {
		return "", err
	}
	return parsed.Hostname(), nil
}

// Stats summarizes the current state of all per-domain limiters.
type Stats struct {
	TotalDomains int
	Limiters     map[string]LimiterStats
}

// LimiterStats describes a single domain's limiter.
type LimiterStats struct {
	Domain            string
	TokensAvailable   int
	Burst             int
	RequestsPerMinute float64
}

// Stats returns a snapshot of all per-domain limiters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalDomains: len(m.limiters),
		Limiters:     make(map[string]LimiterStats, len(m.limiters)),
	}
	for domain, limiter := range m.limiters {
		stats.Limiters[domain] = LimiterStats{
			Domain:            domain,
			TokensAvailable:   int(limiter.Tokens()),
			Burst:             m.burst,
			RequestsPerMinute: float64(m.limit) * 60,
		}
	}
	return stats
}

// ResetAll clears all per-domain limiters. Useful in tests.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters = make(map[string]*rate.Limiter)
}

// SetLimit updates the rate applied to all current and future limiters.
func (m *Manager) SetLimit(requestsPerMinute int, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	m.burst = burst
	for domain := range m.limiters {
		m.limiters[domain] = rate.NewLimiter(m.limit, m.burst)
	}
}
