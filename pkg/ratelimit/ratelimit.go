// Package ratelimit implements a sliding-window request limiter keyed
// by client address and credential.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Key identifies one bucket: who is calling and with what credential.
type Key struct {
	Client     string
	Credential string
}

// KeyFor derives the bucket key for a request. The client is the first
// address in X-Forwarded-For when present, otherwise the remote host.
// The credential prefers the Authorization header over X-API-Key.
func KeyFor(r *http.Request) Key {
	client := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		client = host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found {
			client = strings.TrimSpace(first)
		} else {
			client = strings.TrimSpace(xff)
		}
	}

	credential := r.Header.Get("Authorization")
	if credential == "" {
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			credential = "api:" + apiKey
		}
	}

	return Key{Client: client, Credential: credential}
}

// Limiter allows at most limit requests per key within a sliding
// window. Safe for concurrent use. A limit of zero or less disables
// limiting entirely.
type Limiter struct {
	window time.Duration
	limit  int

	mu      sync.Mutex
	buckets map[Key][]time.Time
	now     func() time.Time
}

// New builds a limiter; window defaults to one minute when zero.
func New(limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		window:  window,
		limit:   limit,
		buckets: make(map[Key][]time.Time),
		now:     time.Now,
	}
}

// Allow records an attempt for key and reports whether it fits inside
// the window.
func (l *Limiter) Allow(key Key) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.buckets[key][:0]
	for _, at := range l.buckets[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= l.limit {
		l.buckets[key] = kept
		return false
	}

	l.buckets[key] = append(kept, now)
	return true
}

// Middleware rejects over-limit requests with a 429 JSON body.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(KeyFor(r)) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
