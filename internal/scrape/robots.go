package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
)

const (
	defaultRobotsTTL   = 24 * time.Hour
	maxRobotsBodyBytes = 512 * 1024
)

// RobotsChecker answers robots.txt questions with a per-host cache. A
// robots.txt that is missing, unreadable or unparseable allows everything.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	mu    sync.RWMutex
	cache map[string]robotsEntry
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// NewRobotsChecker creates a checker. A zero ttl uses 24h.
func NewRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if ttl <= 0 {
		ttl = defaultRobotsTTL
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		cache:     make(map[string]robotsEntry),
	}
}

// Allowed reports whether the checker's user agent may fetch rawURL.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, eris.Wrap(err, "robots: parse url")
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return false, eris.Errorf("robots: no host in %q", rawURL)
	}

	entry, ok := r.cached(host)
	if !ok {
		entry = r.fetch(ctx, u.Scheme, host)
	}
	if entry.data == nil {
		return true, nil
	}

	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return entry.data.TestAgent(p, r.userAgent), nil
}

// CrawlDelay returns the cached Crawl-delay for host, or 0.
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	entry, ok := r.cached(strings.ToLower(host))
	if !ok || entry.data == nil {
		return 0
	}
	if g := entry.data.FindGroup(r.userAgent); g != nil {
		return g.CrawlDelay
	}
	return 0
}

func (r *RobotsChecker) cached(host string) (robotsEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[host]
	if !ok || time.Since(e.fetchedAt) > r.ttl {
		return robotsEntry{}, false
	}
	return e, true
}

func (r *RobotsChecker) fetch(ctx context.Context, scheme, host string) robotsEntry {
	if scheme == "" {
		scheme = "https"
	}
	entry := robotsEntry{fetchedAt: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/robots.txt", http.NoBody)
	if err == nil {
		req.Header.Set("User-Agent", r.userAgent)
		if resp, doErr := r.client.Do(req); doErr == nil {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
			_ = resp.Body.Close()
			if readErr == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if data, parseErr := robotstxt.FromBytes(body); parseErr == nil {
					entry.data = data
				}
			}
		}
	}

	r.mu.Lock()
	r.cache[host] = entry
	r.mu.Unlock()
	return entry
}
