package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"adwatch/pkg/config"
)

// RobotsGate checks robots.txt permission for search URLs. Rules are fetched
// once per host and cached for the process lifetime; any failure to obtain or
// parse robots.txt results in "allowed", so the gate can only narrow a crawl,
// never break one.
type RobotsGate struct {
	client *http.Client
	cfg    *config.AppConfig
	cache  map[string]*robotstxt.RobotsData // hostname -> parsed data (nil = fetch failed)
	mu     sync.Mutex
	log    *logrus.Logger
}

// NewRobotsGate creates a RobotsGate sharing the fetcher's HTTP client.
func NewRobotsGate(client *http.Client, cfg *config.AppConfig, log *logrus.Logger) *RobotsGate {
	return &RobotsGate{
		client: client,
		cfg:    cfg,
		cache:  make(map[string]*robotstxt.RobotsData),
		log:    log,
	}
}

// Allowed reports whether the configured user agent may fetch targetURL.
// Returns true when the gate is disabled or robots data is unavailable.
func (g *RobotsGate) Allowed(ctx context.Context, targetURL *url.URL) bool {
	if g == nil || !g.cfg.Fetch.RespectRobots {
		return true
	}

	data := g.robotsData(ctx, targetURL)
	if data == nil {
		return true
	}
	return data.TestAgent(targetURL.RequestURI(), g.cfg.Fetch.UserAgent)
}

// robotsData returns cached rules for the host, fetching them on first use.
func (g *RobotsGate) robotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Hostname()

	g.mu.Lock()
	data, found := g.cache[host]
	g.mu.Unlock()
	if found {
		return data // May be nil (cached failure)
	}

	scheme := targetURL.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: targetURL.Host, Path: "/robots.txt"}).String()
	hostLog := g.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL})

	data = g.fetchRobots(ctx, robotsURL, hostLog)

	g.mu.Lock()
	g.cache[host] = data
	g.mu.Unlock()
	return data
}

func (g *RobotsGate) fetchRobots(ctx context.Context, robotsURL string, hostLog *logrus.Entry) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		hostLog.Warnf("robots.txt request creation failed: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", g.cfg.Fetch.UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		hostLog.Warnf("robots.txt fetch failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		hostLog.WithField("status_code", resp.StatusCode).Debug("robots.txt unavailable")
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		hostLog.Warnf("robots.txt body read failed: %v", err)
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		hostLog.Warnf("robots.txt parse failed: %v", err)
		return nil
	}
	hostLog.Debug("Fetched and parsed robots.txt")
	return data
}
