package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsGate fetches, parses and caches robots.txt per host and answers
// allow/deny for the public results pages. A missing or unreadable
// robots.txt allows everything; an explicit disallow is honored.
type RobotsGate struct {
	client    *http.Client
	userAgent string

	cache   map[string]*robotstxt.RobotsData // hostname -> parsed data (nil = allow all)
	cacheMu sync.Mutex

	log *logrus.Entry
}

// NewRobotsGate creates a RobotsGate.
func NewRobotsGate(client *http.Client, userAgent string, log *logrus.Entry) *RobotsGate {
	return &RobotsGate{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Allowed reports whether rawURL may be fetched for the configured agent.
func (rg *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	target, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	data := rg.robotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.Path, rg.userAgent)
}

func (rg *RobotsGate) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Hostname()

	rg.cacheMu.Lock()
	data, found := rg.cache[host]
	rg.cacheMu.Unlock()
	if found {
		return data
	}

	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	hostLog := rg.log.WithField("host", host)

	var parsed *robotstxt.RobotsData
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err == nil {
		req.Header.Set("User-Agent", rg.userAgent)
		resp, derr := rg.client.Do(req)
		if derr != nil {
			hostLog.Warnf("Failed to fetch robots.txt, assuming allow-all: %v", derr)
		} else {
			body, rerr := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
			resp.Body.Close()
			switch {
			case rerr != nil:
				hostLog.Warnf("Failed to read robots.txt body, assuming allow-all: %v", rerr)
			case resp.StatusCode >= 400:
				hostLog.WithField("status", resp.StatusCode).Debug("No robots.txt, allow-all")
			default:
				parsed, rerr = robotstxt.FromBytes(body)
				if rerr != nil {
					hostLog.Warnf("Failed to parse robots.txt, assuming allow-all: %v", rerr)
					parsed = nil
				}
			}
		}
	}

	rg.cacheMu.Lock()
	rg.cache[host] = parsed
	rg.cacheMu.Unlock()
	return parsed
}
