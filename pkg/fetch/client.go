package fetch

import (
	"net"
	"net/http"
	"net/http/cookiejar"

	"github.com/sirupsen/logrus"

	"hkracing-scraper/pkg/config"
)

// NewClient creates the pooled, cookie-bearing HTTP client one scraping run
// shares across all workers. The cookie jar is the session's mutable state;
// it is owned by the SessionManager, never process-wide.
func NewClient(cfg config.HTTPClientConfig, log *logrus.Entry) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
	}

	// cookiejar.New only errors on invalid PublicSuffixList; nil is valid
	jar, _ := cookiejar.New(nil)

	client := &http.Client{
		// Per-request timeouts come from the request context; the transport
		// level timeouts above bound the individual connection phases.
		Transport: transport,
		Jar:       jar,
	}
	log.Debug("HTTP client initialized")
	return client
}
