package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hkracing-scraper/pkg/utils"
)

// SessionOptions configures a SessionManager. Limiter, Robots and Login are
// all optional: the public results session uses Robots without Login, the
// odds session uses Limiter and Login without Robots.
type SessionOptions struct {
	Timeout         time.Duration
	UserAgent       string
	BrowserHeaders  bool   // full browser header set with UA rotation
	Referer         string // sent when BrowserHeaders is on
	Limiter         *AdaptiveRateLimiter
	Robots          *RobotsGate
	Login           *LoginFlow
	MaxRelogins     int // per-run re-authentication budget
	NetworkPolicy   Policy
	RateLimitPolicy *Policy // nil disables 429 retries
}

// SessionManager owns one pooled, cookie-bearing connection context for a
// scraping run and layers the resilience stack over it: robots gate, adaptive
// rate limiting, bounded retries, and authorization recovery. Safe for
// concurrent use by all workers of the run.
type SessionManager struct {
	client *http.Client
	retry  *RetryController
	opts   SessionOptions
	log    *logrus.Entry

	reloginMu sync.Mutex
	relogins  int
	primed    bool
}

// NewSessionManager creates a SessionManager over the given client.
func NewSessionManager(client *http.Client, opts SessionOptions, log *logrus.Entry) *SessionManager {
	return &SessionManager{
		client: client,
		retry:  NewRetryController(log),
		opts:   opts,
		log:    log,
	}
}

// Fetch retrieves rawURL and returns the response status and body. Transient
// network failures retry under the network policy; 429s retry under the
// rate-limit policy when one is configured; an authorization denial triggers
// one re-authentication and a single repeat of the request, after which
// utils.ErrAuthExpired is fatal.
func (sm *SessionManager) Fetch(ctx context.Context, rawURL string) (int, []byte, error) {
	if sm.opts.Robots != nil && !sm.opts.Robots.Allowed(ctx, rawURL) {
		return 0, nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, rawURL)
	}
	if err := sm.primeCredentials(ctx); err != nil {
		return 0, nil, err
	}

	var status int
	var body []byte

	once := func(ctx context.Context) error {
		var err error
		status, body, err = sm.doOnce(ctx, rawURL, false)
		return err
	}
	withNetRetry := func(ctx context.Context) error {
		return sm.retry.Do(ctx, rawURL, sm.opts.NetworkPolicy, once)
	}

	var err error
	if sm.opts.RateLimitPolicy != nil {
		err = sm.retry.Do(ctx, rawURL, *sm.opts.RateLimitPolicy, withNetRetry)
	} else {
		err = withNetRetry(ctx)
	}
	return status, body, err
}

// doOnce performs a single request attempt. reauthed marks that this attempt
// repeats a request whose predecessor was denied; a second denial is fatal.
func (sm *SessionManager) doOnce(ctx context.Context, rawURL string, reauthed bool) (int, []byte, error) {
	if sm.opts.Limiter != nil {
		if err := sm.opts.Limiter.WaitIfNeeded(ctx, rawURL); err != nil {
			return 0, nil, err
		}
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if sm.opts.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, sm.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	if sm.opts.BrowserHeaders {
		req.Header = BrowserHeaders(sm.opts.Referer)
	} else if sm.opts.UserAgent != "" {
		req.Header.Set("User-Agent", sm.opts.UserAgent)
	}

	resp, err := sm.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}

	reqLog := sm.log.WithFields(logrus.Fields{"url": rawURL, "status": resp.StatusCode})

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if sm.opts.Login != nil && isLoginRedirect(resp, body) {
			reqLog.Warn("Login redirect detected, session expired")
			return sm.recoverAuth(ctx, rawURL, reauthed)
		}
		reqLog.Debug("Fetched")
		return resp.StatusCode, body, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, nil, fmt.Errorf("%w: status 429 %s", errTooManyRequests, resp.Status)

	case resp.StatusCode == http.StatusForbidden && sm.opts.Login != nil:
		reqLog.Warn("403 Forbidden, session likely expired")
		return sm.recoverAuth(ctx, rawURL, reauthed)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Permanent for this URL; surfaces immediately (e.g. date with no meeting)
		return resp.StatusCode, nil, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, resp.StatusCode, resp.Status)

	case resp.StatusCode >= 500:
		return resp.StatusCode, nil, fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, resp.StatusCode, resp.Status)

	default:
		return resp.StatusCode, nil, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, resp.StatusCode, resp.Status)
	}
}

// recoverAuth re-authenticates once and repeats the denied request. If this
// attempt was already the post-re-auth repeat, give up: retrying further
// risks escalating into a ban.
func (sm *SessionManager) recoverAuth(ctx context.Context, rawURL string, reauthed bool) (int, []byte, error) {
	if reauthed {
		return 0, nil, fmt.Errorf("%w: denied again after re-authentication for %s", utils.ErrAuthExpired, rawURL)
	}
	if err := sm.reauthenticate(ctx); err != nil {
		return 0, nil, err
	}
	return sm.doOnce(ctx, rawURL, true)
}

func (sm *SessionManager) reauthenticate(ctx context.Context) error {
	sm.reloginMu.Lock()
	if sm.opts.MaxRelogins > 0 && sm.relogins >= sm.opts.MaxRelogins {
		sm.reloginMu.Unlock()
		return fmt.Errorf("%w: re-login budget (%d) exhausted for this run", utils.ErrAuthExpired, sm.opts.MaxRelogins)
	}
	sm.relogins++
	attempt := sm.relogins
	sm.reloginMu.Unlock()

	sm.log.WithFields(logrus.Fields{"attempt": attempt, "max": sm.opts.MaxRelogins}).Warn("Refreshing odds site session")

	creds, err := sm.opts.Login.Login(ctx)
	if err != nil {
		return fmt.Errorf("%w: re-authentication failed: %v", utils.ErrAuthExpired, err)
	}
	sm.applyCredentials(creds)
	return nil
}

// primeCredentials loads persisted credentials into the cookie jar before the
// first authenticated request. Absent credentials are fine; the first 403
// triggers the recovery path.
func (sm *SessionManager) primeCredentials(ctx context.Context) error {
	if sm.opts.Login == nil {
		return nil
	}

	sm.reloginMu.Lock()
	defer sm.reloginMu.Unlock()
	if sm.primed {
		return nil
	}
	sm.primed = true

	creds, err := sm.opts.Login.Load()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		sm.log.Warn("No persisted session credentials; first denied request will trigger login")
		return nil
	}
	sm.applyCredentials(creds)
	return nil
}

func (sm *SessionManager) applyCredentials(creds Credentials) {
	if sm.client.Jar == nil {
		return
	}
	u := &url.URL{Scheme: "https", Host: sm.opts.Login.CookieHost(), Path: "/"}
	cookies := make([]*http.Cookie, 0, len(creds))
	for name, value := range creds {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	sm.client.Jar.SetCookies(u, cookies)
}

// isLoginRedirect detects the odds site bouncing an expired session to its
// login page while still answering 200.
func isLoginRedirect(resp *http.Response, body []byte) bool {
	if resp.Request != nil && strings.Contains(strings.ToLower(resp.Request.URL.String()), "login-register") {
		return true
	}
	head := body
	if len(head) > 2048 {
		head = head[:2048]
	}
	return strings.Contains(string(head), "login-register")
}
