package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"hkracing-scraper/pkg/utils"
)

// Credentials is the opaque session material for the odds site: cookie name
// to value. It is the only state the scraper persists between runs outside
// the database.
type Credentials map[string]string

// ageGateCookie must be present or odds pages come back as an empty shell
// with no data tables.
const ageGateCookie = "i_am_18_or_over"

// LoginFlow performs the odds site's AJAX login and manages the credential
// file shared between runs.
type LoginFlow struct {
	loginURL   string
	gateURL    string // landing endpoint that sets the age-verification cookie
	cookieHost string // domain the session cookies belong to
	email      string
	password   string
	credFile   string
	client     *http.Client
	log        *logrus.Entry
}

// NewLoginFlow creates a LoginFlow. oddsBaseURL is used to derive the cookie
// host and the age-gate endpoint.
func NewLoginFlow(loginURL, oddsBaseURL, email, password, credFile string, client *http.Client, log *logrus.Entry) (*LoginFlow, error) {
	base, err := url.Parse(oddsBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: odds base URL: %v", utils.ErrRequestCreation, err)
	}
	return &LoginFlow{
		loginURL:   loginURL,
		gateURL:    base.Scheme + "://" + base.Host + "/ajaj/landing.ajaj",
		cookieHost: base.Host,
		email:      email,
		password:   password,
		credFile:   credFile,
		client:     client,
		log:        log,
	}, nil
}

// CookieHost returns the domain the session cookies are scoped to.
func (lf *LoginFlow) CookieHost() string { return lf.cookieHost }

// Load reads credentials from the credential file. A missing file is not an
// error; it returns empty credentials so the caller can decide to log in.
func (lf *LoginFlow) Load() (Credentials, error) {
	data, err := os.ReadFile(lf.credFile)
	if os.IsNotExist(err) {
		return Credentials{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential file %s: %w", lf.credFile, err)
	}
	creds := Credentials{}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credential file %s: %w", lf.credFile, err)
	}
	lf.log.WithField("cookies", len(creds)).Info("Loaded session credentials from file")
	return creds, nil
}

// Save persists credentials for reuse by subsequent runs.
func (lf *LoginFlow) Save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	// 0600: the file carries an authenticated session
	return os.WriteFile(lf.credFile, data, 0600)
}

// Login posts the login form, collects the session cookies, passes the age
// gate, and persists the refreshed credentials.
func (lf *LoginFlow) Login(ctx context.Context) (Credentials, error) {
	if lf.email == "" || lf.password == "" {
		return nil, fmt.Errorf("%w: odds site credentials not configured", utils.ErrAuthExpired)
	}

	form := url.Values{}
	form.Set("email", lf.email)
	form.Set("password", lf.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lf.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header = BrowserHeaders("https://" + lf.cookieHost + "/")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := lf.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: login endpoint returned %d %s", utils.ErrAuthExpired, resp.StatusCode, resp.Status)
	}

	creds := Credentials{}
	for _, c := range resp.Cookies() {
		creds[c.Name] = c.Value
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: login response carried no session cookies", utils.ErrAuthExpired)
	}

	lf.passAgeGate(ctx, creds)

	if err := lf.Save(creds); err != nil {
		lf.log.Warnf("Failed to persist session credentials: %v", err)
	}
	lf.log.WithField("cookies", len(creds)).Info("Odds site login succeeded")
	return creds, nil
}

// passAgeGate POSTs the age confirmation so data tables render. On any
// failure the cookie is set manually; the server accepts any truthy value.
func (lf *LoginFlow) passAgeGate(ctx context.Context, creds Credentials) {
	if _, ok := creds[ageGateCookie]; ok {
		return
	}

	form := url.Values{}
	form.Set("action", "set_18")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lf.gateURL, strings.NewReader(form.Encode()))
	if err == nil {
		req.Header = BrowserHeaders("https://" + lf.cookieHost + "/")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		for name, value := range creds {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}

		resp, derr := lf.client.Do(req)
		if derr == nil {
			for _, c := range resp.Cookies() {
				if c.Name == ageGateCookie {
					creds[ageGateCookie] = c.Value
				}
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if _, ok := creds[ageGateCookie]; ok {
				lf.log.Info("Passed odds site age verification gate")
				return
			}
		}
	}

	creds[ageGateCookie] = "1"
	lf.log.Info("Set age gate cookie manually")
}
