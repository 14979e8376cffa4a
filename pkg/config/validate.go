package config

import (
	"fmt"
	"net/url"
	"time"

	"hkracing-scraper/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Base URLs are the only hard requirements
	if c.ResultsBaseURL == "" {
		return warnings, fmt.Errorf("%w: results_base_url is required", utils.ErrConfigValidation)
	}
	if _, uerr := url.Parse(c.ResultsBaseURL); uerr != nil {
		return warnings, fmt.Errorf("%w: results_base_url invalid: %v", utils.ErrConfigValidation, uerr)
	}
	if c.OddsBaseURL == "" {
		return warnings, fmt.Errorf("%w: odds_base_url is required", utils.ErrConfigValidation)
	}
	if _, uerr := url.Parse(c.OddsBaseURL); uerr != nil {
		return warnings, fmt.Errorf("%w: odds_base_url invalid: %v", utils.ErrConfigValidation, uerr)
	}

	// Timeouts
	if c.RequestTimeout <= 0 {
		warnings = append(warnings, "request_timeout should be > 0, defaulting to 15s")
		c.RequestTimeout = 15 * time.Second
	}
	if c.OddsRequestTimeout <= 0 {
		warnings = append(warnings, "odds_request_timeout should be > 0, defaulting to 30s")
		c.OddsRequestTimeout = 30 * time.Second
	}

	// Retry policy bounds
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}
	if c.RateLimitRetries < 0 {
		warnings = append(warnings, "rate_limit_retries cannot be negative, setting to 0")
		c.RateLimitRetries = 0
	}
	if c.RateLimitBackoff <= 0 {
		warnings = append(warnings, "rate_limit_backoff should be > 0, defaulting to 15s")
		c.RateLimitBackoff = 15 * time.Second
	}

	// Adaptive limiter delays. A path-change delay shorter than the same-path
	// delay inverts the locality optimization; treat as misconfiguration.
	if c.SamePathDelay < 0 {
		warnings = append(warnings, "same_path_delay cannot be negative, setting to 0")
		c.SamePathDelay = 0
	}
	if c.PathChangeDelay < 0 {
		warnings = append(warnings, "path_change_delay cannot be negative, setting to 0")
		c.PathChangeDelay = 0
	}
	if c.PathChangeDelay < c.SamePathDelay {
		return warnings, fmt.Errorf("%w: path_change_delay (%v) must be >= same_path_delay (%v)",
			utils.ErrConfigValidation, c.PathChangeDelay, c.SamePathDelay)
	}

	// Worker ceilings
	if c.MaxRaceWorkers <= 0 {
		warnings = append(warnings, "max_race_workers should be > 0, defaulting to 4")
		c.MaxRaceWorkers = 4
	}
	if c.MaxProfileWorkers <= 0 {
		warnings = append(warnings, "max_profile_workers should be > 0, defaulting to 8")
		c.MaxProfileWorkers = 8
	}
	if c.MaxOddsWorkers <= 0 {
		warnings = append(warnings, "max_odds_workers should be > 0, defaulting to 2")
		c.MaxOddsWorkers = 2
	}

	// Session recovery
	if c.MaxRelogins < 0 {
		warnings = append(warnings, "max_relogins cannot be negative, setting to 0")
		c.MaxRelogins = 0
	}
	if c.CredentialFile == "" {
		c.CredentialFile = ".odds_cookies"
	}

	return warnings, nil
}
