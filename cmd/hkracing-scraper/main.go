package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"hkracing-scraper/pkg/config"
	"hkracing-scraper/pkg/fetch"
	"hkracing-scraper/pkg/models"
	"hkracing-scraper/pkg/schedule"
	"hkracing-scraper/pkg/scrape"
	"hkracing-scraper/pkg/storage"
)

const dateLayout = "2006-01-02"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	configFileFlag := flag.String("config", "", "Path to YAML config file (empty for built-in defaults)")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	dateFlag := flag.String("date", "", "Single date to scrape (YYYY-MM-DD)")
	fromFlag := flag.String("from", "", "Range start date (YYYY-MM-DD)")
	toFlag := flag.String("to", "", "Range end date (YYYY-MM-DD, defaults to -from)")
	resultsFlag := flag.Bool("results", true, "Scrape results, sectionals and horse profiles")
	oddsFlag := flag.Bool("odds", false, "Scrape odds time series for already-stored races")
	facetsFlag := flag.String("facets", "", "Comma-separated odds facets (w,p,bet-w,bet-p,eat-w,eat-p; empty for all)")
	strategyFlag := flag.String("strategy", "by-type", "Odds fan-out strategy (by-type or by-entity)")
	forceFlag := flag.Bool("force", false, "Re-scrape dates even when already stored")
	dryRunFlag := flag.Bool("dry-run", false, "Fetch and parse but write nothing to the database")
	concurrencyFlag := flag.Int("concurrency", 0, "Override every configured worker ceiling (0 keeps config values)")
	initDBFlag := flag.Bool("init-db", false, "Create database tables and constraints, then exit")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	appCfg, err := config.LoadConfig(*configFileFlag)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config validation error: %v", err)
	}
	env := config.LoadEnv()
	if env.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	// --- Global context and signal handling ---
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelRun()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	// --- Database ---
	db, err := storage.Open(runCtx, env.PostgresDSN(), env.Debug)
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}
	defer db.Close()

	if *initDBFlag {
		if err := storage.CreateTables(runCtx, db); err != nil {
			log.Fatalf("Schema creation failed: %v", err)
		}
		log.Info("Database schema created")
		os.Exit(0)
	}

	scope, err := resolveScopeFlags(*dateFlag, *fromFlag, *toFlag)
	if err != nil {
		log.Fatalf("Scope error: %v", err)
	}

	opts, err := buildOptions(*resultsFlag, *oddsFlag, *forceFlag, *dryRunFlag, *facetsFlag, *strategyFlag, *concurrencyFlag)
	if err != nil {
		log.Fatalf("Options error: %v", err)
	}

	store := storage.NewPostgresStore(db, logrus.NewEntry(log))

	// --- Fetch sessions ---
	// The results and odds sites get separate clients: each session owns its
	// cookie jar, and odds credentials must never ride along to the results
	// site.
	resultsLog := logrus.NewEntry(log).WithField("session", "results")
	resultsClient := fetch.NewClient(appCfg.HTTPClientSettings, resultsLog)
	resultsOpts := fetch.SessionOptions{
		Timeout:       appCfg.RequestTimeout,
		UserAgent:     appCfg.UserAgent,
		NetworkPolicy: fetch.NetworkPolicy(appCfg),
	}
	if appCfg.RespectRobots {
		resultsOpts.Robots = fetch.NewRobotsGate(resultsClient, appCfg.UserAgent, resultsLog)
	}
	resultsSession := fetch.NewSessionManager(resultsClient, resultsOpts, resultsLog)

	var oddsSession *fetch.SessionManager
	if opts.Odds {
		oddsLog := logrus.NewEntry(log).WithField("session", "odds")
		oddsClient := fetch.NewClient(appCfg.HTTPClientSettings, oddsLog)
		login, lerr := fetch.NewLoginFlow(appCfg.OddsLoginURL, appCfg.OddsBaseURL,
			env.OddsEmail, env.OddsPassword, appCfg.CredentialFile, oddsClient, oddsLog)
		if lerr != nil {
			log.Fatalf("Odds login setup failed: %v", lerr)
		}
		rlPolicy := fetch.RateLimitPolicy(appCfg)
		oddsSession = fetch.NewSessionManager(oddsClient, fetch.SessionOptions{
			Timeout:         appCfg.OddsRequestTimeout,
			UserAgent:       appCfg.UserAgent,
			BrowserHeaders:  true,
			Referer:         appCfg.OddsBaseURL,
			Limiter:         fetch.NewAdaptiveRateLimiter(appCfg.SamePathDelay, appCfg.PathChangeDelay, oddsLog),
			Login:           login,
			MaxRelogins:     appCfg.MaxRelogins,
			NetworkPolicy:   fetch.NetworkPolicy(appCfg),
			RateLimitPolicy: &rlPolicy,
		}, oddsLog)
	}

	// --- Run ---
	orch := scrape.NewOrchestrator(appCfg, store, resultsSession, oddsSession, logrus.NewEntry(log))
	sum, err := orch.RunScrape(runCtx, scope, opts)
	if err != nil {
		log.Fatalf("Run aborted: %v", err)
	}

	fmt.Println(sum.FormatReport())

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.Canceled) {
		log.Warn("Run cancelled gracefully.")
		os.Exit(0)
	}
	if sum.DatesFailed > 0 {
		os.Exit(1)
	}
}

// resolveScopeFlags turns the -date / -from / -to flags into a date range.
// -date and -from are mutually exclusive; -to defaults to -from.
func resolveScopeFlags(date, from, to string) (scrape.Scope, error) {
	if date != "" && from != "" {
		return scrape.Scope{}, errors.New("-date and -from are mutually exclusive")
	}
	if date != "" {
		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return scrape.Scope{}, fmt.Errorf("invalid -date %q: %w", date, err)
		}
		return scrape.Scope{From: d, To: d}, nil
	}
	if from == "" {
		return scrape.Scope{}, errors.New("either -date or -from is required")
	}
	f, err := time.Parse(dateLayout, from)
	if err != nil {
		return scrape.Scope{}, fmt.Errorf("invalid -from %q: %w", from, err)
	}
	if to == "" {
		return scrape.Scope{From: f, To: f}, nil
	}
	t, err := time.Parse(dateLayout, to)
	if err != nil {
		return scrape.Scope{}, fmt.Errorf("invalid -to %q: %w", to, err)
	}
	return scrape.Scope{From: f, To: t}, nil
}

func buildOptions(results, odds, force, dryRun bool, facets, strategy string, concurrency int) (scrape.Options, error) {
	opts := scrape.Options{
		Results:        results,
		Odds:           odds,
		Force:          force,
		DryRun:         dryRun,
		MaxConcurrency: concurrency,
	}
	if !results && !odds {
		return opts, errors.New("nothing to do: both -results and -odds are off")
	}

	if facets != "" {
		known := make(map[models.Facet]bool)
		for _, f := range models.AllFacets() {
			known[f] = true
		}
		for _, raw := range strings.Split(facets, ",") {
			f := models.Facet(strings.TrimSpace(raw))
			if !known[f] {
				return opts, fmt.Errorf("unknown facet %q", raw)
			}
			opts.Facets = append(opts.Facets, f)
		}
	}

	switch strategy {
	case "", "by-type":
		opts.Strategy = schedule.ByType
	case "by-entity":
		opts.Strategy = schedule.ByEntity
	default:
		return opts, fmt.Errorf("unknown strategy %q (want by-type or by-entity)", strategy)
	}
	return opts, nil
}
