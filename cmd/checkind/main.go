package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/checkin/internal/analytics"
	"github.com/djlord-it/checkin/internal/checkin"
	"github.com/djlord-it/checkin/internal/circuitbreaker"
	"github.com/djlord-it/checkin/internal/config"
	"github.com/djlord-it/checkin/internal/geocode"
	"github.com/djlord-it/checkin/internal/metrics"
	"github.com/djlord-it/checkin/internal/normalize"
	"github.com/djlord-it/checkin/internal/registry"
	"github.com/djlord-it/checkin/internal/sms"
	"github.com/djlord-it/checkin/internal/source"
	"github.com/djlord-it/checkin/internal/source/postgres"
	"github.com/djlord-it/checkin/internal/sweep"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	// Local development convenience; production sets real env vars.
	if err := godotenv.Load(); err == nil {
		log.Println("checkind: loaded .env file")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`checkind - appointment check-in scheduling and notification service

Usage:
  checkind <command>

Commands:
  serve      Start the scan passes, reminder scheduler and sweep loop
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  SOURCE_MODE               Record source: "sheet" or "postgres" (default: "sheet")
  SHEET_TOKEN               Spreadsheet API token (required in sheet mode)
  SHEET_IDS                 Comma-separated sheet ids (required in sheet mode)
  SHEET_API_TIMEOUT         Spreadsheet API request timeout (default: "30s")
  DATABASE_URL              PostgreSQL connection string (required in postgres mode)
  DB_OP_TIMEOUT             Database operation timeout (default: "5s")

  GEONAMES_USERNAME         GeoNames API username (required)
  GEOCODE_TIMEOUT           Geocoding request timeout (default: "10s")
  FALLBACK_TIMEZONE         IANA zone used when geocoding fails (optional)

  SMS_PROVIDER              "twilio" or "session" (default: "twilio")
  TWILIO_ACCOUNT_SID        Twilio account SID
  TWILIO_AUTH_TOKEN         Twilio auth token
  TWILIO_FROM               Twilio sending number
  SESSION_URL               Session gateway base URL
  SESSION_USER              Session gateway username
  SESSION_PASSWORD          Session gateway password
  SMS_TIMEOUT               SMS provider request timeout (default: "30s")
  SMS_POST_SEND_DELAY       Pause after each provider send (default: "2s")
  ADMIN_CONTACT             Number receiving row-error relays (optional)

  FORM_URL                  Confirmation form base URL (required)
  ESCAPE_FORM_HASH          Double-encode '#' in form links (default: "false")
  SCHEDULE_24H              Cron expression for the daily pass (default: "0 9 * * *")
  SCHEDULE_1H               Cron expression for the 1-hour scan (default: "*/30 * * * *")
  LOOKAHEAD                 1-hour scan window (default: "24h")

  SWEEP_ENABLED             Cancel jobs completed out-of-band (default: "true")
  SWEEP_INTERVAL            How often the sweeper runs (default: "5m")

  HTTP_ADDR                 HTTP server address (default: ":8080")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  REDIS_ADDR                Redis address for analytics (optional)
  ANALYTICS_RETENTION       Analytics counter retention (default: "2160h")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before the breaker opens,
                            0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown (default: "2m")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Record source
	var (
		src       source.RecordSource
		corrector source.Corrector
		db        *sql.DB
	)
	switch cfg.SourceMode {
	case "sheet":
		client := source.NewGridAPIClient(cfg.SheetToken, cfg.SheetAPITimeout)
		sheets := make([]*source.Sheet, 0, len(cfg.SheetIDs))
		for _, id := range cfg.SheetIDs {
			sheets = append(sheets, source.NewSheet(client, client, id))
		}
		report := source.NewReport(sheets...)
		src = report
		corrector = report
		log.Printf("checkind: sheet source configured (%d sheets)", len(sheets))
	case "postgres":
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}
		store := postgres.New(db, cfg.DBOpTimeout)
		src = store
		corrector = store
		log.Println("checkind: postgres source configured")
	}

	// Timezone resolution
	geoClient := geocode.NewGeoNamesClient(cfg.GeoNamesUsername, cfg.GeocodeTimeout)
	resolver := geocode.NewResolver(geoClient)

	var fallback *time.Location
	if cfg.FallbackTimezone != "" {
		loc, err := time.LoadLocation(cfg.FallbackTimezone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid FALLBACK_TIMEZONE: %v\n", err)
			return exitInvalidConfig
		}
		fallback = loc
	}
	norm := normalize.New(src, resolver, fallback)

	// SMS transport
	var transport sms.Transport
	switch cfg.SMSProvider {
	case "twilio":
		transport = sms.NewTwilioTransport(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom,
			cfg.SMSTimeout, cfg.SMSPostSendDelay)
	case "session":
		t, err := sms.NewSessionTransport(cfg.SessionURL, cfg.SessionUser, cfg.SessionPassword, cfg.SMSTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build session transport: %v\n", err)
			return exitRuntimeError
		}
		transport = t
	}

	// Metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("checkind: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("checkind: METRICS_ENABLED not set; metrics disabled")
	}

	disp := sms.NewDispatcher(transport)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if cfg.AdminContact != "" {
		disp = disp.WithAdminContact(cfg.AdminContact)
	}

	reg := registry.New()

	eng := checkin.New(checkin.Config{
		FormURL:        cfg.FormURL,
		EscapeFormHash: cfg.EscapeFormHash,
		Lookahead:      cfg.Lookahead,
	}, src, norm, disp, reg).WithCorrector(corrector)
	if metricsSink != nil {
		eng = eng.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient, analytics.Config{Retention: cfg.AnalyticsRetention})
		eng = eng.WithAnalytics(sink)
		log.Printf("checkind: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("checkind: REDIS_ADDR not set; analytics disabled")
	}

	// Periodic triggers
	if _, err := reg.AddPeriodic(cfg.Schedule24Hour, "24 hour scan", func() {
		if err := eng.Run24HourPass(context.Background()); err != nil {
			log.Printf("checkind: 24h pass: %v", err)
		}
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCHEDULE_24H %q: %v\n", cfg.Schedule24Hour, err)
		return exitInvalidConfig
	}
	if _, err := reg.AddPeriodic(cfg.Schedule1Hour, "1 hour scan", func() {
		if err := eng.Run1HourPass(context.Background()); err != nil {
			log.Printf("checkind: 1h pass: %v", err)
		}
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCHEDULE_1H %q: %v\n", cfg.Schedule1Hour, err)
		return exitInvalidConfig
	}

	// HTTP server: confirmation intake plus metrics when enabled
	mux := http.NewServeMux()
	mux.HandleFunc("/confirm", confirmHandler(eng))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		log.Printf("checkind: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("checkind: http server error: %v", err)
		}
	}()

	reg.Start()

	// Sweeper runs on its own context so it can stop before the registry.
	var sweepWg sync.WaitGroup
	var cancelSweep context.CancelFunc
	if cfg.SweepEnabled {
		var sweepCtx context.Context
		sweepCtx, cancelSweep = context.WithCancel(context.Background())
		sw := sweep.New(sweep.Config{Interval: cfg.SweepInterval}, reg, src, norm)
		sweepWg.Add(1)
		go func() {
			defer sweepWg.Done()
			sw.Run(sweepCtx)
		}()
	} else {
		log.Println("checkind: SWEEP_ENABLED=false; sweep disabled")
	}

	log.Printf("checkind: started (24h=%q, 1h=%q, http=%s)", cfg.Schedule24Hour, cfg.Schedule1Hour, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("checkind: received signal %v, shutting down", received)

	// Phase 1: Stop the sweeper (no more job removals)
	if cancelSweep != nil {
		log.Println("checkind: stopping sweeper...")
		cancelSweep()
		sweepWg.Wait()
		log.Println("checkind: sweeper stopped")
	}

	// Phase 2: Stop the registry; waits for in-flight jobs to return
	log.Println("checkind: stopping job registry...")
	reg.Stop()
	log.Println("checkind: job registry stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("checkind: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("checkind: http server shutdown error: %v", err)
	}
	log.Println("checkind: http server stopped")

	log.Println("checkind: stopped")
	return exitSuccess
}

// confirmHandler accepts confirmation form posts and feeds them to the
// engine.
func confirmHandler(eng *checkin.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form data", http.StatusBadRequest)
			return
		}

		sub := checkin.ParseSubmission(r.Form)
		if sub.WorkMarketNum == "" {
			http.Error(w, "missing work market number", http.StatusBadRequest)
			return
		}

		outcome, err := eng.HandleConfirmation(r.Context(), sub)
		if err != nil {
			log.Printf("checkind: confirmation WM#%s failed: %v", sub.WorkMarketNum, err)
			http.Error(w, "confirmation failed", http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, outcome)
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("checkind version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
