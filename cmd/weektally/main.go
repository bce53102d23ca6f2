package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"weektally/internal/catalog"
	"weektally/internal/config"
	"weektally/internal/export"
	appLog "weektally/internal/log"
	"weektally/internal/reconcile"
	"weektally/internal/refresh"
	"weektally/internal/source/google"
	"weektally/internal/source/ics"
	"weektally/internal/store"
	"weektally/internal/store/durable"
	"weektally/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("weektally starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"data_dir", conf.DataDir,
		"ics_count", len(conf.ICS),
		"ledger", conf.Ledger.URL != "",
		"once", flags.once,
	)

	if err := os.MkdirAll(conf.DataDir, 0o700); err != nil {
		appLog.Error("failed to create data dir", err, "data_dir", conf.DataDir)
		os.Exit(1)
	}

	dur, err := durable.Open(filepath.Join(conf.DataDir, "weektally.db"))
	if err != nil {
		appLog.Error("failed to open durable store", err)
		os.Exit(1)
	}
	defer dur.Close()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	sources, provider := buildSources(ctx, conf)

	session := store.NewSessionStore(nil)
	cat := catalog.New(provider, dur, nil)
	orch := refresh.New(sources, cat, dur, session, loc, nil)
	controller := reconcile.New(session, dur, orch)

	var ledger *export.Ledger
	if conf.Ledger.URL != "" {
		ledger = export.NewLedger(conf.Ledger.URL, conf.Ledger.Email)
	}

	// Initial load.
	result := orch.Refresh(ctx, false)
	logRefresh(result)

	if flags.once {
		appLog.Info("single-shot refresh done, exiting")
		return
	}

	// Periodic background refresh.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(conf.RefreshCron, func() {
		logRefresh(orch.Refresh(ctx, false))
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := web.NewServer(conf, session, dur, cat, orch, controller, ledger)
	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("weektally exiting")
}

// buildSources assembles the configured event sources and the master-entity
// provider. Google is optional; when its credentials are absent the engine
// runs on ICS sources alone with an empty entity list.
func buildSources(ctx context.Context, conf *config.Config) ([]refresh.EventSource, catalog.Provider) {
	var sources []refresh.EventSource

	icsCacheDir := filepath.Join(conf.DataDir, "ics-cache")
	for _, sub := range conf.ICS {
		if sub.URL == "" {
			continue
		}
		id := sub.ID
		if id == "" {
			id = sub.Name
		}
		sources = append(sources, ics.NewSource(ics.Subscription{ID: id, URL: sub.URL}, icsCacheDir))
	}

	var provider catalog.Provider = catalog.Static(nil)

	creds := google.Credentials{
		ClientSecretsFile: conf.Google.CredentialsFile,
		TokenFile:         conf.Google.TokenFile,
	}
	client, err := creds.HTTPClient(ctx)
	if err != nil {
		appLog.Warn("google auth unavailable, continuing without google sources", "err", err)
		return sources, provider
	}

	if conf.Google.CalendarID != "" {
		calSource, err := google.NewCalendarSource(ctx, client, conf.Google.CalendarID)
		if err != nil {
			appLog.Error("google calendar init failed", err, "calendar_id", conf.Google.CalendarID)
		} else {
			sources = append(sources, calSource)
		}
	}

	if conf.Google.SpreadsheetID != "" {
		sheet, err := google.NewSheetProvider(ctx, client, conf.Google.SpreadsheetID, conf.Google.SheetName)
		if err != nil {
			appLog.Error("google sheets init failed", err, "spreadsheet_id", conf.Google.SpreadsheetID)
		} else {
			provider = sheet
		}
	}

	return sources, provider
}

func logRefresh(result refresh.Result) {
	if result.Stale {
		appLog.Debug("refresh result discarded, offset changed mid-flight")
		return
	}
	for name, err := range result.EventErrs {
		if err != nil {
			appLog.Error("event source refresh failed", err, "source", name)
		}
	}
	if result.AllEventsFailed() {
		appLog.Warn("all event sources failed, serving last known events")
	}
	if result.EntitiesErr != nil {
		appLog.Error("entity refresh failed", result.EntitiesErr)
	}
	if result.SelectionErr != nil {
		appLog.Error("selection load failed", result.SelectionErr)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/weektally/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh cycle and exit")

	flag.Parse()

	return cfg
}
