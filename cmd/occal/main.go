package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"occal/internal/caldav"
	"occal/internal/config"
	"occal/internal/ics"
	appLog "occal/internal/log"
	"occal/internal/model"
	"occal/internal/resolve"
	"occal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	days       int
	verbose    bool
}

func main() {
	flags := parseFlags()
	if flags.verbose {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.days > 0 {
		conf.HorizonDays = flags.days
	}

	loc := loadLocation(conf.Timezone)

	appLog.Info("occal starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"ics_count", len(conf.ICS),
		"caldav", conf.CalDAV != nil,
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	provider := buildProvider(ctx, conf)
	srv := web.NewServer(conf, provider, loc)

	if flags.once {
		if err := runOnce(ctx, srv, provider); err != nil {
			appLog.Error("one-shot resolution failed", err)
			os.Exit(1)
		}
		return
	}

	// Warm the cache before serving, then keep it fresh on the cron
	// schedule.
	srv.Refresh(ctx)

	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, func() { srv.Refresh(ctx) }); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	httpServer := &http.Server{
		Addr:    conf.Listen,
		Handler: srv.Handler(),
	}

	go func() {
		appLog.Info("http server listening", "listen", conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("http server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
	appLog.Info("occal exiting")
}

// buildProvider wires the transport sources into the resolver: ICS feeds
// and an optional CalDAV account feed raw calendar objects into a single
// Resolve call per window.
func buildProvider(ctx context.Context, conf *config.Config) web.Provider {
	fetcher := ics.NewFetcher(conf.CacheDir)

	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		sources = append(sources, ics.Source{ID: c.ID, URL: c.URL})
	}

	var dav *caldav.Client
	if conf.CalDAV != nil {
		dav = caldav.NewClient(conf.CalDAV.URL, conf.CalDAV.Username, conf.CalDAV.Password)
		if dav.IsConfigured() {
			if conf.CalDAV.Calendar != "" {
				dav.SetCalendarPath(conf.CalDAV.Calendar)
			} else if cals, err := dav.DiscoverCalendars(ctx); err != nil {
				appLog.Error("caldav discovery failed, source disabled", err)
				dav = nil
			} else if len(cals) == 0 {
				appLog.Info("caldav account has no calendars, source disabled")
				dav = nil
			} else {
				appLog.Info("caldav calendar selected", "path", cals[0].Path, "name", cals[0].Name)
				dav.SetCalendarPath(cals[0].Path)
			}
		} else {
			dav = nil
		}
	}

	return func(ctx context.Context, windowStart, windowEnd time.Time) ([]model.Occurrence, error) {
		objects, fetchErrs := fetcher.FetchAll(ctx, sources)

		if dav != nil {
			davObjects, err := dav.FetchObjects(ctx, "", windowStart, windowEnd)
			if err != nil {
				fetchErrs = append(fetchErrs, err)
			} else {
				objects = append(objects, davObjects...)
			}
		}

		occs, err := resolve.Resolve(objects, windowStart, windowEnd)
		if err != nil {
			fetchErrs = append(fetchErrs, err)
		}
		return occs, errors.Join(fetchErrs...)
	}
}

func runOnce(ctx context.Context, srv *web.Server, provider web.Provider) error {
	start, end := srv.DefaultWindow()
	occs, err := provider(ctx, start, end)
	if occs == nil && err != nil {
		return err
	}
	if err != nil {
		appLog.Error("one-shot resolution degraded", err)
	}

	for _, o := range occs {
		if o.AllDay {
			fmt.Printf("%s  all-day  %s\n", o.Start.Format("2006-01-02"), o.Title)
			continue
		}
		fmt.Printf("%s  %s-%s  %s\n",
			o.Start.Format("2006-01-02"),
			o.Start.Format("15:04"),
			o.End.Format("15:04"),
			o.Title,
		)
	}
	return nil
}

func loadLocation(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("unknown timezone, falling back to local", err, "timezone", name)
		return time.Local
	}
	return loc
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/occal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Resolve the window once, print to stdout and exit")
	flag.IntVar(&cfg.days, "days", 0, "Window length in days (overrides config if > 0)")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")

	flag.Parse()
	return cfg
}
