// Command hydracrawl-check runs a single resource check (and, optionally,
// forces CSV analysis) outside the scheduler loop — useful for operational
// debugging. It runs the same Scheduler.CheckResource path that the admin
// API's POST /api/checks handler calls.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/opendatateam/hydracrawl/internal/config"
	"github.com/opendatateam/hydracrawl/internal/monitor"
	"github.com/opendatateam/hydracrawl/internal/notify"
	"github.com/opendatateam/hydracrawl/internal/scheduler"
	"github.com/opendatateam/hydracrawl/internal/store"
)

func main() {
	resourceID := flag.String("resource-id", "", "resource_id to check (must already exist in the catalog)")
	url := flag.String("url", "", "look up the resource by URL instead of --resource-id")
	forceAnalysis := flag.Bool("force-analysis", false, "always run CSV analysis regardless of freshness/change signals")
	envFile := flag.String("env-file", ".env", "optional .env file to source before reading the environment")
	flag.Parse()

	if *resourceID == "" && *url == "" {
		log.Fatal("hydracrawl-check: one of --resource-id or --url is required")
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("hydracrawl-check: load %s: %v", *envFile, err)
	}
	cfg := config.Load()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("hydracrawl-check: open database: %v", err)
	}
	defer db.Close()

	var res store.Resource
	if *resourceID != "" {
		res, err = db.Catalog.Get(*resourceID)
	} else {
		res, err = db.Catalog.GetByURL(*url)
	}
	if err != nil {
		log.Fatalf("hydracrawl-check: lookup resource: %v", err)
	}

	mon := monitor.New(nil)
	notifier := notify.New(cfg.WebhookURL, cfg.WebhookEnabled, nil)
	sched := scheduler.New(db, notifier, mon, scheduler.Config{
		UserAgent:        cfg.UserAgent,
		RequestTimeout:   cfg.RequestTimeout,
		MaxFilesizeBytes: cfg.MaxFilesizeBytes,
	})

	check, err := sched.CheckResource(context.Background(), res, *forceAnalysis)
	if err != nil {
		log.Fatalf("hydracrawl-check: check resource %s: %v", res.ResourceID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(check); err != nil {
		log.Fatalf("hydracrawl-check: encode result: %v", err)
	}
}
