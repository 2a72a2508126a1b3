// Command hydracrawl runs the crawler daemon: the scheduler loop, the
// admin HTTP API, and (optionally) a Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opendatateam/hydracrawl/internal/adminapi"
	"github.com/opendatateam/hydracrawl/internal/catalogsync"
	"github.com/opendatateam/hydracrawl/internal/config"
	"github.com/opendatateam/hydracrawl/internal/monitor"
	"github.com/opendatateam/hydracrawl/internal/notify"
	"github.com/opendatateam/hydracrawl/internal/scheduler"
	"github.com/opendatateam/hydracrawl/internal/store"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional .env file to source before reading the environment")
	importCatalog := flag.String("import-catalog", "", "import a JSON catalog export and exit, without starting the daemon")
	exportCatalog := flag.String("export-catalog", "", "export the current catalog to JSON and exit, without starting the daemon")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("hydracrawl: load %s: %v", *envFile, err)
	}
	cfg := config.Load()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("hydracrawl: open database: %v", err)
	}
	defer db.Close()

	if *importCatalog != "" {
		imported, skipped, err := catalogsync.Import(db, *importCatalog)
		if err != nil {
			log.Fatalf("hydracrawl: import catalog: %v", err)
		}
		log.Printf("hydracrawl: imported %d resources (%d skipped) from %s", imported, skipped, *importCatalog)
		return
	}
	if *exportCatalog != "" {
		resources, err := db.Catalog.ListAll()
		if err != nil {
			log.Fatalf("hydracrawl: list catalog: %v", err)
		}
		if err := catalogsync.Export(db, *exportCatalog, resources); err != nil {
			log.Fatalf("hydracrawl: export catalog: %v", err)
		}
		log.Printf("hydracrawl: exported %d resources to %s", len(resources), *exportCatalog)
		return
	}

	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)
	mon := monitor.New(metrics)

	notifier := notify.New(cfg.WebhookURL, cfg.WebhookEnabled, nil)

	sched := scheduler.New(db, notifier, mon, scheduler.Config{
		SleepBetweenBatches: cfg.SleepBetweenBatches,
		BatchSize:           cfg.BatchSize,
		CheckIntervalDays:   cfg.CheckIntervalDays,
		ExcludedPatterns:    cfg.ExcludedPatterns,
		UserAgent:           cfg.UserAgent,
		RequestTimeout:      cfg.RequestTimeout,
		MaxFilesizeBytes:    cfg.MaxFilesizeBytes,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	adminSrv := &adminapi.Server{DB: db, Scheduler: sched, Monitor: mon, Token: cfg.AdminToken}
	adminHTTP := &http.Server{Addr: cfg.AdminListenAddr, Handler: adminSrv.NewMux()}
	go func() {
		log.Printf("hydracrawl: admin API listening on %s", cfg.AdminListenAddr)
		if err := adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("hydracrawl: admin API: %v", err)
		}
	}()

	var metricsHTTP *http.Server
	if cfg.MetricsListenAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsHTTP = &http.Server{Addr: cfg.MetricsListenAddr, Handler: metricsMux}
		go func() {
			log.Printf("hydracrawl: metrics listening on %s", cfg.MetricsListenAddr)
			if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("hydracrawl: metrics server: %v", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("hydracrawl: shutting down")

	cancel() // stop the scheduler loop; this also cancels in-flight probes, and main does not wait for them

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = adminHTTP.Shutdown(shutdownCtx)
	if metricsHTTP != nil {
		_ = metricsHTTP.Shutdown(shutdownCtx)
	}
}
