// Package scheduler implements the batch control loop: it selects due
// resources from the catalog, probes them, runs change detection,
// conditionally dispatches CSV analysis and materialization, and notifies
// the external catalog of the outcome. Built around a sweep that sleeps
// between batches, with semaphore-bounded dispatch over the catalog due-query, probe,
// change, and analyze pipeline.
package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opendatateam/hydracrawl/internal/change"
	"github.com/opendatateam/hydracrawl/internal/csvprofile"
	"github.com/opendatateam/hydracrawl/internal/materializer"
	"github.com/opendatateam/hydracrawl/internal/monitor"
	"github.com/opendatateam/hydracrawl/internal/notify"
	"github.com/opendatateam/hydracrawl/internal/probe"
	"github.com/opendatateam/hydracrawl/internal/store"
)

// Config controls the scheduler's batch cadence and the probes it issues.
type Config struct {
	ConcurrentChecks    int
	SleepBetweenBatches time.Duration
	BatchSize           int
	CheckIntervalDays   int
	ExcludedPatterns    []string
	UserAgent           string
	RequestTimeout      time.Duration
	MaxFilesizeBytes    int64

	// WorkDir holds temp files for CSV downloads. Defaults to os.TempDir().
	WorkDir string
}

func (c *Config) setDefaults() {
	if c.ConcurrentChecks <= 0 {
		c.ConcurrentChecks = 4
	}
	if c.SleepBetweenBatches <= 0 {
		c.SleepBetweenBatches = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.CheckIntervalDays <= 0 {
		c.CheckIntervalDays = 7
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxFilesizeBytes <= 0 {
		c.MaxFilesizeBytes = 1 << 30
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
}

// Scheduler ties the catalog, probe engine, change analyzer, CSV analyzer,
// table materializer and notifier into one batch loop.
type Scheduler struct {
	cfg      Config
	db       *store.DB
	notifier *notify.Notifier
	mon      *monitor.Monitor
	client   *http.Client

	inFlightMu sync.Mutex
	inFlight   map[string]bool
}

// New builds a Scheduler. notifier and mon must not be nil.
func New(db *store.DB, notifier *notify.Notifier, mon *monitor.Monitor, cfg Config) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		cfg:      cfg,
		db:       db,
		notifier: notifier,
		mon:      mon,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		inFlight: make(map[string]bool),
	}
}

// Run processes batches until ctx is cancelled, sleeping
// SleepBetweenBatches between each one.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("scheduler: started (concurrency=%d, batch_size=%d, sleep=%s, check_interval_days=%d)",
		s.cfg.ConcurrentChecks, s.cfg.BatchSize, s.cfg.SleepBetweenBatches, s.cfg.CheckIntervalDays)
	s.mon.SetStatus("running")
	for {
		if ctx.Err() != nil {
			log.Print("scheduler: context cancelled, stopping")
			return
		}
		n, err := s.RunBatch(ctx)
		if err != nil {
			log.Printf("scheduler: batch error: %v", err)
			s.mon.SetError(err)
		} else {
			s.mon.SetError(nil)
		}
		if n > 0 {
			log.Printf("scheduler: batch processed %d resources", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.SleepBetweenBatches):
		}
	}
}

// RunBatch selects due resources (capped at BatchSize), probes and
// analyzes them with bounded concurrency, and returns how many were
// dispatched. In-flight resources from a still-running previous batch are
// skipped rather than double-dispatched: no two concurrent probes are
// permitted for the same resource.
func (s *Scheduler) RunBatch(ctx context.Context) (int, error) {
	due, err := s.dueResources()
	if err != nil {
		return 0, fmt.Errorf("scheduler: due resources: %w", err)
	}
	if len(due) > s.cfg.BatchSize {
		due = due[:s.cfg.BatchSize]
	}
	if len(due) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, s.cfg.ConcurrentChecks)
	var wg sync.WaitGroup
	dispatched := 0
	for _, r := range due {
		if !s.tryLock(r.ResourceID) {
			continue
		}
		dispatched++
		sem <- struct{}{}
		wg.Add(1)
		go func(r store.Resource) {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.unlock(r.ResourceID)
			if _, err := s.CheckResource(ctx, r, false); err != nil {
				log.Printf("scheduler: check resource %s: %v", r.ResourceID, err)
			}
		}(r)
	}
	wg.Wait()
	s.mon.RecordBatch(dispatched)
	return dispatched, nil
}

func (s *Scheduler) tryLock(resourceID string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if s.inFlight[resourceID] {
		return false
	}
	s.inFlight[resourceID] = true
	return true
}

func (s *Scheduler) unlock(resourceID string) {
	s.inFlightMu.Lock()
	delete(s.inFlight, resourceID)
	s.inFlightMu.Unlock()
}

// dueResources layers the freshness rule (internal/change.IsStale) on top
// of the catalog's SQL-level status/exclusion filter, since staleness needs
// the latest Check per resource rather than something expressible as a
// single join-free SQL predicate.
func (s *Scheduler) dueResources() ([]store.Resource, error) {
	candidates, err := s.db.Catalog.DueCandidates(s.cfg.ExcludedPatterns)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var due []store.Resource
	for _, r := range candidates {
		latest, err := s.db.Checks.GetLatestByResourceID(r.ResourceID)
		var latestPtr *store.Check
		if err == nil {
			latestPtr = &latest
		} else if err != sql.ErrNoRows {
			return nil, err
		}
		if change.IsStale(r, latestPtr, s.cfg.CheckIntervalDays, now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// CheckResource probes one resource, persists the resulting Check,
// conditionally runs CSV analysis, and notifies on any of the change
// conditions. It is exported so the admin API's forced-check endpoint and the
// single-shot CLI can invoke it directly, bypassing the due-query.
func (s *Scheduler) CheckResource(ctx context.Context, r store.Resource, forceAnalysis bool) (store.Check, error) {
	now := time.Now()

	prevCheck, prevErr := s.db.Checks.GetLatestByResourceID(r.ResourceID)
	if prevErr != nil && prevErr != sql.ErrNoRows {
		return store.Check{}, fmt.Errorf("scheduler: latest check for %s: %w", r.ResourceID, prevErr)
	}
	isFirstCheck := prevErr == sql.ErrNoRows
	var prevPtr *store.Check
	if !isFirstCheck {
		prevPtr = &prevCheck
	}

	res := probe.Run(ctx, s.client, r.URL, probe.Options{
		UserAgent:    s.cfg.UserAgent,
		MaxBodyBytes: s.cfg.MaxFilesizeBytes,
	})

	cur := store.Check{
		ID:         uuid.NewString(),
		ResourceID: r.ResourceID,
		URL:        r.URL,
		CreatedAt:  now,
		Headers:    res.Headers,
		Timeout:    res.Timeout,
	}
	if res.Status != 0 {
		st := res.Status
		cur.Status = &st
	}
	if res.Error != "" {
		e := res.Error
		cur.Error = &e
	}
	rt := res.ResponseTimeMS
	cur.ResponseTimeMS = &rt
	if res.Checksum != "" {
		c := res.Checksum
		cur.Checksum = &c
	}
	if res.FileSize > 0 {
		fs := res.FileSize
		cur.FileSize = &fs
	}
	if res.MimeType != "" {
		mt := res.MimeType
		cur.MimeType = &mt
	}

	change.Detect(prevPtr, &cur, r.HarvestModifiedAt, now)

	available := res.Available()
	s.applyBackoff(r, res, available)

	// The check-event notification is built and sent from the probe's own
	// values, before analysis has a chance to overwrite cur.Checksum/FileSize.
	if change.ShouldNotify(isFirstCheck, prevPtr, &cur, false) {
		s.notifyCheck(ctx, r, &cur, available)
	}

	analyzed := false
	if (forceAnalysis || cur.DetectedLastModifiedAt != nil || looksLikeCSV(cur.MimeType)) && available != nil && *available {
		analyzed = true
		s.analyzeCSV(ctx, r, &cur)
	}

	if err := s.db.Checks.Append(cur); err != nil {
		s.mon.SetError(err)
		return cur, fmt.Errorf("scheduler: append check for %s: %w", r.ResourceID, err)
	}

	if analyzed {
		s.notifyAnalysis(ctx, r, &cur)
	}
	return cur, nil
}

// applyBackoff sets BACKOFF on a rate-limited or failed probe and clears it
// (plus the one-shot priority flag) on success.
func (s *Scheduler) applyBackoff(r store.Resource, res probe.Result, available *bool) {
	switch {
	case res.Status == http.StatusTooManyRequests:
		s.setStatus(r.ResourceID, store.StatusBackoff)
		s.mon.RecordBackoff()
	case available != nil && !*available:
		s.setStatus(r.ResourceID, store.StatusBackoff)
		s.mon.RecordBackoff()
		s.mon.RecordProbeFailure()
	default:
		s.setStatus(r.ResourceID, store.StatusIdle)
		if r.Priority {
			if err := s.db.Catalog.ClearPriority(r.ResourceID); err != nil {
				log.Printf("scheduler: clear priority for %s: %v", r.ResourceID, err)
			}
		}
	}
	if err := s.db.Catalog.SetLastCheckAt(r.ResourceID, time.Now()); err != nil {
		log.Printf("scheduler: set last_check_at for %s: %v", r.ResourceID, err)
	}
}

func (s *Scheduler) setStatus(resourceID, status string) {
	if err := s.db.Catalog.SetStatus(resourceID, status); err != nil {
		log.Printf("scheduler: set status=%q for %s: %v", status, resourceID, err)
	}
}

// looksLikeCSV reports whether a probe's content-type suggests tabular data
// worth profiling, independent of whether a change was detected.
func looksLikeCSV(mimeType *string) bool {
	if mimeType == nil {
		return false
	}
	m := strings.ToLower(*mimeType)
	return strings.Contains(m, "csv") || strings.Contains(m, "tab-separated")
}

// analyzeCSV downloads, profiles, materializes, and indexes cur's CSV. It
// stamps parsing_started_at/finished_at/error/table directly on cur rather
// than via a separate update, since Checks are append-only and this is the
// only row these fields can ever land in.
func (s *Scheduler) analyzeCSV(ctx context.Context, r store.Resource, cur *store.Check) bool {
	started := time.Now()
	cur.ParsingStartedAt = &started

	destPath := filepath.Join(s.cfg.WorkDir, "hydracrawl-"+uuid.NewString()+".csv")
	defer os.Remove(destPath)

	dl, err := materializer.DownloadCapped(ctx, r.URL, destPath, s.client, s.cfg.MaxFilesizeBytes)
	if err != nil {
		s.stampParsingError(cur, err)
		return false
	}
	cur.Checksum = &dl.Checksum
	cur.FileSize = &dl.Size

	profile, rows, err := csvprofile.Detect(dl.Path)
	if err != nil {
		s.stampParsingError(cur, fmt.Errorf("csv_detective:%s", err.Error()))
		return false
	}

	var indexSpec map[string]string
	if exc, err := s.db.Exceptions.Get(r.ResourceID); err == nil {
		indexSpec = exc.TableIndexes
	}

	tableName := materializer.TableName(r.URL)
	if _, err := materializer.Load(s.db.Conn(), tableName, profile, rows, indexSpec); err != nil {
		s.stampParsingError(cur, err)
		return false
	}

	profileJSON, err := json.Marshal(profile)
	if err != nil {
		s.stampParsingError(cur, err)
		return false
	}
	if err := s.db.Tables.Upsert(store.TablesIndexRow{
		ResourceID:   r.ResourceID,
		TableName:    tableName,
		CSVDetective: string(profileJSON),
		CreatedAt:    time.Now(),
	}); err != nil {
		s.stampParsingError(cur, err)
		return false
	}

	finished := time.Now()
	cur.ParsingFinishedAt = &finished
	cur.ParsingTable = &tableName
	s.mon.RecordAnalysis(true)
	return true
}

func (s *Scheduler) stampParsingError(cur *store.Check, err error) {
	msg := err.Error()
	cur.ParsingError = &msg
	finished := time.Now()
	cur.ParsingFinishedAt = &finished
	s.mon.RecordAnalysis(false)
	log.Printf("scheduler: csv analysis failed for resource=%s: %v", cur.ResourceID, err)
}

// notifyCheck builds and dispatches the check-event payload: everything the
// probe itself observed, independent of whether CSV analysis runs. available
// is passed separately since it's derived by the caller from res, not stored
// on cur.
func (s *Scheduler) notifyCheck(ctx context.Context, r store.Resource, cur *store.Check, available *bool) {
	payload := notify.Payload{
		"check:date":      cur.CreatedAt.UTC().Format(time.RFC3339),
		"check:status":    cur.Status,
		"check:timeout":   cur.Timeout,
		"check:error":     cur.Error,
		"check:mime_type": cur.MimeType,
		"check:checksum":  cur.Checksum,
		"check:filesize":  cur.FileSize,
	}
	if available != nil {
		payload["check:available"] = *available
	} else {
		payload["check:available"] = nil
	}
	for name, value := range cur.Headers {
		if name == "content-length" {
			if n, err := strconv.Atoi(value); err == nil {
				payload["check:headers:"+name] = n
				continue
			}
		}
		payload["check:headers:"+name] = value
	}

	if err := s.notifier.Notify(ctx, r.ResourceID, r.DatasetID, payload); err != nil {
		s.mon.RecordNotifyFailure()
	}
}

// notifyAnalysis builds and dispatches the analysis-event payload, sent once
// CSV analysis has been attempted (successfully or not). analysis:error
// carries the exact download-level failure string (matching ErrTooLarge)
// verbatim; per-stage CSV-detective failures instead land under
// analysis:parsing:error.
func (s *Scheduler) notifyAnalysis(ctx context.Context, r store.Resource, cur *store.Check) {
	payload := notify.Payload{}
	switch {
	case cur.ParsingError != nil && *cur.ParsingError == materializer.ErrTooLarge.Error():
		payload["analysis:error"] = *cur.ParsingError
	default:
		payload["analysis:error"] = nil
		if cur.ParsingError != nil {
			payload["analysis:parsing:error"] = cur.ParsingError
		}
	}
	if cur.FileSize != nil {
		payload["analysis:content-length"] = *cur.FileSize
	}
	if cur.MimeType != nil {
		payload["analysis:mime-type"] = *cur.MimeType
	}
	if cur.DetectedLastModifiedAt != nil {
		payload["analysis:last-modified-at"] = cur.DetectedLastModifiedAt.UTC().Format(time.RFC3339)
		payload["analysis:last-modified-detection"] = cur.DetectedLastModifiedSource
	}
	if cur.ParsingStartedAt != nil {
		payload["analysis:parsing:started_at"] = cur.ParsingStartedAt.UTC().Format(time.RFC3339)
	}
	if cur.ParsingFinishedAt != nil {
		payload["analysis:parsing:finished_at"] = cur.ParsingFinishedAt.UTC().Format(time.RFC3339)
	}
	if cur.ParsingTable != nil {
		payload["analysis:parsing:table"] = cur.ParsingTable
	}

	if err := s.notifier.Notify(ctx, r.ResourceID, r.DatasetID, payload); err != nil {
		s.mon.RecordNotifyFailure()
	}
}
