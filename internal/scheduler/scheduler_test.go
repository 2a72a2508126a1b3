package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opendatateam/hydracrawl/internal/materializer"
	"github.com/opendatateam/hydracrawl/internal/monitor"
	"github.com/opendatateam/hydracrawl/internal/notify"
	"github.com/opendatateam/hydracrawl/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.sqlite"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newScheduler(t *testing.T, db *store.DB, webhookURL string) *Scheduler {
	t.Helper()
	n := notify.New(webhookURL, webhookURL != "", http.DefaultClient)
	mon := monitor.New(nil)
	return New(db, n, mon, Config{WorkDir: t.TempDir()})
}

func TestCheckResource_firstCheckAlwaysNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var notified bool
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notified = true
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	db := openTestDB(t)
	r := store.Resource{ResourceID: "r1", DatasetID: "d1", URL: srv.URL}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, db, hook.URL)
	cur, err := s.CheckResource(context.Background(), r, false)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status == nil || *cur.Status != http.StatusOK {
		t.Errorf("status = %v, want 200", cur.Status)
	}
	if !notified {
		t.Error("first check must always notify")
	}

	latest, err := db.Checks.GetLatestByResourceID("r1")
	if err != nil {
		t.Fatalf("GetLatestByResourceID: %v", err)
	}
	if latest.ID != cur.ID {
		t.Error("appended check should be retrievable as latest")
	}
}

func TestCheckResource_rateLimitSetsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	db := openTestDB(t)
	r := store.Resource{ResourceID: "r1", DatasetID: "d1", URL: srv.URL}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, db, "")
	if _, err := s.CheckResource(context.Background(), r, false); err != nil {
		t.Fatal(err)
	}

	got, err := db.Catalog.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusBackoff {
		t.Errorf("status = %q, want BACKOFF", got.Status)
	}
}

func TestCheckResource_successClearsBackoffAndPriority(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := openTestDB(t)
	r := store.Resource{ResourceID: "r1", DatasetID: "d1", URL: srv.URL, Priority: true, Status: store.StatusBackoff}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, db, "")
	if _, err := s.CheckResource(context.Background(), r, false); err != nil {
		t.Fatal(err)
	}

	got, err := db.Catalog.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusIdle {
		t.Errorf("status = %q, want idle", got.Status)
	}
	if got.Priority {
		t.Error("priority flag should be cleared after a successful probe")
	}
}

func TestCheckResource_csvContentTypeTriggersAnalysis(t *testing.T) {
	csvBody := "a,b\n1,2\n3,4\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodGet {
			w.Write([]byte(csvBody))
		}
	}))
	defer srv.Close()

	db := openTestDB(t)
	r := store.Resource{ResourceID: "r1", DatasetID: "d1", URL: srv.URL}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, db, "")
	cur, err := s.CheckResource(context.Background(), r, false)
	if err != nil {
		t.Fatal(err)
	}
	if cur.ParsingTable == nil {
		t.Fatal("expected a materialized table for a CSV-typed resource")
	}

	row, err := db.Tables.Get("r1")
	if err != nil {
		t.Fatalf("tables_index row missing: %v", err)
	}
	if row.TableName != *cur.ParsingTable {
		t.Errorf("tables_index table_name = %q, want %q", row.TableName, *cur.ParsingTable)
	}
}

func TestCheckResource_forceAnalysisBypassesChangeCheck(t *testing.T) {
	csvBody := "a,b\n1,2\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodGet {
			w.Write([]byte(csvBody))
		}
	}))
	defer srv.Close()

	db := openTestDB(t)
	r := store.Resource{ResourceID: "r1", DatasetID: "d1", URL: srv.URL}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, db, "")
	cur, err := s.CheckResource(context.Background(), r, true)
	if err != nil {
		t.Fatal(err)
	}
	if cur.ParsingTable == nil {
		t.Error("force_analysis=true must analyze even without a detected content-type/change signal")
	}
}

func TestRunBatch_singleInFlightPerResource(t *testing.T) {
	block := make(chan struct{})
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		<-block
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := openTestDB(t)
	r := store.Resource{ResourceID: "r1", DatasetID: "d1", URL: srv.URL}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, db, "")
	s.inFlightMu.Lock()
	s.inFlight["r1"] = true
	s.inFlightMu.Unlock()

	n, err := s.RunBatch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("dispatched = %d, want 0 (resource already in flight)", n)
	}
	close(block)
	_ = hits
}

func TestLooksLikeCSV(t *testing.T) {
	csvMT := "text/csv; charset=utf-8"
	jsonMT := "application/json"
	if !looksLikeCSV(&csvMT) {
		t.Error("text/csv should look like CSV")
	}
	if looksLikeCSV(&jsonMT) {
		t.Error("application/json should not look like CSV")
	}
	if looksLikeCSV(nil) {
		t.Error("nil mime type should not look like CSV")
	}
}

func TestScheduler_runOnceShutsDownOnCancel(t *testing.T) {
	db := openTestDB(t)
	s := newScheduler(t, db, "")
	s.cfg.SleepBetweenBatches = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestCheckResource_firstCsvCrawlSendsTwoNotifications(t *testing.T) {
	csvBody := "code_insee,number\n95211,102\n36522,48\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		if req.Method == http.MethodHead {
			w.Header().Set("Content-Length", "200")
		}
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodGet {
			w.Write([]byte(csvBody))
		}
	}))
	defer srv.Close()

	var payloads []notify.Payload
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p notify.Payload
		json.NewDecoder(r.Body).Decode(&p)
		payloads = append(payloads, p)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	db := openTestDB(t)
	r := store.Resource{ResourceID: "r1", DatasetID: "d1", URL: srv.URL}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, db, hook.URL)
	if _, err := s.CheckResource(context.Background(), r, false); err != nil {
		t.Fatal(err)
	}

	if len(payloads) != 2 {
		t.Fatalf("got %d webhook PUTs, want 2 (check + analysis)", len(payloads))
	}
	checkPayload, analysisPayload := payloads[0], payloads[1]

	if checkPayload["check:date"] == nil {
		t.Error("check payload missing check:date")
	}
	if checkPayload["check:available"] != true {
		t.Errorf("check:available = %v, want true", checkPayload["check:available"])
	}
	if got := checkPayload["check:headers:content-length"]; got != float64(200) {
		t.Errorf("check:headers:content-length = %v, want 200", got)
	}
	if _, ok := checkPayload["check:detected_last_modified_at"]; ok {
		t.Error("check payload must not carry the old check:detected_last_modified_at key")
	}

	if analysisPayload["analysis:error"] != nil {
		t.Errorf("analysis:error = %v, want nil", analysisPayload["analysis:error"])
	}
	if analysisPayload["analysis:content-length"] == nil {
		t.Error("analysis payload missing analysis:content-length")
	}
}

func TestNotifyAnalysis_oversizeCarriesExactErrorString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Length", "18")
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodGet {
			w.Write([]byte("way,too,big\n1,2,3\n"))
		}
	}))
	defer srv.Close()

	var payload notify.Payload
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	db := openTestDB(t)
	r := store.Resource{ResourceID: "r1", DatasetID: "d1", URL: srv.URL}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, db, hook.URL)
	s.cfg.MaxFilesizeBytes = 1

	if _, err := s.CheckResource(context.Background(), r, false); err != nil {
		t.Fatal(err)
	}

	if payload["analysis:error"] != materializer.ErrTooLarge.Error() {
		t.Errorf("analysis:error = %q, want %q", payload["analysis:error"], materializer.ErrTooLarge.Error())
	}
	if _, ok := payload["analysis:parsing:error"]; ok {
		t.Error("oversize failure should not also set analysis:parsing:error")
	}
}

func TestCheckResource_oversizeDoesNotBlockCheckPersistence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Length", "18")
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodGet {
			w.Write([]byte("way,too,big\n1,2,3\n"))
		}
	}))
	defer srv.Close()

	db := openTestDB(t)
	r := store.Resource{ResourceID: "r1", DatasetID: "d1", URL: srv.URL}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, db, "")
	s.cfg.MaxFilesizeBytes = 1 // tiny cap forces the oversize path

	cur, err := s.CheckResource(context.Background(), r, false)
	if err != nil {
		t.Fatal(err)
	}
	if cur.ParsingError == nil {
		t.Error("expected parsing_error to be set on oversize download")
	}
	if cur.ParsingTable != nil {
		t.Error("no table should be materialized on an oversize abort")
	}

	// Confirm the work dir was cleaned up.
	entries, _ := os.ReadDir(s.cfg.WorkDir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".csv" {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}
