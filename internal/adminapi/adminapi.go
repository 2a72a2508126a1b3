// Package adminapi is the crawler's admin HTTP surface: read endpoints over
// the Check journal and Catalog, mutating endpoints to register, update, and
// soft-delete resources, and observability endpoints over internal/monitor.
// Built on the standard library's enhanced ServeMux route patterns
// (net/http.ServeMux; each route is registered with and without a trailing
// slash).
package adminapi

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opendatateam/hydracrawl/internal/monitor"
	"github.com/opendatateam/hydracrawl/internal/scheduler"
	"github.com/opendatateam/hydracrawl/internal/store"
)

// Server holds the dependencies the admin API's handlers close over.
type Server struct {
	DB        *store.DB
	Scheduler *scheduler.Scheduler
	Monitor   *monitor.Monitor
	Token     string // bearer token required on mutating endpoints; empty disables auth (dev only)
}

// NewMux registers every admin API route on a fresh http.ServeMux.
func (s *Server) NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/checks/latest", s.getLatestCheck)
	mux.HandleFunc("GET /api/checks/all", s.getAllChecks)
	mux.HandleFunc("GET /api/checks/aggregate", s.getChecksAggregate)
	mux.HandleFunc("POST /api/checks", s.auth(s.postCheck))

	mux.HandleFunc("GET /api/resources/{id}/status", s.getResourceStatus)
	mux.HandleFunc("GET /api/resources/{id}", s.getResource)
	mux.HandleFunc("POST /api/resources", s.auth(s.createResource))
	mux.HandleFunc("PUT /api/resources/{id}", s.auth(s.upsertResource))
	mux.HandleFunc("DELETE /api/resources/{id}", s.auth(s.deleteResource))

	mux.HandleFunc("GET /api/status/crawler", s.getCrawlerStatus)
	mux.HandleFunc("GET /api/status/worker", s.getWorkerStatus)
	mux.HandleFunc("GET /api/stats", s.getStats)
	mux.HandleFunc("GET /api/health", s.getHealth)

	// The same routes with a trailing slash.
	mux.HandleFunc("GET /api/checks/latest/{$}", s.getLatestCheck)
	mux.HandleFunc("GET /api/checks/all/{$}", s.getAllChecks)
	mux.HandleFunc("GET /api/checks/aggregate/{$}", s.getChecksAggregate)
	mux.HandleFunc("POST /api/checks/{$}", s.auth(s.postCheck))
	mux.HandleFunc("GET /api/resources/{id}/status/{$}", s.getResourceStatus)
	mux.HandleFunc("GET /api/resources/{id}/{$}", s.getResource)
	mux.HandleFunc("POST /api/resources/{$}", s.auth(s.createResource))
	mux.HandleFunc("PUT /api/resources/{id}/{$}", s.auth(s.upsertResource))
	mux.HandleFunc("DELETE /api/resources/{id}/{$}", s.auth(s.deleteResource))
	mux.HandleFunc("GET /api/status/crawler/{$}", s.getCrawlerStatus)
	mux.HandleFunc("GET /api/status/worker/{$}", s.getWorkerStatus)
	mux.HandleFunc("GET /api/stats/{$}", s.getStats)
	mux.HandleFunc("GET /api/health/{$}", s.getHealth)

	return mux
}

// auth requires a matching "Authorization: Bearer <token>" header. When
// Token is empty, auth is a no-op (local/dev use only — production configs
// always set HYDRACRAWL_ADMIN_TOKEN).
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Token == "" {
			next(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got != s.Token {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// checkTarget resolves the ?url= or ?resource_id= query parameter shared by
// the /api/checks/* read endpoints.
func checkTarget(r *http.Request) (url, resourceID string, ok bool) {
	url = r.URL.Query().Get("url")
	resourceID = r.URL.Query().Get("resource_id")
	return url, resourceID, url != "" || resourceID != ""
}

func (s *Server) getLatestCheck(w http.ResponseWriter, r *http.Request) {
	url, resourceID, ok := checkTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "one of url or resource_id is required")
		return
	}
	var check store.Check
	var err error
	if resourceID != "" {
		check, err = s.DB.Checks.GetLatestByResourceID(resourceID)
	} else {
		check, err = s.DB.Checks.GetLatestByURL(url)
	}
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "no check found for target")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resourceID == "" {
		resourceID = check.ResourceID
	}
	if res, gerr := s.DB.Catalog.Get(resourceID); gerr == nil && res.Deleted {
		writeError(w, http.StatusGone, "resource has been deleted")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) getAllChecks(w http.ResponseWriter, r *http.Request) {
	url, resourceID, ok := checkTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "one of url or resource_id is required")
		return
	}
	var checks []store.Check
	var err error
	if resourceID != "" {
		checks, err = s.DB.Checks.GetAllByResourceID(resourceID)
	} else {
		checks, err = s.DB.Checks.GetAllByURL(url)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(checks) == 0 {
		writeError(w, http.StatusNotFound, "no checks found for target")
		return
	}
	writeJSON(w, http.StatusOK, checks)
}

func (s *Server) getChecksAggregate(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("created_at")
	column := r.URL.Query().Get("group_by")
	if date == "" || column == "" {
		writeError(w, http.StatusBadRequest, "created_at and group_by are both required")
		return
	}
	if date == "today" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	rows, err := s.DB.Checks.GetGroupByForDate(column, date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no checks on that date")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type forceCheckRequest struct {
	ResourceID    string `json:"resource_id"`
	ForceAnalysis bool   `json:"force_analysis"`
}

// postCheck forces an immediate check for a resource_id, bypassing the
// scheduler's due-query entirely (the single-shot crawl wiring point).
func (s *Server) postCheck(w http.ResponseWriter, r *http.Request) {
	var req forceCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id is required")
		return
	}
	res, err := s.DB.Catalog.Get(req.ResourceID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "unknown resource_id")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	check, err := s.Scheduler.CheckResource(r.Context(), res, req.ForceAnalysis)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	res, err := s.DB.Catalog.Get(r.PathValue("id"))
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "unknown resource")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusVerbose describes a resource's raw status string for humans.
func statusVerbose(status string) string {
	switch status {
	case store.StatusIdle:
		return "idle"
	case store.StatusBackoff:
		return "backoff"
	default:
		return strings.ToLower(status)
	}
}

func (s *Server) getResourceStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.DB.Catalog.Get(id)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "unknown resource")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	latestURL := ""
	if latest, lerr := s.DB.Checks.GetLatestByResourceID(id); lerr == nil {
		latestURL = latest.URL
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id":      res.ResourceID,
		"status":           res.Status,
		"status_verbose":   statusVerbose(res.Status),
		"latest_check_url": latestURL,
	})
}

// resourceDocument is the canonical create/update payload shape resolving
// the decision to collapse the two incompatible resource payload schemas into one.
type resourceDocument struct {
	DatasetID  string `json:"dataset_id"`
	ResourceID string `json:"resource_id"`
	Document   struct {
		URL string `json:"url"`
	} `json:"document"`
}

func decodeResourceDocument(r *http.Request) (resourceDocument, error) {
	var doc resourceDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		return resourceDocument{}, fmt.Errorf("invalid JSON body")
	}
	if doc.DatasetID == "" || doc.Document.URL == "" {
		return resourceDocument{}, fmt.Errorf("dataset_id and document.url are required")
	}
	return doc, nil
}

// createResource registers a brand-new resource with priority=true so the
// scheduler checks it on its very next batch.
func (s *Server) createResource(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeResourceDocument(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if doc.ResourceID == "" {
		doc.ResourceID = uuid.NewString()
	}
	res := store.Resource{
		ResourceID: doc.ResourceID,
		DatasetID:  doc.DatasetID,
		URL:        doc.Document.URL,
		Priority:   true,
	}
	if err := s.DB.Catalog.Upsert(res); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// upsertResource creates-or-replaces the resource named by the path id,
// also setting priority=true so it is re-checked promptly.
func (s *Server) upsertResource(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeResourceDocument(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	res := store.Resource{
		ResourceID: id,
		DatasetID:  doc.DatasetID,
		URL:        doc.Document.URL,
		Priority:   true,
	}
	if err := s.DB.Catalog.Upsert(res); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	doc.ResourceID = id
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteResource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.DB.Catalog.SoftDelete(id); err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "unknown resource")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getCrawlerStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Monitor.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        snap.LastStatus,
		"last_error":    snap.LastError,
		"last_batch_at": snap.LastBatchAt,
		"started_at":    snap.StartedAt,
		"batches_run":   snap.BatchesRun,
	})
}

func (s *Server) getWorkerStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Monitor.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"resources_checked": snap.ResourcesChecked,
		"probes_failed":     snap.ProbesFailed,
		"probes_backed_off": snap.ProbesBackedOff,
		"analyses_run":      snap.AnalysesRun,
		"analyses_failed":   snap.AnalysesFailed,
		"notifies_failed":   snap.NotifiesFailed,
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Monitor.Snapshot())
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Conn().Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
