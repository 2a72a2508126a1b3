package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCatalogStore_upsertAndGet(t *testing.T) {
	db := openTestDB(t)
	r := Resource{ResourceID: "r1", DatasetID: "d1", URL: "https://example.org/data.csv", Priority: true}
	if err := db.Catalog.Upsert(r); err != nil {
		t.Fatal(err)
	}
	got, err := db.Catalog.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != r.URL || !got.Priority {
		t.Errorf("got %+v", got)
	}
}

func TestCatalogStore_listAll_includesSoftDeleted(t *testing.T) {
	db := openTestDB(t)
	if err := db.Catalog.Upsert(Resource{ResourceID: "r1", DatasetID: "d1", URL: "https://example.org/a.csv"}); err != nil {
		t.Fatal(err)
	}
	if err := db.Catalog.Upsert(Resource{ResourceID: "r2", DatasetID: "d1", URL: "https://example.org/b.csv"}); err != nil {
		t.Fatal(err)
	}
	if err := db.Catalog.SoftDelete("r2"); err != nil {
		t.Fatal(err)
	}

	all, err := db.Catalog.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d resources, want 2 (including soft-deleted)", len(all))
	}
}

func TestCatalogStore_dueCandidates_statusGating(t *testing.T) {
	db := openTestDB(t)
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(db.Catalog.Upsert(Resource{ResourceID: "idle", DatasetID: "d", URL: "https://a.example/x.csv"}))
	must(db.Catalog.Upsert(Resource{ResourceID: "backoff", DatasetID: "d", URL: "https://b.example/x.csv", Status: StatusBackoff}))
	must(db.Catalog.Upsert(Resource{ResourceID: "pending", DatasetID: "d", URL: "https://c.example/x.csv", Status: "PENDING"}))
	must(db.Catalog.Upsert(Resource{ResourceID: "deleted", DatasetID: "d", URL: "https://d.example/x.csv", Deleted: true}))

	candidates, err := db.Catalog.DueCandidates(nil)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, c := range candidates {
		ids[c.ResourceID] = true
	}
	if !ids["idle"] || !ids["backoff"] {
		t.Errorf("expected idle and backoff resources to be due candidates, got %v", ids)
	}
	if ids["pending"] || ids["deleted"] {
		t.Errorf("pending/deleted resources must be excluded, got %v", ids)
	}
}

func TestCatalogStore_dueCandidates_exclusionPattern(t *testing.T) {
	db := openTestDB(t)
	if err := db.Catalog.Upsert(Resource{ResourceID: "r1", DatasetID: "d", URL: "https://excluded.example/x.csv"}); err != nil {
		t.Fatal(err)
	}
	if err := db.Catalog.Upsert(Resource{ResourceID: "r2", DatasetID: "d", URL: "https://ok.example/x.csv"}); err != nil {
		t.Fatal(err)
	}
	candidates, err := db.Catalog.DueCandidates([]string{"%excluded%"})
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 || candidates[0].ResourceID != "r2" {
		t.Errorf("expected only r2 to remain, got %+v", candidates)
	}
}

func TestCheckStore_appendAndLatest(t *testing.T) {
	db := openTestDB(t)
	status := 200
	c1 := Check{ID: "c1", ResourceID: "r1", URL: "https://x", CreatedAt: time.Now().Add(-time.Hour), Status: &status}
	c2 := Check{ID: "c2", ResourceID: "r1", URL: "https://x", CreatedAt: time.Now(), Status: &status}
	if err := db.Checks.Append(c1); err != nil {
		t.Fatal(err)
	}
	if err := db.Checks.Append(c2); err != nil {
		t.Fatal(err)
	}
	latest, err := db.Checks.GetLatestByResourceID("r1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "c2" {
		t.Errorf("latest.ID = %q, want c2", latest.ID)
	}
	all, err := db.Checks.GetAllByResourceID("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
}

func TestCheckStore_noRowsWhenAbsent(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Checks.GetLatestByResourceID("nope")
	if err != sql.ErrNoRows {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestCheckStore_groupByForDate(t *testing.T) {
	db := openTestDB(t)
	status200, status404 := 200, 404
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(db.Checks.Append(Check{ID: "c1", ResourceID: "r1", URL: "https://x", CreatedAt: now, Status: &status200}))
	must(db.Checks.Append(Check{ID: "c2", ResourceID: "r2", URL: "https://y", CreatedAt: now, Status: &status200}))
	must(db.Checks.Append(Check{ID: "c3", ResourceID: "r3", URL: "https://z", CreatedAt: now, Status: &status404}))

	rows, err := db.Checks.GetGroupByForDate("status", "2026-07-30")
	if err != nil {
		t.Fatal(err)
	}
	total := int64(0)
	for _, r := range rows {
		total += r.Count
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
}

func TestCheckStore_groupByForDate_rejectsUnknownColumn(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Checks.GetGroupByForDate("resource_id; DROP TABLE checks;--", "2026-07-30"); err == nil {
		t.Error("expected rejection of a non-allow-listed column")
	}
}

func TestResourceExceptionStore_insertAndGet(t *testing.T) {
	db := openTestDB(t)
	e := ResourceException{ResourceID: "r1", TableIndexes: map[string]string{"id": "unique"}}
	if err := db.Exceptions.Insert(e); err != nil {
		t.Fatal(err)
	}
	got, err := db.Exceptions.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TableIndexes["id"] != "unique" {
		t.Errorf("got %+v", got)
	}
}

func TestTablesIndexStore_upsertAndGet(t *testing.T) {
	db := openTestDB(t)
	row := TablesIndexRow{ResourceID: "r1", TableName: "abc123", CSVDetective: `{"total_lines":2}`, CreatedAt: time.Now()}
	if err := db.Tables.Upsert(row); err != nil {
		t.Fatal(err)
	}
	got, err := db.Tables.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TableName != "abc123" {
		t.Errorf("got %+v", got)
	}
}
