package materializer

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/opendatateam/hydracrawl/internal/csvprofile"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "t.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoad_happyPath(t *testing.T) {
	db := openTestDB(t)
	profile := csvprofile.Profile{
		Header:  []string{"code_insee", "number"},
		Columns: []csvprofile.Column{{Name: "code_insee", Type: csvprofile.ColString}, {Name: "number", Type: csvprofile.ColInteger}},
	}
	rows := [][]string{{"95211", "102"}, {"36522", "48"}}
	n, err := Load(db, "testtable", profile, rows, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "testtable"`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("row count = %d, want 2", count)
	}
	var number int
	if err := db.QueryRow(`SELECT "number" FROM "testtable" WHERE "code_insee" = '95211'`).Scan(&number); err != nil {
		t.Fatal(err)
	}
	if number != 102 {
		t.Errorf("number = %d, want 102", number)
	}
}

// S3: a column name containing SQL meta-characters must round-trip as a
// single literal column name, with no DDL injection possible.
func TestLoad_sqlIdentifierInjection(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE toto (x INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO toto (x) VALUES (1)`); err != nil {
		t.Fatal(err)
	}

	maliciousCol := `col_name" text);DROP TABLE toto;--`
	profile := csvprofile.Profile{
		Header:  []string{"int", maliciousCol},
		Columns: []csvprofile.Column{{Name: "int", Type: csvprofile.ColInteger}, {Name: maliciousCol, Type: csvprofile.ColString}},
	}
	rows := [][]string{{"1", "test"}}
	tableName := TableName("https://example.org/injection.csv")
	if _, err := Load(db, tableName, profile, rows, nil); err != nil {
		t.Fatal(err)
	}

	// toto must be untouched.
	var totoCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM toto`).Scan(&totoCount); err != nil {
		t.Fatalf("toto should still exist: %v", err)
	}
	if totoCount != 1 {
		t.Errorf("toto row count = %d, want 1 (untouched)", totoCount)
	}

	var val string
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE "int" = 1`, QuoteIdent(maliciousCol), QuoteIdent(tableName))
	if err := db.QueryRow(q).Scan(&val); err != nil {
		t.Fatalf("malicious column name should round-trip as a literal column: %v", err)
	}
	if val != "test" {
		t.Errorf("val = %q, want test", val)
	}
}

// S4: reserved identifiers get "__hydra_renamed" appended.
func TestLoad_reservedIdentifierRenamed(t *testing.T) {
	db := openTestDB(t)
	profile := csvprofile.Profile{
		Header:  []string{"int", "xmin"},
		Columns: []csvprofile.Column{{Name: "int", Type: csvprofile.ColInteger}, {Name: "xmin", Type: csvprofile.ColString}},
	}
	rows := [][]string{{"1", "abc"}}
	tableName := TableName("https://example.org/reserved.csv")
	if _, err := Load(db, tableName, profile, rows, nil); err != nil {
		t.Fatal(err)
	}

	rowsRes, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, QuoteIdent(tableName)))
	if err != nil {
		t.Fatal(err)
	}
	defer rowsRes.Close()
	var names []string
	for rowsRes.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rowsRes.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	want := []string{"__id", "int", "xmin__hydra_renamed"}
	if len(names) != len(want) {
		t.Fatalf("columns = %v, want %v", names, want)
	}
	for i, w := range want {
		if names[i] != w {
			t.Errorf("column[%d] = %q, want %q", i, names[i], w)
		}
	}
}

func TestLoad_atomicReplace(t *testing.T) {
	db := openTestDB(t)
	profile1 := csvprofile.Profile{Header: []string{"a"}, Columns: []csvprofile.Column{{Name: "a", Type: csvprofile.ColString}}}
	if _, err := Load(db, "rt", profile1, [][]string{{"1"}, {"2"}, {"3"}}, nil); err != nil {
		t.Fatal(err)
	}
	profile2 := csvprofile.Profile{Header: []string{"b"}, Columns: []csvprofile.Column{{Name: "b", Type: csvprofile.ColString}}}
	if _, err := Load(db, "rt", profile2, [][]string{{"x"}}, nil); err != nil {
		t.Fatal(err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "rt"`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (old rows must be gone after replace)", count)
	}
}

func TestLoad_resourceExceptionIndexes(t *testing.T) {
	db := openTestDB(t)
	profile := csvprofile.Profile{
		Header:  []string{"code"},
		Columns: []csvprofile.Column{{Name: "code", Type: csvprofile.ColString}},
	}
	if _, err := Load(db, "idxtest", profile, [][]string{{"a"}, {"b"}}, map[string]string{"code": "unique"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO "idxtest" (__id, "code") VALUES (3, 'a')`); err == nil {
		t.Error("expected unique constraint violation on duplicate code")
	}
}

func TestQuoteIdent_escapesInternalQuotes(t *testing.T) {
	got := QuoteIdent(`a"b`)
	want := `"a""b"`
	if got != want {
		t.Errorf("QuoteIdent = %q, want %q", got, want)
	}
}

func TestTableName_deterministicMD5(t *testing.T) {
	a := TableName("https://example.org/data.csv")
	b := TableName("https://example.org/data.csv")
	if a != b {
		t.Error("TableName must be deterministic")
	}
	if len(a) != 32 {
		t.Errorf("len(TableName) = %d, want 32 (hex md5)", len(a))
	}
}
