package sqlitemigrate

import (
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/migrate.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrationsRunsOnce(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/0001_init.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
-- +migrate Down
DROP TABLE widgets;
`)},
	}

	db := openTestDB(t)
	if err := ApplyMigrations(db, fsys, "migrations"); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := ApplyMigrations(db, fsys, "migrations"); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count applied: %v", err)
	}
	if count != 1 {
		t.Fatalf("applied migrations = %d, want 1", count)
	}

	if _, err := db.Exec("INSERT INTO widgets (name) VALUES ('a')"); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}

func TestApplyMigrationsOrdersFiles(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/0002_add_column.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
ALTER TABLE items ADD COLUMN note TEXT;
`)},
		"migrations/0001_init.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
CREATE TABLE items (id INTEGER PRIMARY KEY);
`)},
	}

	db := openTestDB(t)
	if err := ApplyMigrations(db, fsys, "migrations"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := db.Exec("INSERT INTO items (note) VALUES ('x')"); err != nil {
		t.Fatalf("column from second migration missing: %v", err)
	}
}

func TestExtractUpMigration(t *testing.T) {
	t.Parallel()

	content := "-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;\n"
	up := ExtractUpMigration(content)
	if want := "\nCREATE TABLE a (id INTEGER);\n"; up != want {
		t.Fatalf("ExtractUpMigration = %q, want %q", up, want)
	}

	plain := "CREATE TABLE b (id INTEGER);"
	if got := ExtractUpMigration(plain); got != plain {
		t.Fatalf("ExtractUpMigration without markers = %q, want original", got)
	}
}
