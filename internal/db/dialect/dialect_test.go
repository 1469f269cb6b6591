package dialect_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/db/dialect"
)

func TestIsPostgres(t *testing.T) {
	if !dialect.IsPostgres(dialect.PGX) {
		t.Error("expected pgx to be postgres")
	}
	if dialect.IsPostgres(dialect.SQLite3) {
		t.Error("expected sqlite3 to not be postgres")
	}
}

func TestBoolToInt(t *testing.T) {
	if dialect.BoolToInt(true) != 1 {
		t.Error("expected 1 for true")
	}
	if dialect.BoolToInt(false) != 0 {
		t.Error("expected 0 for false")
	}
}

func TestLike(t *testing.T) {
	if dialect.Like(dialect.SQLite3) != "LIKE" {
		t.Errorf("sqlite: got %q", dialect.Like(dialect.SQLite3))
	}
	if dialect.Like(dialect.PGX) != "ILIKE" {
		t.Errorf("pgx: got %q", dialect.Like(dialect.PGX))
	}
}

func TestInsertReturningID_SQLite(t *testing.T) {
	tmpDir := t.TempDir()
	rawDB, err := db.OpenSQLite(filepath.Join(tmpDir, "test.db"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlxDB := sqlx.NewDb(rawDB, dialect.SQLite3)
	t.Cleanup(func() { _ = sqlxDB.Close() })

	_, err = sqlxDB.Exec(`CREATE TABLE test_insert (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	id, err := dialect.InsertReturningID(context.Background(), sqlxDB, `INSERT INTO test_insert (name) VALUES (?)`, "hello")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 1 {
		t.Errorf("expected id 1, got %d", id)
	}

	id, err = dialect.InsertReturningID(context.Background(), sqlxDB, `INSERT INTO test_insert (name) VALUES (?)`, "world")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 2 {
		t.Errorf("expected id 2, got %d", id)
	}
}
